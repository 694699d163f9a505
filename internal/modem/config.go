package modem

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/modemctl/internal/protocol/frame"
	"github.com/danmuck/modemctl/internal/ril/callctl"
	"github.com/danmuck/modemctl/internal/ril/dispatch"
	"github.com/danmuck/modemctl/internal/ril/transport"
)

const (
	DialerUnix   = "unix"
	DialerSerial = "serial"
)

var (
	ErrEndpointRequired = errors.New("modem: endpoint required")
	ErrUnknownDialer    = errors.New("modem: unknown dialer")
)

// Config is the resolved client configuration.
type Config struct {
	Endpoint string
	Dialer   string
	Baud     int
	// RequestTimeout retires requests that get no response. Zero waits for
	// the response or the connection to drop.
	RequestTimeout     time.Duration
	ToneCapacity       int
	SubscriptionBuffer int
	Transport          transport.Config
}

func DefaultConfig() Config {
	return Config{
		Dialer:             DialerUnix,
		Baud:               115200,
		ToneCapacity:       callctl.DefaultToneCapacity,
		SubscriptionBuffer: dispatch.DefaultSubscriptionBuffer,
		Transport:          transport.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return ErrEndpointRequired
	}
	switch c.Dialer {
	case DialerUnix, DialerSerial:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDialer, c.Dialer)
	}
	if c.Dialer == DialerSerial && c.Baud <= 0 {
		return fmt.Errorf("modem: baud must be positive, got %d", c.Baud)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("modem: request_timeout must not be negative")
	}
	if c.Transport.Limits.MaxPayloadBytes > frame.UnlimitedLimits().MaxPayloadBytes {
		return fmt.Errorf("modem: max_frame_bytes exceeds %d", frame.UnlimitedLimits().MaxPayloadBytes)
	}
	return nil
}

// NewDialer builds the dialer named by Dialer.
func (c Config) NewDialer() (transport.Dialer, error) {
	endpoint := strings.TrimSpace(c.Endpoint)
	switch c.Dialer {
	case DialerUnix, "":
		return transport.UnixDialer{Path: endpoint, Timeout: c.Transport.ConnectTimeout}, nil
	case DialerSerial:
		return transport.NewSerialDialer(endpoint, c.Baud), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialer, c.Dialer)
	}
}

// SlotEndpoint names the daemon socket for a SIM slot: slot 0 is "rild",
// slot N is "rildN+1".
func SlotEndpoint(base string, slot int) string {
	if slot <= 0 {
		return base
	}
	return fmt.Sprintf("%s%d", base, slot+1)
}
