package transport

import (
	"errors"
	"strings"
	"time"

	"github.com/danmuck/modemctl/internal/protocol/frame"
)

var ErrEndpointRequired = errors.New("transport: endpoint required")

// Config defines connection and reconnect behavior.
type Config struct {
	Endpoint          string
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	// QuietAfter is the number of consecutive connect failures logged at
	// warn level before further failures drop to debug.
	QuietAfter int
	SendQueue  int
	Limits     frame.Limits
	Backoff    BackoffConfig
}

// DefaultConfig retries every second, matching the daemon's own restart cadence.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		DisconnectTimeout: 5 * time.Second,
		QuietAfter:        8,
		SendQueue:         128,
		Limits:            frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   1.0,
			MaxDelay:     time.Second,
			Jitter:       false,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = d.DisconnectTimeout
	}
	if c.QuietAfter <= 0 {
		c.QuietAfter = d.QuietAfter
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = d.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = d.Backoff.Multiplier
	}
	return c
}
