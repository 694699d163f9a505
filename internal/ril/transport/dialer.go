package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Dialer opens the byte stream to the modem daemon.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// UnixDialer connects to a stream socket. A leading '@' selects the Linux
// abstract namespace, which the net package handles directly.
type UnixDialer struct {
	Path    string
	Timeout time.Duration
}

func (d UnixDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if strings.TrimSpace(d.Path) == "" {
		return nil, ErrEndpointRequired
	}
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "unix", d.Path)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d UnixDialer) String() string {
	return "unix:" + d.Path
}

// SerialDialer opens a modem control tty that speaks the same framing.
type SerialDialer struct {
	Port string
	Mode *serial.Mode
}

// NewSerialDialer uses 8N1 at baud.
func NewSerialDialer(port string, baud int) SerialDialer {
	return SerialDialer{
		Port: port,
		Mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
}

func (d SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if strings.TrimSpace(d.Port) == "" {
		return nil, ErrEndpointRequired
	}
	type result struct {
		p   serial.Port
		err error
	}
	ch := make(chan result, 1)
	// serial.Open takes no context.
	go func() {
		p, err := serial.Open(d.Port, d.Mode)
		ch <- result{p: p, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil && r.p != nil {
				_ = r.p.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("transport: open serial port %q: %w", d.Port, r.err)
		}
		return r.p, nil
	}
}

func (d SerialDialer) String() string {
	return "serial:" + d.Port
}
