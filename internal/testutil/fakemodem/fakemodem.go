// Package fakemodem is an in-process modem daemon on a unix socket for tests.
package fakemodem

import (
	"bufio"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/modemctl/internal/protocol"
	"github.com/danmuck/modemctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrNoConnection = errors.New("fakemodem: no client connected")

// Responder answers a request automatically. Returning ok=false leaves the
// request on the Requests channel for the test to answer.
type Responder func(req protocol.Request) (status int32, body []byte, ok bool)

type Daemon struct {
	path string
	ln   net.Listener

	mu        sync.Mutex
	conn      net.Conn
	responder Responder

	requests  chan protocol.Request
	connected chan struct{}
	wg        sync.WaitGroup
}

// Start listens on a fresh socket path and stops with the test.
func Start(t testing.TB) *Daemon {
	t.Helper()
	// Socket paths are limited to ~100 bytes, so avoid t.TempDir.
	dir, err := os.MkdirTemp("", "fm")
	if err != nil {
		t.Fatalf("fakemodem: temp dir: %v", err)
	}
	path := filepath.Join(dir, "rild")
	ln, err := net.Listen("unix", path)
	if err != nil {
		_ = os.RemoveAll(dir)
		t.Fatalf("fakemodem: listen: %v", err)
	}
	d := &Daemon{
		path:      path,
		ln:        ln,
		requests:  make(chan protocol.Request, 256),
		connected: make(chan struct{}, 16),
	}
	d.wg.Add(1)
	go d.acceptLoop()
	t.Cleanup(func() {
		d.Close()
		_ = os.RemoveAll(dir)
	})
	return d
}

func (d *Daemon) Path() string {
	return d.path
}

func (d *Daemon) SetResponder(r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responder = r
}

// Requests yields requests not handled by the responder.
func (d *Daemon) Requests() <-chan protocol.Request {
	return d.requests
}

// WaitConnected blocks until the next client connection is accepted.
func (d *Daemon) WaitConnected(t testing.TB, timeout time.Duration) {
	t.Helper()
	select {
	case <-d.connected:
	case <-time.After(timeout):
		t.Fatalf("fakemodem: no client connected within %s", timeout)
	}
}

// NextRequest returns the next unanswered request.
func (d *Daemon) NextRequest(t testing.TB, timeout time.Duration) protocol.Request {
	t.Helper()
	select {
	case req := <-d.requests:
		return req
	case <-time.After(timeout):
		t.Fatalf("fakemodem: no request within %s", timeout)
		return protocol.Request{}
	}
}

func (d *Daemon) Respond(serial, status int32, body []byte) error {
	return d.write(protocol.EncodeSolicited(serial, status, body))
}

func (d *Daemon) Unsolicited(kind int32, body []byte) error {
	return d.write(protocol.EncodeUnsolicited(kind, body))
}

// WriteRaw sends payload as one frame without any envelope.
func (d *Daemon) WriteRaw(payload []byte) error {
	return d.write(payload)
}

// Drop closes the current client connection; the listener stays up.
func (d *Daemon) Drop() {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (d *Daemon) Close() {
	_ = d.ln.Close()
	d.Drop()
	d.wg.Wait()
}

func (d *Daemon) write(payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return ErrNoConnection
	}
	return frame.WriteFrame(d.conn, payload, frame.DefaultLimits())
}

func (d *Daemon) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		prev := d.conn
		d.conn = conn
		d.mu.Unlock()
		if prev != nil {
			_ = prev.Close()
		}
		select {
		case d.connected <- struct{}{}:
		default:
		}
		d.wg.Add(1)
		go d.serve(conn)
	}
}

func (d *Daemon) serve(conn net.Conn) {
	defer d.wg.Done()
	r := bufio.NewReader(conn)
	for {
		payload, err := frame.ReadFrame(r, frame.DefaultLimits())
		if err != nil {
			return
		}
		req, err := protocol.ParseRequest(payload)
		if err != nil {
			log.Debug().Err(err).Msg("fakemodem.serve bad request")
			continue
		}
		d.mu.Lock()
		responder := d.responder
		d.mu.Unlock()
		if responder != nil {
			if status, body, ok := responder(req); ok {
				_ = d.Respond(req.Serial, status, body)
				continue
			}
		}
		select {
		case d.requests <- req:
		default:
			log.Warn().Int32("serial", req.Serial).Msg("fakemodem.serve request buffer full")
		}
	}
}
