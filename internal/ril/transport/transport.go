// Package transport owns the byte stream to the modem daemon.
//
// One goroutine per Transport runs the connect loop. While connected it
// starts a reader and a writer task and consumes decoded frames itself, so
// Handler.HandleFrame sees frames one at a time in arrival order. When the
// stream fails, every frame already read is handed over before
// Handler.OnDisconnect runs, and then the loop reconnects with backoff until
// Disconnect is called.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/modemctl/internal/observability"
	"github.com/danmuck/modemctl/internal/protocol/frame"
	"github.com/danmuck/modemctl/internal/ril"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyRunning    = errors.New("transport: already running")
	ErrSendQueueFull     = errors.New("transport: send queue full")
	ErrDisconnectTimeout = errors.New("transport: disconnect timed out")
	ErrNilDialer         = errors.New("transport: dialer is nil")
	ErrNilHandler        = errors.New("transport: handler is nil")
)

// frameBuffer bounds frames read but not yet dispatched.
const frameBuffer = 64

// Handler receives connection lifecycle and inbound frames. All three calls
// are made from the transport goroutine and never overlap.
type Handler interface {
	// OnConnect runs after the stream is up and Send accepts epoch.
	OnConnect(epoch uint64)
	HandleFrame(payload []byte)
	// OnDisconnect runs after the last frame of epoch was handled. err
	// matches ril.ErrTransportUnavailable.
	OnDisconnect(epoch uint64, err error)
}

type Transport struct {
	cfg     Config
	dialer  Dialer
	handler Handler
	rng     *rand.Rand

	mu       sync.Mutex
	state    ril.ConnectionState
	epoch    uint64
	outbound chan []byte
	conn     io.ReadWriteCloser
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(cfg Config, dialer Dialer, handler Handler) (*Transport, error) {
	if dialer == nil {
		return nil, ErrNilDialer
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	return &Transport{
		cfg:     cfg.WithDefaults(),
		dialer:  dialer,
		handler: handler,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		state:   ril.StateDisconnected,
	}, nil
}

// Connect starts the connect loop and returns immediately. The loop runs
// until ctx ends or Disconnect is called.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(runCtx, t.done)
	return nil
}

// Disconnect stops the loop and waits for the reader to exit. It must not be
// called from inside a Handler callback.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	cancel, done, conn := t.cancel, t.done, t.conn
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	if conn != nil {
		// Unblocks a reader parked in Read.
		_ = conn.Close()
	}

	timer := time.NewTimer(t.cfg.DisconnectTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		log.Error().Dur("timeout", t.cfg.DisconnectTimeout).Str("endpoint", t.dialer.String()).Msg("transport.Disconnect reader did not stop")
		return ErrDisconnectTimeout
	}
}

// Send queues payload for the connection identified by epoch. It never
// blocks. A payload tagged with an older epoch is refused so a serial issued
// for a dead connection cannot reach its successor.
func (t *Transport) Send(epoch uint64, payload []byte) error {
	if uint64(len(payload)) > t.cfg.Limits.MaxPayloadBytes {
		return frame.ErrPayloadTooLarge
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != ril.StateConnected || t.outbound == nil {
		return ril.ErrTransportUnavailable
	}
	if epoch != t.epoch {
		return fmt.Errorf("%w: stale epoch %d (current %d)", ril.ErrTransportUnavailable, epoch, t.epoch)
	}
	select {
	case t.outbound <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (t *Transport) State() ril.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) Epoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

func (t *Transport) Endpoint() string {
	return t.dialer.String()
}

func (t *Transport) run(ctx context.Context, done chan struct{}) {
	defer func() {
		t.mu.Lock()
		t.cancel = nil
		t.done = nil
		t.mu.Unlock()
		t.setState(ril.StateDisconnected)
		close(done)
	}()

	failures := 0
	for ctx.Err() == nil {
		t.setState(ril.StateConnecting)
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			observability.RecordConnectAttempt(false)
			t.logConnectFailure(failures, err)
			t.setState(ril.StateUnavailable)
			if !t.sleep(ctx, failures) {
				return
			}
			continue
		}
		observability.RecordConnectAttempt(true)
		if failures > t.cfg.QuietAfter {
			log.Info().Int("failures", failures).Str("endpoint", t.dialer.String()).Msg("transport.connect recovered")
		}
		failures = 0

		t.serve(ctx, conn)
		if !t.sleep(ctx, 1) {
			return
		}
	}
}

func (t *Transport) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	return t.dialer.Dial(dialCtx)
}

func (t *Transport) logConnectFailure(failures int, err error) {
	var ev *zerolog.Event
	if failures <= t.cfg.QuietAfter {
		ev = log.Warn()
	} else {
		ev = log.Debug()
	}
	ev.Int("attempt", failures).Str("endpoint", t.dialer.String()).Err(err).Msg("transport.connect failed")
}

// serve runs one connection to completion.
func (t *Transport) serve(ctx context.Context, conn io.ReadWriteCloser) {
	out := make(chan []byte, t.cfg.SendQueue)
	t.mu.Lock()
	t.epoch++
	epoch := t.epoch
	t.conn = conn
	t.outbound = out
	t.mu.Unlock()
	if ctx.Err() != nil {
		// Disconnect may have run before conn was published.
		_ = conn.Close()
	}

	t.setState(ril.StateConnected)
	log.Info().Uint64("epoch", epoch).Str("endpoint", t.dialer.String()).Msg("transport.connect ok")
	t.handler.OnConnect(epoch)

	frames := make(chan []byte, frameBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(frames)
		return t.readLoop(gctx, conn, frames)
	})
	g.Go(func() error {
		return t.writeLoop(gctx, conn, out)
	})
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})

	for payload := range frames {
		t.handler.HandleFrame(payload)
	}
	cause := g.Wait()

	t.mu.Lock()
	t.conn = nil
	t.outbound = nil
	t.mu.Unlock()
	t.setState(ril.StateUnavailable)

	if cause == nil || errors.Is(cause, context.Canceled) {
		cause = context.Canceled
	}
	log.Warn().Uint64("epoch", epoch).Err(cause).Msg("transport.serve connection lost")
	t.handler.OnDisconnect(epoch, fmt.Errorf("%w: %w", ril.ErrTransportUnavailable, cause))
}

func (t *Transport) readLoop(ctx context.Context, conn io.Reader, frames chan<- []byte) error {
	r := bufio.NewReader(conn)
	for {
		payload, err := frame.ReadFrame(r, t.cfg.Limits)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		select {
		case frames <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Transport) writeLoop(ctx context.Context, conn io.Writer, out <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-out:
			if err := frame.WriteFrame(conn, payload, t.cfg.Limits); err != nil {
				return fmt.Errorf("transport: write: %w", err)
			}
		}
	}
}

func (t *Transport) sleep(ctx context.Context, attempt int) bool {
	delay := NextBackoffDelay(t.cfg.Backoff, attempt, t.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *Transport) setState(s ril.ConnectionState) {
	t.mu.Lock()
	prev := t.state
	t.state = s
	t.mu.Unlock()
	if prev != s {
		observability.RecordConnectionState(int(s))
		log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("transport.state")
	}
}
