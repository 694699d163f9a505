// Package modem is the client facade over one modem daemon connection.
package modem

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/modemctl/internal/protocol"
	"github.com/danmuck/modemctl/internal/protocol/parcel"
	"github.com/danmuck/modemctl/internal/ril"
	"github.com/danmuck/modemctl/internal/ril/callctl"
	"github.com/danmuck/modemctl/internal/ril/decoders"
	"github.com/danmuck/modemctl/internal/ril/dispatch"
	"github.com/danmuck/modemctl/internal/ril/requests"
	"github.com/danmuck/modemctl/internal/ril/transport"
	"github.com/rs/zerolog/log"
)

type options struct {
	dialer   transport.Dialer
	registry *dispatch.Registry
	fallback dispatch.FallbackHandler
}

type Option func(*options)

// WithDialer overrides the dialer derived from Config.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithRegistry replaces the built-in decoder set.
func WithRegistry(r *dispatch.Registry) Option {
	return func(o *options) { o.registry = r }
}

func WithFallback(f dispatch.FallbackHandler) Option {
	return func(o *options) { o.fallback = f }
}

// Client submits requests and publishes events for one daemon endpoint.
type Client struct {
	cfg        Config
	table      *requests.Table
	dispatcher *dispatch.Dispatcher
	serializer *callctl.Serializer
	transport  *transport.Transport
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = dispatch.NewRegistry()
		if err := decoders.Register(o.registry); err != nil {
			return nil, err
		}
	}
	if o.dialer == nil {
		d, err := cfg.NewDialer()
		if err != nil {
			return nil, err
		}
		o.dialer = d
	}

	c := &Client{
		cfg:   cfg,
		table: requests.NewTable(cfg.RequestTimeout),
	}
	c.dispatcher = dispatch.New(c.table, o.registry, dispatch.NewBus(), o.fallback)
	c.serializer = callctl.New(callctl.SenderFunc(c.send), cfg.ToneCapacity)

	tcfg := cfg.Transport
	tcfg.Endpoint = cfg.Endpoint
	tr, err := transport.New(tcfg, o.dialer, handler{c})
	if err != nil {
		return nil, err
	}
	c.transport = tr
	return c, nil
}

// Start begins connecting in the background.
func (c *Client) Start(ctx context.Context) error {
	log.Info().Str("endpoint", c.transport.Endpoint()).Msg("modem.Start")
	return c.transport.Connect(ctx)
}

// Close stops the transport, fails anything outstanding, and closes every
// subscription.
func (c *Client) Close() error {
	err := c.transport.Disconnect()
	c.table.FailAll(ril.ErrTransportUnavailable)
	c.serializer.Reset(ril.ErrTransportUnavailable)
	c.dispatcher.Bus().Close()
	return err
}

// Submit sends any request. Tone and hold-class kinds go through the
// call-control serializer.
func (c *Client) Submit(kind ril.RequestKind, args []byte) *ril.Future {
	switch {
	case kind == ril.RequestDTMFStart:
		digit, err := toneDigit(args)
		if err != nil {
			return ril.Failed(kind, err)
		}
		return c.serializer.SubmitTone(callctl.ToneStart, digit)
	case kind == ril.RequestDTMFStop:
		return c.serializer.SubmitTone(callctl.ToneStop, 0)
	case kind.IsHoldClass():
		return c.serializer.SubmitHoldClass(kind, args)
	}

	f := ril.NewFuture()
	if err := c.send(kind, args, f.Completion()); err != nil {
		return ril.Failed(kind, err)
	}
	return f
}

func (c *Client) SubmitTone(dir callctl.Direction, digit byte) *ril.Future {
	return c.serializer.SubmitTone(dir, digit)
}

func (c *Client) StartTone(digit byte) *ril.Future {
	return c.serializer.SubmitTone(callctl.ToneStart, digit)
}

func (c *Client) StopTone() *ril.Future {
	return c.serializer.SubmitTone(callctl.ToneStop, 0)
}

func (c *Client) SubmitHoldClass(kind ril.RequestKind, args []byte) *ril.Future {
	return c.serializer.SubmitHoldClass(kind, args)
}

// Subscribe receives decoded events of the given kinds, or all kinds.
func (c *Client) Subscribe(kinds ...ril.EventKind) *dispatch.Subscription {
	return c.dispatcher.Bus().Subscribe(c.cfg.SubscriptionBuffer, kinds...)
}

func (c *Client) State() ril.ConnectionState {
	return c.transport.State()
}

// Ready reports whether submissions are currently accepted.
func (c *Client) Ready() bool {
	return c.transport.State() == ril.StateConnected && c.table.IsOpen()
}

func (c *Client) Pending() []requests.Pending {
	return c.table.Snapshot()
}

func (c *Client) CallControlPhase() callctl.Phase {
	return c.serializer.Phase()
}

// send registers done and queues the request. On error done is never called.
func (c *Client) send(kind ril.RequestKind, args []byte, done ril.Completion) error {
	serial, epoch, err := c.table.Submit(kind, done)
	if err != nil {
		return err
	}
	payload := protocol.EncodeRequest(requests.WireSerial(serial), int32(kind), args)
	if err := c.transport.Send(epoch, payload); err != nil {
		if e, ok := c.table.Cancel(serial, epoch); ok {
			e.Drop()
			log.Debug().Err(err).Int64("serial", serial).Str("kind", kind.String()).Msg("modem.send refused")
			return err
		}
		// Already retired by FailAll or expiry; done has its outcome.
		return nil
	}
	log.Trace().Int64("serial", serial).Str("kind", kind.String()).Msg("modem.send")
	return nil
}

func toneDigit(args []byte) (byte, error) {
	s, err := parcel.NewReader(args).String()
	if err != nil {
		return 0, err
	}
	if len(s) != 1 {
		return 0, fmt.Errorf("modem: tone argument must be one digit, got %q", s)
	}
	return s[0], nil
}

// handler keeps the transport callbacks off the Client API.
type handler struct {
	c *Client
}

func (h handler) OnConnect(epoch uint64) {
	h.c.table.Open(epoch)
}

func (h handler) HandleFrame(payload []byte) {
	h.c.dispatcher.Dispatch(payload)
}

func (h handler) OnDisconnect(epoch uint64, err error) {
	if !errors.Is(err, ril.ErrTransportUnavailable) {
		err = fmt.Errorf("%w: %w", ril.ErrTransportUnavailable, err)
	}
	n := h.c.table.FailAll(err)
	h.c.serializer.Reset(err)
	log.Info().Uint64("epoch", epoch).Int("failed", n).Msg("modem.disconnect")
}
