package dispatch

import (
	"fmt"

	"github.com/danmuck/modemctl/internal/observability"
	"github.com/danmuck/modemctl/internal/protocol"
	"github.com/danmuck/modemctl/internal/ril"
	"github.com/danmuck/modemctl/internal/ril/requests"
	"github.com/rs/zerolog/log"
)

// Resolver retires the in-flight request that owns a wire serial.
type Resolver interface {
	Complete(wire int32) (*requests.Entry, bool)
}

// FallbackHandler receives unsolicited events with no registered decoder.
type FallbackHandler interface {
	HandleUnknownEvent(kind ril.EventKind, body []byte)
}

// FallbackFunc adapts a function to FallbackHandler.
type FallbackFunc func(kind ril.EventKind, body []byte)

func (f FallbackFunc) HandleUnknownEvent(kind ril.EventKind, body []byte) {
	f(kind, body)
}

// LogFallback records unknown events and discards them.
var LogFallback = FallbackFunc(func(kind ril.EventKind, body []byte) {
	log.Info().Str("kind", kind.String()).Int("bytes", len(body)).Msg("dispatch.fallback unhandled event")
})

// Dispatcher routes inbound payloads. It runs on the transport's single
// dispatch goroutine, so frames are handled strictly in arrival order.
type Dispatcher struct {
	resolver Resolver
	registry *Registry
	bus      *Bus
	fallback FallbackHandler
}

func New(resolver Resolver, registry *Registry, bus *Bus, fallback FallbackHandler) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	if bus == nil {
		bus = NewBus()
	}
	if fallback == nil {
		fallback = LogFallback
	}
	return &Dispatcher{
		resolver: resolver,
		registry: registry,
		bus:      bus,
		fallback: fallback,
	}
}

func (d *Dispatcher) Bus() *Bus {
	return d.bus
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch handles one inbound frame payload. It never panics on bad input.
func (d *Dispatcher) Dispatch(payload []byte) {
	in, err := protocol.ParseInbound(payload)
	if err != nil {
		log.Error().Err(err).Int("bytes", len(payload)).Msg("dispatch.Dispatch dropped unparseable frame")
		return
	}
	switch in.Type {
	case protocol.ResponseSolicited:
		d.dispatchSolicited(in)
	case protocol.ResponseUnsolicited:
		d.dispatchUnsolicited(in)
	}
}

func (d *Dispatcher) dispatchSolicited(in protocol.Inbound) {
	entry, ok := d.resolver.Complete(in.Serial)
	if !ok {
		observability.RecordUnmatched()
		log.Warn().
			Int32("serial", in.Serial).
			Int32("status", in.Status).
			Err(ril.ErrUnmatchedResponse).
			Msg("dispatch.solicited dropped")
		return
	}

	status := ril.Status(in.Status)
	raw := copyBytes(in.Body)
	res := ril.Result{Status: status, Raw: raw}
	decode, partialOnError := d.registry.response(entry.Kind)

	if status != ril.StatusSuccess {
		modemErr := &ril.ModemError{Kind: entry.Kind, Status: status}
		if partialOnError && len(raw) > 0 {
			partial, err := safeDecodeResponse(decode, entry.Kind, raw)
			if err != nil {
				log.Debug().Err(err).Str("kind", entry.Kind.String()).Msg("dispatch.solicited partial payload undecodable")
			} else {
				modemErr.Partial = partial
				res.Value = partial
			}
		}
		log.Debug().Int64("serial", entry.Serial).Str("kind", entry.Kind.String()).Str("status", status.String()).Msg("dispatch.solicited rejected")
		entry.Resolve(res, modemErr)
		return
	}

	value, err := safeDecodeResponse(decode, entry.Kind, raw)
	if err != nil {
		log.Error().Err(err).Int64("serial", entry.Serial).Str("kind", entry.Kind.String()).Msg("dispatch.solicited malformed")
		entry.Resolve(res, &ril.MalformedResponseError{Kind: entry.Kind, Err: err})
		return
	}
	res.Value = value
	log.Trace().Int64("serial", entry.Serial).Str("kind", entry.Kind.String()).Msg("dispatch.solicited ok")
	entry.Resolve(res, nil)
}

func (d *Dispatcher) dispatchUnsolicited(in protocol.Inbound) {
	kind := ril.EventKind(in.Kind)
	decode, ok := d.registry.event(kind)
	if !ok {
		observability.RecordFallbackEvent()
		d.fallback.HandleUnknownEvent(kind, copyBytes(in.Body))
		return
	}

	raw := copyBytes(in.Body)
	value, err := safeDecodeEvent(decode, kind, raw)
	if err != nil {
		log.Error().Err(err).Str("kind", kind.String()).Msg("dispatch.unsolicited malformed, dropped")
		return
	}

	if std, remapped := d.registry.remap(kind); remapped {
		log.Debug().Str("vendor", kind.String()).Str("standard", std.String()).Msg("dispatch.unsolicited remapped")
		d.publish(ril.Event{Kind: std, Source: kind, Value: value, Raw: raw})
		return
	}
	d.publish(ril.Event{Kind: kind, Source: kind, Value: value, Raw: raw})
}

func (d *Dispatcher) publish(ev ril.Event) {
	observability.RecordEvent(ev.Kind.String(), ev.Kind != ev.Source)
	n := d.bus.Publish(ev)
	log.Trace().Str("kind", ev.Kind.String()).Int("subscribers", n).Msg("dispatch.publish")
}

func safeDecodeResponse(decode ResponseDecoder, kind ril.RequestKind, body []byte) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("dispatch: decoder panic: %v", r)
		}
	}()
	return decode(kind, body)
}

func safeDecodeEvent(decode EventDecoder, kind ril.EventKind, body []byte) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("dispatch: decoder panic: %v", r)
		}
	}()
	return decode(kind, body)
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
