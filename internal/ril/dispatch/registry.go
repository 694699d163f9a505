package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/modemctl/internal/ril"
)

var (
	ErrDecoderNil    = errors.New("dispatch: decoder is nil")
	ErrDecoderExists = errors.New("dispatch: decoder already registered")
	ErrRemapLoop     = errors.New("dispatch: remap would loop or chain")
)

// ResponseDecoder turns a solicited result body into a typed value.
type ResponseDecoder func(kind ril.RequestKind, body []byte) (any, error)

// EventDecoder turns an unsolicited event body into a typed value.
type EventDecoder func(kind ril.EventKind, body []byte) (any, error)

// RawResponse returns the body unchanged. Used for kinds with no registered decoder.
func RawResponse(_ ril.RequestKind, body []byte) (any, error) {
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// VoidResponse accepts any body and yields nil.
func VoidResponse(_ ril.RequestKind, _ []byte) (any, error) {
	return nil, nil
}

type responseEntry struct {
	decode         ResponseDecoder
	partialOnError bool
}

// Registry maps kinds to decoders and vendor events to standard kinds.
type Registry struct {
	mu        sync.RWMutex
	responses map[ril.RequestKind]responseEntry
	events    map[ril.EventKind]EventDecoder
	remaps    map[ril.EventKind]ril.EventKind
}

func NewRegistry() *Registry {
	return &Registry{
		responses: make(map[ril.RequestKind]responseEntry),
		events:    make(map[ril.EventKind]EventDecoder),
		remaps:    make(map[ril.EventKind]ril.EventKind),
	}
}

// RegisterResponse adds the decoder for kind. When partialOnError is set the
// decoder also runs over the body of a failed response.
func (r *Registry) RegisterResponse(kind ril.RequestKind, decode ResponseDecoder, partialOnError bool) error {
	if decode == nil {
		return ErrDecoderNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.responses[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDecoderExists, kind)
	}
	r.responses[kind] = responseEntry{decode: decode, partialOnError: partialOnError}
	return nil
}

func (r *Registry) RegisterEvent(kind ril.EventKind, decode EventDecoder) error {
	if decode == nil {
		return ErrDecoderNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDecoderExists, kind)
	}
	r.events[kind] = decode
	return nil
}

// RegisterRemap publishes events of vendor kind under standard kind after
// decoding. The vendor kind needs its own event decoder.
func (r *Registry) RegisterRemap(vendor, standard ril.EventKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if vendor == standard {
		return fmt.Errorf("%w: %s", ErrRemapLoop, vendor)
	}
	if _, ok := r.remaps[standard]; ok {
		return fmt.Errorf("%w: %s", ErrRemapLoop, standard)
	}
	for _, target := range r.remaps {
		if target == vendor {
			return fmt.Errorf("%w: %s", ErrRemapLoop, vendor)
		}
	}
	if _, ok := r.events[vendor]; !ok {
		return fmt.Errorf("%w: no event decoder for %s", ErrDecoderNil, vendor)
	}
	r.remaps[vendor] = standard
	return nil
}

func (r *Registry) response(kind ril.RequestKind) (ResponseDecoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.responses[kind]
	if !ok {
		return RawResponse, false
	}
	return e.decode, e.partialOnError
}

func (r *Registry) event(kind ril.EventKind) (EventDecoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.events[kind]
	return d, ok
}

func (r *Registry) remap(kind ril.EventKind) (ril.EventKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	std, ok := r.remaps[kind]
	return std, ok
}
