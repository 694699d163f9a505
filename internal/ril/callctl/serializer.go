// Package callctl keeps tone signaling and hold-class call control from
// interleaving on the modem.
//
// At most one tone request and at most one hold-class request are on the wire
// at any time. A hold-class request submitted while tones are queued is held
// back until the queue drains, after the queue has been trimmed to a clean
// Start/Stop pair.
package callctl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/modemctl/internal/observability"
	"github.com/danmuck/modemctl/internal/ril"
	"github.com/danmuck/modemctl/internal/ril/decoders"
	"github.com/rs/zerolog/log"
)

// DefaultToneCapacity bounds the tone queue.
const DefaultToneCapacity = 32

// Sender puts one request on the wire. It must not block and must not call
// done before returning. When it returns an error, done is never called.
type Sender interface {
	Send(kind ril.RequestKind, args []byte, done ril.Completion) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(kind ril.RequestKind, args []byte, done ril.Completion) error

func (f SenderFunc) Send(kind ril.RequestKind, args []byte, done ril.Completion) error {
	return f(kind, args, done)
}

type Direction int

const (
	ToneStart Direction = iota
	ToneStop
)

func (d Direction) String() string {
	if d == ToneStart {
		return "start"
	}
	return "stop"
}

func (d Direction) kind() ril.RequestKind {
	if d == ToneStart {
		return ril.RequestDTMFStart
	}
	return ril.RequestDTMFStop
}

// Phase summarizes the serializer state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTone
	PhaseHoldPending
	PhaseHold
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseTone:
		return "tone"
	case PhaseHoldPending:
		return "hold_pending"
	case PhaseHold:
		return "hold"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type tone struct {
	dir    Direction
	args   []byte
	future *ril.Future // nil for a synthesized stop
}

type holdRequest struct {
	kind   ril.RequestKind
	args   []byte
	future *ril.Future
}

type settlement struct {
	future *ril.Future
	res    ril.Result
	err    error
}

// Serializer is the call-control state machine. All transitions happen under mu.
type Serializer struct {
	mu       sync.Mutex
	sender   Sender
	capacity int

	queue        []*tone
	armed        bool
	pending      *holdRequest
	holdInFlight bool
	// gen advances on Reset so completions from a previous connection are
	// not applied to the new state.
	gen uint64
}

func New(sender Sender, capacity int) *Serializer {
	if capacity <= 0 {
		capacity = DefaultToneCapacity
	}
	return &Serializer{sender: sender, capacity: capacity}
}

// SubmitTone queues a start or stop. digit is ignored for ToneStop.
func (s *Serializer) SubmitTone(dir Direction, digit byte) *ril.Future {
	kind := dir.kind()
	var args []byte
	if dir == ToneStart {
		var err error
		if args, err = decoders.ToneArgs(digit); err != nil {
			return ril.Failed(kind, err)
		}
	}

	s.mu.Lock()
	var settle []settlement
	defer func() {
		s.mu.Unlock()
		resolve(settle)
	}()

	switch {
	case s.holdInFlight || s.pending != nil:
		observability.RecordCallControl("tone_busy")
		log.Debug().Str("direction", dir.String()).Str("phase", s.phaseLocked().String()).Msg("callctl.SubmitTone busy")
		return ril.Failed(kind, ril.ErrBusy)
	case len(s.queue) >= s.capacity:
		observability.RecordCallControl("tone_busy")
		log.Warn().Int("capacity", s.capacity).Msg("callctl.SubmitTone queue full")
		return ril.Failed(kind, ril.ErrBusy)
	case (dir == ToneStart) == s.armed:
		observability.RecordCallControl("tone_sequence")
		log.Warn().Str("direction", dir.String()).Bool("armed", s.armed).Msg("callctl.SubmitTone out of sequence")
		return ril.Failed(kind, ril.ErrToneSequence)
	}

	t := &tone{dir: dir, args: args, future: ril.NewFuture()}
	s.queue = append(s.queue, t)
	s.armed = dir == ToneStart
	if len(s.queue) == 1 {
		settle = s.transmitHeadLocked()
	} else {
		observability.RecordCallControl("tone_queued")
	}
	return t.future
}

// SubmitHoldClass sends a hold, transfer or conference request, deferring it
// while tones are outstanding.
func (s *Serializer) SubmitHoldClass(kind ril.RequestKind, args []byte) *ril.Future {
	if !kind.IsHoldClass() {
		return ril.Failed(kind, fmt.Errorf("%w: %s", ril.ErrNotHoldClass, kind))
	}

	s.mu.Lock()
	var settle []settlement
	defer func() {
		s.mu.Unlock()
		resolve(settle)
	}()

	if s.holdInFlight || s.pending != nil {
		observability.RecordCallControl("hold_busy")
		log.Debug().Str("kind", kind.String()).Msg("callctl.SubmitHoldClass busy")
		return ril.Failed(kind, ril.ErrBusy)
	}

	req := &holdRequest{kind: kind, args: args, future: ril.NewFuture()}
	if len(s.queue) == 0 {
		settle = s.transmitHoldLocked(req)
		return req.future
	}

	settle = s.trimLocked()
	s.pending = req
	observability.RecordCallControl("hold_deferred")
	log.Debug().Str("kind", kind.String()).Int("tones", len(s.queue)).Msg("callctl.SubmitHoldClass deferred")
	return req.future
}

// Reset fails every queued tone and any pending or in-flight hold-class
// request with err and returns to idle.
func (s *Serializer) Reset(err error) {
	s.mu.Lock()
	settle := s.resetLocked(err)
	s.mu.Unlock()
	resolve(settle)
}

func (s *Serializer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked()
}

// QueueLen reports queued tones, including the one on the wire.
func (s *Serializer) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Serializer) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

func (s *Serializer) phaseLocked() Phase {
	switch {
	case s.holdInFlight:
		return PhaseHold
	case s.pending != nil:
		return PhaseHoldPending
	case len(s.queue) > 0:
		return PhaseTone
	default:
		return PhaseIdle
	}
}

// trimLocked reduces the queue to {Start, Stop} or {Stop} before a hold-class
// request is parked behind it.
func (s *Serializer) trimLocked() []settlement {
	head := s.queue[0]
	keep := 1
	if head.dir == ToneStart && len(s.queue) > 1 {
		keep = 2
	}
	var settle []settlement
	for _, t := range s.queue[keep:] {
		if t.future != nil {
			settle = append(settle, settlement{future: t.future, res: ril.Result{Kind: t.dir.kind()}, err: ril.ErrTonePreempted})
		}
		observability.RecordCallControl("tone_preempted")
	}
	s.queue = s.queue[:keep:keep]
	if head.dir == ToneStart && keep == 1 {
		s.queue = append(s.queue, &tone{dir: ToneStop})
		observability.RecordCallControl("stop_synthesized")
		log.Debug().Msg("callctl.trim synthesized stop")
	}
	s.armed = false
	return settle
}

func (s *Serializer) transmitHeadLocked() []settlement {
	t := s.queue[0]
	gen := s.gen
	err := s.sender.Send(t.dir.kind(), t.args, func(res ril.Result, err error) {
		s.onToneDone(gen, t, res, err)
	})
	if err != nil {
		log.Warn().Err(err).Str("direction", t.dir.String()).Msg("callctl.transmit tone failed")
		return s.resetLocked(err)
	}
	observability.RecordCallControl("tone_sent")
	return nil
}

func (s *Serializer) transmitHoldLocked(req *holdRequest) []settlement {
	gen := s.gen
	err := s.sender.Send(req.kind, req.args, func(res ril.Result, err error) {
		s.onHoldDone(gen, req, res, err)
	})
	if err != nil {
		log.Warn().Err(err).Str("kind", req.kind.String()).Msg("callctl.transmit hold failed")
		settle := s.resetLocked(err)
		return append(settle, settlement{future: req.future, res: ril.Result{Serial: -1, Kind: req.kind}, err: err})
	}
	s.holdInFlight = true
	observability.RecordCallControl("hold_sent")
	return nil
}

func (s *Serializer) onToneDone(gen uint64, t *tone, res ril.Result, err error) {
	s.mu.Lock()
	settle := []settlement{{future: t.future, res: res, err: err}}
	defer func() {
		s.mu.Unlock()
		resolve(settle)
	}()

	if gen != s.gen || len(s.queue) == 0 || s.queue[0] != t {
		return
	}
	if errors.Is(err, ril.ErrTransportUnavailable) {
		settle = append(settle, s.resetLocked(err)...)
		return
	}
	s.queue[0] = nil
	s.queue = s.queue[1:]
	if err != nil && t.dir == ToneStart {
		settle = append(settle, s.abandonStartLocked()...)
	}

	if len(s.queue) > 0 {
		settle = append(settle, s.transmitHeadLocked()...)
		return
	}
	if s.pending != nil {
		req := s.pending
		s.pending = nil
		log.Debug().Str("kind", req.kind.String()).Msg("callctl.drain releasing hold")
		settle = append(settle, s.transmitHoldLocked(req)...)
	}
}

// abandonStartLocked undoes a start the modem refused. The stop queued for it
// is settled without going on the wire.
func (s *Serializer) abandonStartLocked() []settlement {
	if len(s.queue) == 0 {
		s.armed = false
		return nil
	}
	stop := s.queue[0]
	if stop.dir != ToneStop {
		return nil
	}
	s.queue[0] = nil
	s.queue = s.queue[1:]
	observability.RecordCallControl("stop_skipped")
	log.Debug().Int("tones", len(s.queue)).Msg("callctl.tone start refused, stop skipped")
	return []settlement{{future: stop.future, res: ril.Result{Serial: -1, Kind: ril.RequestDTMFStop}}}
}

func (s *Serializer) onHoldDone(gen uint64, req *holdRequest, res ril.Result, err error) {
	s.mu.Lock()
	settle := []settlement{{future: req.future, res: res, err: err}}
	defer func() {
		s.mu.Unlock()
		resolve(settle)
	}()

	if gen != s.gen {
		return
	}
	s.holdInFlight = false
	if errors.Is(err, ril.ErrTransportUnavailable) {
		settle = append(settle, s.resetLocked(err)...)
	}
}

func (s *Serializer) resetLocked(err error) []settlement {
	var settle []settlement
	for _, t := range s.queue {
		if t.future != nil {
			settle = append(settle, settlement{future: t.future, res: ril.Result{Kind: t.dir.kind()}, err: err})
		}
	}
	if s.pending != nil {
		settle = append(settle, settlement{future: s.pending.future, res: ril.Result{Kind: s.pending.kind}, err: err})
	}
	if len(s.queue) > 0 || s.pending != nil || s.holdInFlight {
		observability.RecordCallControl("reset")
		log.Debug().Err(err).Int("tones", len(s.queue)).Bool("pending_hold", s.pending != nil).Msg("callctl.reset")
	}
	s.queue = nil
	s.pending = nil
	s.holdInFlight = false
	s.armed = false
	s.gen++
	return settle
}

func resolve(settle []settlement) {
	for _, st := range settle {
		if st.future != nil {
			st.future.Resolve(st.res, st.err)
		}
	}
}
