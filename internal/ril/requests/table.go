package requests

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/modemctl/internal/observability"
	"github.com/danmuck/modemctl/internal/ril"
	"github.com/rs/zerolog/log"
)

// InitialSerial is the first serial issued after every (re)connect.
const InitialSerial int64 = 0

// Entry is one in-flight request. The table owns it from Submit until exactly
// one of Complete, Cancel, expiry or FailAll retires it.
type Entry struct {
	Serial      int64
	Kind        ril.RequestKind
	SubmittedAt time.Time

	done  ril.Completion
	timer *time.Timer
	once  sync.Once
}

// Resolve delivers the outcome to the submitter. Only the first call has effect.
func (e *Entry) Resolve(res ril.Result, err error) {
	e.once.Do(func() {
		if e.timer != nil {
			e.timer.Stop()
		}
		res.Serial = e.Serial
		res.Kind = e.Kind
		observability.RecordCompleted(e.Kind.String(), outcome(err))
		if e.done != nil {
			e.done(res, err)
		}
	})
}

// Drop retires the entry without notifying the submitter. Used when the
// request never reached the wire and the error is returned synchronously.
func (e *Entry) Drop() {
	e.once.Do(func() {
		if e.timer != nil {
			e.timer.Stop()
		}
		observability.RecordCompleted(e.Kind.String(), observability.OutcomeCanceled)
	})
}

// Pending is a read-only view of one entry.
type Pending struct {
	Serial      int64
	Kind        ril.RequestKind
	SubmittedAt time.Time
}

// Table issues serials and tracks requests awaiting a response.
type Table struct {
	mu      sync.Mutex
	items   map[int32]*Entry
	next    int64
	epoch   uint64
	open    bool
	timeout time.Duration
}

// NewTable returns a closed table. timeout <= 0 disables request expiry.
func NewTable(timeout time.Duration) *Table {
	return &Table{
		items:   make(map[int32]*Entry),
		next:    InitialSerial,
		timeout: timeout,
	}
}

// WireSerial is the on-wire form of a table serial.
func WireSerial(serial int64) int32 {
	return int32(uint32(serial))
}

// Open starts accepting submissions for a new connection epoch and resets the
// serial generator.
func (t *Table) Open(epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch = epoch
	t.next = InitialSerial
	t.open = true
	log.Debug().Uint64("epoch", epoch).Msg("requests.Open")
}

// Submit allocates a serial and registers done for its outcome. done is never
// invoked synchronously from Submit.
func (t *Table) Submit(kind ril.RequestKind, done ril.Completion) (int64, uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return 0, 0, ril.ErrTransportUnavailable
	}
	serial := t.next
	// The 64-bit counter never wraps; only its 32-bit wire form can collide
	// with an entry that has been outstanding for 2^32 submissions.
	for {
		if _, busy := t.items[WireSerial(serial)]; !busy {
			break
		}
		serial++
	}
	t.next = serial + 1

	e := &Entry{
		Serial:      serial,
		Kind:        kind,
		SubmittedAt: time.Now(),
		done:        done,
	}
	if t.timeout > 0 {
		e.timer = time.AfterFunc(t.timeout, func() { t.expire(e) })
	}
	t.items[WireSerial(serial)] = e
	observability.RecordSubmitted(kind.String())
	return serial, t.epoch, nil
}

// Complete removes and returns the entry owning the wire serial. Unknown
// serials (late, duplicate, or already failed) report false.
func (t *Table) Complete(wire int32) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.items[wire]
	if !ok {
		return nil, false
	}
	delete(t.items, wire)
	return e, true
}

// Cancel removes serial only if it still belongs to epoch. The caller
// resolves the returned entry.
func (t *Table) Cancel(serial int64, epoch uint64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch {
		return nil, false
	}
	e, ok := t.items[WireSerial(serial)]
	if !ok || e.Serial != serial {
		return nil, false
	}
	delete(t.items, WireSerial(serial))
	return e, true
}

// FailAll closes the table, resets the serial generator, and fails every
// outstanding entry with err in ascending serial order. Submissions are
// rejected until the next Open.
func (t *Table) FailAll(err error) int {
	t.mu.Lock()
	failed := make([]*Entry, 0, len(t.items))
	for _, e := range t.items {
		failed = append(failed, e)
	}
	t.items = make(map[int32]*Entry)
	t.next = InitialSerial
	t.open = false
	t.mu.Unlock()

	sort.Slice(failed, func(i, j int) bool {
		return failed[i].Serial < failed[j].Serial
	})
	for _, e := range failed {
		e.Resolve(ril.Result{}, err)
	}
	if len(failed) > 0 {
		log.Warn().Int("count", len(failed)).Err(err).Msg("requests.FailAll")
	}
	return len(failed)
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *Table) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Snapshot lists outstanding entries ordered by serial.
func (t *Table) Snapshot() []Pending {
	t.mu.Lock()
	out := make([]Pending, 0, len(t.items))
	for _, e := range t.items {
		out = append(out, Pending{Serial: e.Serial, Kind: e.Kind, SubmittedAt: e.SubmittedAt})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Serial < out[j].Serial
	})
	return out
}

func (t *Table) expire(e *Entry) {
	t.mu.Lock()
	key := WireSerial(e.Serial)
	owned := t.items[key] == e
	if owned {
		delete(t.items, key)
	}
	t.mu.Unlock()
	if !owned {
		return
	}
	log.Warn().Int64("serial", e.Serial).Str("kind", e.Kind.String()).Dur("timeout", t.timeout).Msg("requests.expire")
	e.Resolve(ril.Result{}, ril.ErrRequestTimeout)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case errors.Is(err, ril.ErrModemRejected):
		return observability.OutcomeRejected
	case errors.Is(err, ril.ErrMalformedResponse):
		return observability.OutcomeMalformed
	case errors.Is(err, ril.ErrTransportUnavailable):
		return observability.OutcomeUnavailable
	case errors.Is(err, ril.ErrRequestTimeout):
		return observability.OutcomeTimeout
	default:
		return observability.OutcomeCanceled
	}
}
