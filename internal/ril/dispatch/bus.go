package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/danmuck/modemctl/internal/ril"
	"github.com/rs/zerolog/log"
)

// DefaultSubscriptionBuffer is the channel depth used when Subscribe gets 0.
const DefaultSubscriptionBuffer = 64

// Subscription receives published events. A subscriber that falls behind
// loses events rather than stalling the reader.
type Subscription struct {
	bus     *Bus
	id      uint64
	kinds   map[ril.EventKind]struct{}
	ch      chan ril.Event
	dropped atomic.Uint64
	once    sync.Once
}

func (s *Subscription) Events() <-chan ril.Event {
	return s.ch
}

// Dropped counts events lost because the channel was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

func (s *Subscription) wants(kind ril.EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Bus fans decoded events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers for the given kinds, or for every kind when none are
// given. After Close it returns a subscription whose channel is already closed.
func (b *Bus) Subscribe(buffer int, kinds ...ril.EventKind) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	sub := &Subscription{
		bus: b,
		ch:  make(chan ril.Event, buffer),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[ril.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub.id = b.nextID
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers ev to every interested subscriber without blocking and
// returns the number of subscribers that received it.
func (b *Bus) Publish(ev ril.Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, sub := range b.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			sub.dropped.Add(1)
			log.Warn().Uint64("subscription", sub.id).Str("kind", ev.Kind.String()).Msg("dispatch.Bus subscriber full, event dropped")
		}
	}
	return delivered
}

// Close detaches every subscriber and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}
