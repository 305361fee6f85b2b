// Package obsbus implements the process-wide observability bus of §4.2: a
// non-blocking publish/subscribe facility over typed events, backed by a
// bounded ring buffer that drops the oldest entry on overflow.
package obsbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies an event's type.
type Kind string

const (
	KindLog                Kind = "log"
	KindError              Kind = "error"
	KindMetricSample        Kind = "metric_sample"
	KindToolExecution       Kind = "tool_execution"
	KindContainerEvent      Kind = "container_event"
	KindIntelligenceUpdate  Kind = "intelligence_update"
	KindHealthChange        Kind = "health_change"
)

// Event is one item carried on the bus.
type Event struct {
	Kind      Kind
	SessionID string
	Timestamp time.Time
	Payload   any
}

// Filter narrows a subscription to matching events.
type Filter struct {
	Kinds     []Kind
	SessionID string
}

func (f Filter) matches(e Event) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

// subscriber is one registered listener; ch is buffered and never blocks
// Publish — a full channel causes that subscriber to miss the new event,
// while the events already buffered for it are kept.
type subscriber struct {
	id     int64
	filter Filter
	ch     chan Event
}

// Bus is the process-wide pub/sub facility. It never blocks a publisher:
// a full ring drops the oldest event and increments Drops; a full
// subscriber channel drops the event for that subscriber only.
type Bus struct {
	mu          sync.RWMutex
	ring        []Event
	ringHead    int
	ringSize    int
	ringCap     int
	subscribers map[int64]*subscriber
	nextID      int64
	drops       atomic.Int64
}

// New creates a Bus with a ring buffer of capacity backfillCap.
func New(backfillCap int) *Bus {
	if backfillCap <= 0 {
		backfillCap = 1000
	}
	return &Bus{
		ring:        make([]Event, backfillCap),
		ringCap:     backfillCap,
		subscribers: make(map[int64]*subscriber),
	}
}

// Publish is non-blocking: it appends to the backfill ring (dropping the
// oldest entry on overflow) and fans out to subscribers without waiting.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	if b.ringSize < b.ringCap {
		b.ring[(b.ringHead+b.ringSize)%b.ringCap] = e
		b.ringSize++
	} else {
		b.ring[b.ringHead] = e
		b.ringHead = (b.ringHead + 1) % b.ringCap
		b.drops.Add(1)
	}
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if !s.filter.matches(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.drops.Add(1)
		}
	}
}

// Drops returns the number of events dropped so far (ring overflow or a
// full subscriber channel), strictly monotonically increasing under
// overload per the §8 testable property.
func (b *Bus) Drops() int64 { return b.drops.Load() }

// Subscription is a lazy stream of events matching a Filter.
type Subscription struct {
	bus *Bus
	id  int64
	ch  chan Event
}

// Events returns the channel of matching events. The channel is closed by
// Unsubscribe.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subscribers, s.id)
	s.bus.mu.Unlock()
	close(s.ch)
}

// Subscribe registers a new subscriber with a bounded channel buffer.
func (b *Bus) Subscribe(filter Filter, bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{id: id, filter: filter, ch: make(chan Event, bufferSize)}
	b.subscribers[id] = sub
	b.mu.Unlock()
	return &Subscription{bus: b, id: id, ch: sub.ch}
}

// Backfill returns up to n of the most recent events matching filter, in
// chronological order.
func (b *Bus) Backfill(filter Filter, n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, n)
	for i := 0; i < b.ringSize; i++ {
		idx := (b.ringHead + i) % b.ringCap
		e := b.ring[idx]
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
