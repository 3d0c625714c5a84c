// Package events fans session updates out to stream subscribers.
package events

import (
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 64

// Event is one update pushed to subscribers. Type becomes the SSE event name.
type Event struct {
	Type string
	Data any
}

// Broker fans out events to all subscribers without ever blocking the
// publisher. Event types registered as coalesced keep only their newest
// pending instance per subscriber, so a burst of snapshots cannot crowd out
// other events. When a slow subscriber still has subscriberBufSize events
// pending, the oldest one is dropped.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	coalesce    map[string]bool
	nextID      atomic.Int64
	dropped     atomic.Int64
	closed      bool
}

func NewBroker(coalesce ...string) *Broker {
	b := &Broker{
		subscribers: make(map[int64]*subscriber),
		coalesce:    make(map[string]bool, len(coalesce)),
	}
	for _, t := range coalesce {
		b.coalesce[t] = true
	}
	return b
}

// Subscribe registers a new client. The returned channel is closed on
// Unsubscribe, or after pending events are delivered once the broker closes.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	sub := newSubscriber()

	b.mu.Lock()
	if b.closed {
		sub.finish()
	} else {
		b.subscribers[id] = sub
	}
	b.mu.Unlock()

	go sub.run()
	return id, sub.out
}

func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		sub.stop()
	}
}

func (b *Broker) Publish(evt Event) {
	coalesce := b.coalesce[evt.Type]
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.enqueue(evt, coalesce) {
			b.dropped.Add(1)
		}
	}
}

// Close disconnects every subscriber; later Subscribe calls get a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		sub.finish()
	}
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// subscriber owns a pending queue drained into out by its run goroutine.
type subscriber struct {
	mu       sync.Mutex
	pending  []Event
	finished bool

	wake     chan struct{}
	out      chan Event
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
}

// enqueue reports whether an event had to be dropped.
func (s *subscriber) enqueue(evt Event, coalesce bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}

	if coalesce {
		kept := s.pending[:0]
		for _, p := range s.pending {
			if p.Type != evt.Type {
				kept = append(kept, p)
			}
		}
		s.pending = kept
	}

	dropped := false
	if len(s.pending) >= subscriberBufSize {
		s.pending = s.pending[1:]
		dropped = true
	}
	s.pending = append(s.pending, evt)
	s.signal()
	return dropped
}

// finish lets run deliver what is pending and then close out.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.finished = true
	s.signal()
	s.mu.Unlock()
}

// stop closes out without delivering the rest.
func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		evt := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- evt:
		case <-s.done:
			return
		}
	}
}
