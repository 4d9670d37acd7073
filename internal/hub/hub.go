package hub

import (
	"context"
	"sync"
)

// Subscription is one consumer's queue. Read from C until Done is closed.
type Subscription[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

func newSubscription[T any](size int) *Subscription[T] {
	if size < 1 {
		size = 1
	}
	return &Subscription[T]{
		ch:   make(chan T, size),
		done: make(chan struct{}),
	}
}

// C yields queued events
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Done is closed once the subscription is removed from its hub
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription[T]) close() {
	s.once.Do(func() { close(s.done) })
}

// Broadcaster delivers every event to every subscriber without ever
// blocking the publisher. A subscriber with a full queue misses the event.
type Broadcaster[T any] struct {
	queueSize int

	mu   sync.Mutex
	subs map[*Subscription[T]]struct{}
}

// NewBroadcaster creates a coarse hub with per-subscriber queues of queueSize
func NewBroadcaster[T any](queueSize int) *Broadcaster[T] {
	return &Broadcaster[T]{
		queueSize: queueSize,
		subs:      make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a new subscriber
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	s := newSubscription[T](b.queueSize)
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (b *Broadcaster[T]) Unsubscribe(s *Subscription[T]) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.close()
}

// Publish enqueues event for every subscriber with room and returns how
// many received it.
func (b *Broadcaster[T]) Publish(event T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for s := range b.subs {
		select {
		case s.ch <- event:
			delivered++
		default:
		}
	}
	return delivered
}

// Len returns the number of subscribers
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type keyedEvent[K comparable, T any] struct {
	key   K
	event T
}

// Keyed is a per-entity hub. It remembers the last event of every key and
// replays it to new subscribers. Publish waits for slow subscribers.
//
// Producers on other goroutines hand events over with Submit; Run drains
// them in order on the hub's own goroutine.
type Keyed[K comparable, T any] struct {
	queueSize int
	inbox     chan keyedEvent[K, T]

	mu   sync.Mutex
	subs map[K]map[*Subscription[T]]struct{}
	last map[K]T
}

// NewKeyed creates a per-entity hub. queueSize bounds each subscriber queue,
// inboxSize bounds the hand-off channel used by Submit.
func NewKeyed[K comparable, T any](queueSize, inboxSize int) *Keyed[K, T] {
	if inboxSize < 1 {
		inboxSize = 1
	}
	return &Keyed[K, T]{
		queueSize: queueSize,
		inbox:     make(chan keyedEvent[K, T], inboxSize),
		subs:      make(map[K]map[*Subscription[T]]struct{}),
		last:      make(map[K]T),
	}
}

// Subscribe registers a subscriber for key. The last event for key, if any,
// is already queued when Subscribe returns.
func (h *Keyed[K, T]) Subscribe(key K) *Subscription[T] {
	s := newSubscription[T](h.queueSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if event, ok := h.last[key]; ok {
		s.ch <- event
	}
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*Subscription[T]]struct{})
		h.subs[key] = set
	}
	set[s] = struct{}{}
	return s
}

// Unsubscribe removes a subscriber and drops the key once it has none.
// The cached last event is kept.
func (h *Keyed[K, T]) Unsubscribe(key K, s *Subscription[T]) {
	h.mu.Lock()
	if set, ok := h.subs[key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
	h.mu.Unlock()
	s.close()
}

// Publish caches event as the last one for key and delivers it to every
// current subscriber, waiting while a queue is full. A subscriber that
// unsubscribes meanwhile is skipped; ctx cancellation aborts the delivery.
func (h *Keyed[K, T]) Publish(ctx context.Context, key K, event T) error {
	h.mu.Lock()
	h.last[key] = event
	targets := make([]*Subscription[T], 0, len(h.subs[key]))
	for s := range h.subs[key] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- event:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Submit hands an event to the dispatcher goroutine. It blocks while the
// inbox is full.
func (h *Keyed[K, T]) Submit(ctx context.Context, key K, event T) error {
	select {
	case h.inbox <- keyedEvent[K, T]{key: key, event: event}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches submitted events until ctx is cancelled
func (h *Keyed[K, T]) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ke := <-h.inbox:
			if err := h.Publish(ctx, ke.key, ke.event); err != nil {
				return
			}
		}
	}
}

// Last returns the cached event for key
func (h *Keyed[K, T]) Last(key K) (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	event, ok := h.last[key]
	return event, ok
}

// Keys returns the number of keys with at least one subscriber
func (h *Keyed[K, T]) Keys() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscribers returns the number of subscribers for key
func (h *Keyed[K, T]) Subscribers(key K) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}
