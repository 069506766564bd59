package realtime

import (
	"context"
	"sync"
)

// MemoryBus dispatches changes synchronously within the process.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*memorySub
	closed bool
}

type memorySub struct {
	bus    *MemoryBus
	id     uint64
	filter Filter
	fn     Handler
	once   sync.Once
}

func (s *memorySub) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[uint64]*memorySub)}
}

func (b *MemoryBus) Subscribe(f Filter, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	s := &memorySub{bus: b, id: b.nextID, filter: f, fn: h}
	b.subs[s.id] = s
	return s, nil
}

// Publish delivers c to every matching handler. Handlers run outside the lock
// so they may subscribe or unsubscribe.
func (b *MemoryBus) Publish(_ context.Context, c Change) error {
	b.dispatch(c)
	return nil
}

func (b *MemoryBus) dispatch(c Change) {
	b.mu.RLock()
	matched := make([]Handler, 0, 4)
	for _, s := range b.subs {
		if s.filter.Matches(c) {
			matched = append(matched, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range matched {
		fn(c)
	}
}

// Len returns the number of live subscriptions.
func (b *MemoryBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscription and rejects new ones.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[uint64]*memorySub)
	b.mu.Unlock()
	return nil
}
