package session

// Event is a session state change.
type Event string

const (
	SignedIn  Event = "signed_in"
	SignedOut Event = "signed_out"
)

// Listener observes session changes. It runs on the caller's goroutine and
// must not block.
type Listener func(Event, Handle)

// OnChange registers l and returns a function that removes it.
func (s *Store) OnChange(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) emit(e Event, h Handle) {
	s.mu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()
	for _, l := range ls {
		l(e, h)
	}
}
