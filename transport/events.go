package transport

import "sync"

// EventStream is the event channel of a link. Several goroutines may Emit;
// Close unblocks them and closes the channel exactly once.
type EventStream struct {
	mu     sync.RWMutex
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	closed bool
}

// NewEventStream creates a stream with the given buffer size.
func NewEventStream(size int) *EventStream {
	return &EventStream{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// C returns the receive side.
func (s *EventStream) C() <-chan Event {
	return s.ch
}

// Emit delivers ev, blocking until it is consumed or the stream is closed.
// It reports whether the event was delivered.
func (s *EventStream) Emit(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Close stops the stream. Pending Emit calls return false.
func (s *EventStream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
