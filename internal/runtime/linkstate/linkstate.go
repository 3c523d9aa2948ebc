// Package linkstate tracks the health and send credit of the outbound link.
package linkstate

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/linkbridge/transport"
)

// Snapshot is a point-in-time copy of the link state.
type Snapshot struct {
	Credit    int
	Healthy   bool
	LastError *transport.ErrorInfo
}

// State holds the broker-reported credit and the link health. Credit is only
// ever taken from broker reports; sends never decrement it.
type State struct {
	mu        sync.RWMutex
	credit    int
	healthy   bool
	lastError *transport.ErrorInfo

	broken     chan struct{}
	brokenOnce sync.Once
}

// New returns a healthy state with zero credit.
func New() *State {
	return &State{
		healthy: true,
		broken:  make(chan struct{}),
	}
}

// OnCredit replaces the stored credit. Negative values are clamped to 0.
func (s *State) OnCredit(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	s.credit = n
	s.mu.Unlock()
}

// OnError marks the link unhealthy and records info. The first call closes
// the Broken channel.
func (s *State) OnError(info transport.ErrorInfo) {
	if info.At.IsZero() {
		info.At = time.Now()
	}
	s.mu.Lock()
	s.healthy = false
	s.lastError = &info
	s.mu.Unlock()

	s.brokenOnce.Do(func() { close(s.broken) })
}

// Snapshot returns a consistent copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Credit: s.credit, Healthy: s.healthy}
	if s.lastError != nil {
		info := *s.lastError
		snap.LastError = &info
	}
	return snap
}

// Credit returns the latest broker-reported credit.
func (s *State) Credit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credit
}

// Healthy reports whether no link, session or connection error was seen.
func (s *State) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

// Broken is closed when the first error is recorded.
func (s *State) Broken() <-chan struct{} {
	return s.broken
}

// Watch drains events until ctx is done or the channel closes. It is the
// only writer of the state while the link is open. Link, session and
// connection errors, and a channel closing before any error was seen, are
// passed to onFatal: the link never recovers in place.
func (s *State) Watch(ctx context.Context, events <-chan transport.Event, onFatal func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				if s.Healthy() {
					info := transport.ErrorInfo{
						Scope:  transport.ScopeConnection,
						Reason: "event stream closed",
						At:     time.Now(),
					}
					s.OnError(info)
					notify(onFatal, &transport.LinkError{Info: info})
				}
				return
			}
			s.apply(ev, onFatal)
		}
	}
}

func (s *State) apply(ev transport.Event, onFatal func(error)) {
	switch ev.Kind {
	case transport.EventCredit:
		s.OnCredit(ev.Credit)
	case transport.EventLinkError, transport.EventSessionError, transport.EventConnectionError:
		s.OnError(ev.Error)
		notify(onFatal, &transport.LinkError{Info: ev.Error})
	}
}

func notify(onFatal func(error), err error) {
	if onFatal != nil {
		onFatal(err)
	}
}
