package linkstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/linkbridge/transport"
)

func TestNew_IsHealthyWithZeroCredit(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	assert.True(t, snap.Healthy)
	assert.Zero(t, snap.Credit)
	assert.Nil(t, snap.LastError)

	select {
	case <-s.Broken():
		t.Fatal("broken channel closed on a fresh state")
	default:
	}
}

func TestOnCredit_ReplacesAndClamps(t *testing.T) {
	s := New()
	s.OnCredit(500)
	assert.Equal(t, 500, s.Credit())
	s.OnCredit(7)
	assert.Equal(t, 7, s.Credit())
	s.OnCredit(-3)
	assert.Equal(t, 0, s.Credit())
}

func TestOnError_MarksUnhealthyAndClosesBrokenOnce(t *testing.T) {
	s := New()
	s.OnError(transport.ErrorInfo{Scope: transport.ScopeLink, Reason: "detached"})
	s.OnError(transport.ErrorInfo{Scope: transport.ScopeSession, Reason: "ended"})

	snap := s.Snapshot()
	assert.False(t, snap.Healthy)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, "ended", snap.LastError.Reason)
	assert.False(t, snap.LastError.At.IsZero())

	select {
	case <-s.Broken():
	default:
		t.Fatal("broken channel should be closed")
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := New()
	s.OnError(transport.ErrorInfo{Reason: "first"})
	snap := s.Snapshot()
	snap.LastError.Reason = "mutated"
	assert.Equal(t, "first", s.Snapshot().LastError.Reason)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := s.Snapshot()
				assert.GreaterOrEqual(t, snap.Credit, 0)
				_ = s.Credit()
			}
		}()
	}
	for j := 0; j < 200; j++ {
		s.OnCredit(j - 100)
	}
	wg.Wait()
}

func TestWatch_AppliesEvents(t *testing.T) {
	s := New()
	events := make(chan transport.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fatal []error
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Watch(ctx, events, func(err error) {
			mu.Lock()
			fatal = append(fatal, err)
			mu.Unlock()
		})
	}()

	events <- transport.CreditEvent(42)
	events <- transport.ErrorEvent(transport.ErrorInfo{Scope: transport.ScopeLink, Reason: "credit exhausted"})

	assert.Eventually(t, func() bool { return !s.Healthy() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 42, s.Credit())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fatal) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	var linkErr *transport.LinkError
	require.True(t, errors.As(fatal[0], &linkErr))
	assert.Equal(t, transport.ScopeLink, linkErr.Info.Scope)
	mu.Unlock()

	cancel()
	<-done
}

func TestWatch_ConnectionErrorIsFatal(t *testing.T) {
	s := New()
	events := make(chan transport.Event, 1)
	fatal := make(chan error, 1)

	events <- transport.ErrorEvent(transport.ErrorInfo{Scope: transport.ScopeConnection, Code: 320, Reason: "forced"})
	close(events)

	s.Watch(context.Background(), events, func(err error) { fatal <- err })

	select {
	case err := <-fatal:
		var linkErr *transport.LinkError
		require.True(t, errors.As(err, &linkErr))
		assert.Equal(t, transport.ScopeConnection, linkErr.Info.Scope)
		assert.Equal(t, 320, linkErr.Info.Code)
	default:
		t.Fatal("expected fatal callback")
	}
	assert.Empty(t, fatal, "closed stream after an error is not reported again")
	assert.False(t, s.Healthy())
}

func TestWatch_ClosedStreamIsConnectionLoss(t *testing.T) {
	s := New()
	events := make(chan transport.Event)
	close(events)

	var got error
	s.Watch(context.Background(), events, func(err error) { got = err })

	require.Error(t, got)
	assert.True(t, transport.IsLinkError(got))
	assert.False(t, s.Healthy())
}

func TestWatch_StopsOnContext(t *testing.T) {
	s := New()
	events := make(chan transport.Event)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	s.Watch(ctx, events, func(error) { called = true })
	assert.False(t, called)
	assert.True(t, s.Healthy())
}
