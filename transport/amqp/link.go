package amqp

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/linkbridge/transport"
)

// Link is one sender link on its own session.
type Link struct {
	name    string
	session Session
	sender  Sender
	events  *transport.EventStream
	logger  watermill.LoggerAdapter
	seq     atomic.Uint64

	mu        sync.Mutex
	failed    *transport.LinkError
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newLink(name string, window int, session Session, sender Sender, logger watermill.LoggerAdapter) *Link {
	l := &Link{
		name:    name,
		session: session,
		sender:  sender,
		events:  transport.NewEventStream(16),
		logger:  logger.With(watermill.LogFields{"link": name}),
	}
	l.events.Emit(transport.CreditEvent(window))
	return l
}

// Send transfers msg and waits for its disposition. Accepted deliveries get
// a local sequence number as ID. A rejected or released outcome is a
// refusal; a detach of the link, session or connection fails the link for
// good and is reported on Events.
func (l *Link) Send(ctx context.Context, msg transport.Message) (transport.Delivery, error) {
	if l.closed.Load() {
		return transport.Delivery{}, transport.NewLinkError(transport.ScopeLink, transport.ErrLinkClosed)
	}
	if failed := l.failure(); failed != nil {
		return transport.Delivery{}, failed
	}

	err := l.sender.Send(ctx, l.message(msg), nil)
	if err == nil {
		id := l.seq.Add(1)
		return transport.Delivery{ID: strconv.FormatUint(id, 10), Settled: true}, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transport.Delivery{}, err
	}

	mapped := classify(err)
	var linkErr *transport.LinkError
	if errors.As(mapped, &linkErr) {
		l.fail(linkErr)
	}
	return transport.Delivery{}, mapped
}

func (l *Link) message(msg transport.Message) *amqp.Message {
	contentType := "text/plain"
	now := time.Now()

	m := amqp.NewMessage(msg.Body)
	m.Header = &amqp.MessageHeader{Durable: true}
	m.Properties = &amqp.MessageProperties{
		MessageID:    msg.ID,
		ContentType:  &contentType,
		CreationTime: &now,
	}
	if cid := msg.Metadata["correlation_id"]; cid != "" {
		m.Properties.CorrelationID = cid
	}
	if len(msg.Metadata) > 0 {
		m.ApplicationProperties = make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			m.ApplicationProperties[k] = v
		}
	}
	return m
}

// fail records the first detach and reports it. Later failures are the same
// loss seen again.
func (l *Link) fail(err *transport.LinkError) {
	l.mu.Lock()
	if l.failed != nil {
		l.mu.Unlock()
		return
	}
	l.failed = err
	l.mu.Unlock()

	if l.closed.Load() {
		return
	}
	l.logger.Error("Link detached", err, watermill.LogFields{"scope": err.Info.Scope})
	l.events.Emit(transport.ErrorEvent(err.Info))
}

func (l *Link) failure() *transport.LinkError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

func (l *Link) Events() <-chan transport.Event { return l.events.C() }

// Close detaches the sender, unless the broker already did, and ends its
// session.
func (l *Link) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.events.Close()
		var errs []error
		if l.failure() == nil {
			if err := l.sender.Close(ctx); err != nil && !detached(err) {
				errs = append(errs, err)
			}
		}
		if err := l.session.Close(ctx); err != nil && !detached(err) {
			errs = append(errs, err)
		}
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}

func detached(err error) bool {
	var linkErr *amqp.LinkError
	var sessionErr *amqp.SessionError
	return errors.As(err, &linkErr) || errors.As(err, &sessionErr) || isConnError(err)
}
