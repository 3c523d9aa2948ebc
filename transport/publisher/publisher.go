// Package publisher adapts a watermill message.Publisher to the transport
// Connection and Link contract. Publish calls are synchronous: a nil error
// is an accepted delivery, any error a rejection. Watermill publishers have
// no notion of broker credit, so the link reports the configured credit
// window once when it opens. Backends that can observe their broker
// connection report its loss through Connection.Fail.
package publisher

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/linkbridge/transport"
)

// DefaultCredit is reported when LinkOptions.InitialCredit is zero.
const DefaultCredit = 1000

// MetadataMessageID is set on every published message.
const MetadataMessageID = "message_id"

// Connection wraps one publisher. It hands out links that publish to the
// link address as topic.
type Connection struct {
	id        string
	publisher message.Publisher
	caps      transport.Capabilities
	logger    watermill.LoggerAdapter

	mu     sync.Mutex
	links  []*Link
	closed bool
	failed *transport.ErrorInfo
	once   sync.Once
	err    error
}

// NewConnection wraps pub. id identifies the connection in responses.
func NewConnection(id string, pub message.Publisher, caps transport.Capabilities, logger watermill.LoggerAdapter) *Connection {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Connection{
		id:        id,
		publisher: pub,
		caps:      caps,
		logger:    logger.With(watermill.LogFields{"connection": id}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Capabilities() transport.Capabilities { return c.caps }

// OpenLink creates a link publishing to opts.Address.
func (c *Connection) OpenLink(ctx context.Context, opts transport.LinkOptions) (transport.Link, error) {
	if opts.Address == "" {
		return nil, errors.New("link address is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.NewLinkError(transport.ScopeConnection, errors.New("connection closed"))
	}
	if c.failed != nil {
		return nil, &transport.LinkError{Info: *c.failed}
	}

	credit := opts.InitialCredit
	if credit <= 0 {
		credit = DefaultCredit
	}
	l := &Link{
		name:      opts.Name,
		topic:     opts.Address,
		publisher: c.publisher,
		conn:      c,
		events:    transport.NewEventStream(4),
	}
	l.events.Emit(transport.CreditEvent(credit))
	c.links = append(c.links, l)

	c.logger.Info("Link opened", watermill.LogFields{"link": opts.Name, "topic": opts.Address, "credit": credit})
	return l, nil
}

// Fail reports a lost broker connection: every open link emits a
// connection error event and later sends fail with a LinkError. Only the
// first call counts; calls after Close are ignored.
func (c *Connection) Fail(info transport.ErrorInfo) {
	if info.Scope == "" {
		info.Scope = transport.ScopeConnection
	}
	if info.At.IsZero() {
		info.At = time.Now()
	}

	c.mu.Lock()
	if c.closed || c.failed != nil {
		c.mu.Unlock()
		return
	}
	c.failed = &info
	links := append([]*Link(nil), c.links...)
	c.mu.Unlock()

	c.logger.Error("Broker connection lost", errors.New(info.Reason), nil)
	for _, l := range links {
		l.events.Emit(transport.ErrorEvent(info))
	}
}

func (c *Connection) failure() *transport.ErrorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Close closes every link and then the publisher.
func (c *Connection) Close(ctx context.Context) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		links := c.links
		c.mu.Unlock()

		for _, l := range links {
			_ = l.Close(ctx)
		}
		c.err = c.publisher.Close()
	})
	return c.err
}

// Link publishes every message to one topic.
type Link struct {
	name      string
	topic     string
	publisher message.Publisher
	conn      *Connection
	events    *transport.EventStream
	seq       atomic.Uint64
	closed    atomic.Bool
}

// Send publishes msg and waits for the publisher to return.
func (l *Link) Send(ctx context.Context, msg transport.Message) (transport.Delivery, error) {
	if l.closed.Load() {
		return transport.Delivery{}, transport.NewLinkError(transport.ScopeLink, transport.ErrLinkClosed)
	}
	if info := l.conn.failure(); info != nil {
		return transport.Delivery{}, &transport.LinkError{Info: *info}
	}

	wm := message.NewMessage(msg.ID, msg.Body)
	for k, v := range msg.Metadata {
		wm.Metadata.Set(k, v)
	}
	wm.Metadata.Set(MetadataMessageID, msg.ID)
	wm.SetContext(ctx)

	if err := l.publisher.Publish(l.topic, wm); err != nil {
		return transport.Delivery{}, &transport.RejectedError{Reason: err.Error()}
	}
	return transport.Delivery{ID: strconv.FormatUint(l.seq.Add(1)-1, 10), Settled: true}, nil
}

func (l *Link) Events() <-chan transport.Event { return l.events.C() }

// Close detaches the link. The publisher stays open.
func (l *Link) Close(ctx context.Context) error {
	l.closed.Store(true)
	l.events.Close()
	return nil
}

// Topic is the topic the link publishes to.
func (l *Link) Topic() string { return l.topic }
