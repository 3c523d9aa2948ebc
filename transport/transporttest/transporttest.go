// Package transporttest provides in-memory fakes of transport.Connection and
// transport.Link for tests.
package transporttest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drblury/linkbridge/transport"
)

// SendFunc decides the result of one Link.Send call.
type SendFunc func(ctx context.Context, msg transport.Message) (transport.Delivery, error)

// Link is an instrumented fake link. It counts concurrent Send calls and
// records the highest concurrency observed.
type Link struct {
	// OnSend overrides the default behaviour, which accepts every message
	// with a sequential delivery id.
	OnSend SendFunc
	// CloseErr is returned by Close.
	CloseErr error

	events   *transport.EventStream
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int64
	closes   atomic.Int32

	mu   sync.Mutex
	sent []transport.Message
}

// NewLink creates a fake link with an event buffer of 16.
func NewLink() *Link {
	return &Link{events: transport.NewEventStream(16)}
}

func (l *Link) Send(ctx context.Context, msg transport.Message) (transport.Delivery, error) {
	n := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		seen := l.maxSeen.Load()
		if n <= seen || l.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	call := l.calls.Add(1)

	l.mu.Lock()
	l.sent = append(l.sent, msg)
	l.mu.Unlock()

	if l.OnSend != nil {
		return l.OnSend(ctx, msg)
	}
	return transport.Delivery{ID: strconv.FormatInt(call-1, 10), Settled: true}, nil
}

func (l *Link) Events() <-chan transport.Event { return l.events.C() }

func (l *Link) Close(ctx context.Context) error {
	l.closes.Add(1)
	l.events.Close()
	return l.CloseErr
}

// Emit pushes an event to whoever drains Events.
func (l *Link) Emit(ev transport.Event) bool { return l.events.Emit(ev) }

// MaxConcurrent is the highest number of simultaneous Send calls observed.
func (l *Link) MaxConcurrent() int { return int(l.maxSeen.Load()) }

// Calls is the number of Send calls made.
func (l *Link) Calls() int { return int(l.calls.Load()) }

// Closes is the number of Close calls made.
func (l *Link) Closes() int { return int(l.closes.Load()) }

// Sent returns a copy of every message passed to Send.
func (l *Link) Sent() []transport.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]transport.Message, len(l.sent))
	copy(out, l.sent)
	return out
}

// Connection is a fake connection handing out a single Link.
type Connection struct {
	// Link is returned by OpenLink.
	Link *Link
	// OpenErr makes OpenLink fail.
	OpenErr error
	// CloseErr is returned by Close.
	CloseErr error
	// Name is returned by ID.
	Name string

	opened  atomic.Int32
	closes  atomic.Int32
	mu      sync.Mutex
	options transport.LinkOptions
}

// NewConnection creates a fake connection with a fresh Link.
func NewConnection(name string) *Connection {
	return &Connection{Link: NewLink(), Name: name}
}

func (c *Connection) OpenLink(ctx context.Context, opts transport.LinkOptions) (transport.Link, error) {
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	if c.Link == nil {
		return nil, errors.New("transporttest: no link configured")
	}
	c.mu.Lock()
	c.options = opts
	c.mu.Unlock()
	c.opened.Add(1)
	return c.Link, nil
}

func (c *Connection) Close(ctx context.Context) error {
	c.closes.Add(1)
	return c.CloseErr
}

func (c *Connection) ID() string { return c.Name }

// Opened is the number of successful OpenLink calls.
func (c *Connection) Opened() int { return int(c.opened.Load()) }

// Closes is the number of Close calls made.
func (c *Connection) Closes() int { return int(c.closes.Load()) }

// Options returns the options of the last OpenLink call.
func (c *Connection) Options() transport.LinkOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.options
}

// Config is a settable transport.Config.
type Config struct {
	Transport          string
	Identity           string
	SenderAddress      string
	AMQPURL            string
	AMQPLinkCredit     int
	IdleTimeout        time.Duration
	KafkaBrokers       []string
	NATSURL            string
	HTTPPublisherURL   string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *Config) GetTransport() string          { return c.Transport }
func (c *Config) GetIdentity() string           { return c.Identity }
func (c *Config) GetSenderAddress() string      { return c.SenderAddress }
func (c *Config) GetAMQPURL() string            { return c.AMQPURL }
func (c *Config) GetAMQPLinkCredit() int        { return c.AMQPLinkCredit }
func (c *Config) GetIdleTimeout() time.Duration { return c.IdleTimeout }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }
