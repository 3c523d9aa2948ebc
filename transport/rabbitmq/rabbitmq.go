// Package rabbitmq provides an AMQP 0-9-1 transport on rabbitmq/amqp091-go.
//
// One channel in confirm mode carries the outbound link. Publisher confirms
// settle each send; channel flow and connection blocked notifications are
// reported as credit events.
package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/linkbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// DefaultHeartbeat is used when no idle timeout is configured.
const DefaultHeartbeat = 10 * time.Second

// Confirmation is a pending publisher confirm.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
	DeliveryTag() uint64
}

// Channel is the subset of *amqp091.Channel the link uses.
type Channel interface {
	Confirm(noWait bool) error
	Publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) (Confirmation, error)
	NotifyFlow(c chan bool) chan bool
	NotifyClose(c chan *amqp091.Error) chan *amqp091.Error
	IsClosed() bool
	Close() error
}

// Conn is the subset of *amqp091.Connection the transport uses.
type Conn interface {
	Channel() (Channel, error)
	NotifyClose(c chan *amqp091.Error) chan *amqp091.Error
	NotifyBlocked(c chan amqp091.Blocking) chan amqp091.Blocking
	IsClosed() bool
	Close() error
}

// ConnectionFactory allows overriding the broker dial for testing.
var ConnectionFactory = func(rawURL string, cfg amqp091.Config) (Conn, error) {
	conn, err := amqp091.DialConfig(rawURL, cfg)
	if err != nil {
		return nil, err
	}
	return connAdapter{conn}, nil
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build dials the broker. The link is opened separately by OpenLink.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Connection, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	rawURL := cfg.GetAMQPURL()
	dialCfg, err := dialConfig(rawURL, cfg.GetIdentity(), cfg.GetIdleTimeout())
	if err != nil {
		return nil, err
	}

	conn, err := ConnectionFactory(rawURL, dialCfg)
	if err != nil {
		logger.Error("Failed to connect to AMQP broker", err, watermill.LogFields{"url": redactURL(rawURL)})
		return nil, transport.NewLinkError(transport.ScopeConnection, err)
	}

	id := TransportName + ":" + cfg.GetIdentity()
	logger.Info("Connected to AMQP broker", watermill.LogFields{
		"url":       redactURL(rawURL),
		"heartbeat": dialCfg.Heartbeat,
		"tls":       dialCfg.TLSClientConfig != nil,
	})

	return &Connection{
		id:     id,
		conn:   conn,
		window: cfg.GetAMQPLinkCredit(),
		logger: logger.With(watermill.LogFields{"connection": id}),
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

func dialConfig(rawURL, identity string, idle time.Duration) (amqp091.Config, error) {
	uri, err := amqp091.ParseURI(rawURL)
	if err != nil {
		return amqp091.Config{}, fmt.Errorf("parse AMQP url: %w", err)
	}

	heartbeat := idle / 2
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	cfg := amqp091.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Properties: amqp091.Table{
			"connection_name": identity,
			"product":         "linkbridge",
		},
	}
	if uri.Scheme == "amqps" {
		cfg.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: uri.Host,
		}
	}
	return cfg, nil
}

func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}

// Connection is one AMQP connection. Each link gets its own channel.
type Connection struct {
	id     string
	conn   Conn
	window int
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	links  []*Link
	closed bool
	once   sync.Once
	err    error
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Capabilities() transport.Capabilities { return transport.RabbitMQCapabilities }

// OpenLink opens a confirm-mode channel publishing to opts.Address, which is
// either "exchange/routing-key" or a queue name on the default exchange.
func (c *Connection) OpenLink(ctx context.Context, opts transport.LinkOptions) (transport.Link, error) {
	exchange, key, err := ParseAddress(opts.Address)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn.IsClosed() {
		return nil, transport.NewLinkError(transport.ScopeConnection, amqp091.ErrClosed)
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, amqpFailure(transport.ScopeSession, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, amqpFailure(transport.ScopeSession, err)
	}

	window := c.window
	if window <= 0 {
		window = opts.InitialCredit
	}
	l := newLink(opts.Name, exchange, key, window, c.conn, ch, c.logger)
	c.links = append(c.links, l)

	c.logger.Info("Link opened", watermill.LogFields{
		"link":        opts.Name,
		"exchange":    exchange,
		"routing_key": key,
		"window":      window,
	})
	return l, nil
}

// Close closes every link and then the connection.
func (c *Connection) Close(ctx context.Context) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		links := c.links
		c.mu.Unlock()

		var errs []error
		for _, l := range links {
			errs = append(errs, l.Close(ctx))
		}
		if !c.conn.IsClosed() {
			if err := c.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
				errs = append(errs, err)
			}
		}
		c.err = errors.Join(errs...)
		c.logger.Info("Connection closed", nil)
	})
	return c.err
}

// ParseAddress splits "exchange/routing-key". A bare name, or one with a
// leading slash, is a queue on the default exchange.
func ParseAddress(address string) (exchange, key string, err error) {
	if address == "" {
		return "", "", errors.New("link address is required")
	}
	if address[0] == '/' {
		address = address[1:]
	}
	for i := 0; i < len(address); i++ {
		if address[i] == '/' {
			return address[:i], address[i+1:], nil
		}
	}
	return "", address, nil
}

func amqpFailure(scope transport.Scope, err error) *transport.LinkError {
	le := transport.NewLinkError(scope, err)
	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) {
		le.Info.Code = amqpErr.Code
		le.Info.Reason = amqpErr.Reason
	}
	return le
}

type connAdapter struct {
	*amqp091.Connection
}

func (c connAdapter) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return channelAdapter{ch}, nil
}

type channelAdapter struct {
	*amqp091.Channel
}

func (c channelAdapter) Publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) (Confirmation, error) {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	return deferred{dc}, nil
}

type deferred struct {
	dc *amqp091.DeferredConfirmation
}

func (d deferred) WaitContext(ctx context.Context) (bool, error) { return d.dc.WaitContext(ctx) }

func (d deferred) DeliveryTag() uint64 { return d.dc.DeliveryTag }
