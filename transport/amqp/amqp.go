// Package amqp provides the default AMQP 1.0 transport on Azure/go-amqp.
//
// One session carries one sender link named after the process identity. Each
// send waits for the broker's disposition. The client hides link credit and
// blocks Send while the broker grants none, so the link reports the
// configured window (AMQP_LINK_CREDIT) once at attach.
package amqp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/linkbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "amqp"

// DefaultIdleTimeout is advertised when no idle timeout is configured.
const DefaultIdleTimeout = 60 * time.Second

// Sender is the subset of *amqp.Sender the link uses.
type Sender interface {
	Send(ctx context.Context, msg *amqp.Message, opts *amqp.SendOptions) error
	Close(ctx context.Context) error
}

// Session is the subset of *amqp.Session the transport uses.
type Session interface {
	NewSender(ctx context.Context, target string, opts *amqp.SenderOptions) (Sender, error)
	Close(ctx context.Context) error
}

// Conn is the subset of *amqp.Conn the transport uses.
type Conn interface {
	NewSession(ctx context.Context, opts *amqp.SessionOptions) (Session, error)
	Close() error
}

// Dialer allows overriding the broker dial for testing.
var Dialer = func(ctx context.Context, addr string, opts *amqp.ConnOptions) (Conn, error) {
	conn, err := amqp.Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return connAdapter{conn}, nil
}

func init() {
	Register()
}

// Register registers the AMQP 1.0 transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AMQPCapabilities)
}

// Build dials the broker with SASL PLAIN, over TLS for amqps URLs. The
// session and sender are attached by OpenLink.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Connection, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	rawURL := cfg.GetAMQPURL()
	addr, opts, err := connOptions(rawURL, cfg.GetIdentity(), cfg.GetIdleTimeout())
	if err != nil {
		return nil, err
	}

	conn, err := Dialer(ctx, addr, opts)
	if err != nil {
		logger.Error("Failed to connect to AMQP broker", err, watermill.LogFields{"addr": addr})
		return nil, failure(transport.ScopeConnection, err)
	}

	id := TransportName + ":" + cfg.GetIdentity()
	logger.Info("Connected to AMQP broker", watermill.LogFields{
		"addr":         addr,
		"container_id": opts.ContainerID,
		"idle_timeout": opts.IdleTimeout,
		"tls":          opts.TLSConfig != nil,
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
	return transport.AMQPCapabilities
}

// connOptions splits the credentials out of rawURL and returns the address
// to dial along with the connection options.
func connOptions(rawURL, identity string, idle time.Duration) (string, *amqp.ConnOptions, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse AMQP url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", nil, fmt.Errorf("parse AMQP url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", nil, errors.New("parse AMQP url: missing host")
	}

	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	opts := &amqp.ConnOptions{
		ContainerID: identity,
		HostName:    u.Hostname(),
		IdleTimeout: idle,
		Properties: map[string]any{
			"product": "linkbridge",
		},
	}
	if u.User != nil {
		password, _ := u.User.Password()
		opts.SASLType = amqp.SASLTypePlain(u.User.Username(), password)
	}
	if u.Scheme == "amqps" {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: u.Hostname(),
		}
	}

	addr := (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
	return addr, opts, nil
}

// Connection is one AMQP 1.0 connection. Each link gets its own session.
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

func (c *Connection) Capabilities() transport.Capabilities { return transport.AMQPCapabilities }

// OpenLink begins a session and attaches a sender named opts.Name to
// opts.Address. A refused attach is a *transport.LinkError.
func (c *Connection) OpenLink(ctx context.Context, opts transport.LinkOptions) (transport.Link, error) {
	if opts.Address == "" {
		return nil, errors.New("link address is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.NewLinkError(transport.ScopeConnection, transport.ErrLinkClosed)
	}

	session, err := c.conn.NewSession(ctx, nil)
	if err != nil {
		return nil, failure(transport.ScopeSession, err)
	}
	sender, err := session.NewSender(ctx, opts.Address, &amqp.SenderOptions{Name: opts.Name})
	if err != nil {
		_ = session.Close(ctx)
		return nil, failure(transport.ScopeLink, err)
	}

	window := c.window
	if window <= 0 {
		window = opts.InitialCredit
	}
	l := newLink(opts.Name, window, session, sender, c.logger)
	c.links = append(c.links, l)

	c.logger.Info("Link attached", watermill.LogFields{
		"link":    opts.Name,
		"address": opts.Address,
		"window":  window,
	})
	return l, nil
}

// Close detaches every link, ends its session and closes the connection.
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
		if err := c.conn.Close(); err != nil && !isConnError(err) {
			errs = append(errs, err)
		}
		c.err = errors.Join(errs...)
		c.logger.Info("Connection closed", nil)
	})
	return c.err
}

// classify maps a Send error to the bridge's error model. A bare remote
// *amqp.Error is the disposition of this one transfer and so a refusal;
// detaches and closes become a *transport.LinkError of the matching scope.
func classify(err error) error {
	if _, ok := scopeOf(err); !ok {
		var remote *amqp.Error
		if errors.As(err, &remote) {
			return &transport.RejectedError{Reason: describe(remote)}
		}
	}
	return failure(transport.ScopeLink, err)
}

// scopeOf reports which endpoint a go-amqp error ended.
func scopeOf(err error) (transport.Scope, bool) {
	var linkErr *amqp.LinkError
	var sessionErr *amqp.SessionError
	var connErr *amqp.ConnError
	switch {
	case errors.As(err, &linkErr):
		return transport.ScopeLink, true
	case errors.As(err, &sessionErr):
		return transport.ScopeSession, true
	case errors.As(err, &connErr):
		return transport.ScopeConnection, true
	}
	return "", false
}

// failure wraps err as a link error. A go-amqp error picks its own scope
// over the given one.
func failure(scope transport.Scope, err error) *transport.LinkError {
	if s, ok := scopeOf(err); ok {
		scope = s
	}
	le := transport.NewLinkError(scope, err)
	if remote := remoteError(err); remote != nil {
		le.Info.Reason = describe(remote)
	}
	return le
}

func remoteError(err error) *amqp.Error {
	var linkErr *amqp.LinkError
	var sessionErr *amqp.SessionError
	var connErr *amqp.ConnError
	var remote *amqp.Error
	switch {
	case errors.As(err, &linkErr):
		return linkErr.RemoteErr
	case errors.As(err, &sessionErr):
		return sessionErr.RemoteErr
	case errors.As(err, &connErr):
		return connErr.RemoteErr
	case errors.As(err, &remote):
		return remote
	}
	return nil
}

func describe(e *amqp.Error) string {
	if e.Description == "" {
		return string(e.Condition)
	}
	return string(e.Condition) + ": " + e.Description
}

func isConnError(err error) bool {
	var connErr *amqp.ConnError
	return errors.As(err, &connErr)
}

type connAdapter struct {
	*amqp.Conn
}

func (c connAdapter) NewSession(ctx context.Context, opts *amqp.SessionOptions) (Session, error) {
	s, err := c.Conn.NewSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sessionAdapter{s}, nil
}

type sessionAdapter struct {
	*amqp.Session
}

func (s sessionAdapter) NewSender(ctx context.Context, target string, opts *amqp.SenderOptions) (Sender, error) {
	sender, err := s.Session.NewSender(ctx, target, opts)
	if err != nil {
		return nil, err
	}
	return sender, nil
}
