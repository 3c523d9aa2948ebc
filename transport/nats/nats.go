// Package nats provides a NATS Core transport. The link address is the
// subject. NATS Core has no publish acknowledgement, so a delivery is
// settled once the client has buffered the message. The client never
// reconnects: a disconnect is reported on the link as a connection error.
package nats

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/linkbridge/transport"
	"github.com/drblury/linkbridge/transport/publisher"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// DefaultConnectTimeout bounds the initial dial to the NATS server.
const DefaultConnectTimeout = 5 * time.Second

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS connection.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Connection, error) {
	loss := &lossReporter{}
	pub, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         cfg.GetNATSURL(),
			NatsOptions: connectOptions(cfg.GetIdentity(), loss),
			Marshaler:   &nats.NATSMarshaler{},
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	conn := publisher.NewConnection(TransportName+":"+cfg.GetIdentity(), pub, transport.NATSCapabilities, logger)
	loss.attach(conn)
	return conn, nil
}

func connectOptions(identity string, loss *lossReporter) []nc.Option {
	return []nc.Option{
		nc.Name(identity),
		nc.Timeout(DefaultConnectTimeout),
		nc.NoReconnect(),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			reason := "nats: disconnected"
			if err != nil {
				reason += ": " + err.Error()
			}
			loss.report(reason)
		}),
		nc.ClosedHandler(func(*nc.Conn) {
			loss.report("nats: connection closed")
		}),
	}
}

// lossReporter forwards client callbacks to the connection. Callbacks that
// fire before the connection exists are replayed on attach.
type lossReporter struct {
	mu      sync.Mutex
	conn    *publisher.Connection
	pending *transport.ErrorInfo
}

func (r *lossReporter) attach(conn *publisher.Connection) {
	r.mu.Lock()
	r.conn = conn
	pending := r.pending
	r.mu.Unlock()
	if pending != nil {
		conn.Fail(*pending)
	}
}

func (r *lossReporter) report(reason string) {
	info := transport.ErrorInfo{Scope: transport.ScopeConnection, Reason: reason, At: time.Now()}
	r.mu.Lock()
	conn := r.conn
	if conn == nil && r.pending == nil {
		r.pending = &info
	}
	r.mu.Unlock()
	if conn != nil {
		conn.Fail(info)
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
