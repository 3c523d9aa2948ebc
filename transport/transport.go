// Package transport defines the broker-facing contract of the bridge: a
// connection that opens one outbound link, the link's send operation, and
// the typed events a link reports while it is open. Each backend (amqp,
// kafka, nats, ...) lives in its own sub-package and registers itself with
// the transport registry.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Message is one outbound message.
type Message struct {
	ID       string
	Body     []byte
	Metadata map[string]string
}

// Delivery is the broker's acknowledgment of an accepted message.
type Delivery struct {
	// ID is the broker-side delivery identifier (AMQP delivery tag, Kafka
	// offset, local sequence for fire-and-forget backends).
	ID string
	// Settled reports whether the broker considers the delivery final.
	Settled bool
}

// Scope tells where a broker error originated.
type Scope string

const (
	ScopeLink       Scope = "link"
	ScopeSession    Scope = "session"
	ScopeConnection Scope = "connection"
)

// ErrorInfo describes a broker-reported error.
type ErrorInfo struct {
	Scope  Scope     `json:"scope"`
	Code   int       `json:"code,omitempty"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

func (e ErrorInfo) String() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error %d: %s", e.Scope, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s error: %s", e.Scope, e.Reason)
}

// EventKind identifies a link event.
type EventKind int

const (
	// EventCredit carries the broker-granted send credit.
	EventCredit EventKind = iota + 1
	EventLinkError
	EventSessionError
	// EventConnectionError is fatal for the process.
	EventConnectionError
)

func (k EventKind) String() string {
	switch k {
	case EventCredit:
		return "credit"
	case EventLinkError:
		return "link_error"
	case EventSessionError:
		return "session_error"
	case EventConnectionError:
		return "connection_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is reported by a link while it is open.
type Event struct {
	Kind   EventKind
	Credit int
	Error  ErrorInfo
}

// CreditEvent builds an EventCredit.
func CreditEvent(credit int) Event {
	return Event{Kind: EventCredit, Credit: credit}
}

// ErrorEvent builds the error event matching the scope of info.
func ErrorEvent(info ErrorInfo) Event {
	if info.At.IsZero() {
		info.At = time.Now()
	}
	kind := EventLinkError
	switch info.Scope {
	case ScopeSession:
		kind = EventSessionError
	case ScopeConnection:
		kind = EventConnectionError
	}
	return Event{Kind: kind, Error: info}
}

// LinkOptions configure the outbound link.
type LinkOptions struct {
	// Name is the link name; the process identity.
	Name string
	// Address is the target the link sends to.
	Address string
	// InitialCredit is reported right after the link opens on backends
	// without broker flow control.
	InitialCredit int
}

// Connection is one broker connection.
type Connection interface {
	// OpenLink attaches the single outbound link.
	OpenLink(ctx context.Context, opts LinkOptions) (Link, error)
	// Close releases the connection. It is safe to call more than once.
	Close(ctx context.Context) error
	// ID identifies the connection in responses and logs.
	ID() string
}

// Link is a single outbound sender.
type Link interface {
	// Send publishes msg and blocks until the broker has accepted or refused
	// it. A refusal is reported as *RejectedError, any link, session or
	// connection failure as *LinkError.
	Send(ctx context.Context, msg Message) (Delivery, error)
	// Events delivers credit updates and errors. The channel is closed when
	// the link is closed.
	Events() <-chan Event
	// Close detaches the link. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Builder is the function signature for creating a connection from config.
// Each transport package provides one and registers it.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Connection, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetTransport returns the transport type name.
	GetTransport() string
	GetIdentity() string
	GetSenderAddress() string

	// AMQP
	GetAMQPURL() string
	GetAMQPLinkCredit() int
	GetIdleTimeout() time.Duration

	// Kafka
	GetKafkaBrokers() []string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by connections that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
