package transport

// Capabilities describes what a transport backend can report about a send.
// Use this to introspect how delivery outcomes and credit are produced.
type Capabilities struct {
	// SupportsConfirms indicates the broker acknowledges each message
	// individually. When false, a successful publish call is the only
	// acceptance signal.
	SupportsConfirms bool

	// SupportsFlowControl indicates the broker reports send credit (flow or
	// blocked notifications). When false, the link reports a fixed credit.
	SupportsFlowControl bool

	// SupportsOrdering indicates the transport keeps messages from one link in order.
	SupportsOrdering bool

	// SupportsTLS indicates the connection can be encrypted.
	SupportsTLS bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// ReportsBrokerCredit returns true if credit values come from the broker
// rather than from a fixed window.
func (c Capabilities) ReportsBrokerCredit() bool {
	return c.SupportsFlowControl
}

// SupportsReliableDelivery returns true if an Accepted outcome means the
// broker took responsibility for the message.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsConfirms
}

// Predefined capability sets for the bundled transports.
var (
	// AMQPCapabilities for the AMQP 1.0 transport. Each send waits for the
	// disposition, but the client does not expose link credit, so the link
	// reports the configured window.
	AMQPCapabilities = Capabilities{
		Name:             "amqp",
		SupportsConfirms: true,
		SupportsOrdering: true,
		SupportsTLS:      true,
	}

	// RabbitMQCapabilities for the AMQP 0-9-1 transport with publisher confirms.
	// Credit is the configured window, zeroed while the broker signals flow
	// or blocked.
	RabbitMQCapabilities = Capabilities{
		Name:                "rabbitmq",
		SupportsConfirms:    true,
		SupportsFlowControl: true,
		SupportsOrdering:    true,
		SupportsTLS:         true,
	}

	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsConfirms: true,
		SupportsOrdering: true,
		SupportsTLS:      true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		SupportsTLS:    true,
		MaxMessageSize: 1048576, // Default 1MB
	}

	// HTTPCapabilities for HTTP-based transport.
	HTTPCapabilities = Capabilities{
		Name:             "http",
		SupportsConfirms: true,
		SupportsTLS:      true,
	}

	// AWSCapabilities for AWS SNS transport.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsConfirms: true,
		SupportsTLS:      true,
		MaxMessageSize:   262144, // 256KB
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
