package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredefinedCapabilities(t *testing.T) {
	tests := []struct {
		name        string
		caps        Capabilities
		confirms    bool
		flowControl bool
	}{
		{"amqp", AMQPCapabilities, true, false},
		{"rabbitmq", RabbitMQCapabilities, true, true},
		{"channel", ChannelCapabilities, false, false},
		{"kafka", KafkaCapabilities, true, false},
		{"nats", NATSCapabilities, false, false},
		{"http", HTTPCapabilities, true, false},
		{"aws", AWSCapabilities, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.caps.Name)
			assert.Equal(t, tt.confirms, tt.caps.SupportsReliableDelivery())
			assert.Equal(t, tt.flowControl, tt.caps.ReportsBrokerCredit())
		})
	}
}

func TestCapabilities_ZeroValue(t *testing.T) {
	var caps Capabilities
	assert.False(t, caps.SupportsReliableDelivery())
	assert.False(t, caps.ReportsBrokerCredit())
	assert.Zero(t, caps.MaxMessageSize)
}

func TestGetCapabilities_PackageLevel(t *testing.T) {
	caps := GetCapabilities("never-registered")
	assert.Equal(t, "never-registered", caps.Name)
}
