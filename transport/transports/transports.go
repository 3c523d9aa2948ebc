// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/linkbridge/transport/amqp"
	_ "github.com/drblury/linkbridge/transport/aws"
	_ "github.com/drblury/linkbridge/transport/channel"
	_ "github.com/drblury/linkbridge/transport/http"
	_ "github.com/drblury/linkbridge/transport/kafka"
	_ "github.com/drblury/linkbridge/transport/nats"
	_ "github.com/drblury/linkbridge/transport/rabbitmq"
)
