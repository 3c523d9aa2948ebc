// Package linkbridge is a small HTTP-to-broker bridge. Each HTTP request
// becomes one message on a single long-lived outbound link, and the broker's
// verdict (accepted, rejected, timed out, link failure) becomes the HTTP
// response. The link is shared by all requests; sends on it are serialised.
//
// The transport (AMQP 1.0 by default, RabbitMQ, or one of the
// Watermill-backed Kafka, NATS, HTTP, AWS SNS and Go channel transports) is
// read from Config. A
// minimal setup loads Config from the environment, creates a Service and
// calls Serve; see cmd/linkbridge for the binary.
//
// # Transports
//
// linkbridge supports 7 transports out of the box:
//   - amqp: AMQP 1.0 sender link, one disposition per send
//   - rabbitmq: AMQP 0-9-1 with publisher confirms and flow control
//   - channel: In-memory Go channels for testing
//   - kafka: Synchronous Kafka producer
//   - nats: NATS Core
//   - http: HTTP POST per message
//   - aws: AWS SNS with LocalStack support
//
// # HTTP surface
//
// Any request path other than the metrics paths forwards one message.
// "/metrics" serves the Prometheus registry and "/metrics/counter" the
// request counter alone.
//
// # Shutdown
//
// SIGINT, SIGTERM, SIGUSR1, SIGUSR2 and link, session or connection errors
// all route through the same idempotent shutdown: stop HTTP, close the link,
// close the connection.
package linkbridge
