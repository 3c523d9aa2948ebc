/*
Package runtime provides the process-level wiring of linkbridge.

# Architecture Overview

An HTTP request on "/" becomes one outbound message on a single broker link.
The bridge serialises sends on that link, races each against a timeout and
against link breakage, and maps the result to an HTTP response. Metrics are
exposed on "/metrics" and "/metrics/counter".

# Package Structure

## Core Service (service.go)

Service validates configuration and hands the resources to the lifecycle
manager, which opens the connection and link, starts the link-state
watcher, serves HTTP and runs the idempotent shutdown.

# Sub-packages

  - bridge/: serialised forwarding with timeout and breakage races
  - config/: configuration struct, env/YAML loading and validation
  - errors/: sentinel errors and error types
  - httpfront/: chi router for the HTTP surface
  - ids/: ULID correlation ids and message id sequences
  - jsoncodec/: JSON marshaling utilities
  - lifecycle/: start, run and shutdown sequencing
  - linkstate/: credit and health derived from link events
  - logging/: logger interface and adapters
  - metrics/: Prometheus registry and exposition
  - outcome/: send outcomes and their HTTP mapping

# Usage Example

	cfg, err := linkbridge.LoadConfig("")
	if err != nil {
		return err
	}

	svc, err := linkbridge.NewService(cfg, logger, linkbridge.ServiceDependencies{})
	if err != nil {
		return err
	}

	return svc.Serve(ctx)
*/
package runtime
