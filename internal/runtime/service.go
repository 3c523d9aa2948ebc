package runtime

import (
	"context"
	"net"
	"os"

	"github.com/drblury/linkbridge/internal/runtime/bridge"
	configpkg "github.com/drblury/linkbridge/internal/runtime/config"
	errspkg "github.com/drblury/linkbridge/internal/runtime/errors"
	"github.com/drblury/linkbridge/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/linkbridge/internal/runtime/logging"
	"github.com/drblury/linkbridge/internal/runtime/metrics"
	"github.com/drblury/linkbridge/transport"
)

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	// Registry builds the connection named by Config.Transport. Defaults to
	// transport.DefaultRegistry.
	Registry *transport.Registry
	// Dial replaces the registry lookup entirely.
	Dial func(ctx context.Context) (transport.Connection, error)
	// Listen binds the HTTP listener. Defaults to TCP on Config.HTTPPort.
	Listen func(addr string) (net.Listener, error)
	// Signals that end Run. Defaults to SIGINT, SIGTERM, SIGUSR1 and SIGUSR2.
	Signals []os.Signal
}

// Service wires the broker connection, the outbound link, the bridge and the
// HTTP front.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	manager *lifecycle.Manager
}

// NewService validates conf and prepares a Service. Nothing is opened until
// Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	log.Info("Creating bridge service", loggingpkg.LogFields{
		"transport": conf.Transport,
		"config":    conf.String(),
	})

	dial := deps.Dial
	if dial == nil {
		registry := deps.Registry
		if registry == nil {
			registry = transport.DefaultRegistry
		}
		dial = func(ctx context.Context) (transport.Connection, error) {
			return registry.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
		}
	}

	manager, err := lifecycle.New(lifecycle.Options{
		Config:  conf,
		Logger:  log,
		Dial:    dial,
		Listen:  deps.Listen,
		Signals: deps.Signals,
	})
	if err != nil {
		return nil, err
	}

	return &Service{Conf: conf, Logger: log, manager: manager}, nil
}

// Start opens the connection and link and begins serving HTTP.
func (s *Service) Start(ctx context.Context) error {
	return s.manager.Start(ctx)
}

// Run blocks until a termination signal or a fatal broker error, then shuts
// down.
func (s *Service) Run(ctx context.Context) error {
	return s.manager.Run(ctx)
}

// Serve is Start followed by Run.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Run(ctx)
}

// Shutdown closes the HTTP server, the link and the connection. It is safe
// to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.manager.Shutdown(ctx)
}

// State reports the lifecycle phase.
func (s *Service) State() lifecycle.State {
	return s.manager.State()
}

// Addr is the bound HTTP address, empty before Start.
func (s *Service) Addr() string {
	return s.manager.Addr()
}

// Bridge returns the forwarding bridge, nil before Start.
func (s *Service) Bridge() *bridge.Bridge {
	return s.manager.Bridge()
}

// Metrics returns the metrics sink, nil before Start.
func (s *Service) Metrics() *metrics.Metrics {
	return s.manager.Metrics()
}
