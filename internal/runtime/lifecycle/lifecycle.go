// Package lifecycle opens the broker connection and link, serves HTTP, and
// runs the single idempotent shutdown sequence.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/drblury/linkbridge/internal/runtime/bridge"
	"github.com/drblury/linkbridge/internal/runtime/config"
	rterrors "github.com/drblury/linkbridge/internal/runtime/errors"
	"github.com/drblury/linkbridge/internal/runtime/httpfront"
	"github.com/drblury/linkbridge/internal/runtime/linkstate"
	"github.com/drblury/linkbridge/internal/runtime/logging"
	"github.com/drblury/linkbridge/internal/runtime/metrics"
	"github.com/drblury/linkbridge/transport"
)

// State is the lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultSignals trigger a graceful shutdown in Run.
var DefaultSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2}

// DialFunc opens the broker connection.
type DialFunc func(ctx context.Context) (transport.Connection, error)

// ListenFunc binds the HTTP listener.
type ListenFunc func(addr string) (net.Listener, error)

// Options configure New.
type Options struct {
	Config *config.Config
	Logger logging.ServiceLogger
	// Dial defaults to building the configured transport from the registry.
	Dial DialFunc
	// Listen defaults to a TCP listener.
	Listen ListenFunc
	// Signals default to DefaultSignals.
	Signals []os.Signal
}

// Manager owns every long-lived resource of the bridge.
type Manager struct {
	cfg     *config.Config
	logger  logging.ServiceLogger
	dial    DialFunc
	listen  ListenFunc
	signals []os.Signal

	state   atomic.Int32
	started atomic.Bool

	mu          sync.Mutex
	conn        transport.Connection
	link        transport.Link
	linkState   *linkstate.State
	metrics     *metrics.Metrics
	bridge      *bridge.Bridge
	server      *http.Server
	listener    net.Listener
	watchCancel context.CancelFunc
	watchDone   chan struct{}

	fatal    chan error
	serveErr chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates opts and returns a Manager in StateStarting.
func New(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, rterrors.ErrConfigRequired
	}
	if opts.Logger == nil {
		return nil, rterrors.ErrLoggerRequired
	}
	m := &Manager{
		cfg:      opts.Config,
		logger:   opts.Logger.With(logging.LogFields{"component": "lifecycle"}),
		dial:     opts.Dial,
		listen:   opts.Listen,
		signals:  opts.Signals,
		fatal:    make(chan error, 1),
		serveErr: make(chan error, 1),
	}
	if m.dial == nil {
		cfg, logger := opts.Config, opts.Logger
		m.dial = func(ctx context.Context) (transport.Connection, error) {
			return transport.Build(ctx, cfg, logging.NewWatermillAdapter(logger))
		}
	}
	if m.listen == nil {
		m.listen = func(addr string) (net.Listener, error) {
			return net.Listen("tcp", addr)
		}
	}
	if len(m.signals) == 0 {
		m.signals = DefaultSignals
	}
	return m, nil
}

// State returns the current phase.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Start opens the connection and the link, starts the link watcher and
// binds the HTTP listener. On failure everything opened so far is closed
// and the manager ends in StateClosed.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return rterrors.ErrAlreadyStarted
	}
	if m.State() != StateStarting {
		return rterrors.ErrShuttingDown
	}

	if err := m.open(ctx); err != nil {
		m.logger.Error("Startup failed", err, nil)
		if closeErr := m.Shutdown(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return err
	}

	if !m.state.CompareAndSwap(int32(StateStarting), int32(StateOpen)) {
		return rterrors.ErrShuttingDown
	}
	m.logger.Info("Bridge open", logging.LogFields{
		"transport": m.cfg.Transport,
		"address":   m.cfg.SenderAddress,
		"http":      m.Addr(),
	})
	return nil
}

func (m *Manager) open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	m.conn = conn

	link, err := conn.OpenLink(ctx, transport.LinkOptions{
		Name:          m.cfg.Identity,
		Address:       m.cfg.SenderAddress,
		InitialCredit: m.cfg.AMQPLinkCredit,
	})
	if err != nil {
		return fmt.Errorf("open link: %w", err)
	}
	m.link = link

	m.linkState = linkstate.New()
	watchCtx, cancel := context.WithCancel(context.Background())
	m.watchCancel = cancel
	m.watchDone = make(chan struct{})
	go func() {
		defer close(m.watchDone)
		m.linkState.Watch(watchCtx, link.Events(), m.onFatal)
	}()

	m.metrics, err = metrics.New(metrics.Options{
		Namespace: m.cfg.MetricsNamespace,
		Identity:  m.cfg.Identity,
		Link:      m.linkState,
	})
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	m.bridge, err = bridge.New(bridge.Options{
		Link:          link,
		State:         m.linkState,
		Identity:      m.cfg.Identity,
		Timeout:       m.cfg.SendTimeout,
		RequireCredit: m.cfg.RequireCredit,
		Metrics:       m.metrics,
		Logger:        m.logger,
	})
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}

	listener, err := m.listen(fmt.Sprintf(":%d", m.cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("bind http listener: %w", err)
	}
	m.listener = listener

	m.server = httpfront.NewServer(listener.Addr().String(), httpfront.New(httpfront.Options{
		Bridge:     m.bridge,
		Metrics:    m.metrics,
		Logger:     m.logger,
		Connection: conn.ID(),
		Timeout:    m.cfg.SendTimeout,
	}))
	go m.serve(m.server, listener)

	return nil
}

func (m *Manager) serve(srv *http.Server, l net.Listener) {
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("HTTP server failed", err, nil)
		select {
		case m.serveErr <- err:
		default:
		}
	}
}

func (m *Manager) onFatal(err error) {
	m.logger.Error("Outbound link failed", err, nil)
	select {
	case m.fatal <- err:
	default:
	}
}

// Shutdown stops the HTTP server, then closes the link and the connection.
// Every close is attempted and the errors are joined. Only the first call
// does the work; concurrent callers wait for it and get the same result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.state.Store(int32(StateClosing))
		m.logger.Info("Shutting down", nil)
		m.shutdownErr = m.closeAll(ctx)
		m.state.Store(int32(StateClosed))
		if m.shutdownErr != nil {
			m.logger.Error("Shutdown finished with errors", m.shutdownErr, nil)
		} else {
			m.logger.Info("Shutdown complete", nil)
		}
	})
	return m.shutdownErr
}

func (m *Manager) closeAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	} else if m.listener != nil {
		if err := m.listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	if m.watchCancel != nil {
		m.watchCancel()
		<-m.watchDone
	}
	if m.link != nil {
		if err := m.link.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close link: %w", err))
		}
	}
	if m.conn != nil {
		if err := m.conn.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run waits for a termination signal, a link, session or connection error,
// or an HTTP server failure, then shuts down. A lost connection is reported
// as ErrConnectionLost and a lost link or session as ErrLinkLost so the
// process can exit non-zero and be restarted.
func (m *Manager) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, m.signals...)
	defer stop()

	var cause error
	select {
	case <-sigCtx.Done():
		m.logger.Info("Termination requested", logging.LogFields{"reason": context.Cause(sigCtx).Error()})
	case err := <-m.fatal:
		cause = fmt.Errorf("%w: %w", lostCause(err), err)
	case err := <-m.serveErr:
		cause = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(cause, m.Shutdown(shutdownCtx))
}

func lostCause(err error) error {
	var linkErr *transport.LinkError
	if errors.As(err, &linkErr) && linkErr.Info.Scope != transport.ScopeConnection {
		return rterrors.ErrLinkLost
	}
	return rterrors.ErrConnectionLost
}

// Addr is the bound HTTP address, empty before Start.
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Bridge returns the bridge, nil before Start.
func (m *Manager) Bridge() *bridge.Bridge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bridge
}

// Metrics returns the metrics sink, nil before Start.
func (m *Manager) Metrics() *metrics.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// LinkState returns the link state, nil before Start.
func (m *Manager) LinkState() *linkstate.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.linkState
}
