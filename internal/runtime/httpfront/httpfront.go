// Package httpfront serves the bridge over HTTP: one forward per request on
// the root path, plus the metrics endpoints.
package httpfront

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/drblury/linkbridge/internal/runtime/logging"
	"github.com/drblury/linkbridge/internal/runtime/outcome"
	"github.com/drblury/linkbridge/transport"
)

const (
	PathForward = "/"
	PathMetrics = "/metrics"
	PathCounter = "/metrics/counter"

	// ReadHeaderTimeout bounds slow clients on the listener.
	ReadHeaderTimeout = 10 * time.Second
)

// Forwarder is the part of the bridge the front needs.
type Forwarder interface {
	DefaultMessage() transport.Message
	ForwardMessage(ctx context.Context, msg transport.Message, timeout time.Duration) outcome.Outcome
}

// Exposer renders metrics. *metrics.Metrics implements it.
type Exposer interface {
	Expose(w io.Writer) error
	ExposeFamily(w io.Writer, name string) error
	ContentType() string
}

// Options configure New.
type Options struct {
	Bridge  Forwarder
	Metrics Exposer
	Logger  logging.ServiceLogger
	// Connection names the broker connection in success bodies.
	Connection string
	// Timeout is passed to every forward; zero uses the bridge default.
	Timeout time.Duration
}

type front struct {
	bridge     Forwarder
	metrics    Exposer
	logger     logging.ServiceLogger
	connection string
	timeout    time.Duration
}

// New builds the router. Routes match on path only; any method is served.
// Unknown paths answer 200 with an empty body.
func New(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	f := &front{
		bridge:     opts.Bridge,
		metrics:    opts.Metrics,
		logger:     logger.With(logging.LogFields{"component": "http"}),
		connection: opts.Connection,
		timeout:    opts.Timeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(f.requestLogger)

	r.Handle(PathForward, http.HandlerFunc(f.handleForward))
	r.Handle(PathMetrics, http.HandlerFunc(f.handleMetrics))
	r.Handle(PathCounter, http.HandlerFunc(f.handleCounter))
	r.NotFound(emptyOK)
	r.MethodNotAllowed(emptyOK)

	return r
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
}

func emptyOK(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (f *front) handleForward(w http.ResponseWriter, r *http.Request) {
	msg := f.bridge.DefaultMessage()
	result := f.bridge.ForwardMessage(r.Context(), msg, f.timeout)
	resp := outcome.Map(result, f.connection)

	if resp.Status != http.StatusOK {
		f.logger.Info("Forward failed", logging.LogFields{
			"message_id": msg.ID,
			"outcome":    outcome.Label(result),
		})
	}

	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (f *front) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := f.metrics.Expose(&buf); err != nil {
		f.writeMetricsError(w, err)
		return
	}
	f.writeMetrics(w, buf.Bytes())
}

func (f *front) handleCounter(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := f.metrics.ExposeFamily(&buf, r.URL.Query().Get("name")); err != nil {
		f.writeMetricsError(w, err)
		return
	}
	f.writeMetrics(w, buf.Bytes())
}

func (f *front) writeMetrics(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", f.metrics.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (f *front) writeMetricsError(w http.ResponseWriter, err error) {
	f.logger.Error("Failed to render metrics", err, nil)
	w.Header().Set("Content-Type", outcome.ContentTypeText)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, err.Error())
}

func (f *front) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		f.logger.Debug("HTTP request", logging.LogFields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
		})
	})
}
