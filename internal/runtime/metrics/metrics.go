// Package metrics records request outcomes, latency and link credit, and
// renders them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"

	rterrors "github.com/drblury/linkbridge/internal/runtime/errors"
)

const (
	DefaultNamespace = "http_eventhub"

	// InstanceLabel is attached to the Go and process collectors.
	InstanceLabel = "NODE_APP_INSTANCE"

	requestsName = "requests_total"
	durationName = "request_duration_seconds"
	creditName   = "link_credit"
	healthyName  = "link_healthy"
	sendCredit   = "last_send_credit"
)

// DurationBuckets are the latency buckets of request_duration_seconds.
var DurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// LinkSource is read at scrape time for the link gauges.
type LinkSource interface {
	Credit() int
	Healthy() bool
}

// Options configure New.
type Options struct {
	// Namespace prefixes every metric. Defaults to DefaultNamespace.
	Namespace string
	// Identity is the value of the InstanceLabel on runtime collectors.
	Identity string
	// Link feeds link_credit and link_healthy. Both read 0 when nil.
	Link LinkSource
	// DisableRuntimeCollectors skips the Go and process collectors.
	DisableRuntimeCollectors bool
}

// Sample is one completed forward.
type Sample struct {
	Status   int
	Outcome  string
	Duration time.Duration
	// Credit is the link credit observed when the send was issued.
	Credit int
}

// Metrics owns a registry with the bridge collectors.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	lastSendCredit  prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New(opts Options) (*Metrics, error) {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}

	m := &Metrics{
		namespace: opts.Namespace,
		registry:  prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      requestsName,
				Help:      "Total number of forwarded requests by HTTP status",
			},
			[]string{"status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Name:      durationName,
				Help:      "Time from request submission to broker resolution in seconds",
				Buckets:   DurationBuckets,
			},
			[]string{"outcome"},
		),
		lastSendCredit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Name:      sendCredit,
			Help:      "Link credit observed when the most recent send was issued",
		}),
	}

	link := opts.Link
	creditGauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Name:      creditName,
			Help:      "Send credit last reported by the broker for the outbound link",
		},
		func() float64 {
			if link == nil {
				return 0
			}
			return float64(link.Credit())
		},
	)
	healthyGauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Name:      healthyName,
			Help:      "1 while the outbound link has seen no error",
		},
		func() float64 {
			if link == nil || !link.Healthy() {
				return 0
			}
			return 1
		},
	)

	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.lastSendCredit, creditGauge, healthyGauge} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	if !opts.DisableRuntimeCollectors {
		wrapped := prometheus.WrapRegistererWith(prometheus.Labels{InstanceLabel: opts.Identity}, m.registry)
		if err := wrapped.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("register go collector: %w", err)
		}
		if err := wrapped.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("register process collector: %w", err)
		}
	}

	// Counters without label values are not gathered; seed the two statuses
	// the bridge produces so the family exists before the first request.
	m.requestsTotal.WithLabelValues(strconv.Itoa(http.StatusOK))
	m.requestsTotal.WithLabelValues(strconv.Itoa(http.StatusInternalServerError))

	return m, nil
}

// Record adds one completed forward.
func (m *Metrics) Record(s Sample) {
	outcome := s.Outcome
	if outcome == "" {
		outcome = "unknown"
	}

	m.requestsTotal.WithLabelValues(strconv.Itoa(s.Status)).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(s.Duration.Seconds())
	m.lastSendCredit.Set(float64(s.Credit))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RequestsFamily is the full name of the requests counter.
func (m *Metrics) RequestsFamily() string {
	return prometheus.BuildFQName(m.namespace, "", requestsName)
}

// ContentType is the content type of Expose and ExposeFamily output.
func (m *Metrics) ContentType() string {
	return string(expfmt.NewFormat(expfmt.TypeTextPlain))
}

// Expose writes every metric family in text format.
func (m *Metrics) Expose(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// ExposeFamily writes a single family. name may be given with or without
// the namespace prefix.
func (m *Metrics) ExposeFamily(w io.Writer, name string) error {
	if name == "" {
		name = m.RequestsFamily()
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	prefixed := m.namespace + "_" + strings.TrimPrefix(name, m.namespace+"_")
	for _, mf := range families {
		if mf.GetName() == name || mf.GetName() == prefixed {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				return fmt.Errorf("encode %s: %w", mf.GetName(), err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q", rterrors.ErrUnknownMetric, name)
}
