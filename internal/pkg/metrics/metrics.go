package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/multiprog/internal/station/core"
	"github.com/autopeer-io/multiprog/internal/station/core/model"
)

const namespace = "multiprog"

var _ core.Observer = (*Metrics)(nil)

// Metrics turns station events into Prometheus series on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// UnitsTotal counts finished units by result (success/failed).
	UnitsTotal *prometheus.CounterVec

	// BootloaderTotal and SerialVerifyTotal count indicator results by outcome (ok/failed).
	BootloaderTotal   *prometheus.CounterVec
	SerialVerifyTotal *prometheus.CounterVec

	// UnitDuration measures RowPending to Finished.
	UnitDuration prometheus.Histogram

	// QueueDepth is the number of tasks waiting behind the current one.
	QueueDepth prometheus.Gauge

	// Processing is 1 while the orchestrator is draining.
	Processing prometheus.Gauge

	// LinkOpen is 1 while the control link is held.
	LinkOpen prometheus.Gauge

	mu      sync.Mutex
	started map[string]time.Time
}

// New creates the collectors and registers them, with the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		UnitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_total",
				Help:      "Total number of provisioned units by result.",
			},
			[]string{"result"},
		),
		BootloaderTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bootloader_results_total",
				Help:      "Bootloader flash checks by outcome.",
			},
			[]string{"outcome"},
		),
		SerialVerifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "serial_verify_results_total",
				Help:      "Serial number cross-checks by outcome.",
			},
			[]string{"outcome"},
		),
		UnitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Time spent provisioning one unit.",
				Buckets:   []float64{10, 20, 30, 45, 60, 90, 120, 180, 300},
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Tasks waiting behind the unit in flight.",
			},
		),
		Processing: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "processing",
				Help:      "Whether the station is draining its queue (1=yes, 0=no).",
			},
		),
		LinkOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "link_open",
				Help:      "Whether the control link is open (1=open, 0=closed).",
			},
		),
		started: map[string]time.Time{},
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.UnitsTotal,
		m.BootloaderTotal,
		m.SerialVerifyTotal,
		m.UnitDuration,
		m.QueueDepth,
		m.Processing,
		m.LinkOpen,
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetLinkOpen records the link state.
func (m *Metrics) SetLinkOpen(open bool) {
	m.LinkOpen.Set(boolValue(open))
}

// Observe updates the series for ev.
func (m *Metrics) Observe(ev model.Event) {
	switch e := ev.(type) {
	case model.RowPending:
		m.Processing.Set(1)
		m.QueueDepth.Set(float64(e.Queued))
		m.mu.Lock()
		m.started[e.Key] = e.At
		m.mu.Unlock()
	case model.BootloaderResult:
		m.BootloaderTotal.WithLabelValues(outcome(e.OK)).Inc()
	case model.SerialVerifyResult:
		m.SerialVerifyTotal.WithLabelValues(outcome(e.OK)).Inc()
	case model.Finished:
		result := "success"
		if !e.OK {
			result = "failed"
		}
		m.UnitsTotal.WithLabelValues(result).Inc()

		m.mu.Lock()
		start, ok := m.started[e.Key]
		delete(m.started, e.Key)
		m.mu.Unlock()
		if ok && !start.IsZero() && !e.At.Before(start) {
			m.UnitDuration.Observe(e.At.Sub(start).Seconds())
		}
	case model.Drained:
		m.Processing.Set(0)
		m.QueueDepth.Set(0)
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
