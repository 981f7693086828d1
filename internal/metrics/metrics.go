// Package metrics exposes pipeline and terminal connection metrics in the
// Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// Metrics is an events sink that records every event into its own registry.
type Metrics struct {
	registry *prometheus.Registry

	LinesTotal      *prometheus.CounterVec
	DispatchLatency *prometheus.HistogramVec
	ConnectionState *prometheus.GaugeVec
	Reconnects      prometheus.Counter
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertbridge_lines_total",
				Help: "Alert lines processed, by pipeline outcome",
			},
			[]string{"outcome"},
		),
		DispatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alertbridge_pipeline_latency_seconds",
				Help:    "Time from line observed to pipeline outcome for signals that reached dispatch",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alertbridge_terminal_connection_state",
				Help: "1 for the current terminal connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertbridge_terminal_connect_attempts_total",
			Help: "Terminal connection attempts",
		}),
	}
	for _, o := range domain.Outcomes {
		m.LinesTotal.WithLabelValues(string(o))
	}
	m.setState(domain.StateDisconnected)

	m.registry.MustRegister(
		m.LinesTotal,
		m.DispatchLatency,
		m.ConnectionState,
		m.Reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) PipelineEvent(_ context.Context, ev domain.PipelineEvent) {
	m.LinesTotal.WithLabelValues(string(ev.Outcome)).Inc()
	if ev.Stage == domain.StageDispatched && ev.Signal != nil {
		m.DispatchLatency.WithLabelValues(string(ev.Signal.Kind)).Observe(ev.Latency.Seconds())
	}
}

func (m *Metrics) ConnectionEvent(_ context.Context, ev domain.ConnectionEvent) {
	if ev.To == domain.StateConnecting {
		m.Reconnects.Inc()
	}
	m.setState(ev.To)
}

func (m *Metrics) setState(cur domain.ConnectionState) {
	for _, s := range []domain.ConnectionState{domain.StateDisconnected, domain.StateConnecting, domain.StateConnected} {
		v := 0.0
		if s == cur {
			v = 1
		}
		m.ConnectionState.WithLabelValues(string(s)).Set(v)
	}
}
