// Package metrics holds the Prometheus collectors of the daemon.
//
// Collectors live on a Metrics value registered against a caller-supplied
// registry, so tests can observe counters without touching the global one.
// Labels are bounded: event kinds, pipeline steps, failure stages and RPC
// method names are all fixed sets.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wptrack"

// Metrics groups every collector the daemon updates.
type Metrics struct {
	reg *prometheus.Registry

	// Events counts pipeline events by kind once they are dequeued.
	Events *prometheus.CounterVec
	// Messages counts message rows committed by the pipeline.
	Messages prometheus.Counter
	// MediaStored counts media rows written after a successful file write.
	MediaStored prometheus.Counter
	// MediaFailures counts media that did not end up recorded, by stage
	// (download, store, metadata).
	MediaFailures *prometheus.CounterVec
	// ContactFailures counts contact refreshes that failed.
	ContactFailures prometheus.Counter
	// OrderingViolations counts media upserts rejected for a missing message.
	OrderingViolations prometheus.Counter
	// Abandoned counts queued events dropped at the shutdown deadline.
	Abandoned prometheus.Counter
	// QueueDepth is the number of events waiting for the worker.
	QueueDepth prometheus.Gauge
	// StepDuration observes each pipeline step in seconds.
	StepDuration *prometheus.HistogramVec
	// BusDropped counts bus deliveries lost to full subscribers.
	BusDropped *prometheus.CounterVec
	// RPCs counts handled RPCs by method and status code.
	RPCs *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry that also
// carries the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_events_total",
			Help:      "Pipeline events processed, by kind.",
		}, []string{"kind"}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Message rows committed by the pipeline.",
		}),
		MediaStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_stored_total",
			Help:      "Media payloads written to disk and recorded.",
		}),
		MediaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_failures_total",
			Help:      "Media payloads that were not recorded, by failing stage.",
		}, []string{"stage"}),
		ContactFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contact_failures_total",
			Help:      "Contact refreshes that failed.",
		}),
		OrderingViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ordering_violations_total",
			Help:      "Media upserts rejected because the message row was missing.",
		}),
		Abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_abandoned_total",
			Help:      "Queued events dropped when the shutdown deadline passed.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_queue_depth",
			Help:      "Events waiting for the pipeline worker.",
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Duration of pipeline steps in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
		}, []string{"step"}),
		BusDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Bus events a full subscriber missed, by kind.",
		}, []string{"kind"}),
		RPCs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "RPCs handled by the daemon, by method and status code.",
		}, []string{"method", "code"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Events, m.Messages, m.MediaStored, m.MediaFailures, m.ContactFailures,
		m.OrderingViolations, m.Abandoned, m.QueueDepth, m.StepDuration,
		m.BusDropped, m.RPCs,
	)
	return m
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
