// Package metrics exposes driver, pipeline and emitter counters to
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/GabrielNunesIT/protocol-hub/internal/driver"
)

const namespace = "protocolhub"

// StatsSource reports the current counters of every running driver, keyed
// by plugin id.
type StatsSource interface {
	DriverStats() map[string]driver.Stats
}

// Registry owns the Prometheus registry and the metrics the pipeline
// updates directly.
type Registry struct {
	reg *prometheus.Registry

	// HandoffDropped counts events dropped between the normalizers and the
	// emitter fan-out.
	HandoffDropped prometheus.Counter

	// EmitterErrors counts failed emits per emitter.
	EmitterErrors *prometheus.CounterVec
}

// NewRegistry creates a registry that reads driver counters from source at
// scrape time. A nil source exposes only the pipeline metrics.
func NewRegistry(source StatsSource) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		HandoffDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "handoff_dropped_total",
			Help:      "Events dropped because the emitter buffer stayed full",
		}),
		EmitterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emitter",
			Name:      "errors_total",
			Help:      "Events an emitter failed to deliver",
		}, []string{"emitter"}),
	}

	r.reg.MustRegister(
		r.HandoffDropped,
		r.EmitterErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if source != nil {
		r.reg.MustRegister(newDriverCollector(source))
	}
	return r
}

// Gatherer returns the underlying Prometheus gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// EmitterError records one failed emit.
func (r *Registry) EmitterError(emitter string) {
	r.EmitterErrors.WithLabelValues(emitter).Inc()
}

// driverCollector turns driver.Stats snapshots into const metrics on every
// scrape, so counters stay owned by the drivers.
type driverCollector struct {
	source StatsSource

	enqueued       *prometheus.Desc
	dropped        *prometheus.Desc
	processed      *prometheus.Desc
	decodeErrors   *prometheus.Desc
	callbackErrors *prometheus.Desc
	queueDepth     *prometheus.Desc
}

func newDriverCollector(source StatsSource) *driverCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "driver", name),
			help, []string{"plugin_id"}, nil,
		)
	}
	return &driverCollector{
		source:         source,
		enqueued:       desc("enqueued_total", "Messages accepted by the driver"),
		dropped:        desc("dropped_total", "Messages dropped because the driver queue was full"),
		processed:      desc("processed_total", "Messages turned into events and delivered"),
		decodeErrors:   desc("decode_errors_total", "Messages that could not be decoded"),
		callbackErrors: desc("callback_errors_total", "Listener invocations that failed"),
		queueDepth:     desc("queue_depth", "Records waiting in the driver queue"),
	}
}

func (c *driverCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.enqueued
	ch <- c.dropped
	ch <- c.processed
	ch <- c.decodeErrors
	ch <- c.callbackErrors
	ch <- c.queueDepth
}

func (c *driverCollector) Collect(ch chan<- prometheus.Metric) {
	for id, s := range c.source.DriverStats() {
		ch <- prometheus.MustNewConstMetric(c.enqueued, prometheus.CounterValue, float64(s.Enqueued), id)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped), id)
		ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(s.Processed), id)
		ch <- prometheus.MustNewConstMetric(c.decodeErrors, prometheus.CounterValue, float64(s.DecodeErrors), id)
		ch <- prometheus.MustNewConstMetric(c.callbackErrors, prometheus.CounterValue, float64(s.CallbackErrors), id)
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(s.QueueDepth), id)
	}
}
