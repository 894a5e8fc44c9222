// Package metrics exposes msam's Prometheus metrics. A [Metrics] value is
// both an alarms.Recorder and a discovery.Recorder.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "msam"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	discoveryCycles   *prometheus.CounterVec
	discoveryDuration *prometheus.HistogramVec
	resourcesMerged   *prometheus.CounterVec
	taskResults       *prometheus.CounterVec
	propagationWrites *prometheus.CounterVec
	eventsHandled     *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		discoveryCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "cycles_total",
			Help:      "Discovery cycles by job, region and outcome.",
		}, []string{"job", "region", "outcome"}),
		discoveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of regional discovery cycles.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"job"}),
		resourcesMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "resources_merged_total",
			Help:      "Resources written to the cache by job and region.",
		}, []string{"job", "region"}),
		taskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "task_items_total",
			Help:      "Items processed by global tasks, such as expired cache entries swept.",
		}, []string{"job"}),
		propagationWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alarms",
			Name:      "propagation_writes_total",
			Help:      "Conditional subscription state writes by outcome.",
		}, []string{"outcome"}),
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alarms",
			Name:      "events_total",
			Help:      "Alarm state change events by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.discoveryCycles,
		m.discoveryDuration,
		m.resourcesMerged,
		m.taskResults,
		m.propagationWrites,
		m.eventsHandled,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CycleCompleted counts a discovery cycle. Only regional cycles that ran are
// timed.
func (m *Metrics) CycleCompleted(job, region, outcome string, elapsed time.Duration) {
	m.discoveryCycles.WithLabelValues(job, region, outcome).Inc()

	if region != "" && elapsed > 0 {
		m.discoveryDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ResourcesMerged(job, region string, n int) {
	m.resourcesMerged.WithLabelValues(job, region).Add(float64(n))
}

func (m *Metrics) TaskCompleted(job string, n int) {
	m.taskResults.WithLabelValues(job).Add(float64(n))
}

func (m *Metrics) PropagationWrite(outcome string) {
	m.propagationWrites.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventHandled(outcome string) {
	m.eventsHandled.WithLabelValues(outcome).Inc()
}

// WatchQueue exports the in-flight message count and bytes of an SQS
// consumer, read from inFlight at scrape time.
func (m *Metrics) WatchQueue(queue string, inFlight func() (count, bytes int64)) error {
	if inFlight == nil {
		return errors.New("in-flight function cannot be nil")
	}

	labels := prometheus.Labels{"queue": queue}

	count := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "sqs",
		Name:        "messages_in_flight",
		Help:        "Received messages that are not yet acked or nacked.",
		ConstLabels: labels,
	}, func() float64 {
		n, _ := inFlight()
		return float64(n)
	})

	bytes := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "sqs",
		Name:        "bytes_in_flight",
		Help:        "Body bytes of received messages that are not yet acked or nacked.",
		ConstLabels: labels,
	}, func() float64 {
		_, b := inFlight()
		return float64(b)
	})

	if err := m.registry.Register(count); err != nil {
		return err
	}

	return m.registry.Register(bytes)
}
