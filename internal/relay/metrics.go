package relay

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Producer outcome labels on the requests counter.
const (
	MetricStatusAccepted = "accepted"
	MetricStatusRejected = "rejected"
	MetricStatusFailed   = "failed"
)

// Metrics tracks relay pipeline statistics and exposes them as Prometheus
// collectors. A nil *Metrics is valid and records nothing, so the pipeline
// runs unchanged when metrics are disabled.
type Metrics struct {
	mu sync.RWMutex

	// Internal tallies mirrored into the collectors.
	producerOutcomes map[string]uint64
	consumerOutcomes map[string]uint64
	batchTriggers    map[string]uint64
	lastBatchSize    int

	producerRequests *prometheus.CounterVec
	producerSeconds  prometheus.Histogram
	consumerItems    *prometheus.CounterVec
	consumerSeconds  prometheus.Histogram
	batchesTotal     *prometheus.CounterVec
	batchSize        prometheus.Histogram
	queueLagSeconds  prometheus.Histogram

	registerer prometheus.Registerer
	attached   bool
}

// MetricsSnapshot provides a point-in-time view of the pipeline counters.
type MetricsSnapshot struct {
	ProducerAccepted uint64            `json:"producer_accepted"`
	ProducerRejected uint64            `json:"producer_rejected"`
	ProducerFailed   uint64            `json:"producer_failed"`
	ConsumerSuccess  uint64            `json:"consumer_success"`
	ConsumerFailed   uint64            `json:"consumer_failed"`
	BatchesByTrigger map[string]uint64 `json:"batches_by_trigger"`
	LastBatchSize    int               `json:"last_batch_size"`
	CollectedAt      time.Time         `json:"collected_at"`
}

// newRelayCounterVec creates a new counter vec in the relayflow namespace.
func newRelayCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayflow",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// newRelayHistogram creates a new histogram in the relayflow namespace.
func newRelayHistogram(subsystem, name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relayflow",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
	)
}

// NewMetrics creates a new pipeline metrics collector.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		producerOutcomes: make(map[string]uint64),
		consumerOutcomes: make(map[string]uint64),
		batchTriggers:    make(map[string]uint64),
		registerer:       registerer,
		producerRequests: newRelayCounterVec("producer", "requests_total", "Total number of submissions presented to the producer, by outcome", []string{"status"}),
		producerSeconds:  newRelayHistogram("producer", "accept_seconds", "Time spent validating and queueing one submission", prometheus.DefBuckets),
		consumerItems:    newRelayCounterVec("consumer", "items_total", "Total number of queue deliveries relayed, by outcome", []string{"status"}),
		consumerSeconds:  newRelayHistogram("consumer", "item_seconds", "Time spent relaying one queue delivery", prometheus.DefBuckets),
		batchesTotal:     newRelayCounterVec("consumer", "batches_total", "Total number of completed batches, by flush trigger", []string{"trigger"}),
		batchSize:        newRelayHistogram("consumer", "batch_size", "Number of deliveries per batch", []float64{1, 2, 5, 10, 25, 50, 100}),
		queueLagSeconds:  newRelayHistogram("consumer", "queue_lag_seconds", "Queue dwell time derived from the submission timestamp", []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300}),
	}
}

// Register attaches the collectors to the registerer. Calling it again is a
// no-op.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attached {
		return nil
	}

	for _, c := range []prometheus.Collector{
		m.producerRequests,
		m.producerSeconds,
		m.consumerItems,
		m.consumerSeconds,
		m.batchesTotal,
		m.batchSize,
		m.queueLagSeconds,
	} {
		err := m.registerer.Register(c)
		// A collector someone registered earlier is fine.
		var already prometheus.AlreadyRegisteredError
		if err != nil && !errors.As(err, &already) {
			return err
		}
	}

	m.attached = true
	return nil
}

// Handler serves the collectors over HTTP. A registerer that can also gather
// (a *prometheus.Registry) is served directly; anything else falls back to
// the default gatherer.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	if gatherer, ok := m.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func (m *Metrics) recordAccept(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.producerOutcomes[status]++
	m.mu.Unlock()

	m.producerRequests.WithLabelValues(status).Inc()
	m.producerSeconds.Observe(duration.Seconds())
}

func (m *Metrics) recordItem(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.consumerOutcomes[status]++
	m.mu.Unlock()

	m.consumerItems.WithLabelValues(status).Inc()
	m.consumerSeconds.Observe(duration.Seconds())
}

func (m *Metrics) recordBatch(trigger string, size int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.batchTriggers[trigger]++
	m.lastBatchSize = size
	m.mu.Unlock()

	m.batchesTotal.WithLabelValues(trigger).Inc()
	m.batchSize.Observe(float64(size))
}

func (m *Metrics) recordQueueLag(lag time.Duration) {
	if m == nil {
		return
	}
	m.queueLagSeconds.Observe(lag.Seconds())
}

// GetSnapshot returns a point-in-time snapshot of the pipeline counters.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{CollectedAt: time.Now()}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		ProducerAccepted: m.producerOutcomes[MetricStatusAccepted],
		ProducerRejected: m.producerOutcomes[MetricStatusRejected],
		ProducerFailed:   m.producerOutcomes[MetricStatusFailed],
		ConsumerSuccess:  m.consumerOutcomes[StatusSuccess],
		ConsumerFailed:   m.consumerOutcomes[StatusFailed],
		BatchesByTrigger: make(map[string]uint64, len(m.batchTriggers)),
		LastBatchSize:    m.lastBatchSize,
		CollectedAt:      time.Now(),
	}
	for trigger, count := range m.batchTriggers {
		snapshot.BatchesByTrigger[trigger] = count
	}
	return snapshot
}

// Reset resets all internal tallies and collectors (useful for testing).
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.producerOutcomes = make(map[string]uint64)
	m.consumerOutcomes = make(map[string]uint64)
	m.batchTriggers = make(map[string]uint64)
	m.lastBatchSize = 0
	m.producerRequests.Reset()
	m.consumerItems.Reset()
	m.batchesTotal.Reset()
}
