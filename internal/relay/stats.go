package relay

import (
	"context"
	sterrors "errors"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	"github.com/drblury/relayflow/internal/relay/jsoncodec"
)

const (
	latencyRingSize = 256
	rateHorizon     = time.Minute
)

// Pipeline roles reported in stats, hooks, and metric labels.
const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"
)

// PipelineStats aggregates one role's live counters: item outcomes, a
// sliding latency window, a one-minute throughput window, an error
// breakdown, process resource usage, and the backlog view. All methods are
// safe for concurrent use and tolerate a nil receiver so unwired roles cost
// nothing.
type PipelineStats struct {
	mu sync.Mutex `json:"-"`

	role string `json:"-"`

	ItemsProcessed      uint64    `json:"items_processed"`
	ItemsFailed         uint64    `json:"items_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`
	Backlog    BacklogMetrics    `json:"backlog"`
	Batches    *BatchCounters    `json:"batches,omitempty"`

	latencies  *latencyRing  `json:"-"`
	throughput *rateBuckets  `json:"-"`
	resources  *processGauge `json:"-"`
}

// LatencyMetrics summarizes the per-role latency window.
type LatencyMetrics struct {
	P50Ns int64 `json:"p50_ns"`
	P95Ns int64 `json:"p95_ns"`
	P99Ns int64 `json:"p99_ns"`

	// AverageNs is the lifetime mean when reported through PipelineStats;
	// the percentiles cover only the ring.
	AverageNs int64 `json:"average_ns"`
	LastNs    int64 `json:"last_ns"`

	SampleSize int `json:"sample_size"`
}

// ThroughputMetrics is the one-minute rate window plus the lifetime total.
type ThroughputMetrics struct {
	CurrentRPS    float64 `json:"current_rps"`
	WindowSeconds float64 `json:"window_seconds"`
	ItemsInWindow uint64  `json:"items_in_window"`
	TotalItems    uint64  `json:"total_items"`
}

// ErrorBreakdown counts failures by classifier outcome, cumulatively over
// the process lifetime.
type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Transport  uint64 `json:"transport"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`

	// LastError carries the most recent failure text verbatim.
	LastError string `json:"last_error,omitempty"`
}

// ResourceUsage is the point-in-time process snapshot attached to stats.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// BacklogMetrics tracks in-flight pressure and the queue dwell estimate
// derived from envelope timestamps. EstimatedLagMillis is -1 until a
// delivery carries a parseable timestamp.
type BacklogMetrics struct {
	InFlight           uint64 `json:"in_flight"`
	MaxInFlight        uint64 `json:"max_in_flight"`
	EstimatedLagMillis int64  `json:"estimated_lag_millis"`
}

// BatchCounters tallies the consumer's batch outcomes per flush trigger.
// Only the consumer role carries them.
type BatchCounters struct {
	Completed       uint64 `json:"completed"`
	Failed          uint64 `json:"failed"`
	SizeFlushes     uint64 `json:"size_flushes"`
	IntervalFlushes uint64 `json:"interval_flushes"`
	DrainFlushes    uint64 `json:"drain_flushes"`
	LastSize        int    `json:"last_size"`
}

// ErrorCategory buckets an item failure for the error breakdown.
type ErrorCategory string

// Categories a classifier may return. Anything unrecognized lands in the
// catch-all bucket.
const (
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"

	// ErrorCategoryNone marks a success outcome.
	ErrorCategoryNone ErrorCategory = "none"
)

// ErrorClassifier maps an item failure onto the breakdown categories.
type ErrorClassifier func(error) ErrorCategory

func newPipelineStats(role string, sampler *processGauge) *PipelineStats {
	stats := &PipelineStats{
		role:       role,
		resources:  sampler,
		latencies:  newLatencyRing(latencyRingSize),
		throughput: newRateBuckets(rateHorizon),
		Backlog: BacklogMetrics{
			EstimatedLagMillis: -1,
		},
	}
	if role == RoleConsumer {
		stats.Batches = &BatchCounters{}
	}
	return stats
}

// Role names which pipeline side the counters describe.
func (s *PipelineStats) Role() string {
	if s == nil {
		return ""
	}
	return s.role
}

func (s *PipelineStats) onItemStart() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Backlog.InFlight++
	if s.Backlog.InFlight > s.Backlog.MaxInFlight {
		s.Backlog.MaxInFlight = s.Backlog.InFlight
	}
}

func (s *PipelineStats) onItemFinish(duration time.Duration, err error, classifier ErrorClassifier) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Backlog.InFlight > 0 {
		s.Backlog.InFlight--
	}

	s.ItemsProcessed++
	if err != nil {
		s.ItemsFailed++
	}
	s.TotalProcessingTime += int64(duration)
	s.LastProcessedAt = time.Now().UTC()

	if s.latencies != nil {
		s.latencies.observe(duration)
		lat := s.latencies.metrics()
		if s.ItemsProcessed > 0 {
			// The average covers the pipeline's lifetime, not just the ring.
			lat.AverageNs = s.TotalProcessingTime / int64(s.ItemsProcessed)
		}
		s.Latency = lat
	}

	if s.throughput != nil {
		rate := s.throughput.observe(time.Now())
		s.Throughput.CurrentRPS = rate.PerSecond
		s.Throughput.WindowSeconds = rate.SpanSeconds
		s.Throughput.ItemsInWindow = uint64(rate.Count)
	}
	s.Throughput.TotalItems = s.ItemsProcessed

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	s.Errors.Record(classifier(err), err)

	if s.resources != nil {
		s.Resource = s.resources.Snapshot()
	}
}

func (s *PipelineStats) onBatchFinish(size int, trigger string, err error) {
	if s == nil || s.Batches == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.Batches.Failed++
	} else {
		s.Batches.Completed++
	}
	switch trigger {
	case FlushSize:
		s.Batches.SizeFlushes++
	case FlushInterval:
		s.Batches.IntervalFlushes++
	case FlushDrain:
		s.Batches.DrainFlushes++
	}
	s.Batches.LastSize = size
}

// observeLag folds one queue dwell measurement into the backlog view.
// enqueuedAt is the RFC 3339 timestamp stamped at submission; unparseable
// values are ignored.
func (s *PipelineStats) observeLag(enqueuedAt string) (time.Duration, bool) {
	if enqueuedAt == "" {
		return 0, false
	}
	ts, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return 0, false
	}
	lag := time.Since(ts)
	if lag < 0 {
		lag = 0
	}

	if s != nil {
		s.mu.Lock()
		s.Backlog.EstimatedLagMillis = lag.Milliseconds()
		s.mu.Unlock()
	}
	return lag, true
}

func (s *PipelineStats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type Alias PipelineStats
	return jsoncodec.Marshal((*Alias)(s))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	if category == ErrorCategoryNone && err == nil {
		return
	}
	// A classifier returning "none" alongside a real error still counts
	// the failure, in the catch-all bucket.
	bucket := &e.Other
	switch category {
	case ErrorCategoryValidation:
		bucket = &e.Validation
	case ErrorCategoryTransport:
		bucket = &e.Transport
	case ErrorCategoryDownstream:
		bucket = &e.Downstream
	}
	*bucket++
	if err != nil {
		e.LastError = err.Error()
	}
}

// latencyRing holds the most recent processing durations in place.
// Writes overwrite the oldest slot once the ring has gone around.
type latencyRing struct {
	buf  []int64
	pos  int
	full bool
	last int64
}

func newLatencyRing(size int) *latencyRing {
	if size <= 0 {
		size = latencyRingSize
	}
	return &latencyRing{buf: make([]int64, size)}
}

func (r *latencyRing) observe(d time.Duration) {
	if r == nil || len(r.buf) == 0 {
		return
	}
	r.last = int64(d)
	r.buf[r.pos] = int64(d)
	if r.pos++; r.pos == len(r.buf) {
		r.pos = 0
		r.full = true
	}
}

// ordered copies the live region out of the ring and sorts it ascending.
func (r *latencyRing) ordered() []int64 {
	var live []int64
	if r.full {
		live = append(make([]int64, 0, len(r.buf)), r.buf[r.pos:]...)
		live = append(live, r.buf[:r.pos]...)
	} else {
		live = append(make([]int64, 0, r.pos), r.buf[:r.pos]...)
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })
	return live
}

func (r *latencyRing) metrics() LatencyMetrics {
	if r == nil {
		return LatencyMetrics{}
	}
	ordered := r.ordered()
	if len(ordered) == 0 {
		return LatencyMetrics{LastNs: r.last}
	}
	var sum int64
	for _, v := range ordered {
		sum += v
	}
	return LatencyMetrics{
		AverageNs:  sum / int64(len(ordered)),
		P50Ns:      quantileOf(ordered, 0.50),
		P95Ns:      quantileOf(ordered, 0.95),
		P99Ns:      quantileOf(ordered, 0.99),
		LastNs:     r.last,
		SampleSize: len(ordered),
	}
}

// quantileOf reads the q-quantile from an ascending sample set, taking
// the distance-weighted value when q lands between two samples.
func quantileOf(ordered []int64, q float64) int64 {
	n := len(ordered)
	if n == 0 {
		return 0
	}
	if q <= 0 {
		return ordered[0]
	}
	if q >= 1 {
		return ordered[n-1]
	}
	rank, frac := math.Modf(q * float64(n-1))
	i := int(rank)
	if frac == 0 || i+1 == n {
		return ordered[i]
	}
	return ordered[i] + int64(frac*float64(ordered[i+1]-ordered[i]))
}

// rateBuckets counts events in one-second slots over a fixed horizon.
// Slots are reused by unix second modulo the slot count, and a slot whose
// stamp has fallen out of the horizon reads as empty, so memory stays
// constant regardless of rate.
type rateBuckets struct {
	counts []uint64
	stamps []int64
}

// rateSnapshot is the throughput reading taken after each observation.
// SpanSeconds covers the occupied part of the horizon, never less than a
// second, so PerSecond stays finite.
type rateSnapshot struct {
	Count       int
	SpanSeconds float64
	PerSecond   float64
}

func newRateBuckets(horizon time.Duration) *rateBuckets {
	slots := int(horizon / time.Second)
	if slots <= 0 {
		slots = 1
	}
	return &rateBuckets{
		counts: make([]uint64, slots),
		stamps: make([]int64, slots),
	}
}

func (rb *rateBuckets) observe(now time.Time) rateSnapshot {
	if rb == nil {
		return rateSnapshot{}
	}
	sec := now.Unix()
	slot := int(sec % int64(len(rb.counts)))
	if rb.stamps[slot] != sec {
		rb.stamps[slot] = sec
		rb.counts[slot] = 0
	}
	rb.counts[slot]++

	oldest := sec
	floor := sec - int64(len(rb.counts)) + 1
	var total uint64
	for i, stamp := range rb.stamps {
		if stamp < floor || rb.counts[i] == 0 {
			continue
		}
		total += rb.counts[i]
		if stamp < oldest {
			oldest = stamp
		}
	}
	span := float64(sec-oldest) + 1
	return rateSnapshot{
		Count:       int(total),
		SpanSeconds: span,
		PerSecond:   float64(total) / span,
	}
}

// defaultErrorClassifier maps the pipeline's own failure types: invalid
// input counts as validation, publish failures as downstream, context
// expiry as transport, everything else as other.
func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var malformed errspkg.MalformedInputError
	var missing errspkg.MissingFieldError
	if sterrors.As(err, &malformed) || sterrors.As(err, &missing) {
		return ErrorCategoryValidation
	}
	var submission errspkg.SubmissionError
	if sterrors.As(err, &submission) {
		return ErrorCategoryDownstream
	}
	if sterrors.Is(err, context.DeadlineExceeded) || sterrors.Is(err, context.Canceled) {
		return ErrorCategoryTransport
	}
	return ErrorCategoryOther
}
