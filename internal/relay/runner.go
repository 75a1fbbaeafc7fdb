package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	loggingpkg "github.com/drblury/relayflow/internal/relay/logging"
	metadatapkg "github.com/drblury/relayflow/internal/relay/metadata"
)

// Batch flush triggers reported in hooks, stats, and metrics.
const (
	FlushSize     = "size"
	FlushInterval = "interval"
	FlushDrain    = "drain"
)

// Batching defaults applied when the configuration leaves them unset.
const (
	DefaultBatchSize          = 10
	DefaultBatchFlushInterval = time.Second
)

// BatchProcessor handles one batch of queue deliveries.
type BatchProcessor interface {
	Handle(ctx context.Context, event BatchEvent) (BatchResponse, error)
}

// RunnerConfig wires a Runner. Subscriber, Queue, and Processor are
// required; batching falls back to the defaults.
type RunnerConfig struct {
	Subscriber    message.Subscriber
	Queue         string
	Processor     BatchProcessor
	BatchSize     int
	FlushInterval time.Duration
	Logger        loggingpkg.ServiceLogger
	Stats         *PipelineStats
	Hooks         Hooks
	Metrics       *Metrics
}

// Runner drains the queue subscription, forms bounded batches, and feeds
// them to the processor. A batch flushes when it reaches the size bound,
// when the flush interval elapses with items waiting, or when the
// subscription drains on shutdown.
type Runner struct {
	subscriber message.Subscriber
	queue      string
	processor  BatchProcessor
	size       int
	interval   time.Duration
	logger     loggingpkg.ServiceLogger
	stats      *PipelineStats
	hooks      Hooks
	metrics    *Metrics
}

// NewRunner creates the consumer-side batch loop.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if cfg.Queue == "" {
		return nil, errspkg.ErrQueueRequired
	}
	if cfg.Processor == nil {
		return nil, errspkg.ErrProcessorRequired
	}

	r := &Runner{
		subscriber: cfg.Subscriber,
		queue:      cfg.Queue,
		processor:  cfg.Processor,
		size:       cfg.BatchSize,
		interval:   cfg.FlushInterval,
		logger:     cfg.Logger,
		stats:      cfg.Stats,
		hooks:      cfg.Hooks,
		metrics:    cfg.Metrics,
	}
	if r.size <= 0 {
		r.size = DefaultBatchSize
	}
	if r.interval <= 0 {
		r.interval = DefaultBatchFlushInterval
	}
	if r.logger == nil {
		r.logger = loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
	}
	return r, nil
}

// Run drains the subscription until ctx ends or the subscription closes.
// Deliveries of a completed batch are acked one by one; a hard processor
// failure nacks the whole batch so the transport's redelivery policy
// applies, then the loop carries on.
func (r *Runner) Run(ctx context.Context) error {
	deliveries, err := r.subscriber.Subscribe(ctx, r.queue)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.queue, err)
	}

	r.logger.Info("Relay runner started", loggingpkg.LogFields{
		"queue":          r.queue,
		"batch_size":     r.size,
		"flush_interval": r.interval.String(),
	})

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var batch []*message.Message
	for {
		select {
		case msg, ok := <-deliveries:
			if !ok {
				r.flush(ctx, &batch, FlushDrain)
				r.logger.Info("Subscription closed, runner draining", loggingpkg.LogFields{"queue": r.queue})
				return nil
			}
			r.observeDelivery(msg)
			batch = append(batch, msg)
			if len(batch) >= r.size {
				r.flush(ctx, &batch, FlushSize)
				ticker.Reset(r.interval)
			}
		case <-ticker.C:
			r.flush(ctx, &batch, FlushInterval)
		case <-ctx.Done():
			r.release(batch)
			r.logger.Info("Relay runner stopped", loggingpkg.LogFields{"queue": r.queue})
			return nil
		}
	}
}

// observeDelivery folds the delivery's envelope timestamp into the lag view.
func (r *Runner) observeDelivery(msg *message.Message) {
	if lag, ok := r.stats.observeLag(msg.Metadata.Get(metadatapkg.KeyTimestamp)); ok {
		r.metrics.recordQueueLag(lag)
	}
}

// flush hands the buffered deliveries to the processor and settles them.
// The batch slice is reset in place so the caller keeps appending.
func (r *Runner) flush(ctx context.Context, batch *[]*message.Message, trigger string) {
	msgs := *batch
	if len(msgs) == 0 {
		return
	}
	*batch = nil

	start := time.Now()
	event := BatchEvent{Records: make([]QueueRecord, len(msgs))}
	for i, msg := range msgs {
		event.Records[i] = QueueRecord{
			MessageID: msg.UUID,
			Body:      string(msg.Payload),
		}
	}

	resp, err := r.processor.Handle(ctx, event)
	duration := time.Since(start)
	if err != nil {
		for _, msg := range msgs {
			msg.Nack()
		}
		r.stats.onBatchFinish(len(msgs), trigger, err)
		r.logger.Error("Batch failed, deliveries returned to the queue", err, loggingpkg.LogFields{
			"queue":   r.queue,
			"size":    len(msgs),
			"trigger": trigger,
		})
		return
	}

	for _, msg := range msgs {
		msg.Ack()
	}
	r.stats.onBatchFinish(len(msgs), trigger, nil)
	r.metrics.recordBatch(trigger, len(msgs))
	r.hooks.batchDone(BatchContext{
		Size:      len(msgs),
		Processed: resp.Body.ProcessedCount,
		Failed:    resp.Body.FailedCount,
		Trigger:   trigger,
		Duration:  duration,
	})
	r.logger.Info("Batch completed", loggingpkg.LogFields{
		"queue":     r.queue,
		"size":      len(msgs),
		"processed": resp.Body.ProcessedCount,
		"failed":    resp.Body.FailedCount,
		"trigger":   trigger,
	})
}

// release nacks buffered deliveries that were never handed to the processor.
func (r *Runner) release(batch []*message.Message) {
	for _, msg := range batch {
		msg.Nack()
	}
}
