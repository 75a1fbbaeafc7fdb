package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	idspkg "github.com/drblury/relayflow/internal/relay/ids"
	loggingpkg "github.com/drblury/relayflow/internal/relay/logging"
	metadatapkg "github.com/drblury/relayflow/internal/relay/metadata"
	"github.com/drblury/relayflow/internal/relay/record"
)

// ProcessorConfig wires a Processor. Publisher and Topic are required; every
// other field has a working zero value.
type ProcessorConfig struct {
	Publisher  message.Publisher
	Topic      string
	Logger     loggingpkg.ServiceLogger
	Clock      func() time.Time
	Stats      *PipelineStats
	Hooks      Hooks
	Metrics    *Metrics
	Classifier ErrorClassifier
}

// Processor relays queue deliveries: each one becomes a processed record
// rendered as a notification and submitted to the fan-out topic.
type Processor struct {
	publisher  message.Publisher
	topic      string
	logger     loggingpkg.ServiceLogger
	clock      func() time.Time
	stats      *PipelineStats
	hooks      Hooks
	metrics    *Metrics
	classifier ErrorClassifier
}

// NewProcessor creates a processor for the relay side of the pipeline.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if cfg.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}

	p := &Processor{
		publisher:  cfg.Publisher,
		topic:      cfg.Topic,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		stats:      cfg.Stats,
		hooks:      cfg.Hooks,
		metrics:    cfg.Metrics,
		classifier: cfg.Classifier,
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.logger == nil {
		p.logger = loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
	}
	return p, nil
}

// Topic names the fan-out topic notifications are submitted to.
func (p *Processor) Topic() string { return p.topic }

// Handle relays one batch of queue deliveries. Items fail independently: a
// bad delivery lands in the failed list and the batch carries on. Only a
// missing publisher, a missing topic, or a context expiry between items
// fails the batch as a whole, which tells the runner to nack everything for
// redelivery.
func (p *Processor) Handle(ctx context.Context, event BatchEvent) (BatchResponse, error) {
	if p.publisher == nil {
		return BatchResponse{}, errspkg.ErrPublisherRequired
	}
	if p.topic == "" {
		return BatchResponse{}, errspkg.ErrTopicRequired
	}

	result := NewBatchResult()
	for _, rec := range event.Records {
		if err := ctx.Err(); err != nil {
			return BatchResponse{}, fmt.Errorf("batch interrupted: %w", err)
		}

		fanoutID, err := p.relay(ctx, rec)
		if err != nil {
			result.FailedMessages = append(result.FailedMessages, FailedMessage{
				MessageID: rec.MessageID,
				Error:     err.Error(),
				Status:    StatusFailed,
			})
			continue
		}
		result.ProcessedMessages = append(result.ProcessedMessages, ProcessedMessage{
			MessageID:    rec.MessageID,
			SNSMessageID: fanoutID,
			Status:       StatusSuccess,
		})
	}
	result.ProcessedCount = len(result.ProcessedMessages)
	result.FailedCount = len(result.FailedMessages)

	return BatchResponse{StatusCode: http.StatusOK, Body: result}, nil
}

// relay wraps one item with stats, hooks, and metrics around the relay work.
func (p *Processor) relay(ctx context.Context, rec QueueRecord) (string, error) {
	start := time.Now()
	p.stats.onItemStart()

	fanoutID, err := p.relayOne(ctx, rec)

	duration := time.Since(start)
	p.stats.onItemFinish(duration, err, p.classifier)

	itemCtx := ItemContext{
		Role:      RoleConsumer,
		Topic:     p.topic,
		MessageID: rec.MessageID,
		StartedAt: start,
		Duration:  duration,
	}
	if err != nil {
		p.metrics.recordItem(StatusFailed, duration)
		p.hooks.itemFailed(itemCtx, err)
		p.logger.Error("Delivery failed", err, loggingpkg.LogFields{
			"message_id": rec.MessageID,
			"topic":      p.topic,
		})
		return "", err
	}

	p.metrics.recordItem(StatusSuccess, duration)
	p.hooks.itemDone(itemCtx)
	return fanoutID, nil
}

// relayOne builds the record and notification for one delivery and submits
// it to the fan-out topic. A panic inside the item is recovered and reported
// as that item's failure.
func (p *Processor) relayOne(ctx context.Context, rec QueueRecord) (fanoutID string, err error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "RelayDelivery")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %v", r)
		}
	}()
	span.SetAttributes(
		attribute.String("message.uuid", rec.MessageID),
		attribute.String("relay.topic", p.topic),
	)

	processed, err := record.Build([]byte(rec.Body), rec.MessageID, p.clock())
	if err != nil {
		return "", err
	}

	notification, err := processed.Notification()
	if err != nil {
		return "", err
	}
	payload, err := notification.Encode()
	if err != nil {
		return "", err
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadatapkg.New(
		metadatapkg.KeyMessageID, processed.MessageID,
		metadatapkg.KeyProcessingTime, processed.ProcessedAt,
	))
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return "", errspkg.NewSubmissionError("fanout", err)
	}

	p.logger.Info("Delivery relayed", loggingpkg.LogFields{
		"message_id": rec.MessageID,
		"fanout_id":  msg.UUID,
		"topic":      p.topic,
	})
	return msg.UUID, nil
}
