package relay

import (
	"context"
	sterrors "errors"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/drblury/relayflow/internal/relay/envelope"
	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	idspkg "github.com/drblury/relayflow/internal/relay/ids"
	loggingpkg "github.com/drblury/relayflow/internal/relay/logging"
	metadatapkg "github.com/drblury/relayflow/internal/relay/metadata"
)

const tracerName = "relay-service-tracer"

// DefaultSource tags envelopes when the deployment does not configure an
// origin of its own.
const DefaultSource = "ingest-api"

// Client-facing response strings. These are contract bytes: failure detail
// is logged, never echoed back to the caller.
const (
	ackMessage         = "Message sent successfully"
	errBodyMalformed   = "Invalid JSON in request body"
	errBodyInternal    = "Internal server error"
	missingFieldPrefix = "Missing required field: "
)

// ProducerConfig wires a Producer. Publisher and Queue are required; every
// other field has a working zero value.
type ProducerConfig struct {
	Publisher  message.Publisher
	Queue      string
	Source     string
	Logger     loggingpkg.ServiceLogger
	Clock      func() time.Time
	Stats      *PipelineStats
	Hooks      Hooks
	Metrics    *Metrics
	Classifier ErrorClassifier
}

// Producer validates inbound submissions, normalizes them into envelopes,
// and forwards them to the durable queue.
type Producer struct {
	publisher  message.Publisher
	queue      string
	source     string
	logger     loggingpkg.ServiceLogger
	clock      func() time.Time
	stats      *PipelineStats
	hooks      Hooks
	metrics    *Metrics
	classifier ErrorClassifier
}

// NewProducer creates a producer for the ingest side of the pipeline.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if cfg.Publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if cfg.Queue == "" {
		return nil, errspkg.ErrQueueRequired
	}

	p := &Producer{
		publisher:  cfg.Publisher,
		queue:      cfg.Queue,
		source:     cfg.Source,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		stats:      cfg.Stats,
		hooks:      cfg.Hooks,
		metrics:    cfg.Metrics,
		classifier: cfg.Classifier,
	}
	if p.source == "" {
		p.source = DefaultSource
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.logger == nil {
		p.logger = loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
	}
	return p, nil
}

// Queue names the topic submissions are forwarded to.
func (p *Producer) Queue() string { return p.queue }

// Accept validates one submission and forwards its envelope to the queue.
// The returned response is the complete client verdict; rejection and
// internal failure both come back as responses, never as panics.
func (p *Producer) Accept(ctx context.Context, req Request) Response {
	start := time.Now()
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "AcceptSubmission")
	defer span.End()
	span.SetAttributes(attribute.String("relay.queue", p.queue))

	p.stats.onItemStart()

	messageID, resp, err := p.submit(ctx, req)

	duration := time.Since(start)
	p.stats.onItemFinish(duration, err, p.classifier)

	itemCtx := ItemContext{
		Role:      RoleProducer,
		Topic:     p.queue,
		MessageID: messageID,
		RequestID: req.RequestID,
		StartedAt: start,
		Duration:  duration,
	}
	if err != nil {
		span.RecordError(err)
		p.metrics.recordAccept(acceptOutcome(err, p.classifier), duration)
		p.hooks.itemFailed(itemCtx, err)
		return resp
	}

	span.SetAttributes(attribute.String("message.uuid", messageID))
	p.metrics.recordAccept(MetricStatusAccepted, duration)
	p.hooks.itemDone(itemCtx)
	return resp
}

// submit runs the validate/normalize/publish sequence and shapes the verdict.
func (p *Producer) submit(ctx context.Context, req Request) (string, Response, error) {
	body, err := envelope.ParseBody(req.Body)
	if err != nil {
		p.logger.Info("Rejected submission", loggingpkg.LogFields{
			"reason":     err.Error(),
			"request_id": req.RequestID,
		})
		return "", errorResponse(http.StatusBadRequest, errBodyMalformed), err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = idspkg.CreateULID()
	}

	env, err := envelope.New(body, requestID, p.source, p.clock())
	if err != nil {
		var missing errspkg.MissingFieldError
		if sterrors.As(err, &missing) {
			p.logger.Info("Rejected submission", loggingpkg.LogFields{
				"reason":     err.Error(),
				"request_id": requestID,
			})
			return "", errorResponse(http.StatusBadRequest, missingFieldPrefix+missing.Field), err
		}
		p.logger.Error("Envelope construction failed", err, loggingpkg.LogFields{"request_id": requestID})
		return "", errorResponse(http.StatusInternalServerError, errBodyInternal), err
	}

	payload, err := env.Encode()
	if err != nil {
		p.logger.Error("Envelope encoding failed", err, loggingpkg.LogFields{"request_id": requestID})
		return "", errorResponse(http.StatusInternalServerError, errBodyInternal), err
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadatapkg.New(
		metadatapkg.KeyRequestID, env.RequestID,
		metadatapkg.KeyTimestamp, env.Timestamp,
	))
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.queue, msg); err != nil {
		submissionErr := errspkg.NewSubmissionError("queue", err)
		p.logger.Error("Queue submission failed", submissionErr, loggingpkg.LogFields{
			"request_id": env.RequestID,
			"queue":      p.queue,
		})
		return "", errorResponse(http.StatusInternalServerError, errBodyInternal), submissionErr
	}

	p.logger.Info("Submission queued", loggingpkg.LogFields{
		"message_id": msg.UUID,
		"request_id": env.RequestID,
		"queue":      p.queue,
	})
	return msg.UUID, Response{
		StatusCode: http.StatusOK,
		Headers:    responseHeaders(),
		Body: Ack{
			Message:   ackMessage,
			MessageID: msg.UUID,
			Timestamp: env.Timestamp,
		},
	}, nil
}

// acceptOutcome maps a submit failure onto the producer metric labels:
// validation failures were rejected, everything else failed internally.
func acceptOutcome(err error, classifier ErrorClassifier) string {
	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	if classifier(err) == ErrorCategoryValidation {
		return MetricStatusRejected
	}
	return MetricStatusFailed
}

func responseHeaders() map[string]string {
	return map[string]string{
		"Content-Type":                "application/json",
		"Access-Control-Allow-Origin": "*",
	}
}

func errorResponse(status int, description string) Response {
	return Response{
		StatusCode: status,
		Headers:    responseHeaders(),
		Body:       ErrorBody{Error: description},
	}
}
