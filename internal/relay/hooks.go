package relay

import (
	"time"

	loggingpkg "github.com/drblury/relayflow/internal/relay/logging"
)

// ItemContext describes one pipeline item presented to hooks: a producer
// accept or a consumer relay.
type ItemContext struct {
	// Role is RoleProducer or RoleConsumer.
	Role string
	// Topic is the queue or fan-out topic the item targets.
	Topic string
	// MessageID is the queue message id, empty when rejection happened
	// before a message existed.
	MessageID string
	// RequestID is the submission correlation id, when known.
	RequestID string
	// StartedAt is when processing began.
	StartedAt time.Time
	// Duration is how long processing took.
	Duration time.Duration
}

// BatchContext describes one completed consumer batch.
type BatchContext struct {
	// Size is the number of deliveries in the batch.
	Size int
	// Processed and Failed split the batch by item outcome.
	Processed int
	Failed    int
	// Trigger is FlushSize, FlushInterval, or FlushDrain.
	Trigger string
	// Duration is how long the batch took end to end.
	Duration time.Duration
}

// Hooks defines callbacks for pipeline lifecycle events. Every field may be
// left nil; a nil hook is skipped.
type Hooks struct {
	// OnItemDone is called after an item completes successfully.
	OnItemDone func(ctx ItemContext)

	// OnItemFailed is called after an item fails, with the failure.
	OnItemFailed func(ctx ItemContext, err error)

	// OnBatchDone is called after the runner completes a batch.
	OnBatchDone func(ctx BatchContext)
}

// Merge builds a hook set that calls both inputs, h's callbacks first and
// other's after.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnItemDone:   chainItemHooks(h.OnItemDone, other.OnItemDone),
		OnItemFailed: chainItemErrorHooks(h.OnItemFailed, other.OnItemFailed),
		OnBatchDone:  chainBatchHooks(h.OnBatchDone, other.OnBatchDone),
	}
}

func chainItemHooks(a, b func(ItemContext)) func(ItemContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ItemContext) {
		a(ctx)
		b(ctx)
	}
}

func chainItemErrorHooks(a, b func(ItemContext, error)) func(ItemContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ItemContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func chainBatchHooks(a, b func(BatchContext)) func(BatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx BatchContext) {
		a(ctx)
		b(ctx)
	}
}

func (h Hooks) itemDone(ctx ItemContext) {
	if h.OnItemDone != nil {
		h.OnItemDone(ctx)
	}
}

func (h Hooks) itemFailed(ctx ItemContext, err error) {
	if h.OnItemFailed != nil {
		h.OnItemFailed(ctx, err)
	}
}

func (h Hooks) batchDone(ctx BatchContext) {
	if h.OnBatchDone != nil {
		h.OnBatchDone(ctx)
	}
}

// LoggingHooks returns pre-built hooks that log pipeline lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) Hooks {
	return Hooks{
		OnItemDone: func(ctx ItemContext) {
			logger.Info("Item completed", loggingpkg.LogFields{
				"role":        ctx.Role,
				"topic":       ctx.Topic,
				"message_id":  ctx.MessageID,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnItemFailed: func(ctx ItemContext, err error) {
			logger.Error("Item failed", err, loggingpkg.LogFields{
				"role":        ctx.Role,
				"topic":       ctx.Topic,
				"message_id":  ctx.MessageID,
				"request_id":  ctx.RequestID,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnBatchDone: func(ctx BatchContext) {
			logger.Info("Batch completed", loggingpkg.LogFields{
				"size":        ctx.Size,
				"processed":   ctx.Processed,
				"failed":      ctx.Failed,
				"trigger":     ctx.Trigger,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that forward outcomes to counters.
func MetricsHooks(onDone, onFailed func(role, topic string), onBatch func(trigger string, size int)) Hooks {
	return Hooks{
		OnItemDone: func(ctx ItemContext) {
			if onDone != nil {
				onDone(ctx.Role, ctx.Topic)
			}
		},
		OnItemFailed: func(ctx ItemContext, err error) {
			if onFailed != nil {
				onFailed(ctx.Role, ctx.Topic)
			}
		},
		OnBatchDone: func(ctx BatchContext) {
			if onBatch != nil {
				onBatch(ctx.Trigger, ctx.Size)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on item failures.
func AlertingHooks(alertFunc func(ctx ItemContext, err error)) Hooks {
	return Hooks{
		OnItemFailed: alertFunc,
	}
}
