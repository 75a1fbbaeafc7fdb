package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	metadatapkg "github.com/drblury/relayflow/internal/relay/metadata"
)

type recordingProcessor struct {
	mu      sync.Mutex
	batches []BatchEvent
	err     error
}

func (p *recordingProcessor) Handle(ctx context.Context, event BatchEvent) (BatchResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return BatchResponse{}, p.err
	}
	p.batches = append(p.batches, event)

	result := NewBatchResult()
	for _, rec := range event.Records {
		result.ProcessedMessages = append(result.ProcessedMessages, ProcessedMessage{
			MessageID:    rec.MessageID,
			SNSMessageID: "f-" + rec.MessageID,
			Status:       StatusSuccess,
		})
	}
	result.ProcessedCount = len(result.ProcessedMessages)
	return BatchResponse{StatusCode: 200, Body: result}, nil
}

func (p *recordingProcessor) batchSizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	sizes := make([]int, len(p.batches))
	for i, batch := range p.batches {
		sizes[i] = len(batch.Records)
	}
	return sizes
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, failure string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(failure)
}

func assertAcked(t *testing.T, msg *message.Message) {
	t.Helper()
	select {
	case <-msg.Acked():
	case <-time.After(time.Second):
		t.Fatalf("message %s was not acked", msg.UUID)
	}
}

func assertNacked(t *testing.T, msg *message.Message) {
	t.Helper()
	select {
	case <-msg.Nacked():
	case <-time.After(time.Second):
		t.Fatalf("message %s was not nacked", msg.UUID)
	}
}

func TestNewRunnerValidation(t *testing.T) {
	sub := newCaptureSubscriber(1)
	processor := &recordingProcessor{}

	if _, err := NewRunner(RunnerConfig{Queue: "relay.queue", Processor: processor}); !errors.Is(err, errspkg.ErrSubscriberRequired) {
		t.Fatalf("expected ErrSubscriberRequired, got %v", err)
	}
	if _, err := NewRunner(RunnerConfig{Subscriber: sub, Processor: processor}); !errors.Is(err, errspkg.ErrQueueRequired) {
		t.Fatalf("expected ErrQueueRequired, got %v", err)
	}
	if _, err := NewRunner(RunnerConfig{Subscriber: sub, Queue: "relay.queue"}); !errors.Is(err, errspkg.ErrProcessorRequired) {
		t.Fatalf("expected ErrProcessorRequired, got %v", err)
	}
}

func TestNewRunnerAppliesBatchingDefaults(t *testing.T) {
	runner, err := NewRunner(RunnerConfig{
		Subscriber: newCaptureSubscriber(1),
		Queue:      "relay.queue",
		Processor:  &recordingProcessor{},
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	if runner.size != DefaultBatchSize {
		t.Errorf("size = %d, want %d", runner.size, DefaultBatchSize)
	}
	if runner.interval != DefaultBatchFlushInterval {
		t.Errorf("interval = %v, want %v", runner.interval, DefaultBatchFlushInterval)
	}
}

func TestRunnerFlushesOnBatchSize(t *testing.T) {
	sub := newCaptureSubscriber(8)
	processor := &recordingProcessor{}
	stats := newPipelineStats(RoleConsumer, nil)
	runner, err := NewRunner(RunnerConfig{
		Subscriber:    sub,
		Queue:         "relay.queue",
		Processor:     processor,
		BatchSize:     2,
		FlushInterval: time.Hour,
		Logger:        newTestLogger(),
		Stats:         stats,
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	msgs := make([]*message.Message, 4)
	for i := range msgs {
		msgs[i] = message.NewMessage(string(rune('a'+i)), []byte(`{"message": "x"}`))
	}
	msgs[0].Metadata.Set(metadatapkg.KeyTimestamp, time.Now().Add(-2*time.Second).Format(time.RFC3339Nano))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	for _, msg := range msgs {
		sub.ch <- msg
	}

	waitFor(t, 2*time.Second, func() bool {
		sizes := processor.batchSizes()
		return len(sizes) == 2 && sizes[0] == 2 && sizes[1] == 2
	}, "expected two size-triggered batches of two")

	for _, msg := range msgs {
		assertAcked(t, msg)
	}

	stats.mu.Lock()
	if stats.Batches.SizeFlushes != 2 {
		t.Errorf("size flushes = %d, want 2", stats.Batches.SizeFlushes)
	}
	if stats.Backlog.EstimatedLagMillis < 1900 {
		t.Errorf("expected envelope timestamp to feed the lag estimate, got %d", stats.Backlog.EstimatedLagMillis)
	}
	stats.mu.Unlock()

	if got := sub.Subscribed(); len(got) != 1 || got[0] != "relay.queue" {
		t.Errorf("subscribed topics = %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunnerFlushesOnInterval(t *testing.T) {
	sub := newCaptureSubscriber(8)
	processor := &recordingProcessor{}
	var triggered []BatchContext
	var mu sync.Mutex
	runner, err := NewRunner(RunnerConfig{
		Subscriber:    sub,
		Queue:         "relay.queue",
		Processor:     processor,
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
		Logger:        newTestLogger(),
		Hooks: Hooks{OnBatchDone: func(ctx BatchContext) {
			mu.Lock()
			triggered = append(triggered, ctx)
			mu.Unlock()
		}},
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	for i := 0; i < 3; i++ {
		sub.ch <- message.NewMessage(string(rune('a'+i)), []byte(`{"message": "x"}`))
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(triggered) == 1
	}, "expected an interval flush")

	mu.Lock()
	batch := triggered[0]
	mu.Unlock()
	if batch.Trigger != FlushInterval {
		t.Errorf("trigger = %q, want %q", batch.Trigger, FlushInterval)
	}
	if batch.Size != 3 || batch.Processed != 3 {
		t.Errorf("batch context = %+v", batch)
	}

	cancel()
	<-done
}

func TestRunnerDrainsOnSubscriptionClose(t *testing.T) {
	sub := newCaptureSubscriber(8)
	processor := &recordingProcessor{}
	stats := newPipelineStats(RoleConsumer, nil)
	runner, err := NewRunner(RunnerConfig{
		Subscriber:    sub,
		Queue:         "relay.queue",
		Processor:     processor,
		BatchSize:     100,
		FlushInterval: time.Hour,
		Logger:        newTestLogger(),
		Stats:         stats,
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	first := message.NewMessage("a", []byte(`{"message": "x"}`))
	second := message.NewMessage("b", []byte(`{"message": "y"}`))
	sub.ch <- first
	sub.ch <- second
	close(sub.ch)

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not return after the subscription closed")
	}

	if sizes := processor.batchSizes(); len(sizes) != 1 || sizes[0] != 2 {
		t.Fatalf("batch sizes = %v, want one drain batch of two", sizes)
	}
	assertAcked(t, first)
	assertAcked(t, second)

	stats.mu.Lock()
	defer stats.mu.Unlock()
	if stats.Batches.DrainFlushes != 1 {
		t.Errorf("drain flushes = %d, want 1", stats.Batches.DrainFlushes)
	}
}

func TestRunnerNacksBatchOnHardFailure(t *testing.T) {
	sub := newCaptureSubscriber(8)
	processor := &recordingProcessor{err: errors.New("handler unavailable")}
	stats := newPipelineStats(RoleConsumer, nil)
	runner, err := NewRunner(RunnerConfig{
		Subscriber:    sub,
		Queue:         "relay.queue",
		Processor:     processor,
		BatchSize:     2,
		FlushInterval: time.Hour,
		Logger:        newTestLogger(),
		Stats:         stats,
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	first := message.NewMessage("a", []byte(`{"message": "x"}`))
	second := message.NewMessage("b", []byte(`{"message": "y"}`))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	sub.ch <- first
	sub.ch <- second

	assertNacked(t, first)
	assertNacked(t, second)

	stats.mu.Lock()
	if stats.Batches.Failed != 1 {
		t.Errorf("failed batches = %d, want 1", stats.Batches.Failed)
	}
	stats.mu.Unlock()

	// The loop survives the failure and keeps draining.
	close(sub.ch)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not keep running after a failed batch")
	}
}

func TestRunnerNacksPendingOnCancel(t *testing.T) {
	sub := newCaptureSubscriber(8)
	runner, err := NewRunner(RunnerConfig{
		Subscriber:    sub,
		Queue:         "relay.queue",
		Processor:     &recordingProcessor{},
		BatchSize:     100,
		FlushInterval: time.Hour,
		Logger:        newTestLogger(),
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	pending := message.NewMessage("a", []byte(`{"message": "x"}`))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	sub.ch <- pending

	// Give the runner a moment to buffer the delivery, then stop it.
	waitFor(t, time.Second, func() bool { return len(sub.ch) == 0 }, "delivery was not picked up")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
	assertNacked(t, pending)
}

func TestRunnerSubscribeFailure(t *testing.T) {
	sub := &captureSubscriber{failWith: errors.New("connection refused")}
	runner, err := NewRunner(RunnerConfig{
		Subscriber: sub,
		Queue:      "relay.queue",
		Processor:  &recordingProcessor{},
		Logger:     newTestLogger(),
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	err = runner.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "subscribe to relay.queue") {
		t.Fatalf("Run() error = %v, want subscribe failure", err)
	}
}
