package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/relayflow/internal/relay/logging"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

type publishedMessage struct {
	topic string
	msg   *message.Message
}

// capturePublisher records everything published through it, per topic.
// Set failWith to make every Publish call fail.
type capturePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	failWith  error
}

func (p *capturePublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	for _, msg := range messages {
		p.published = append(p.published, publishedMessage{topic: topic, msg: msg})
	}
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	topics := make([]string, len(p.published))
	for i, pub := range p.published {
		topics[i] = pub.topic
	}
	return topics
}

func (p *capturePublisher) Messages(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var msgs []*message.Message
	for _, pub := range p.published {
		if pub.topic == topic {
			msgs = append(msgs, pub.msg)
		}
	}
	return msgs
}

// panicPublisher trips the processor's per-item recovery boundary.
type panicPublisher struct{}

func (p *panicPublisher) Publish(topic string, messages ...*message.Message) error {
	panic("publisher blew up")
}

func (p *panicPublisher) Close() error { return nil }

// captureSubscriber hands every subscriber the same channel, so tests feed
// deliveries by writing into it.
type captureSubscriber struct {
	mu         sync.Mutex
	ch         chan *message.Message
	subscribed []string
	failWith   error
}

func newCaptureSubscriber(buffer int) *captureSubscriber {
	return &captureSubscriber{ch: make(chan *message.Message, buffer)}
}

func (s *captureSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.subscribed = append(s.subscribed, topic)
	return s.ch, nil
}

func (s *captureSubscriber) Close() error { return nil }

func (s *captureSubscriber) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := make([]string, len(s.subscribed))
	copy(clone, s.subscribed)
	return clone
}

type capturedLog struct {
	msg    string
	err    error
	fields loggingpkg.LogFields
}

// captureLogger records log calls so tests can assert on them.
type captureLogger struct {
	mu     sync.Mutex
	infos  []capturedLog
	errors []capturedLog
}

func (l *captureLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger { return l }

func (l *captureLogger) Debug(msg string, fields loggingpkg.LogFields) {}

func (l *captureLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, capturedLog{msg: msg, fields: fields})
}

func (l *captureLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, capturedLog{msg: msg, err: err, fields: fields})
}

func (l *captureLogger) Trace(msg string, fields loggingpkg.LogFields) {}

func (l *captureLogger) infoMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := make([]string, len(l.infos))
	for i, entry := range l.infos {
		msgs[i] = entry.msg
	}
	return msgs
}

func (l *captureLogger) errorMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := make([]string, len(l.errors))
	for i, entry := range l.errors {
		msgs[i] = entry.msg
	}
	return msgs
}
