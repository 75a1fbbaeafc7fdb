// Package jetstream provides a NATS JetStream transport for relayflow.
//
// One durable stream holds every relay topic as a subject. Queue delivery
// uses a durable pull consumer per topic, so in-flight messages are
// redelivered after a consumer restart. Use this instead of the core nats
// transport when the relay needs a durable queue.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/relayflow/transport"
)

// TransportName keys this backend in the transport registry.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is the stream used if none is configured.
	DefaultStreamName = "RELAYFLOW"

	// DefaultMaxDeliver caps delivery attempts per message.
	DefaultMaxDeliver = 3

	// DefaultAckWait is how long the server waits before redelivering
	// an unacked message.
	DefaultAckWait = 30 * time.Second

	// headerMessageID carries the watermill message UUID across the wire,
	// so the consumer sees the same queue-assigned id the producer wrote.
	headerMessageID = "relay_message_id"

	// fetchBatchSize is how many messages one pull request asks for.
	fetchBatchSize = 10
)

func init() {
	Register()
}

// Register adds the backend to the default registry under TransportName.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport. One client serves the
// queue and fan-out legs; topics map to subjects under the stream.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetJetStreamStream(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		QueuePublisher:  t,
		QueueSubscriber: t,
		FanoutPublisher: t,
	}, nil
}

// Capabilities reports the backend's feature sheet.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config carries the JetStream connection and stream settings.
type Config struct {
	// URL of the NATS server.
	URL string

	// StreamName names the stream carrying all relay subjects. Defaults
	// to "RELAYFLOW".
	StreamName string

	// RetentionPolicy picks the stream retention mode: "limits" (default),
	// "interest", or "workqueue".
	RetentionPolicy string

	// Replicas sets the stream replica count on clustered servers.
	Replicas int

	// MaxDeliver caps delivery attempts per message.
	MaxDeliver int

	// AckWait is how long the server waits for an ack before redelivering.
	AckWait time.Duration
}

func (c Config) normalized() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.Replicas < 1 {
		c.Replicas = 1
	}
	if c.MaxDeliver < 1 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	return c
}

func (c Config) retention() nats.RetentionPolicy {
	switch c.RetentionPolicy {
	case "interest":
		return nats.InterestPolicy
	case "workqueue":
		return nats.WorkQueuePolicy
	default:
		return nats.LimitsPolicy
	}
}

// Transport is the JetStream-backed publisher and subscriber pair.
type Transport struct {
	config Config
	logger watermill.LoggerAdapter

	nc *nats.Conn
	js nats.JetStreamContext

	subs  []*nats.Subscription
	subMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New connects to the NATS server and ensures the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.normalized()

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	t := &Transport{
		config: cfg,
		logger: logger,
		nc:     nc,
		js:     js,
		done:   make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	return t, nil
}

// ensureStream creates the stream, or brings an existing one up to the
// configured settings.
func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		Retention: t.config.retention(),
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  t.config.Replicas,
	}

	if _, err := t.js.AddStream(streamCfg); err != nil {
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("create stream %s: %w", t.config.StreamName, err)
		}
		if _, err := t.js.UpdateStream(streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", t.config.StreamName, err)
		}
	}
	return nil
}

// Publish publishes messages as subjects under the stream.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if err := t.closedErr(); err != nil {
		return err
	}

	subject := t.subjectFor(topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(encode(subject, msg)); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	}
	return nil
}

// encode wraps a watermill message in a NATS message. Direct map writes
// keep metadata keys exact; Header.Set would canonicalize them MIME-style.
func encode(subject string, msg *message.Message) *nats.Msg {
	h := make(nats.Header, len(msg.Metadata)+1)
	for k, v := range msg.Metadata {
		h[k] = []string{v}
	}
	h[headerMessageID] = []string{msg.UUID}

	return &nats.Msg{Subject: subject, Data: msg.Payload, Header: h}
}

// decode restores the watermill message from the wire form.
func decode(natsMsg *nats.Msg) *message.Message {
	id := ""
	if v := natsMsg.Header[headerMessageID]; len(v) > 0 {
		id = v[0]
	}
	if id == "" {
		id = watermill.NewUUID()
	}

	msg := message.NewMessage(id, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == headerMessageID || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

// Subscribe binds a durable pull consumer to the topic's subject and
// returns the delivery channel.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if err := t.closedErr(); err != nil {
		return nil, err
	}

	subject := t.subjectFor(topic)
	durable := t.durableFor(topic)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       durable,
		DeliverPolicy: nats.DeliverAllPolicy,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       t.config.AckWait,
		MaxDeliver:    t.config.MaxDeliver,
		FilterSubject: subject,
	}

	// The durable may already exist with older settings.
	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("ensure consumer %s: %w", durable, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", subject, err)
	}

	t.subMu.Lock()
	t.subs = append(t.subs, sub)
	t.subMu.Unlock()

	out := make(chan *message.Message)
	t.wg.Add(1)
	go t.pump(ctx, sub, topic, out)
	return out, nil
}

// pump fetches batches from the pull consumer and relays them until the
// context ends or the transport closes.
func (t *Transport) pump(ctx context.Context, sub *nats.Subscription, topic string, out chan<- *message.Message) {
	defer t.wg.Done()
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		batch, err := sub.Fetch(fetchBatchSize, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || t.isClosed() {
				continue
			}
			t.logError("fetch messages", err, watermill.LogFields{"topic": topic})
			continue
		}

		for _, natsMsg := range batch {
			if !t.deliver(ctx, natsMsg, out) {
				return
			}
		}
	}
}

// deliver hands one message to the subscriber and relays the ack decision
// back to JetStream. Returns false when the pump should stop.
func (t *Transport) deliver(ctx context.Context, natsMsg *nats.Msg, out chan<- *message.Message) bool {
	msg := decode(natsMsg)

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}

	select {
	case <-msg.Acked():
		if err := natsMsg.Ack(); err != nil {
			t.logError("ack message", err, nil)
		}
	case <-msg.Nacked():
		if err := natsMsg.Nak(); err != nil {
			t.logError("nak message", err, nil)
		}
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}
	return true
}

func (t *Transport) subjectFor(topic string) string {
	return t.config.StreamName + "." + topic
}

// durableFor derives the durable consumer name for a topic.
// Durable names must not contain dots.
func (t *Transport) durableFor(topic string) string {
	return "consumer_" + strings.ReplaceAll(topic, ".", "_")
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Transport) closedErr() error {
	if t.isClosed() {
		return fmt.Errorf("jetstream transport is closed")
	}
	return nil
}

func (t *Transport) logError(msg string, err error, fields watermill.LogFields) {
	if t.logger != nil {
		t.logger.Error(msg, err, fields)
	}
}

// Close unsubscribes every pull consumer, waits for the pumps to stop and
// closes the connection. Safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.subMu.Lock()
		for _, sub := range t.subs {
			_ = sub.Unsubscribe()
		}
		t.subs = nil
		t.subMu.Unlock()
	})

	t.wg.Wait()
	t.nc.Close()
	return nil
}

// GetCapabilities reports the backend's feature sheet.
func (t *Transport) GetCapabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
