// Package io provides a file-backed transport for relayflow.
//
// Published messages append to an NDJSON journal; subscribers tail the
// journal and filter by topic. Queue and fan-out legs share the same
// journal file, so every subscriber sees every line. Useful for local
// development and for replaying captured traffic.
package io

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relayflow/internal/relay/jsoncodec"
	"github.com/drblury/relayflow/transport"
)

// TransportName keys this backend in the transport registry.
const TransportName = "io"

// DefaultFilePath is the journal file used if none is configured.
const DefaultFilePath = "relay.ndjson"

// pollInterval is how long a tailing subscriber waits at EOF before
// re-reading the journal.
const pollInterval = 50 * time.Millisecond

// PublisherFactory and SubscriberFactory build the journal ends; tests
// point them at their own doubles.
var (
	PublisherFactory  = newJournalWriter
	SubscriberFactory = newJournalTail
)

func newJournalWriter(path string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{path: path, logger: logger}, nil
}

func newJournalTail(path string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{path: path, logger: logger}, nil
}

func init() {
	Register()
}

// Register adds the backend to the default registry under TransportName.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new I/O transport. One journal file carries both the
// queue and fan-out legs; topics are distinguished per line.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	path := cfg.GetIOFile()
	if path == "" {
		path = DefaultFilePath
	}

	pub, err := PublisherFactory(path, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	sub, err := SubscriberFactory(path, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		QueuePublisher:  pub,
		QueueSubscriber: sub,
		FanoutPublisher: pub,
	}, nil
}

// Capabilities reports the backend's feature sheet.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// journalLine is one NDJSON record. The JSON keys are the journal's wire
// contract; readers written against old journals must keep parsing.
type journalLine struct {
	ID    string            `json:"uuid"`
	Topic string            `json:"topic"`
	Meta  map[string]string `json:"metadata"`
	Body  []byte            `json:"payload"`
}

// Publisher appends messages to the journal file. The file opens lazily on
// the first publish and stays open until Close.
type Publisher struct {
	path   string
	logger watermill.LoggerAdapter

	mu   sync.Mutex
	file *os.File
}

// Publish writes messages to the journal, one JSON line per message.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		p.file = f
	}

	buf := bufio.NewWriter(p.file)
	for _, msg := range messages {
		line := journalLine{ID: msg.UUID, Topic: topic, Meta: msg.Metadata, Body: msg.Payload}
		if err := jsoncodec.Encode(buf, line); err != nil {
			return err
		}
	}
	return buf.Flush()
}

// Close releases the journal handle. A publisher that never published has
// nothing to release.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// Subscriber tails the journal file.
type Subscriber struct {
	path   string
	logger watermill.LoggerAdapter
}

// Subscribe reads journal lines for the given topic from the start of the
// file, then follows the file as new lines append.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out := make(chan *message.Message)
	go s.tail(ctx, topic, out)
	return out, nil
}

// Close is a no-op; tails stop when their subscribe context ends.
func (s *Subscriber) Close() error {
	return nil
}

// tail streams matching journal lines into out until ctx ends. A read that
// hits EOF mid-line keeps the partial bytes and resumes once the line is
// complete, so a concurrent appender never produces a torn entry.
func (s *Subscriber) tail(ctx context.Context, topic string, out chan<- *message.Message) {
	defer close(out)

	f, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		s.logger.Error("Failed to open journal", err, nil)
		return
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var pending []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunk, err := reader.ReadBytes('\n')
		pending = append(pending, chunk...)

		switch {
		case err == nil:
			line := pending
			pending = nil
			if !s.deliverLine(ctx, out, line, topic) {
				return
			}
		case errors.Is(err, io.EOF):
			// The reader retries the underlying file on the next read,
			// picking up lines appended in the meantime.
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
		default:
			s.logger.Error("Failed to read journal", err, nil)
			return
		}
	}
}

func (s *Subscriber) deliverLine(ctx context.Context, out chan<- *message.Message, raw []byte, topic string) bool {
	var line journalLine
	if err := jsoncodec.Unmarshal(raw, &line); err != nil {
		s.logger.Error("Failed to parse journal line", err, nil)
		return true
	}
	if line.Topic != topic {
		return true
	}

	msg := message.NewMessage(line.ID, line.Body)
	msg.Metadata = line.Meta

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	}

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Debug("Journal line nacked, nothing to redeliver", watermill.LogFields{"message_id": msg.UUID})
	case <-ctx.Done():
		return false
	}
	return true
}
