// Package transport defines the core interfaces and types for relayflow
// transports. Each transport implementation (aws, kafka, rabbitmq, etc.)
// lives in its own sub-package and registers itself with the transport
// registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport bundles the three legs of the relay pipeline: the durable queue
// the producer writes to, the subscription the consumer drains, and the
// fan-out topic processed records are republished to. Backends where queue
// and topic are the same facility reuse one client for several legs.
type Transport struct {
	QueuePublisher  message.Publisher
	QueueSubscriber message.Subscriber
	FanoutPublisher message.Publisher
}

// Close closes every distinct client held by the transport. Legs sharing a
// client are closed once.
func (t Transport) Close() error {
	seen := make(map[interface{ Close() error }]bool, 3)
	var errs []error
	for _, c := range []interface{ Close() error }{t.QueuePublisher, t.QueueSubscriber, t.FanoutPublisher} {
		if c == nil || seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Builder constructs a backend's transport from config. Every backend
// package hands one to Register in its init.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config is the view of the service configuration a transport sees. Keeping
// it an interface here lets backends read their settings without importing
// the config package.
type Config interface {
	// GetTransport names the backend to build.
	GetTransport() string

	// Broker backends.
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string
	GetRabbitMQURL() string
	GetNATSURL() string
	GetJetStreamStream() string

	// Webhook legs.
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// File and database stores.
	GetIOFile() string
	GetSQLiteFile() string
	GetPostgresURL() string

	// SQS/SNS clients.
	GetAWSRegion() string
	GetAWSEndpoint() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
}

// CapabilitiesProvider is implemented by backends that advertise a
// capability sheet.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// QueueIntrospector is implemented by backends that can count their backlog,
// such as the SQL-backed queues.
type QueueIntrospector interface {
	GetPendingCount(topic string) (int64, error)
}
