// Package kafka provides a Kafka transport for relayflow.
package kafka

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relayflow/transport"
)

// TransportName keys this backend in the transport registry.
const TransportName = "kafka"

// Factory seams. Tests swap these to run without brokers.
var (
	PublisherFactory  = newPublisher
	SubscriberFactory = newSubscriber
)

func newPublisher(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

func newSubscriber(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the backend to the default registry under TransportName.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a Kafka transport. Queue and fan-out legs are both plain
// topics on the same brokers, so a single publisher serves them. Queue
// semantics come from the consumer group: competing members of the group
// split the partitions between them.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()

	pub, err := PublisherFactory(kafka.PublisherConfig{
		Brokers:     brokers,
		Marshaler:   kafka.DefaultMarshaler{},
		OTELEnabled: true,
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create Kafka publisher: %w", err)
	}

	sub, err := SubscriberFactory(kafka.SubscriberConfig{
		Brokers:       brokers,
		Unmarshaler:   kafka.DefaultMarshaler{},
		ConsumerGroup: cfg.GetKafkaConsumerGroup(),
		OTELEnabled:   true,
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create Kafka subscriber: %w", err)
	}

	return transport.Transport{
		QueuePublisher:  pub,
		QueueSubscriber: sub,
		FanoutPublisher: pub,
	}, nil
}

// Capabilities reports the backend's feature sheet.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
