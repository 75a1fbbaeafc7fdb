// Package rabbitmq provides a RabbitMQ/AMQP transport for relayflow.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relayflow/transport"
)

// TransportName keys this backend in the transport registry.
const TransportName = "rabbitmq"

// Factory seams. Tests swap these to run without a broker.
var (
	ConnectionFactory = newConnection
	PublisherFactory  = newPublisher
	SubscriberFactory = newSubscriber
)

func newConnection(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

func newPublisher(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

func newSubscriber(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register adds the backend to the default registry under TransportName.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a RabbitMQ transport. All three legs share one connection:
// the queue legs speak to a durable queue drained by competing consumers,
// the fan-out leg to a durable pub/sub exchange that copies each record to
// every bound subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	queueCfg := amqp.NewDurableQueueConfig(url)
	fanoutCfg := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName)

	queuePub, err := PublisherFactory(queueCfg, logger, conn)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create queue publisher: %w", err)
	}
	queueSub, err := SubscriberFactory(queueCfg, logger, conn)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create queue subscriber: %w", err)
	}
	fanoutPub, err := PublisherFactory(fanoutCfg, logger, conn)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create fan-out publisher: %w", err)
	}

	return transport.Transport{
		QueuePublisher:  queuePub,
		QueueSubscriber: queueSub,
		FanoutPublisher: fanoutPub,
	}, nil
}

// Capabilities reports the backend's feature sheet.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
