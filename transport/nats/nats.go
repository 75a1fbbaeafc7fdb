// Package nats provides a NATS Core transport for relayflow.
package nats

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relayflow/transport"
)

// TransportName keys this backend in the transport registry.
const TransportName = "nats"

// queueGroupPrefix makes subscribers on the same topic compete for
// messages instead of each receiving a copy.
const queueGroupPrefix = "relayflow"

// Factory seams. Tests swap these to run without a server.
var (
	PublisherFactory  = newPublisher
	SubscriberFactory = newSubscriber
)

func newPublisher(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

func newSubscriber(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the backend to the default registry under TransportName.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a NATS Core transport. Delivery is at-most-once and queued
// messages do not survive a restart; use nats-jetstream when the relay
// needs a durable queue.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}

	// The library defaults to JetStream when the server offers it. This
	// transport is the plain core one, so pin it off.
	coreOnly := nats.JetStreamConfig{Disabled: true}

	pub, err := PublisherFactory(nats.PublisherConfig{
		URL:       url,
		Marshaler: marshaler,
		JetStream: coreOnly,
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create NATS publisher: %w", err)
	}

	sub, err := SubscriberFactory(nats.SubscriberConfig{
		URL:              url,
		Unmarshaler:      marshaler,
		QueueGroupPrefix: queueGroupPrefix,
		JetStream:        coreOnly,
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create NATS subscriber: %w", err)
	}

	return transport.Transport{
		QueuePublisher:  pub,
		QueueSubscriber: sub,
		FanoutPublisher: pub,
	}, nil
}

// Capabilities reports the backend's feature sheet.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
