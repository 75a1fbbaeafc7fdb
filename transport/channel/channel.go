// Package channel provides an in-memory Go channel transport for relayflow,
// suited to tests and single-process demos.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/relayflow/transport"
)

// TransportName keys this backend in the transport registry.
const TransportName = "channel"

// Factory builds the shared pub/sub. Tests replace it to inspect the
// config it is handed.
var Factory = newPubSub

func newPubSub(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the backend to the default registry under TransportName.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. One in-process pub/sub serves
// the queue and fan-out legs, so a producer and consumer wired in the same
// process exchange messages without any broker. Persistent delivery hands
// messages published before a subscriber attached to that subscriber, so the
// producer may start ahead of the consumer.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer: 64,
		Persistent:          true,
	}, logger)
	return transport.Transport{
		QueuePublisher:  pub,
		QueueSubscriber: sub,
		FanoutPublisher: pub,
	}, nil
}

// Capabilities reports the backend's feature sheet.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
