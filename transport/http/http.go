// Package http provides an HTTP transport for relayflow. The publisher
// POSTs each message to a webhook URL derived from the topic, the
// subscriber receives messages as inbound HTTP requests.
package http

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relayflow/transport"
)

// TransportName keys this backend in the transport registry.
const TransportName = "http"

// Factory seams. Tests swap these to run without binding a port.
var (
	PublisherFactory  = newPublisher
	SubscriberFactory = newSubscriber
)

func newPublisher(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(cfg, logger)
}

func newSubscriber(addr string, cfg http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, cfg, logger)
}

func init() {
	Register()
}

// Register adds the backend to the default registry under TransportName.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// webhookMarshaler appends the topic to the configured base URL and hands
// the request building to the library marshaler.
func webhookMarshaler(baseURL string) http.MarshalMessageFunc {
	return func(topic string, msg *message.Message) (*nethttp.Request, error) {
		return http.DefaultMarshalMessageFunc(baseURL+topic, msg)
	}
}

// Build creates an HTTP transport. Outbound messages become POSTs against
// the publisher URL, inbound ones arrive on the subscriber's listen address.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	addr := cfg.GetHTTPServerAddress()

	pub, err := PublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: webhookMarshaler(cfg.GetHTTPPublisherURL()),
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create HTTP publisher: %w", err)
	}

	sub, err := SubscriberFactory(addr, http.SubscriberConfig{
		UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create HTTP subscriber: %w", err)
	}

	// The factory may hand back a test double; only the real subscriber
	// carries a server to start.
	if s, ok := sub.(*http.Subscriber); ok {
		go func() {
			if err := s.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				logger.Error("HTTP subscriber server stopped", err, watermill.LogFields{"addr": addr})
			}
		}()
	}

	return transport.Transport{
		QueuePublisher:  pub,
		QueueSubscriber: sub,
		FanoutPublisher: pub,
	}, nil
}

// Capabilities reports the backend's feature sheet.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
