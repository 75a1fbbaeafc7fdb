package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/relayflow/internal/relay/config"
	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	newtransport "github.com/drblury/relayflow/transport"

	// Blank imports put every backend into the default registry.
	_ "github.com/drblury/relayflow/transport/aws"
	_ "github.com/drblury/relayflow/transport/channel"
	_ "github.com/drblury/relayflow/transport/http"
	_ "github.com/drblury/relayflow/transport/io"
	_ "github.com/drblury/relayflow/transport/jetstream"
	_ "github.com/drblury/relayflow/transport/kafka"
	_ "github.com/drblury/relayflow/transport/nats"
	_ "github.com/drblury/relayflow/transport/postgres"
	_ "github.com/drblury/relayflow/transport/rabbitmq"
	_ "github.com/drblury/relayflow/transport/sqlite"
)

// Transport is the trio of legs the relay pipeline runs on: the durable queue
// publisher, the queue subscription, and the fan-out topic publisher.
type Transport = newtransport.Transport

// Factory abstracts how relayflow initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory hands out the built-in factory, which resolves backends
// through the registry.
func DefaultFactory() Factory {
	return registryFactory{}
}

// registryFactory looks the configured backend up in the registry populated
// by the blank imports above.
type registryFactory struct{}

func (registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}
	return newtransport.Build(ctx, conf, logger)
}

// Capabilities reports the registered capabilities of the named transport.
func Capabilities(name string) newtransport.Capabilities {
	return newtransport.DefaultRegistry.GetCapabilities(name)
}
