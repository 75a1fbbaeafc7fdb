package transport

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relayflow/internal/relay/config"
	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	newtransport "github.com/drblury/relayflow/transport"
)

func TestFactoryBuildsChannelTransport(t *testing.T) {
	cfg := &config.Config{Transport: "channel"}

	tr, err := DefaultFactory().Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)

	assert.NotNil(t, tr.QueuePublisher)
	assert.NotNil(t, tr.QueueSubscriber)
	assert.NotNil(t, tr.FanoutPublisher)
	require.NoError(t, tr.Close())
}

func TestFactoryRejectsNilConfig(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), nil, watermill.NopLogger{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{Transport: "carrier-pigeon"}

	_, err := DefaultFactory().Build(context.Background(), cfg, watermill.NopLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestBlankImportsRegisterEveryBackend(t *testing.T) {
	for _, name := range []string{
		"aws", "channel", "http", "io", "kafka", "nats",
		"nats-jetstream", "postgres", "postgresql", "rabbitmq", "sqlite",
	} {
		assert.True(t, newtransport.DefaultRegistry.Has(name), name)
	}

	assert.Equal(t, "channel", Capabilities("channel").Name)
}
