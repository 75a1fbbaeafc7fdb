package sqlite

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relayflow/transport"
	"github.com/drblury/relayflow/transport/transporttest"
)

// newTestTransport opens an in-memory queue with a fast poll interval.
func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := New(Config{
		FilePath:        ":memory:",
		PollInterval:    50 * time.Millisecond,
		MaxRedeliveries: 3,
	}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRegistryWiring(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	require.Equal(t, "sqlite", TransportName)
	assert.Equal(t, transport.SQLiteCapabilities, Capabilities())

	caps := transport.GetCapabilities(TransportName)
	assert.True(t, caps.DurableQueue)
	assert.True(t, caps.SupportsAck)
	assert.True(t, caps.SupportsNack)
	assert.False(t, caps.SupportsFanout)
}

func TestConfigNormalized(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "zero config",
			in:   Config{},
			want: Config{
				FilePath:     "relayflow_queue.db",
				PollInterval: DefaultPollInterval,
				LockTimeout:  DefaultLockTimeout,
				// MaxRedeliveries 0 is a valid setting and stays 0.
				MaxRedeliveries: 0,
			},
		},
		{
			name: "custom values preserved",
			in: Config{
				FilePath:        "custom.db",
				PollInterval:    200 * time.Millisecond,
				MaxRedeliveries: 5,
				LockTimeout:     time.Minute,
			},
			want: Config{
				FilePath:        "custom.db",
				PollInterval:    200 * time.Millisecond,
				MaxRedeliveries: 5,
				LockTimeout:     time.Minute,
			},
		},
		{
			name: "negative values get defaults",
			in:   Config{PollInterval: -1, MaxRedeliveries: -1, LockTimeout: -1},
			want: Config{
				FilePath:        "relayflow_queue.db",
				PollInterval:    DefaultPollInterval,
				MaxRedeliveries: DefaultMaxRedeliveries,
				LockTimeout:     DefaultLockTimeout,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.normalized())
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("in-memory database", func(t *testing.T) {
		tr, err := New(Config{FilePath: ":memory:"}, watermill.NopLogger{})
		require.NoError(t, err)
		require.NotNil(t, tr)
		require.NoError(t, tr.Close())
	})

	t.Run("file database", func(t *testing.T) {
		file := fmt.Sprintf("test_sqlite_%d.db", time.Now().UnixNano())
		defer os.Remove(file)

		tr, err := New(Config{FilePath: file}, watermill.NopLogger{})
		require.NoError(t, err)
		require.NoError(t, tr.Close())
	})

	t.Run("creates the messages table", func(t *testing.T) {
		tr := newTestTransport(t)

		var n int
		err := tr.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='messages'`).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestBuild(t *testing.T) {
	cfg := transporttest.Config{Transport: TransportName, SQLiteFile: ":memory:"}
	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)

	assert.NotNil(t, tr.QueuePublisher)
	assert.NotNil(t, tr.QueueSubscriber)
	assert.NotNil(t, tr.FanoutPublisher)

	// Queue and fan-out share the one store.
	assert.Equal(t, tr.QueuePublisher, tr.FanoutPublisher)

	require.NoError(t, tr.Close())
}

func TestTransport_Publish(t *testing.T) {
	t.Run("single message", func(t *testing.T) {
		tr := newTestTransport(t)

		err := tr.Publish("orders.queue", message.NewMessage("pub-1", []byte(`{"message": "hello"}`)))
		require.NoError(t, err)

		n, err := tr.GetPendingCount("orders.queue")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("batch of messages", func(t *testing.T) {
		tr := newTestTransport(t)

		err := tr.Publish("orders.notifications",
			message.NewMessage("pub-2", []byte("first")),
			message.NewMessage("pub-3", []byte("second")),
		)
		require.NoError(t, err)

		n, err := tr.GetPendingCount("orders.notifications")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("rejected after close", func(t *testing.T) {
		tr := newTestTransport(t)
		require.NoError(t, tr.Close())

		err := tr.Publish("orders.queue", message.NewMessage("pub-4", []byte("late")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closed")
	})
}

func TestTransport_Subscribe(t *testing.T) {
	t.Run("delivers published message", func(t *testing.T) {
		tr := newTestTransport(t)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		deliveries, err := tr.Subscribe(ctx, "sub.topic")
		require.NoError(t, err)

		require.NoError(t, tr.Publish("sub.topic", message.NewMessage("sub-1", []byte(`{"message": "hi"}`))))

		select {
		case msg := <-deliveries:
			assert.Equal(t, "sub-1", msg.UUID)
			assert.Equal(t, []byte(`{"message": "hi"}`), []byte(msg.Payload))
			msg.Ack()
		case <-ctx.Done():
			t.Fatal("timed out waiting for delivery")
		}
	})

	t.Run("rejected after close", func(t *testing.T) {
		tr := newTestTransport(t)
		require.NoError(t, tr.Close())

		_, err := tr.Subscribe(context.Background(), "sub.topic")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closed")
	})
}

func TestTransport_Close(t *testing.T) {
	tr, err := New(Config{FilePath: ":memory:"}, watermill.NopLogger{})
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	// A second Close is a no-op.
	require.NoError(t, tr.Close())
}

func TestTransport_GetCapabilities(t *testing.T) {
	tr := newTestTransport(t)
	assert.Equal(t, transport.SQLiteCapabilities, tr.GetCapabilities())
}

func TestTransport_AckRemovesMessage(t *testing.T) {
	tr := newTestTransport(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deliveries, err := tr.Subscribe(ctx, "ack.topic")
	require.NoError(t, err)

	require.NoError(t, tr.Publish("ack.topic", message.NewMessage("ack-1", []byte("done"))))

	select {
	case msg := <-deliveries:
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}

	// The delete runs after the ack is observed.
	assert.Eventually(t, func() bool {
		n, err := tr.GetPendingCount("ack.topic")
		return err == nil && n == 0
	}, time.Second, 20*time.Millisecond)
}

func TestTransport_NackParksMessage(t *testing.T) {
	// With a zero redelivery budget the first nack parks the message.
	tr, err := New(Config{
		FilePath:        ":memory:",
		PollInterval:    50 * time.Millisecond,
		MaxRedeliveries: 0,
	}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deliveries, err := tr.Subscribe(ctx, "nack.topic")
	require.NoError(t, err)

	require.NoError(t, tr.Publish("nack.topic", message.NewMessage("nack-1", []byte("bad"))))

	select {
	case msg := <-deliveries:
		msg.Nack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}

	assert.Eventually(t, func() bool {
		failed, err := tr.GetFailedCount("nack.topic")
		return err == nil && failed == 1
	}, time.Second, 20*time.Millisecond)

	pending, err := tr.GetPendingCount("nack.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestTransport_RequeueFailed(t *testing.T) {
	tr := newTestTransport(t)

	for i := 0; i < 3; i++ {
		_, err := tr.db.Exec(`
			INSERT INTO messages (uuid, topic, payload, metadata, status, failed_at)
			VALUES (?, 'requeue.topic', 'payload', '{}', 'failed', CURRENT_TIMESTAMP)`,
			fmt.Sprintf("requeue-%d", i))
		require.NoError(t, err)
	}

	requeued, err := tr.RequeueFailed("requeue.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(3), requeued)

	pending, err := tr.GetPendingCount("requeue.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)

	failed, err := tr.GetFailedCount("requeue.topic")
	require.NoError(t, err)
	assert.Equal(t, int64(0), failed)
}
