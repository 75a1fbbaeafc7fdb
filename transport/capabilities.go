package transport

// Capabilities is a transport's advertised feature sheet. Callers consult
// it at runtime to pick redelivery and fan-out strategies.
type Capabilities struct {
	// Name identifies the transport in logs and lookups.
	Name string `json:"name"`

	// DurableQueue indicates queued messages survive a process restart.
	// When false, in-flight messages are lost with the process.
	DurableQueue bool `json:"durable_queue"`

	// SupportsOrdering is set when messages within one partition or stream
	// arrive in publish order.
	SupportsOrdering bool `json:"supports_ordering"`

	// SupportsAck marks transports with explicit acknowledgment.
	SupportsAck bool `json:"supports_ack"`

	// SupportsNack marks transports that redeliver after a negative ack.
	SupportsNack bool `json:"supports_nack"`

	// SupportsBatching is set when the transport can move several messages
	// in one call.
	SupportsBatching bool `json:"supports_batching"`

	// SupportsFanout indicates a published message reaches every subscriber of
	// the topic, not just one competing consumer.
	SupportsFanout bool `json:"supports_fanout"`

	// MaxMessageSize limits one message's size in bytes; 0 means no known
	// limit.
	MaxMessageSize int64 `json:"max_message_size"`
}

// SupportsReliableDelivery reports whether delivery is at-least-once, which
// takes both ack and nack.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// RequiresExternalRedelivery returns true if nacked batches cannot be redelivered
// by the transport itself and recovery depends on the upstream writer.
func (c Capabilities) RequiresExternalRedelivery() bool {
	return !c.SupportsNack
}

// Capability sheets for the built-in transports.
var (
	// ChannelCapabilities describes the in-process Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		DurableQueue:     false,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsBatching: false,
		SupportsFanout:   true,
	}

	// KafkaCapabilities describes the Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		DurableQueue:     true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     false,
		SupportsBatching: true,
		SupportsFanout:   true,
		MaxMessageSize:   1048576, // broker default of 1 MiB
	}

	// RabbitMQCapabilities describes the RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		DurableQueue:     true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsBatching: false,
		SupportsFanout:   true,
	}

	// NATSCapabilities describes the core NATS transport.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		DurableQueue:     false,
		SupportsOrdering: false,
		SupportsAck:      false,
		SupportsNack:     false,
		SupportsBatching: false,
		SupportsFanout:   true,
		MaxMessageSize:   1048576, // server max_payload default of 1 MiB
	}

	// NATSJetStreamCapabilities describes the NATS JetStream transport.
	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		DurableQueue:     true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsBatching: true,
		SupportsFanout:   true,
		MaxMessageSize:   1048576, // server max_payload default of 1 MiB
	}

	// AWSCapabilities describes the AWS SQS/SNS transport.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		DurableQueue:     true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsBatching: true,
		SupportsFanout:   true,
		MaxMessageSize:   262144, // SQS cap of 256 KiB
	}

	// HTTPCapabilities describes the webhook transport.
	HTTPCapabilities = Capabilities{
		Name:             "http",
		DurableQueue:     false,
		SupportsOrdering: false,
		SupportsAck:      false,
		SupportsNack:     false,
		SupportsBatching: false,
		SupportsFanout:   false,
	}

	// IOCapabilities describes the file and stream transport.
	IOCapabilities = Capabilities{
		Name:             "io",
		DurableQueue:     true,
		SupportsOrdering: true,
		SupportsAck:      false,
		SupportsNack:     false,
		SupportsBatching: false,
		SupportsFanout:   true,
	}

	// SQLiteCapabilities describes the SQLite-backed transport.
	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		DurableQueue:     true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsBatching: true,
		SupportsFanout:   false,
	}

	// PostgresCapabilities describes the PostgreSQL-backed transport.
	PostgresCapabilities = Capabilities{
		Name:             "postgres",
		DurableQueue:     true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsBatching: true,
		SupportsFanout:   false,
	}
)

// GetCapabilities looks a transport's sheet up in the default registry.
// Unknown names come back as an otherwise zero sheet carrying just the name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
