// Package relayflow relays schemaless JSON submissions through a durable
// queue to a fan-out topic, riding Watermill publishers and subscribers on
// every leg. Config names the transport to run on (Kafka, RabbitMQ, AWS
// SNS/SQS, NATS, HTTP, I/O, SQLite, PostgreSQL, or Go channels); relayflow
// connects the queue and fan-out legs and wires the producer, the batching
// consumer, and the ops endpoints into one Service.
//
// The producer side validates inbound bodies against a presence-of-key
// contract, normalizes them into envelopes (message, timestamp, request_id,
// source, plus optional priority and category carried verbatim), and submits
// them to the queue. The consumer side drains the queue into bounded batches,
// wraps every delivery into a processed record, renders it as a multi-channel
// notification (default, email, sms), and republishes to the fan-out topic
// with a per-item tally: one broken delivery fails alone, never its batch.
// Filling Config, creating a Service, and calling Start is all a minimal
// deployment needs; the README carries a runnable quick start.
//
// # Transports
//
// Ten transports are built in:
//   - channel: in-process Go channels, no broker required
//   - kafka: partitioned streaming behind a consumer group
//   - rabbitmq: durable AMQP queues and pub/sub exchanges
//   - aws: SQS queues with SNS fan-out, LocalStack-friendly
//   - nats: lightweight at-most-once pub/sub
//   - nats-jetstream: NATS with at-least-once delivery
//   - http: webhook POSTs out, an HTTP listener in
//   - io: append-only NDJSON journal on disk
//   - sqlite: embedded persistent queue with depth introspection
//   - postgres: PostgreSQL queue claimed via SKIP LOCKED
//
// Durability, ordering, and redelivery are properties of the backing
// services; the pipeline acks and nacks but never retries on its own.
// Capabilities describes per-backend guarantees so operators can pick a
// transport that matches their delivery requirements.
//
// # Observability
//
// Pipeline stats collect per-role counters, latency percentiles, throughput,
// error categories, resource usage, and a queue lag estimate, served as JSON
// on the stats API. Prometheus instruments cover accepted and rejected
// submissions, relayed items, batch flushes, and queue lag. Hooks expose
// item and batch completion for custom logging, metrics, and alerting.
//
// ServiceDependencies opens the seams for callers who need more: bring your
// own Hooks, ErrorClassifier, metrics Registerer, or an entire
// TransportFactory to plug in a broker of your own.
package relayflow
