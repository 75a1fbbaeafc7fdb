/*
Package relay implements the message relay pipeline behind the relayflow
public API.

A relay moves submissions from an ingest edge to subscribed channels in
three stages:

	ingest API -> Producer -> durable queue -> Runner + Processor -> fan-out topic

The Producer (producer.go) validates an inbound body, normalizes it into an
envelope and submits it to the durable queue. Rejections follow the HTTP
contract of the ingest API: malformed JSON and missing required fields
answer 400, submission failures answer 500.

The Runner (runner.go) drains the queue subscription into bounded batches
and hands each batch to the Processor (consumer.go), which renders every
envelope into a processed record and republishes it as channel
notifications on the fan-out topic. Outcomes are tracked per item, so one
broken delivery is counted and reported without failing its batch, and a
batch is acked only after the processor returns.

Service (service.go) owns the wiring: it builds the transport trio (queue
publisher, queue subscriber, fan-out publisher) through the transport
factory, connects the pipeline stages, runs the ingest and ops HTTP
servers, and sequences shutdown. Observability lives next to it in
stats.go and resources.go (per-role latency percentiles, throughput,
error classes, resource samples and queue lag), metrics.go (Prometheus
instruments) and statsapi.go (the JSON stats endpoints). Lifecycle hooks
(hooks.go) expose item and batch completion to callers, with prebuilt
logging, metrics and alerting variants.

The sub-packages carry the supporting pieces: config holds the validated
service configuration, envelope the inbound parsing, record the processed
records and notification rendering, ids the ULID minting, jsoncodec the
JSON wire codec, and logging, metadata and errors the remaining shared
plumbing. Transports come from the top-level transport packages and their
registry.

Typical use goes through the public relayflow package:

	cfg := &relayflow.Config{
		Transport:    "kafka",
		KafkaBrokers: []string{"localhost:9092"},
		IngestQueue:  "relay.queue",
		FanoutTopic:  "relay.notifications",
	}

	svc, err := relayflow.NewService(cfg, logger, ctx, relayflow.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.Start(ctx)
*/
package relay
