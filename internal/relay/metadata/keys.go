package metadata

// Tag names attached to queue and fan-out submissions. The queue tags mirror
// envelope fields so queue-side filters can match without deserializing the
// body; the fan-out tags mirror the processed record the same way. Casing
// follows the wire contract, not Go or snake_case convention.
const (
	// KeyRequestID carries the envelope's request_id on the queue leg.
	KeyRequestID = "RequestId"

	// KeyTimestamp carries the envelope's timestamp on the queue leg.
	KeyTimestamp = "Timestamp"

	// KeyMessageID carries the processed item's queue identifier on the
	// fan-out leg.
	KeyMessageID = "MessageId"

	// KeyProcessingTime carries the record's processed_at timestamp on the
	// fan-out leg.
	KeyProcessingTime = "ProcessingTime"
)
