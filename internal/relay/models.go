package relay

// Request is one inbound submission presented to the producer: the raw body
// bytes and the correlation id carried by the caller. An empty body is a
// valid submission shell; validation decides its fate.
type Request struct {
	Body      []byte
	RequestID string
}

// Response is the producer's verdict on one submission, fully formed for an
// HTTP surface. Body holds an Ack on acceptance or an ErrorBody on
// rejection; the map carries every header the contract requires.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       any
}

// Ack confirms an accepted submission. MessageID is the queue message id
// stamped at submission time and Timestamp echoes the envelope timestamp.
type Ack struct {
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
}

// ErrorBody carries the client-facing description of a rejected submission.
// Internal failure detail stays in the logs.
type ErrorBody struct {
	Error string `json:"error"`
}

// QueueRecord is one queue delivery handed to the processor: the
// queue-assigned message id and the payload exactly as delivered.
type QueueRecord struct {
	MessageID string `json:"messageId"`
	Body      string `json:"body"`
}

// BatchEvent groups the deliveries of one processor invocation in delivery
// order.
type BatchEvent struct {
	Records []QueueRecord `json:"Records"`
}

// Item outcomes reported in batch results.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ProcessedMessage records one successfully relayed delivery. SNSMessageID
// is the fan-out message id; the wire name matches the primary SNS
// deployment and is kept across backends.
type ProcessedMessage struct {
	MessageID    string `json:"message_id"`
	SNSMessageID string `json:"sns_message_id"`
	Status       string `json:"status"`
}

// FailedMessage records one failed delivery together with the failure's own
// description.
type FailedMessage struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
	Status    string `json:"status"`
}

// BatchResult tallies one processor invocation. Both message lists marshal
// as [] when empty, never as null.
type BatchResult struct {
	ProcessedCount    int                `json:"processed_count"`
	FailedCount       int                `json:"failed_count"`
	ProcessedMessages []ProcessedMessage `json:"processed_messages"`
	FailedMessages    []FailedMessage    `json:"failed_messages"`
}

// NewBatchResult returns an empty tally whose lists are non-nil.
func NewBatchResult() BatchResult {
	return BatchResult{
		ProcessedMessages: []ProcessedMessage{},
		FailedMessages:    []FailedMessage{},
	}
}

// BatchResponse is the processor's verdict for one batch. StatusCode stays
// 200 as long as the batch itself could run; item failures live inside the
// result.
type BatchResponse struct {
	StatusCode int         `json:"statusCode"`
	Body       BatchResult `json:"body"`
}
