// Package record builds the processed record the consumer emits for every
// queue delivery and renders the per-channel notification forms submitted
// to the fan-out topic.
package record

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/drblury/relayflow/internal/relay/envelope"
	"github.com/drblury/relayflow/internal/relay/jsoncodec"
)

// ProcessorName tags every record with the component that produced it.
const ProcessorName = "relay-consumer"

// SchemaVersion is the record schema revision.
const SchemaVersion = "1.0"

// StatusCompleted is the only processing status a constructed record carries.
// Records are built after processing succeeds, never observed mid-flight.
const StatusCompleted = "completed"

const (
	emailPrefix  = "Message processed: "
	smsPrefix    = "Processed: "
	smsTextLimit = 50
	ellipsis     = "..."

	// fallbackText stands in when the envelope carries no message key.
	fallbackText = "No message"
)

// Record wraps one received envelope with processing provenance. The
// envelope bytes are carried verbatim under original_message so downstream
// subscribers see exactly what crossed the queue.
type Record struct {
	OriginalMessage  json.RawMessage `json:"original_message"`
	ProcessedAt      string          `json:"processed_at"`
	MessageID        string          `json:"message_id"`
	Processor        string          `json:"processor"`
	Version          string          `json:"version"`
	PriorityLevel    json.RawMessage `json:"priority_level,omitempty"`
	Category         json.RawMessage `json:"category,omitempty"`
	ProcessingStatus string          `json:"processing_status"`
}

// Build decodes one queue delivery body and wraps it into a Record.
// messageID is the queue-assigned identifier of the delivery; it is carried,
// never generated here. priority and category are copied from the envelope
// only when the envelope carries those keys, a present-but-null value stays
// null. Decode failures surface as MalformedInputError.
func Build(body []byte, messageID string, at time.Time) (Record, error) {
	parsed, err := envelope.ParseObject(body)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		OriginalMessage:  json.RawMessage(bytes.Clone(bytes.TrimSpace(body))),
		ProcessedAt:      at.UTC().Format(time.RFC3339Nano),
		MessageID:        messageID,
		Processor:        ProcessorName,
		Version:          SchemaVersion,
		ProcessingStatus: StatusCompleted,
	}
	if raw := parsed.Raw(envelope.FieldPriority); raw != nil {
		rec.PriorityLevel = raw
	}
	if raw := parsed.Raw(envelope.FieldCategory); raw != nil {
		rec.Category = raw
	}

	return rec, nil
}

// Encode serializes the record for the notification's structured form.
func (r Record) Encode() ([]byte, error) {
	return jsoncodec.Marshal(r)
}

// Notification is one fan-out submission rendered three ways, keyed by
// delivery channel. Default carries the serialized record, Email a short
// human-readable line, SMS the same line truncated for constrained channels.
type Notification struct {
	Default string `json:"default"`
	Email   string `json:"email"`
	SMS     string `json:"sms"`
}

// Notification renders the three channel representations for the record.
// The SMS form keeps the first 50 code points of the message text and always
// appends an ellipsis marker.
func (r Record) Notification() (Notification, error) {
	structured, err := r.Encode()
	if err != nil {
		return Notification{}, err
	}

	text := messageText(r.OriginalMessage)

	return Notification{
		Default: string(structured),
		Email:   emailPrefix + text,
		SMS:     smsPrefix + truncateText(text, smsTextLimit) + ellipsis,
	}, nil
}

// Encode serializes the notification for the fan-out submission payload.
func (n Notification) Encode() ([]byte, error) {
	return jsoncodec.Marshal(n)
}

// messageText extracts the human-readable message content from envelope
// bytes. JSON strings contribute their decoded text, any other value its
// compact JSON rendering, and an absent message key the fallback text.
func messageText(env json.RawMessage) string {
	body, err := envelope.ParseObject(env)
	if err != nil {
		return fallbackText
	}
	raw := bytes.TrimSpace(body.Raw(envelope.FieldMessage))
	if len(raw) == 0 {
		return fallbackText
	}

	if raw[0] == '"' {
		var s string
		if err := jsoncodec.Unmarshal(raw, &s); err == nil {
			return s
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

// truncateText caps s at limit code points. Truncation never splits a rune.
func truncateText(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
