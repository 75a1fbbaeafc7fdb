// Package envelope turns inbound request bodies into the normalized message
// envelope submitted to the durable queue. Bodies are schemaless beyond
// presence-of-key: values are carried as raw JSON and never reshaped.
package envelope

import (
	"bytes"
	"encoding/json"
	sterrors "errors"
	"time"

	errspkg "github.com/drblury/relayflow/internal/relay/errors"
	"github.com/drblury/relayflow/internal/relay/jsoncodec"
)

// Field names recognized in inbound bodies.
const (
	FieldMessage  = "message"
	FieldPriority = "priority"
	FieldCategory = "category"
)

// ErrNotObject reports a body that decodes to valid JSON but not to an
// object, so it cannot carry fields at all.
var ErrNotObject = sterrors.New("body is not a JSON object")

// Body is a decoded inbound body. Values stay raw so optional fields pass
// through byte-for-byte, and a present-but-null value stays distinguishable
// from an absent key.
type Body map[string]json.RawMessage

// Has reports whether the key is present, regardless of its value.
func (b Body) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// Raw returns the raw JSON value for key, or nil when the key is absent.
func (b Body) Raw(key string) json.RawMessage {
	return b[key]
}

// ParseBody decodes an inbound request body. An absent or blank body is an
// empty Body, not an error: the missing required field is reported by New,
// which keeps "no body" and "body without message" on the same 400 path.
// Valid JSON that is not an object also yields an empty Body for the same
// reason; only undecodable input returns MalformedInputError.
func ParseBody(data []byte) (Body, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Body{}, nil
	}
	if trimmed[0] != '{' {
		var probe any
		if err := jsoncodec.Unmarshal(trimmed, &probe); err != nil {
			return nil, errspkg.NewMalformedInputError(err)
		}
		return Body{}, nil
	}

	var body Body
	if err := jsoncodec.Unmarshal(trimmed, &body); err != nil {
		return nil, errspkg.NewMalformedInputError(err)
	}
	if body == nil {
		body = Body{}
	}
	return body, nil
}

// ParseObject decodes a queued item body, which must be a JSON object.
// Anything else, including an empty body, returns MalformedInputError; the
// consumer records it as that item's failure.
func ParseObject(data []byte) (Body, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errspkg.NewMalformedInputError(ErrNotObject)
	}
	if trimmed[0] != '{' {
		var probe any
		if err := jsoncodec.Unmarshal(trimmed, &probe); err != nil {
			return nil, errspkg.NewMalformedInputError(err)
		}
		return nil, errspkg.NewMalformedInputError(ErrNotObject)
	}

	var body Body
	if err := jsoncodec.Unmarshal(trimmed, &body); err != nil {
		return nil, errspkg.NewMalformedInputError(err)
	}
	if body == nil {
		body = Body{}
	}
	return body, nil
}

// Envelope is the normalized message the producer submits to the queue.
// Optional fields are omitted entirely when the inbound body did not carry
// the key; a present null is preserved as null.
type Envelope struct {
	Message   json.RawMessage `json:"message"`
	Timestamp string          `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Source    string          `json:"source"`
	Priority  json.RawMessage `json:"priority,omitempty"`
	Category  json.RawMessage `json:"category,omitempty"`
}

// New builds an envelope from a parsed body. The message key must be
// present; priority and category are copied verbatim iff present. The
// timestamp is assigned here, so two envelopes from the same body differ.
func New(body Body, requestID, source string, at time.Time) (Envelope, error) {
	if !body.Has(FieldMessage) {
		return Envelope{}, errspkg.NewMissingFieldError(FieldMessage)
	}

	return Envelope{
		Message:   body.Raw(FieldMessage),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		RequestID: requestID,
		Source:    source,
		Priority:  body.Raw(FieldPriority),
		Category:  body.Raw(FieldCategory),
	}, nil
}

// Encode serializes the envelope for the queue payload.
func (e Envelope) Encode() ([]byte, error) {
	return jsoncodec.Marshal(e)
}
