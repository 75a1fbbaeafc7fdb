package errors

import (
	sterrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelMessages(t *testing.T) {
	// Operators grep logs for these, so the exact text is pinned.
	want := map[error]string{
		ErrServiceRequired:    "relayflow: relay service is required",
		ErrConfigRequired:     "relayflow: configuration is required",
		ErrLoggerRequired:     "relayflow: logger is required",
		ErrPublisherRequired:  "relayflow: publisher is required",
		ErrSubscriberRequired: "relayflow: subscriber is required",
		ErrTopicRequired:      "relayflow: topic is required",
		ErrQueueRequired:      "relayflow: queue is required",
		ErrProcessorRequired:  "relayflow: batch processor is required",
		ErrPayloadRequired:    "relayflow: message payload is required",
	}
	for err, text := range want {
		assert.EqualError(t, err, text)
	}
}

func TestConfigValidationErrorWrapsCause(t *testing.T) {
	cause := sterrors.New("stats: invalid port -1")

	err := NewConfigValidationError(cause)
	require.Error(t, err)
	assert.EqualError(t, err, "relayflow: invalid configuration: stats: invalid port -1")
	assert.ErrorIs(t, err, cause)

	var typed ConfigValidationError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, cause, typed.Err)

	assert.NoError(t, NewConfigValidationError(nil), "nil passes through so callers wrap unconditionally")
}

func TestMalformedInputError(t *testing.T) {
	cause := sterrors.New("invalid char 'x' looking for beginning of value")

	err := NewMalformedInputError(cause)
	assert.EqualError(t, err, "relayflow: malformed input: invalid char 'x' looking for beginning of value")
	assert.ErrorIs(t, err, cause)

	var typed MalformedInputError
	assert.ErrorAs(t, err, &typed)

	// A bare instance still renders a usable message.
	assert.EqualError(t, MalformedInputError{}, "relayflow: malformed input")
}

func TestMissingFieldError(t *testing.T) {
	err := NewMissingFieldError("message")
	assert.EqualError(t, err, "relayflow: missing required field: message")

	var typed MissingFieldError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "message", typed.Field)
}

func TestSubmissionError(t *testing.T) {
	cause := sterrors.New("dial tcp: connection refused")

	err := NewSubmissionError("fanout", cause)
	assert.EqualError(t, err, "relayflow: fanout submission failed: dial tcp: connection refused")
	assert.ErrorIs(t, err, cause)

	var typed SubmissionError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "fanout", typed.Op)

	assert.NoError(t, NewSubmissionError("queue", nil))
}
