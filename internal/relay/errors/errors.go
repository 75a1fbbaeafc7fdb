package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired    = sterrors.New("relayflow: relay service is required")
	ErrConfigRequired     = sterrors.New("relayflow: configuration is required")
	ErrLoggerRequired     = sterrors.New("relayflow: logger is required")
	ErrPublisherRequired  = sterrors.New("relayflow: publisher is required")
	ErrSubscriberRequired = sterrors.New("relayflow: subscriber is required")
	ErrTopicRequired      = sterrors.New("relayflow: topic is required")
	ErrQueueRequired      = sterrors.New("relayflow: queue is required")
	ErrProcessorRequired  = sterrors.New("relayflow: batch processor is required")
	ErrPayloadRequired    = sterrors.New("relayflow: message payload is required")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "relayflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil so callers can wrap
// unconditionally.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// MalformedInputError reports a body that could not be decoded into a JSON
// object.
type MalformedInputError struct {
	Err error
}

func (e MalformedInputError) Error() string {
	if e.Err == nil {
		return "relayflow: malformed input"
	}
	return "relayflow: malformed input: " + e.Err.Error()
}

func (e MalformedInputError) Unwrap() error {
	return e.Err
}

func NewMalformedInputError(err error) error {
	return MalformedInputError{Err: err}
}

// MissingFieldError reports a required key absent from a decoded body.
type MissingFieldError struct {
	Field string
}

func (e MissingFieldError) Error() string {
	return "relayflow: missing required field: " + e.Field
}

func NewMissingFieldError(field string) error {
	return MissingFieldError{Field: field}
}

// SubmissionError reports a downstream publish failure. Op names the leg that
// failed ("queue" or "fanout"). All downstream failures are treated uniformly;
// no retry is attempted here.
type SubmissionError struct {
	Op  string
	Err error
}

func (e SubmissionError) Error() string {
	return fmt.Sprintf("relayflow: %s submission failed: %v", e.Op, e.Err)
}

func (e SubmissionError) Unwrap() error {
	return e.Err
}

func NewSubmissionError(op string, err error) error {
	if err == nil {
		return nil
	}
	return SubmissionError{Op: op, Err: err}
}
