package events

import (
	"errors"
	"fmt"
)

// ErrMalformedEnvelope marks a body that is not parseable JSON at all.
// This is the only validation failure the ingestion endpoint rejects with
// a 4xx; everything past the JSON parser is acknowledged to the producer.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// ErrUnknownEventType marks a structurally valid envelope whose event type
// is not in the v1 catalogue. It is a soft signal: the upstream producer
// may add event types over time and the consumer must stay forward
// compatible, so callers acknowledge and skip instead of failing.
var ErrUnknownEventType = errors.New("unknown event type")

// SchemaViolationError marks a recognized event whose envelope or payload
// violates the v1 contract (wrong version, wrong origin, missing required
// field, type mismatch). Hard failure: the event is not dispatched.
type SchemaViolationError struct {
	Event Type
	Err   error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation for %q: %v", e.Event, e.Err)
}

func (e *SchemaViolationError) Unwrap() error { return e.Err }

func schemaViolation(event Type, format string, args ...any) error {
	return &SchemaViolationError{Event: event, Err: fmt.Errorf(format, args...)}
}
