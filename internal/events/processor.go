package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
)

// RawEventSink receives every authenticated, structurally valid envelope.
// Appending must tolerate duplicate event ids (redelivery).
type RawEventSink interface {
	Append(ctx context.Context, eventID, eventType string, payload json.RawMessage, occurredAt time.Time) error
}

// Processor is the shared validate-record-dispatch path behind both the
// HTTP ingestion endpoint and the AMQP consumer. Transport-level concerns
// (signatures, acks, status codes) stay with the callers; Processor owns
// the contract semantics.
type Processor struct {
	dispatcher *Dispatcher
	sink       RawEventSink
	logger     *log.Logger
}

func NewProcessor(dispatcher *Dispatcher, sink RawEventSink, logger *log.Logger) *Processor {
	return &Processor{dispatcher: dispatcher, sink: sink, logger: logger}
}

// Process parses, validates, records and dispatches one raw envelope body.
//
// Returned errors follow the contract taxonomy: ErrMalformedEnvelope for
// unparseable bodies, ErrUnknownEventType for forward-compatible skips,
// SchemaViolationError for contract breaches. Handler failures are already
// swallowed by the dispatcher and never surface here.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	env, err := ParseEnvelope(body)
	if err != nil {
		return err
	}

	if err := env.Validate(); err != nil {
		if errors.Is(err, ErrUnknownEventType) {
			// Structurally valid, just ahead of our catalogue. Keep it in
			// the raw log so a future contract version can replay it.
			p.append(ctx, env)
		}
		return err
	}

	payload, err := DecodePayload(env.Event, env.Payload)
	if err != nil {
		return err
	}

	p.append(ctx, env)
	p.dispatcher.Dispatch(ctx, env, payload)
	return nil
}

func (p *Processor) append(ctx context.Context, env Envelope) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Append(ctx, env.EventID, string(env.Event), env.Payload, env.Timestamp); err != nil {
		// Dispatch still proceeds; losing one raw log row only narrows the
		// reconciliation window.
		p.logger.Printf("raw event append failed event=%s event_id=%s: %v", env.Event, env.EventID, err)
	}
}
