package events

import (
	"encoding/json"
	"fmt"
)

type decodeFunc func(json.RawMessage) (Payload, error)

// payloadDecoders is the v1 schema registry. Adding an event type means
// adding one (type, decoder) pair here; validation logic does not change.
var payloadDecoders = map[Type]decodeFunc{
	TypeUserAuthenticated:      decodeUserAuthenticated,
	TypeUserRegistered:         decodeUserRegistered,
	TypeProductCreated:         decodeProductCreated,
	TypeProductUpdated:         decodeProductUpdated,
	TypeOrderCreated:           decodeOrderCreated,
	TypePaymentApproved:        decodePaymentApproved,
	TypeInvoiceIssued:          decodeInvoiceIssued,
	TypeShipmentCreated:        decodeShipmentCreated,
	TypeDiscountApplied:        decodeDiscountApplied,
	TypeCompanySettingsUpdated: decodeCompanySettingsUpdated,
}

// Known reports whether t is part of the v1 catalogue.
func (t Type) Known() bool {
	_, ok := payloadDecoders[t]
	return ok
}

// DecodePayload validates raw against the registered schema for t and
// returns the typed payload. Unknown types yield ErrUnknownEventType;
// field-level violations yield a SchemaViolationError.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	decode, ok := payloadDecoders[t]
	if !ok {
		return nil, fmt.Errorf("%q: %w", t, ErrUnknownEventType)
	}
	if len(raw) == 0 {
		return nil, schemaViolation(t, "missing payload")
	}
	p, err := decode(raw)
	if err != nil {
		return nil, &SchemaViolationError{Event: t, Err: err}
	}
	return p, nil
}
