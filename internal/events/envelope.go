package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ContractVersion is the single supported envelope version.
const ContractVersion = "v1"

// OriginService is the only producer allowed to emit v1 envelopes.
const OriginService = "node-core"

// Type identifies an event in the v1 contract.
type Type string

const (
	TypeUserAuthenticated      Type = "UserAuthenticated"
	TypeUserRegistered         Type = "UserRegistered"
	TypeProductCreated         Type = "ProductCreated"
	TypeProductUpdated         Type = "ProductUpdated"
	TypeOrderCreated           Type = "OrderCreated"
	TypePaymentApproved        Type = "PaymentApproved"
	TypeInvoiceIssued          Type = "InvoiceIssued"
	TypeShipmentCreated        Type = "ShipmentCreated"
	TypeDiscountApplied        Type = "DiscountApplied"
	TypeCompanySettingsUpdated Type = "CompanySettingsUpdated"
)

// Origin carries producer metadata on every envelope.
type Origin struct {
	Service     string `json:"service"`
	Environment string `json:"environment"`
	IP          string `json:"ip"`
}

// Envelope is the outer v1 wrapper. Envelopes are immutable once parsed and
// are never persisted as-is beyond the raw event log.
type Envelope struct {
	Event     Type            `json:"event"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Origin    Origin          `json:"origin"`
	Payload   json.RawMessage `json:"payload"`
	EventID   string          `json:"event_id,omitempty"`
}

// ParseEnvelope decodes the raw request body into an Envelope. A body that
// is not valid JSON yields ErrMalformedEnvelope; valid JSON with the wrong
// shape (e.g. a non-ISO timestamp) yields a SchemaViolationError, because
// the producer sent a well-formed but contract-breaking document.
//
// When the producer did not set event_id, a digest of the exact raw body is
// used instead so redeliveries of the same document share a dedup key.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if !json.Valid(body) {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return Envelope{}, &SchemaViolationError{Event: env.Event, Err: err}
	}
	if env.EventID == "" {
		sum := sha256.Sum256(body)
		env.EventID = hex.EncodeToString(sum[:])
	}
	return env, nil
}

// Validate checks the envelope invariants in contract order: version first,
// then origin, then event-type recognition. Unknown types are reported via
// ErrUnknownEventType so callers can acknowledge without dispatching.
func (e Envelope) Validate() error {
	if e.Version != ContractVersion {
		return schemaViolation(e.Event, "unsupported version %q, want %q", e.Version, ContractVersion)
	}
	if e.Origin.Service != OriginService {
		return schemaViolation(e.Event, "unexpected origin.service %q, want %q", e.Origin.Service, OriginService)
	}
	if e.Timestamp.IsZero() {
		return schemaViolation(e.Event, "missing timestamp")
	}
	if !e.Event.Known() {
		return fmt.Errorf("%q: %w", e.Event, ErrUnknownEventType)
	}
	return nil
}
