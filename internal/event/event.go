// Package event holds the decoded forms of inbound QIWI webhook deliveries.
//
// Two kinds exist: wallet transaction notifications and P2P bill status
// notifications. Both carry the fields their signature is computed over, the
// signature supplied by the sender, and enough identity to de-duplicate
// retransmissions.
package event

import (
	"errors"
	"fmt"
)

// Kind names a webhook event type.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindBill        Kind = "bill"
)

// Event is any decoded webhook delivery.
type Event interface {
	Kind() Kind

	// DeliveryKey identifies the delivery for de-duplication. Retransmissions
	// of the same notification share a key.
	DeliveryKey() string

	// FilterEnv exposes the event's fields to filter expressions.
	FilterEnv() map[string]any
}

// Signed is an event carrying a sender signature.
type Signed interface {
	Event

	// Experimental events are test notifications that skip verification.
	Experimental() bool

	// CanonicalString is the exact text the sender signed.
	CanonicalString() string

	// Signature is the hex digest supplied with the delivery.
	Signature() string
}

// ErrInvalidPayload matches every parse and validation failure.
var ErrInvalidPayload = errors.New("event: invalid payload")

// PayloadError describes a delivery body that could not be decoded.
type PayloadError struct {
	Kind Kind
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("event: invalid %s payload: %v", e.Kind, e.Err)
}

func (e *PayloadError) Unwrap() []error {
	return []error{ErrInvalidPayload, e.Err}
}
