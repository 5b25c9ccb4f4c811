package webhook

import (
	"context"
	"net/netip"

	"github.com/mattjoyce/qiwigo/internal/auth"
	"github.com/mattjoyce/qiwigo/internal/dispatch"
	"github.com/mattjoyce/qiwigo/internal/event"
)

// Dispatcher delivers verified events to handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev event.Event) []dispatch.Outcome
}

// DeliveryStore de-duplicates retransmitted deliveries.
type DeliveryStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string) error
}

// Config holds webhook server configuration.
type Config struct {
	Listen string

	// TransactionPath receives wallet transaction webhooks. Served only when
	// TransactionKey is set.
	TransactionPath string

	// BillPath receives P2P bill webhooks. Served only when BillSecret is set.
	BillPath string

	// AllowedNetworks restricts senders. Empty allows any address.
	AllowedNetworks []netip.Prefix

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	// MaxBodySize is the maximum allowed request body size in bytes.
	MaxBodySize int64

	// TransactionKey is the base64 webhook key issued for the wallet hook.
	TransactionKey string

	// BillSecret is the base64 P2P secret key.
	BillSecret string

	// MetricsTokens guard /metrics. Empty leaves it open.
	MetricsTokens []auth.TokenConfig
}

// StatusResponse is the JSON body of every rejection.
type StatusResponse struct {
	Status string `json:"status"`
}

// Default values
const (
	DefaultListen          = "0.0.0.0:8080"
	DefaultTransactionPath = "/webhooks/qiwi/transactions/"
	DefaultBillPath        = "/webhooks/qiwi/bills/"
	DefaultMaxBodySize     = 1048576 // 1 MB

	// BillSignatureHeader carries the bill webhook signature.
	BillSignatureHeader = "X-Api-Signature-SHA256"
)

// DefaultAllowedNetworks are the networks QIWI sends webhooks from.
var DefaultAllowedNetworks = []string{
	"79.142.16.0/20",
	"195.189.100.0/22",
	"91.232.230.0/23",
	"91.213.51.0/24",
}

// Rejection messages sent to webhook senders.
const (
	msgUnauthorizedIP    = "Request from unauthorized IP."
	msgInvalidPayload    = "Invalid payload."
	msgInvalidTxnHash    = "Invalid hash of transaction."
	msgInvalidBillSig    = "Invalid signature of bill."
	msgPayloadTooLarge   = "Payload too large."
	msgBodyReadFailure   = "Failed to read request body."
	responseAcknowledged = "ok"
)
