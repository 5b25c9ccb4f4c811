package poller

import (
	"context"

	"github.com/mattjoyce/qiwigo/internal/dispatch"
	"github.com/mattjoyce/qiwigo/internal/event"
	"github.com/mattjoyce/qiwigo/internal/wallet"
)

//go:generate mockgen -destination=mocks/mock_history.go -package=mocks github.com/mattjoyce/qiwigo/internal/poller HistorySource

// HistorySource lists wallet payment history. *wallet.Client implements it.
type HistorySource interface {
	History(ctx context.Context, f wallet.HistoryFilter) (*wallet.History, error)
}

// Dispatcher delivers converted transactions to handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev event.Event) []dispatch.Outcome
}

// DeliveryStore is shared with the webhook server so a transaction seen
// through either path is handled once.
type DeliveryStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string) error
}
