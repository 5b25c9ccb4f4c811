package poller

import (
	"strconv"

	"github.com/mattjoyce/qiwigo/internal/event"
	"github.com/mattjoyce/qiwigo/internal/wallet"
)

// pollVersion marks transactions that came from history rather than a hook.
const pollVersion = "history"

// FromHistory converts a history row into the transaction event a webhook
// would have carried. Its delivery key matches the webhook's.
func FromHistory(txn wallet.Transaction) *event.Transaction {
	p := &event.Payment{
		TxnID:     event.Scalar(strconv.FormatInt(txn.ID, 10)),
		Date:      txn.Date,
		Type:      txn.Type,
		Status:    txn.Status,
		ErrorCode: event.Scalar(strconv.Itoa(txn.ErrorCode)),
		Account:   txn.Account,
		Comment:   txn.Comment,
		Sum:       sum(txn.Sum),
	}
	if txn.PersonID != 0 {
		p.PersonID = event.Scalar(strconv.FormatInt(txn.PersonID, 10))
	}
	if txn.Provider != nil {
		p.Provider = event.Scalar(strconv.Itoa(txn.Provider.ID))
	}
	if !txn.Commission.Amount.IsZero() {
		c := sum(txn.Commission)
		p.Commission = &c
	}
	if !txn.Total.Amount.IsZero() {
		t := sum(txn.Total)
		p.Total = &t
	}
	return &event.Transaction{Payment: p, Version: pollVersion}
}

func sum(a wallet.Amount) event.Sum {
	return event.Sum{Amount: a.Amount, Currency: a.Currency}
}
