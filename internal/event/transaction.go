package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Sum is an amount with its ISO 4217 numeric currency code.
type Sum struct {
	Amount   Money  `json:"amount" validate:"required,amount"`
	Currency Scalar `json:"currency" validate:"required"`
}

// Payment is the transaction carried by a wallet webhook.
type Payment struct {
	TxnID      Scalar    `json:"txnId" validate:"required"`
	Date       time.Time `json:"date"`
	Type       string    `json:"type" validate:"required"`
	Status     string    `json:"status"`
	ErrorCode  Scalar    `json:"errorCode,omitempty"`
	PersonID   Scalar    `json:"personId,omitempty"`
	Account    string    `json:"account"`
	Comment    string    `json:"comment,omitempty"`
	Provider   Scalar    `json:"provider,omitempty"`
	Sum        Sum       `json:"sum"`
	Commission *Sum      `json:"commission,omitempty"`
	Total      *Sum      `json:"total,omitempty"`
	SignFields string    `json:"signFields,omitempty"`
}

// Transaction is a wallet transaction webhook delivery.
type Transaction struct {
	MessageID Scalar   `json:"messageId"`
	HookID    string   `json:"hookId"`
	Payment   *Payment `json:"payment,omitempty"`
	Hash      string   `json:"hash"`
	Version   string   `json:"version"`
	Test      bool     `json:"test"`
}

// ParseTransaction decodes and validates a transaction webhook body.
func ParseTransaction(body []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, &PayloadError{Kind: KindTransaction, Err: err}
	}
	if tx.Payment == nil && !tx.Test {
		return nil, &PayloadError{Kind: KindTransaction, Err: errMissing("payment")}
	}
	if err := getValidator().Struct(&tx); err != nil {
		return nil, &PayloadError{Kind: KindTransaction, Err: err}
	}
	return &tx, nil
}

func (t *Transaction) Kind() Kind { return KindTransaction }

// Experimental reports a test notification, sent by QIWI when a hook is
// registered or when a test delivery is requested.
func (t *Transaction) Experimental() bool {
	return t.Test || t.Payment == nil
}

func (t *Transaction) Signature() string { return t.Hash }

// CanonicalString joins the signed payment fields in their fixed order:
// sum.currency, sum.amount, type, account, txnId.
func (t *Transaction) CanonicalString() string {
	if t.Payment == nil {
		return ""
	}
	p := t.Payment
	return strings.Join([]string{
		string(p.Sum.Currency),
		p.Sum.Amount.String(),
		p.Type,
		p.Account,
		string(p.TxnID),
	}, "|")
}

// DeliveryKey is empty for test deliveries without a message id.
func (t *Transaction) DeliveryKey() string {
	if t.Payment == nil {
		if t.MessageID == "" {
			return ""
		}
		return "transaction:message:" + string(t.MessageID)
	}
	return "transaction:" + string(t.Payment.TxnID) + ":" + t.Payment.Status
}

func (t *Transaction) FilterEnv() map[string]any {
	env := map[string]any{
		"kind":    string(KindTransaction),
		"hook_id": t.HookID,
		"test":    t.Test,
	}
	if p := t.Payment; p != nil {
		env["txn_id"] = string(p.TxnID)
		env["payment_type"] = p.Type
		env["status"] = p.Status
		env["account"] = p.Account
		env["comment"] = p.Comment
		env["provider"] = string(p.Provider)
		env["amount"] = p.Sum.Amount.Decimal().InexactFloat64()
		env["currency"] = string(p.Sum.Currency)
	}
	return env
}
