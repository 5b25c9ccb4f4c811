package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BillAmount is a P2P bill amount with its alphabetic currency code.
type BillAmount struct {
	Value    Money  `json:"value" validate:"required,amount"`
	Currency string `json:"currency" validate:"required"`
}

// BillStatus is the bill lifecycle state (WAITING, PAID, REJECTED, EXPIRED).
type BillStatus struct {
	Value           string     `json:"value" validate:"required"`
	ChangedDateTime *time.Time `json:"changedDateTime,omitempty"`
}

type Customer struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Account string `json:"account,omitempty"`
}

type CustomFields struct {
	PaySourcesFilter string `json:"paySourcesFilter,omitempty"`
	ThemeCode        string `json:"themeCode,omitempty"`
}

// Bill is a P2P invoice as returned by the bills API and carried by bill
// webhooks.
type Bill struct {
	ID                 string        `json:"billId" validate:"required"`
	SiteID             string        `json:"siteId" validate:"required"`
	Amount             BillAmount    `json:"amount"`
	Status             BillStatus    `json:"status"`
	CreationDateTime   *time.Time    `json:"creationDateTime,omitempty"`
	ExpirationDateTime *time.Time    `json:"expirationDateTime,omitempty"`
	PayURL             string        `json:"payUrl,omitempty"`
	Comment            string        `json:"comment,omitempty"`
	Customer           *Customer     `json:"customer,omitempty"`
	CustomFields       *CustomFields `json:"customFields,omitempty"`
}

// InvoiceUID is the trailing invoice identifier of the pay URL.
func (b *Bill) InvoiceUID() string {
	if len(b.PayURL) < 36 {
		return ""
	}
	return b.PayURL[len(b.PayURL)-36:]
}

// BillWebhook is a bill status webhook delivery. The signature arrives in a
// request header rather than the body.
type BillWebhook struct {
	Version string `json:"version" validate:"required"`
	Bill    Bill   `json:"bill"`

	signature string
}

// ParseBill decodes and validates a bill webhook body. signature is the
// value of the signature header.
func ParseBill(body []byte, signature string) (*BillWebhook, error) {
	var bw BillWebhook
	if err := json.Unmarshal(body, &bw); err != nil {
		return nil, &PayloadError{Kind: KindBill, Err: err}
	}
	if err := getValidator().Struct(&bw); err != nil {
		return nil, &PayloadError{Kind: KindBill, Err: err}
	}
	bw.signature = signature
	return &bw, nil
}

func (b *BillWebhook) Kind() Kind { return KindBill }

// Experimental is always false; bill notifications have no test mode.
func (b *BillWebhook) Experimental() bool { return false }

func (b *BillWebhook) Signature() string { return b.signature }

// CanonicalString joins the signed bill fields in their fixed order:
// amount.currency, amount.value, billId, siteId, status.value.
func (b *BillWebhook) CanonicalString() string {
	bill := b.Bill
	return strings.Join([]string{
		bill.Amount.Currency,
		bill.Amount.Value.String(),
		bill.ID,
		bill.SiteID,
		bill.Status.Value,
	}, "|")
}

func (b *BillWebhook) DeliveryKey() string {
	return "bill:" + b.Bill.ID + ":" + b.Bill.Status.Value
}

func (b *BillWebhook) FilterEnv() map[string]any {
	env := map[string]any{
		"kind":     string(KindBill),
		"version":  b.Version,
		"bill_id":  b.Bill.ID,
		"site_id":  b.Bill.SiteID,
		"status":   b.Bill.Status.Value,
		"amount":   b.Bill.Amount.Value.Decimal().InexactFloat64(),
		"currency": b.Bill.Amount.Currency,
		"comment":  b.Bill.Comment,
	}
	if c := b.Bill.Customer; c != nil {
		env["customer_phone"] = c.Phone
		env["customer_email"] = c.Email
		env["customer_account"] = c.Account
	}
	return env
}

func (b *BillWebhook) String() string {
	return fmt.Sprintf("#%s %s %s %s", b.Bill.ID, b.Bill.Amount.Value, b.Bill.Amount.Currency, b.Bill.Status.Value)
}

func errMissing(field string) error {
	return fmt.Errorf("missing %s", field)
}
