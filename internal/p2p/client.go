// Package p2p is a client for the QIWI P2P bills API.
package p2p

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mattjoyce/qiwigo/internal/apimethod"
	"github.com/mattjoyce/qiwigo/internal/event"
	"github.com/mattjoyce/qiwigo/internal/log"
	"github.com/mattjoyce/qiwigo/internal/request"
)

const (
	DefaultBaseURL = "https://api.qiwi.com"

	// DefaultLifetime is how long a bill stays payable when no expiry is given.
	DefaultLifetime = 72 * time.Hour

	// Bill status values.
	StatusWaiting  = "WAITING"
	StatusPaid     = "PAID"
	StatusRejected = "REJECTED"
	StatusExpired  = "EXPIRED"
)

const expiryLayout = "2006-01-02T15:04:05-07:00"

// ErrNoSecretKey is returned by New when Config.SecretKey is empty.
var ErrNoSecretKey = errors.New("p2p: secret key is required")

// Config configures a Client.
type Config struct {
	SecretKey string

	// BaseURL is the API root. Empty means DefaultBaseURL.
	BaseURL string

	Request request.Config

	// now is swapped in tests.
	now func() time.Time
}

// BillRequest describes a bill to issue. Only Amount is required.
type BillRequest struct {
	// ID is the merchant's bill id. Empty generates a random UUID.
	ID     string
	Amount decimal.Decimal

	// Currency defaults to RUB.
	Currency string

	// ExpiresAt defaults to DefaultLifetime from now.
	ExpiresAt time.Time

	Comment      string
	Customer     *event.Customer
	CustomFields *event.CustomFields
}

// Client is safe for concurrent use.
type Client struct {
	service *request.Service
	now     func() time.Time

	createBill *apimethod.Descriptor
	billStatus *apimethod.Descriptor
	rejectBill *apimethod.Descriptor
}

// New creates a P2P client authenticated with the merchant secret key.
func New(cfg Config) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, ErrNoSecretKey
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	now := cfg.now
	if now == nil {
		now = time.Now
	}

	rc := cfg.Request
	rc.Header = rc.Header.Clone()
	if rc.Header == nil {
		rc.Header = http.Header{}
	}
	rc.Header.Set("Accept", "application/json")
	rc.Header.Set("Authorization", "Bearer "+cfg.SecretKey)
	if rc.Messages == nil {
		rc.Messages = request.DefaultMessages
	}
	if rc.Logger == nil {
		rc.Logger = log.WithComponent("p2p")
	}

	bills := base + "/partner/bill/v1/bills/{bill_id}"
	c := &Client{
		service: request.NewService(rc),
		now:     now,
		billStatus: &apimethod.Descriptor{
			Name:   "p2p.bill_status",
			Method: http.MethodGet,
			URL:    bills,
		},
		rejectBill: &apimethod.Descriptor{
			Name:   "p2p.reject_bill",
			Method: http.MethodPost,
			URL:    bills + "/reject",
		},
	}
	c.createBill = &apimethod.Descriptor{
		Name:   "p2p.create_bill",
		Method: http.MethodPut,
		URL:    bills,
		Body: apimethod.Object{
			"amount": apimethod.Object{
				"value":    apimethod.Runtime().Named("amount"),
				"currency": apimethod.Runtime().Named("currency").WithDefault("RUB"),
			},
			"expirationDateTime": apimethod.Runtime().Named("expires_at").WithFactory(c.defaultExpiry),
			"comment":            apimethod.Runtime().Named("comment").AsOptional(),
			"customer":           apimethod.Runtime().Named("customer").AsOptional(),
			"customFields":       apimethod.Runtime().Named("custom_fields").AsOptional(),
		},
	}
	return c, nil
}

func (c *Client) defaultExpiry() any {
	return c.now().Add(DefaultLifetime).Format(expiryLayout)
}

// Service exposes the underlying request service.
func (c *Client) Service() *request.Service {
	return c.service
}

// Close releases the client's HTTP session.
func (c *Client) Close() {
	c.service.Close()
}

// CreateBill issues a bill and returns it with its payment URL.
func (c *Client) CreateBill(ctx context.Context, br BillRequest) (*event.Bill, error) {
	id := br.ID
	if id == "" {
		id = uuid.NewString()
	}
	values := apimethod.Values{
		"bill_id": id,
		"amount":  br.Amount.StringFixed(2),
	}
	if br.Currency != "" {
		values["currency"] = br.Currency
	}
	if !br.ExpiresAt.IsZero() {
		values["expires_at"] = br.ExpiresAt.Format(expiryLayout)
	}
	if br.Comment != "" {
		values["comment"] = br.Comment
	}
	if br.Customer != nil {
		values["customer"] = br.Customer
	}
	if br.CustomFields != nil {
		values["custom_fields"] = br.CustomFields
	}
	return request.Emit[*event.Bill](ctx, c.service, c.createBill, values)
}

// BillStatus fetches the current state of billID.
func (c *Client) BillStatus(ctx context.Context, billID string) (*event.Bill, error) {
	return request.Emit[*event.Bill](ctx, c.service, c.billStatus, apimethod.Values{"bill_id": billID})
}

// IsPaid reports whether billID has been paid.
func (c *Client) IsPaid(ctx context.Context, billID string) (bool, error) {
	bill, err := c.BillStatus(ctx, billID)
	if err != nil {
		return false, err
	}
	return bill.Status.Value == StatusPaid, nil
}

// RejectBill cancels an unpaid bill.
func (c *Client) RejectBill(ctx context.Context, billID string) (*event.Bill, error) {
	return request.Emit[*event.Bill](ctx, c.service, c.rejectBill, apimethod.Values{"bill_id": billID})
}
