// Package wallet is a client for the QIWI wallet API: balances, transfers,
// payment history and webhook registration.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mattjoyce/qiwigo/internal/apimethod"
	"github.com/mattjoyce/qiwigo/internal/log"
	"github.com/mattjoyce/qiwigo/internal/request"
)

const (
	DefaultBaseURL = "https://edge.qiwi.com"
	DefaultSiteURL = "https://qiwi.com"
)

// Status messages that replace the generic table for specific calls.
const (
	MessageNotEnoughFunds = "Not enough funds to execute this operation"
	MessageWrongCard      = "Wrong card number entered, possibly the card to which you transfer is blocked"
	MessageNoReceipt      = "It is impossible to receive a check due to the fact that the transaction for this ID has not been completed, that is, an error occurred during the transaction"
	MessageNoWebhook      = "You didn't register any webhook to delete"
)

var (
	// ErrNoToken is returned by New when Config.Token is empty.
	ErrNoToken = errors.New("wallet: api token is required")

	// ErrNoPhoneNumber is returned by calls scoped to the wallet owner when
	// Config.PhoneNumber is empty.
	ErrNoPhoneNumber = errors.New("wallet: phone number is required for this call")

	// ErrNotDetected is returned when a provider lookup finds nothing.
	ErrNotDetected = errors.New("wallet: provider not detected")
)

// Config configures a Client.
type Config struct {
	Token string

	// PhoneNumber identifies the wallet owner, with or without a leading "+".
	PhoneNumber string

	// BaseURL is the API root. Empty means DefaultBaseURL.
	BaseURL string

	// SiteURL serves the provider detection endpoints. Empty means DefaultSiteURL.
	SiteURL string

	// Request carries cache, timeout, session and observability settings.
	// Header and Messages are filled in by New when empty.
	Request request.Config
}

// Client is safe for concurrent use.
type Client struct {
	phone   string
	service *request.Service
	m       methods
}

// New creates a wallet client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	site := strings.TrimRight(cfg.SiteURL, "/")
	if site == "" {
		site = DefaultSiteURL
	}

	rc := cfg.Request
	rc.Header = rc.Header.Clone()
	if rc.Header == nil {
		rc.Header = http.Header{}
	}
	rc.Header.Set("Accept", "application/json")
	rc.Header.Set("Authorization", "Bearer "+cfg.Token)
	if rc.Messages == nil {
		rc.Messages = request.DefaultMessages
	}
	if rc.Logger == nil {
		rc.Logger = log.WithComponent("wallet")
	}

	return &Client{
		phone:   strings.TrimPrefix(cfg.PhoneNumber, "+"),
		service: request.NewService(rc),
		m:       newMethods(base, site),
	}, nil
}

// Service exposes the underlying request service.
func (c *Client) Service() *request.Service {
	return c.service
}

// Close releases the client's HTTP session.
func (c *Client) Close() {
	c.service.Close()
}

func (c *Client) owner() (apimethod.Values, error) {
	if c.phone == "" {
		return nil, ErrNoPhoneNumber
	}
	return apimethod.Values{"phone_number": c.phone}, nil
}

// Balances lists the wallet's accounts.
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	values, err := c.owner()
	if err != nil {
		return nil, err
	}
	resp, err := request.Emit[balancesResponse](ctx, c.service, c.m.balances, values)
	if err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// Balance returns the balance of the n-th account, counting from 1.
func (c *Client) Balance(ctx context.Context, n int) (*Amount, error) {
	accounts, err := c.Balances(ctx)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(accounts) {
		return nil, fmt.Errorf("wallet: account %d out of range (have %d)", n, len(accounts))
	}
	if accounts[n-1].Balance == nil {
		return nil, fmt.Errorf("wallet: account %q has no balance", accounts[n-1].Alias)
	}
	return accounts[n-1].Balance, nil
}

// AvailableBalances lists account aliases that can still be created.
func (c *Client) AvailableBalances(ctx context.Context) ([]AvailableBalance, error) {
	values, err := c.owner()
	if err != nil {
		return nil, err
	}
	return request.Emit[[]AvailableBalance](ctx, c.service, c.m.availableBalances, values)
}

// CreateBalance opens a new account such as "qw_wallet_usd".
func (c *Client) CreateBalance(ctx context.Context, alias string) error {
	values, err := c.owner()
	if err != nil {
		return err
	}
	values["currency_alias"] = alias
	_, _, err = c.service.Do(ctx, c.m.createBalance, values, request.AllowStatus(http.StatusCreated))
	return err
}

// SetDefaultBalance makes alias the account that funds payments by default.
func (c *Client) SetDefaultBalance(ctx context.Context, alias string) error {
	values, err := c.owner()
	if err != nil {
		return err
	}
	values["currency_alias"] = alias
	_, _, err = c.service.Do(ctx, c.m.setDefaultBalance, values, request.AllowStatus(http.StatusNoContent))
	return err
}

// TransferMoney sends amount rubles to another wallet.
func (c *Client) TransferMoney(ctx context.Context, toWallet string, amount decimal.Decimal, comment string) (*PaymentInfo, error) {
	values := apimethod.Values{
		"to_wallet": toWallet,
		"amount":    rubles(amount),
	}
	if comment != "" {
		values["comment"] = comment
	}
	return request.Emit[*PaymentInfo](ctx, c.service, c.m.transferMoney, values,
		request.OverrideMessage(http.StatusBadRequest, MessageNotEnoughFunds))
}

// TransferMoneyToCard sends amount rubles to a bank card.
func (c *Client) TransferMoneyToCard(ctx context.Context, cardNumber string, amount decimal.Decimal) (*PaymentInfo, error) {
	cardID, err := c.CardID(ctx, cardNumber)
	if err != nil {
		return nil, err
	}
	return request.Emit[*PaymentInfo](ctx, c.service, c.m.transferToCard, apimethod.Values{
		"card_id":     cardID,
		"card_number": cardNumber,
		"amount":      rubles(amount),
	})
}

// BuyQiwiCard pays for a virtual card order. A zero amount uses the
// standard price.
func (c *Client) BuyQiwiCard(ctx context.Context, orderID string, amount decimal.Decimal) (*PaymentInfo, error) {
	values, err := c.owner()
	if err != nil {
		return nil, err
	}
	values["phone_number"] = "+" + c.phone
	values["order_id"] = orderID
	if !amount.IsZero() {
		values["amount"] = rubles(amount)
	}
	return request.Emit[*PaymentInfo](ctx, c.service, c.m.buyQiwiCard, values)
}

// DetectMobileOperator returns the provider id serving phone.
func (c *Client) DetectMobileOperator(ctx context.Context, phone string) (string, error) {
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return c.detect(ctx, c.m.detectOperator, apimethod.Values{"phone_number": phone},
		request.OverrideMessage(http.StatusNotFound, MessageWrongCard))
}

// CardID returns the provider id used to pay cardNumber.
func (c *Client) CardID(ctx context.Context, cardNumber string) (string, error) {
	return c.detect(ctx, c.m.detectCard, apimethod.Values{"card_number": cardNumber})
}

func (c *Client) detect(ctx context.Context, d *apimethod.Descriptor, values apimethod.Values, opts ...request.CallOption) (string, error) {
	resp, err := request.Emit[detectResponse](ctx, c.service, d, values, opts...)
	if err != nil {
		return "", err
	}
	if resp.Code.Value != "0" || resp.Message == "" {
		return "", fmt.Errorf("%w: %s", ErrNotDetected, resp.Message)
	}
	return resp.Message, nil
}

// History returns a page of payment history.
func (c *Client) History(ctx context.Context, f HistoryFilter) (*History, error) {
	values, err := c.owner()
	if err != nil {
		return nil, err
	}
	if f.Rows < 0 || f.Rows > MaxHistoryRows {
		return nil, fmt.Errorf("wallet: rows must be between 1 and %d", MaxHistoryRows)
	}
	if f.StartDate.IsZero() != f.EndDate.IsZero() {
		return nil, errors.New("wallet: start and end dates must be given together")
	}
	if !f.StartDate.IsZero() && f.EndDate.Before(f.StartDate) {
		return nil, errors.New("wallet: end date precedes start date")
	}

	if f.Rows > 0 {
		values["rows"] = f.Rows
	}
	if f.Operation != "" {
		values["operation"] = string(f.Operation)
	}
	if len(f.Sources) > 0 {
		values["sources"] = f.Sources
	}
	if !f.StartDate.IsZero() {
		values["startDate"] = f.StartDate
		values["endDate"] = f.EndDate
	}
	return request.Emit[*History](ctx, c.service, c.m.history, values)
}

// Receipt downloads the cheque of a completed transaction. format is "PDF"
// or "JPEG"; empty means PDF.
func (c *Client) Receipt(ctx context.Context, txnID string, op Operation, format string) ([]byte, error) {
	values := apimethod.Values{
		"transaction_id": txnID,
		"type":           string(op),
	}
	if format != "" {
		values["format"] = format
	}
	return request.Emit[[]byte](ctx, c.service, c.m.receipt, values,
		request.OverrideMessage(http.StatusUnprocessableEntity, MessageNoReceipt))
}

// RegisterWebhook points transaction notifications at url. txnType is one
// of HookIncoming, HookOutgoing or HookAll.
func (c *Client) RegisterWebhook(ctx context.Context, url string, txnType int) (*WebhookInfo, error) {
	return request.Emit[*WebhookInfo](ctx, c.service, c.m.registerHook, apimethod.Values{
		"url":      url,
		"txn_type": txnType,
	})
}

// CurrentWebhook returns the active hook.
func (c *Client) CurrentWebhook(ctx context.Context) (*WebhookInfo, error) {
	return request.Emit[*WebhookInfo](ctx, c.service, c.m.currentHook, nil)
}

// SendTestNotification asks the wallet to deliver a test webhook.
func (c *Client) SendTestNotification(ctx context.Context) error {
	_, _, err := c.service.Do(ctx, c.m.testHook, nil)
	return err
}

// WebhookSecret returns the base64 key that signs hookID's notifications.
func (c *Client) WebhookSecret(ctx context.Context, hookID string) (string, error) {
	resp, err := request.Emit[hookKey](ctx, c.service, c.m.hookKey, apimethod.Values{"hook_id": hookID})
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

// RotateWebhookSecret replaces hookID's signing key and returns the new one.
func (c *Client) RotateWebhookSecret(ctx context.Context, hookID string) (string, error) {
	resp, err := request.Emit[hookKey](ctx, c.service, c.m.newHookKey, apimethod.Values{"hook_id": hookID})
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

// DeleteWebhook removes the active hook.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	hook, err := c.CurrentWebhook(ctx)
	if err != nil {
		if apiErr, ok := request.IsAPI(err); ok {
			return &request.APIError{
				Method:     c.m.deleteHook.Name,
				StatusCode: http.StatusUnprocessableEntity,
				Message:    MessageNoWebhook,
				Body:       apiErr.Body,
			}
		}
		return err
	}
	_, _, err = c.service.Do(ctx, c.m.deleteHook, apimethod.Values{"hook_id": hook.ID})
	return err
}

// BindOptions tunes BindWebhook.
type BindOptions struct {
	TxnType         int
	SendTest        bool
	ReplaceExisting bool
}

// BindWebhook registers url and returns the hook with its signing key.
// With ReplaceExisting any current hook is deleted first.
func (c *Client) BindWebhook(ctx context.Context, url string, opts BindOptions) (*WebhookInfo, string, error) {
	if opts.ReplaceExisting {
		if err := c.DeleteWebhook(ctx); err != nil {
			if _, ok := request.IsAPI(err); !ok {
				return nil, "", err
			}
		}
	}

	hook, err := c.RegisterWebhook(ctx, url, opts.TxnType)
	if err != nil {
		return nil, "", err
	}
	key, err := c.WebhookSecret(ctx, hook.ID)
	if err != nil {
		return nil, "", err
	}
	if opts.SendTest {
		if err := c.SendTestNotification(ctx); err != nil {
			return nil, "", err
		}
	}
	return hook, key, nil
}

func rubles(amount decimal.Decimal) json.Number {
	return json.Number(amount.StringFixed(2))
}
