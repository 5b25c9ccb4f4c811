package wallet

import (
	"time"

	"github.com/mattjoyce/qiwigo/internal/event"
)

// Operation selects which transactions a history or receipt call covers.
type Operation string

const (
	OperationAll      Operation = "ALL"
	OperationIn       Operation = "IN"
	OperationOut      Operation = "OUT"
	OperationQiwiCard Operation = "QIWI_CARD"
)

// Webhook transaction filter used when registering a hook.
const (
	HookIncoming = 0
	HookOutgoing = 1
	HookAll      = 2
)

// Currency codes used by wallet payments.
const (
	CurrencyRUB = "643"
)

// MaxHistoryRows is the most rows a single history call may request.
const MaxHistoryRows = 50

// Amount is a sum with its ISO 4217 numeric currency code.
type Amount struct {
	Amount   event.Money  `json:"amount"`
	Currency event.Scalar `json:"currency"`
}

type BalanceType struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Balance is one wallet account.
type Balance struct {
	Alias          string       `json:"alias"`
	Title          string       `json:"title"`
	FundingAlias   string       `json:"fsAlias"`
	BankAlias      string       `json:"bankAlias"`
	HasBalance     bool         `json:"hasBalance"`
	Balance        *Amount      `json:"balance"`
	Currency       event.Scalar `json:"currency"`
	Type           BalanceType  `json:"type"`
	DefaultAccount bool         `json:"defaultAccount"`
}

type balancesResponse struct {
	Accounts []Balance `json:"accounts"`
}

// AvailableBalance is an account alias that may still be created.
type AvailableBalance struct {
	Alias    string       `json:"alias"`
	Currency event.Scalar `json:"currency"`
}

type Provider struct {
	ID          int    `json:"id"`
	ShortName   string `json:"shortName"`
	LongName    string `json:"longName"`
	LogoURL     string `json:"logoUrl"`
	Description string `json:"description"`
}

// Transaction is one row of the payment history.
type Transaction struct {
	ID           int64        `json:"txnId"`
	PersonID     int64        `json:"personId"`
	Date         time.Time    `json:"date"`
	ErrorCode    int          `json:"errorCode"`
	Error        string       `json:"error"`
	Status       string       `json:"status"`
	Type         string       `json:"type"`
	StatusText   string       `json:"statusText"`
	TrmTxnID     string       `json:"trmTxnId"`
	Account      string       `json:"account"`
	Sum          Amount       `json:"sum"`
	Commission   Amount       `json:"commission"`
	Total        Amount       `json:"total"`
	Provider     *Provider    `json:"provider"`
	Comment      string       `json:"comment"`
	CurrencyRate event.Scalar `json:"currencyRate"`
}

// History is a page of transactions.
type History struct {
	Transactions []Transaction `json:"data"`
	NextTxnID    *int64        `json:"nextTxnId"`
	NextTxnDate  *time.Time    `json:"nextTxnDate"`
}

// HistoryFilter narrows a history call. Zero fields are not sent.
type HistoryFilter struct {
	Rows      int
	Operation Operation
	Sources   []string
	StartDate time.Time
	EndDate   time.Time
}

type PaymentState struct {
	Code string `json:"code"`
}

type PaymentTransaction struct {
	ID    string       `json:"id"`
	State PaymentState `json:"state"`
}

// PaymentInfo is the result of a transfer or purchase.
type PaymentInfo struct {
	ID          string             `json:"id"`
	Terms       string             `json:"terms"`
	Fields      map[string]any     `json:"fields"`
	Sum         Amount             `json:"sum"`
	Source      string             `json:"source"`
	Comment     string             `json:"comment"`
	Transaction PaymentTransaction `json:"transaction"`
}

type HookParameters struct {
	URL string `json:"url"`
}

// WebhookInfo describes the registered notification hook.
type WebhookInfo struct {
	ID         string         `json:"hookId"`
	Parameters HookParameters `json:"hookParameters"`
	Type       string         `json:"hookType"`
	TxnType    string         `json:"txnType"`
}

type hookKey struct {
	Key string `json:"key"`
}

// detectResponse is returned by the provider detection endpoints.
type detectResponse struct {
	Code struct {
		Value event.Scalar `json:"value"`
		Name  string       `json:"_name"`
	} `json:"code"`
	Message string `json:"message"`
}
