package wallet

import (
	"net/http"

	"github.com/mattjoyce/qiwigo/internal/apimethod"
)

// methods holds the descriptors of one client, bound to its base URLs.
type methods struct {
	balances          *apimethod.Descriptor
	availableBalances *apimethod.Descriptor
	createBalance     *apimethod.Descriptor
	setDefaultBalance *apimethod.Descriptor
	transferMoney     *apimethod.Descriptor
	transferToCard    *apimethod.Descriptor
	buyQiwiCard       *apimethod.Descriptor
	detectOperator    *apimethod.Descriptor
	detectCard        *apimethod.Descriptor
	history           *apimethod.Descriptor
	receipt           *apimethod.Descriptor
	registerHook      *apimethod.Descriptor
	currentHook       *apimethod.Descriptor
	testHook          *apimethod.Descriptor
	hookKey           *apimethod.Descriptor
	newHookKey        *apimethod.Descriptor
	deleteHook        *apimethod.Descriptor
}

// payment is the body shared by every sinap payment.
func payment(account apimethod.Node) apimethod.Object {
	return apimethod.Object{
		"id": apimethod.Runtime().WithFactory(apimethod.UnixMilliID),
		"sum": apimethod.Object{
			"amount":   apimethod.Runtime().Named("amount"),
			"currency": apimethod.Lit(CurrencyRUB),
		},
		"paymentMethod": apimethod.Object{
			"type":      apimethod.Lit("Account"),
			"accountId": apimethod.Lit(CurrencyRUB),
		},
		"comment": apimethod.Runtime().Named("comment").AsOptional(),
		"fields":  apimethod.Object{"account": account},
	}
}

func newMethods(base, site string) methods {
	accounts := base + "/funding-sources/v2/persons/{phone_number}/accounts"
	hooks := base + "/payment-notifier/v1/hooks"

	return methods{
		balances: &apimethod.Descriptor{
			Name:   "wallet.balances",
			Method: http.MethodGet,
			URL:    accounts,
		},
		availableBalances: &apimethod.Descriptor{
			Name:   "wallet.available_balances",
			Method: http.MethodGet,
			URL:    accounts + "/offer",
		},
		createBalance: &apimethod.Descriptor{
			Name:   "wallet.create_balance",
			Method: http.MethodPost,
			URL:    accounts,
			Body:   apimethod.Object{"alias": apimethod.Runtime().Named("currency_alias")},
		},
		setDefaultBalance: &apimethod.Descriptor{
			Name:   "wallet.set_default_balance",
			Method: http.MethodPatch,
			URL:    accounts + "/{currency_alias}",
			Body:   apimethod.Object{"defaultAccount": apimethod.Lit(true)},
		},
		transferMoney: &apimethod.Descriptor{
			Name:   "wallet.transfer_money",
			Method: http.MethodPost,
			URL:    base + "/sinap/api/v2/terms/99/payments",
			Body:   payment(apimethod.Runtime().Named("to_wallet")),
		},
		transferToCard: &apimethod.Descriptor{
			Name:   "wallet.transfer_money_to_card",
			Method: http.MethodPost,
			URL:    base + "/sinap/api/v2/terms/{card_id}/payments",
			Body:   payment(apimethod.Runtime().Named("card_number")),
		},
		buyQiwiCard: &apimethod.Descriptor{
			Name:   "wallet.buy_qiwi_card",
			Method: http.MethodPost,
			URL:    base + "/sinap/api/v2/terms/32064/payments",
			Body: apimethod.Object{
				"id": apimethod.Runtime().WithFactory(apimethod.UnixMilliID),
				"sum": apimethod.Object{
					"amount":   apimethod.Runtime().Named("amount").WithDefault(99),
					"currency": apimethod.Lit(CurrencyRUB),
				},
				"paymentMethod": apimethod.Object{
					"type":      apimethod.Lit("Account"),
					"accountId": apimethod.Lit(CurrencyRUB),
				},
				"fields": apimethod.Object{
					"account":  apimethod.Runtime().Named("phone_number"),
					"order_id": apimethod.Runtime().Named("order_id"),
				},
			},
		},
		detectOperator: &apimethod.Descriptor{
			Name:   "wallet.detect_mobile_operator",
			Method: http.MethodPost,
			URL:    site + "/mobile/detect.action",
			Form:   true,
			Body:   apimethod.Object{"phone": apimethod.Runtime().Named("phone_number")},
		},
		detectCard: &apimethod.Descriptor{
			Name:   "wallet.card_id",
			Method: http.MethodPost,
			URL:    site + "/card/detect.action",
			Form:   true,
			Body:   apimethod.Object{"cardNumber": apimethod.Runtime().Named("card_number")},
		},
		history: &apimethod.Descriptor{
			Name:   "wallet.history",
			Method: http.MethodGet,
			URL:    base + "/payment-history/v2/persons/{phone_number}/payments",
			Query: apimethod.Object{
				"rows":      apimethod.Runtime().WithDefault(MaxHistoryRows),
				"operation": apimethod.Runtime().WithDefault(string(OperationAll)),
				"sources":   apimethod.Runtime().AsOptional(),
				"startDate": apimethod.Runtime().AsOptional(),
				"endDate":   apimethod.Runtime().AsOptional(),
			},
		},
		receipt: &apimethod.Descriptor{
			Name:   "wallet.receipt",
			Method: http.MethodGet,
			URL:    base + "/payment-history/v1/transactions/{transaction_id}/cheque/file",
			Query: apimethod.Object{
				"type":   apimethod.Runtime(),
				"format": apimethod.Runtime().WithDefault("PDF"),
			},
		},
		registerHook: &apimethod.Descriptor{
			Name:   "wallet.register_webhook",
			Method: http.MethodPut,
			URL:    hooks,
			Query: apimethod.Object{
				"hookType": apimethod.Lit(1),
				"param":    apimethod.Runtime().Named("url"),
				"txnType":  apimethod.Runtime().Named("txn_type").WithDefault(HookAll),
			},
		},
		currentHook: &apimethod.Descriptor{
			Name:    "wallet.current_webhook",
			Method:  http.MethodGet,
			URL:     hooks + "/active",
			NoCache: true,
		},
		testHook: &apimethod.Descriptor{
			Name:    "wallet.test_webhook",
			Method:  http.MethodGet,
			URL:     hooks + "/test",
			NoCache: true,
		},
		hookKey: &apimethod.Descriptor{
			Name:    "wallet.webhook_secret",
			Method:  http.MethodGet,
			URL:     hooks + "/{hook_id}/key",
			NoCache: true,
		},
		newHookKey: &apimethod.Descriptor{
			Name:   "wallet.new_webhook_secret",
			Method: http.MethodPost,
			URL:    hooks + "/{hook_id}/newkey",
		},
		deleteHook: &apimethod.Descriptor{
			Name:   "wallet.delete_webhook",
			Method: http.MethodDelete,
			URL:    hooks + "/{hook_id}",
		},
	}
}
