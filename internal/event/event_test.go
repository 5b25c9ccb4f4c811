package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transactionBody = `{
	"messageId": "7814c49d-2d29-4b14-b2dc-36b377c76156",
	"hookId": "5e2027d1-f5f3-4ad1-b409-058b8b8a8c22",
	"payment": {
		"txnId": "13117338074",
		"date": "2018-06-27T13:39:00+03:00",
		"type": "IN",
		"status": "SUCCESS",
		"errorCode": "0",
		"personId": 78000008000,
		"account": "+78008000080",
		"comment": "order-42",
		"provider": 7,
		"sum": {"amount": 1.00, "currency": 643},
		"commission": {"amount": 0.00, "currency": 643},
		"total": {"amount": 1.00, "currency": 643},
		"signFields": "sum.currency,sum.amount,type,account,txnId"
	},
	"hash": "76687ffe5c516c793faa46fafba0994e7ca7a6d735966e0e0c0b65eaa43bdca0",
	"version": "1.0.0",
	"test": false
}`

const billBody = `{
	"bill": {
		"siteId": "9hh4jb-00",
		"billId": "cc961e8d-d4d6-4f02-b737-2297e51fb48e",
		"amount": {"value": "1.00", "currency": "RUB"},
		"status": {"value": "PAID", "changedDateTime": "2021-01-18T15:25:18+03:00"},
		"customer": {"phone": "78710009999", "email": "test@example.com"},
		"customFields": {"themeCode": "Yvan-YKaSh"},
		"comment": "Text comment",
		"creationDateTime": "2021-01-18T15:24:53+03:00",
		"expirationDateTime": "2021-01-19T15:24:53+03:00"
	},
	"version": "1"
}`

func TestParseTransaction(t *testing.T) {
	tx, err := ParseTransaction([]byte(transactionBody))
	require.NoError(t, err)

	assert.Equal(t, KindTransaction, tx.Kind())
	assert.False(t, tx.Experimental())
	assert.Equal(t, "643|1.00|IN|+78008000080|13117338074", tx.CanonicalString())
	assert.Equal(t, "76687ffe5c516c793faa46fafba0994e7ca7a6d735966e0e0c0b65eaa43bdca0", tx.Signature())
	assert.Equal(t, "transaction:13117338074:SUCCESS", tx.DeliveryKey())
	assert.Equal(t, Scalar("78000008000"), tx.Payment.PersonID)
	assert.True(t, tx.Payment.Sum.Amount.Decimal().Equal(decimal.NewFromInt(1)))
}

func TestParseTransaction_TestDelivery(t *testing.T) {
	tx, err := ParseTransaction([]byte(`{"messageId":"m-1","hookId":"h-1","test":true,"version":"1.0.0","hash":""}`))
	require.NoError(t, err)

	assert.True(t, tx.Experimental())
	assert.Equal(t, "", tx.CanonicalString())
	assert.Equal(t, "transaction:message:m-1", tx.DeliveryKey())
}

func TestParseTransaction_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"payment":`},
		{name: "missing payment", body: `{"hookId":"h","test":false}`},
		{name: "missing txn id", body: `{"payment":{"type":"IN","sum":{"amount":1,"currency":643}}}`},
		{name: "missing amount", body: `{"payment":{"txnId":"1","type":"IN","sum":{"currency":643}}}`},
		{name: "bad amount", body: `{"payment":{"txnId":"1","type":"IN","sum":{"amount":"ten","currency":643}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTransaction([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPayload))

			var pe *PayloadError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, KindTransaction, pe.Kind)
		})
	}
}

func TestTransactionFilterEnv(t *testing.T) {
	tx, err := ParseTransaction([]byte(transactionBody))
	require.NoError(t, err)

	env := tx.FilterEnv()
	assert.Equal(t, "transaction", env["kind"])
	assert.Equal(t, "IN", env["payment_type"])
	assert.Equal(t, 1.0, env["amount"])
	assert.Equal(t, "643", env["currency"])
	assert.Equal(t, "order-42", env["comment"])
}

func TestParseBill(t *testing.T) {
	bw, err := ParseBill([]byte(billBody), "sig")
	require.NoError(t, err)

	assert.Equal(t, KindBill, bw.Kind())
	assert.False(t, bw.Experimental())
	assert.Equal(t, "sig", bw.Signature())
	assert.Equal(t, "RUB|1.00|cc961e8d-d4d6-4f02-b737-2297e51fb48e|9hh4jb-00|PAID", bw.CanonicalString())
	assert.Equal(t, "bill:cc961e8d-d4d6-4f02-b737-2297e51fb48e:PAID", bw.DeliveryKey())

	env := bw.FilterEnv()
	assert.Equal(t, "PAID", env["status"])
	assert.Equal(t, "78710009999", env["customer_phone"])
}

func TestParseBill_Invalid(t *testing.T) {
	_, err := ParseBill([]byte(`{"version":"1","bill":{"billId":"x","amount":{"value":"1.00","currency":"RUB"},"status":{"value":"PAID"}}}`), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
	assert.Contains(t, err.Error(), "SiteID")
}

func TestMoney(t *testing.T) {
	t.Run("keeps literal text", func(t *testing.T) {
		var m Money
		require.NoError(t, json.Unmarshal([]byte(`10.50`), &m))
		assert.Equal(t, "10.50", m.String())

		out, err := json.Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, "10.50", string(out))
	})

	t.Run("accepts strings", func(t *testing.T) {
		var m Money
		require.NoError(t, json.Unmarshal([]byte(`"3"`), &m))
		assert.Equal(t, "3", m.String())
		assert.True(t, m.Decimal().Equal(decimal.NewFromInt(3)))
	})

	t.Run("null is zero", func(t *testing.T) {
		var m Money
		require.NoError(t, json.Unmarshal([]byte(`null`), &m))
		assert.True(t, m.IsZero())
	})

	t.Run("new money fixes two places", func(t *testing.T) {
		assert.Equal(t, "99.00", NewMoney(decimal.NewFromInt(99)).String())
	})
}

func TestBillInvoiceUID(t *testing.T) {
	b := Bill{PayURL: "https://oplata.qiwi.com/form/?invoice_uid=78d60ca9-7c99-481f-8e51-0100c9012087"}
	assert.Equal(t, "78d60ca9-7c99-481f-8e51-0100c9012087", b.InvoiceUID())
}
