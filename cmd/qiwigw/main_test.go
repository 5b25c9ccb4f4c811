package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/qiwigo/internal/config"
	"github.com/mattjoyce/qiwigo/internal/event"
	"github.com/mattjoyce/qiwigo/internal/metrics"
	"github.com/mattjoyce/qiwigo/internal/webhook"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return run(args) })
}

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "qiwigw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

var testSecret = base64.StdEncoding.EncodeToString([]byte("p2p-secret-key"))

func TestRun_VersionAndHelp(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "qiwigw version "+version)

	code, stdout, _ = runCLI(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "webhook serve")

	code, _, stderr := runCLI(t, "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: bogus")

	code, _, stderr = runCLI(t, "wallet", "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown wallet action: bogus")

	code, stdout, _ = runCLI(t, "p2p", "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Actions: bill, create, reject")

	code, stdout, _ = runCLI(t, "p2p", "bill", "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Usage: qiwigw p2p bill <id>")
}

func TestConfigCheck(t *testing.T) {
	path := writeConfig(t, `
p2p:
  secret_key: `+testSecret+`
handlers:
  - name: big-bills
    event: bill
    filter: amount > 1000
`)

	code, stdout, stderr := runCLI(t, "config", "check", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "p2p client:       enabled")
	assert.Contains(t, stdout, "handlers:         1")
	assert.Contains(t, stdout, "PASSED")

	code, stdout, _ = runCLI(t, "config", "check", "--config", path, "--json")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, `"valid": true`)
}

func TestConfigCheck_Invalid(t *testing.T) {
	path := writeConfig(t, `
handlers:
  - name: broken
    filter: "amount >"
`)
	code, _, stderr := runCLI(t, "config", "check", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid filter")
}

func TestConfigCheck_LoadsDotEnv(t *testing.T) {
	t.Setenv("QIWIGW_TEST_P2P_SECRET", "")
	require.NoError(t, os.Unsetenv("QIWIGW_TEST_P2P_SECRET"))

	path := writeConfig(t, `
p2p:
  secret_key: ${QIWIGW_TEST_P2P_SECRET}
`)
	envFile := filepath.Join(filepath.Dir(path), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("QIWIGW_TEST_P2P_SECRET="+testSecret+"\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("QIWIGW_TEST_P2P_SECRET") })

	code, stdout, stderr := runCLI(t, "config", "check", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "p2p client:       enabled")
}

func TestConfigLock(t *testing.T) {
	path := writeConfig(t, "p2p:\n  secret_key: "+testSecret+"\n")
	checksums := filepath.Join(filepath.Dir(path), ".checksums")

	code, stdout, stderr := runCLI(t, "config", "lock", "--config", path, "-v", "--dry-run")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "HASH qiwigw.yaml:")
	assert.Contains(t, stdout, "SKIP .env: not found (optional)")
	assert.Contains(t, stdout, "Dry run")
	assert.NoFileExists(t, checksums)

	code, _, stderr = runCLI(t, "config", "lock", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.FileExists(t, checksums)

	code, _, _ = runCLI(t, "config", "check", "--config", path)
	assert.Equal(t, 0, code)

	require.NoError(t, os.WriteFile(path, []byte("p2p:\n  secret_key: tampered\n"), 0o600))
	code, _, stderr = runCLI(t, "config", "check", "--config", path)
	assert.Equal(t, 1, code)
	assert.NotEmpty(t, stderr)
}

func TestSplitPositional(t *testing.T) {
	pos, flags := splitPositional([]string{"--config", "x.yaml", "bill-1", "--json"}, 1)
	assert.Equal(t, []string{"bill-1"}, pos)
	assert.Equal(t, []string{"--config", "x.yaml", "--json"}, flags)

	pos, flags = splitPositional([]string{"--json", "bill-2"}, 1)
	assert.Equal(t, []string{"bill-2"}, pos)
	assert.Equal(t, []string{"--json"}, flags)
}

func TestBuildDispatcher(t *testing.T) {
	d, err := buildDispatcher([]config.HandlerConfig{
		{Name: "all", Event: "any", Action: "log", Level: "info"},
		{Name: "incoming", Event: "transaction", Filter: `payment_type == "IN"`, Action: "log", Level: "debug"},
		{Name: "bills", Event: "bill", Action: "log", Level: "info"},
	}, metrics.New())
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())

	tx, err := event.ParseTransaction([]byte(`{"messageId":"m1","hookId":"h1","hash":"x","version":"1.0.0","test":false,
		"payment":{"txnId":"1","type":"IN","status":"SUCCESS","account":"+7999","date":"2024-01-01T10:00:00+03:00",
		"sum":{"amount":10,"currency":643}}}`))
	require.NoError(t, err)

	outcomes := d.Dispatch(context.Background(), tx)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "all", outcomes[0].Handler)
	assert.Equal(t, "incoming", outcomes[1].Handler)
	assert.NoError(t, outcomes[1].Err)
}

func TestBuildDispatcher_InvalidFilter(t *testing.T) {
	_, err := buildDispatcher([]config.HandlerConfig{{Name: "bad", Event: "any", Filter: "(("}}, nil)
	assert.Error(t, err)
}

func TestNewGateway(t *testing.T) {
	cfg, err := config.Parse([]byte(`
p2p:
  secret_key: ` + testSecret + `
webhooks:
  allowed_ips: ["*"]
delivery:
  backend: sqlite
  path: ` + filepath.Join(t.TempDir(), "deliveries.db") + `
handlers:
  - name: log-bills
    event: bill
`))
	require.NoError(t, err)

	gw, err := newGateway(context.Background(), cfg, metrics.New())
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	assert.Equal(t, 1, gw.dispatcher.Len())

	body := `{"version":"1","bill":{"siteId":"s1","billId":"b1","amount":{"value":"1.00","currency":"RUB"},
		"status":{"value":"PAID"}}}`
	bw, err := event.ParseBill([]byte(body), "")
	require.NoError(t, err)
	sig, err := webhook.Sign(bw, testSecret)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.server.Handler())
	t.Cleanup(srv.Close)

	for range 2 {
		req, err := http.NewRequest(http.MethodPost, srv.URL+gw.webhookConfig.BillPath, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(webhook.BillSignatureHeader, sig)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", string(data))
	}

	claimed, err := gw.store.Claim(context.Background(), bw.DeliveryKey())
	require.NoError(t, err)
	assert.False(t, claimed, "delivery must be remembered after completion")
}

func TestNewGateway_NoSecrets(t *testing.T) {
	cfg, err := config.Parse([]byte("service:\n  name: qiwigw\n"))
	require.NoError(t, err)
	_, err = newGateway(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "no webhook secret configured")
}

func TestNewGateway_FetchesTransactionKey(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("hook-key"))
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/payment-notifier/v1/hooks/active":
			_, _ = io.WriteString(w, `{"hookId":"hook-1","hookType":"WEB","txnType":"BOTH","hookParameters":{"url":"https://x"}}`)
		case "/payment-notifier/v1/hooks/hook-1/key":
			_, _ = io.WriteString(w, `{"key":"`+key+`"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(api.Close)

	cfg, err := config.Parse([]byte(`
wallet:
  token: wallet-token
  phone_number: "+79991112233"
  base_url: ` + api.URL + `
`))
	require.NoError(t, err)

	gw, err := newGateway(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	assert.Equal(t, key, gw.webhookConfig.TransactionKey)
}

func TestNewGateway_Polling(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment-history/v2/persons/79991112233/payments" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "20", r.URL.Query().Get("rows"))
		assert.NotEmpty(t, r.URL.Query().Get("startDate"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"txnId":42,"status":"SUCCESS","type":"IN","account":"+79990000000",
			"sum":{"amount":5.00,"currency":643}}],"nextTxnId":null}`)
	}))
	t.Cleanup(api.Close)

	cfg, err := config.Parse([]byte(`
wallet:
  token: wallet-token
  phone_number: "+79991112233"
  base_url: ` + api.URL + `
webhooks:
  transaction_key: ` + base64.StdEncoding.EncodeToString([]byte("k")) + `
polling:
  enabled: true
  rows: 20
handlers:
  - name: incoming
    event: transaction
`))
	require.NoError(t, err)

	gw, err := newGateway(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	require.NotNil(t, gw.poller)

	n, err := gw.poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The same transaction arriving by webhook is now a duplicate.
	first, err := gw.store.Claim(context.Background(), "transaction:42:SUCCESS")
	require.NoError(t, err)
	assert.False(t, first)

	n, err = gw.poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWalletBalances(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/funding-sources/v2/persons/79991112233/accounts", r.URL.Path)
		assert.Equal(t, "Bearer wallet-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"accounts":[{"alias":"qw_wallet_rub","hasBalance":true,
			"balance":{"amount":150.5,"currency":643},"currency":643,"defaultAccount":true}]}`)
	}))
	t.Cleanup(api.Close)

	path := writeConfig(t, `
wallet:
  token: wallet-token
  phone_number: "+79991112233"
  base_url: `+api.URL+`
`)

	code, stdout, stderr := runCLI(t, "wallet", "balances", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "qw_wallet_rub")
	assert.Contains(t, stdout, "150.5")

	code, stdout, stderr = runCLI(t, "wallet", "balances", "--config", path, "--json")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `"alias": "qw_wallet_rub"`)
}

func TestP2PBill(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/partner/bill/v1/bills/bill-7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"siteId":"s1","billId":"bill-7","amount":{"value":"42.00","currency":"RUB"},
			"status":{"value":"WAITING"},"payUrl":"https://oplata.qiwi.com/form?invoiceUid=x"}`)
	}))
	t.Cleanup(api.Close)

	path := writeConfig(t, `
p2p:
  secret_key: `+testSecret+`
  base_url: `+api.URL+`
`)

	code, stdout, stderr := runCLI(t, "p2p", "bill", "bill-7", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "status:  WAITING")
	assert.Contains(t, stdout, "amount:  42.00 RUB")

	code, _, stderr = runCLI(t, "p2p", "bill", "--config", path, "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Request failed")
}

func TestP2PCreate_RejectsBadAmount(t *testing.T) {
	code, _, stderr := runCLI(t, "p2p", "create", "--amount", "-3")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--amount must be a positive number")
}
