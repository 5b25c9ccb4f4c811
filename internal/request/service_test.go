package request

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/qiwigo/internal/apimethod"
	"github.com/mattjoyce/qiwigo/internal/log"
	"github.com/mattjoyce/qiwigo/internal/metrics"
	"github.com/mattjoyce/qiwigo/internal/transport"
	"github.com/mattjoyce/qiwigo/internal/transport/mocks"
)

type balance struct {
	Alias string `json:"alias"`
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newMockService(t *testing.T, ttl time.Duration) (*Service, *mocks.MockDoer, *metrics.Metrics) {
	t.Helper()
	ctrl := gomock.NewController(t)
	doer := mocks.NewMockDoer(ctrl)
	m := metrics.New()
	svc := NewService(Config{
		Messages: DefaultMessages,
		Header:   http.Header{"Authorization": []string{"Bearer tkn"}},
		CacheTTL: ttl,
		Session:  transport.NewSession(0, transport.WithDoer(doer)),
		Logger:   log.Discard(),
		Metrics:  m,
	})
	return svc, doer, m
}

var getAccounts = &apimethod.Descriptor{
	Name:   "wallet.accounts",
	Method: http.MethodGet,
	URL:    "https://api.example.test/funding-sources/v2/persons/{phone_number}/accounts",
}

func TestEmit_DecodesAndSendsBaseHeaders(t *testing.T) {
	svc, doer, _ := newMockService(t, 0)

	doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		assert.Equal(t, "/funding-sources/v2/persons/79001234567/accounts", r.URL.Path)
		return jsonResponse(200, `{"alias":"qw_wallet_rub"}`), nil
	})

	got, err := Emit[balance](context.Background(), svc, getAccounts, apimethod.Values{"phone_number": "79001234567"})
	require.NoError(t, err)
	assert.Equal(t, "qw_wallet_rub", got.Alias)
}

func TestEmit_CacheHitSkipsTransport(t *testing.T) {
	svc, doer, m := newMockService(t, time.Minute)
	values := apimethod.Values{"phone_number": "79001234567"}

	doer.EXPECT().Do(gomock.Any()).Return(jsonResponse(200, `{"alias":"a"}`), nil).Times(1)

	first, err := Emit[balance](context.Background(), svc, getAccounts, values)
	require.NoError(t, err)
	second, err := Emit[balance](context.Background(), svc, getAccounts, values)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, svc.Cache().Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APICache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APICache.WithLabelValues("miss")))
}

func TestDo_CacheHitReturnsCopy(t *testing.T) {
	svc, doer, _ := newMockService(t, time.Minute)
	values := apimethod.Values{"phone_number": "79001234567"}

	doer.EXPECT().Do(gomock.Any()).Return(jsonResponse(200, `{"alias":"a"}`), nil).Times(1)

	first, _, err := svc.Do(context.Background(), getAccounts, values)
	require.NoError(t, err)
	second, _, err := svc.Do(context.Background(), getAccounts, values)
	require.NoError(t, err)
	for i := range second {
		second[i] = 'x'
	}

	third, _, err := svc.Do(context.Background(), getAccounts, values)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(third))
	assert.JSONEq(t, `{"alias":"a"}`, string(third))
}

func TestEmit_NoCacheDescriptorAlwaysCallsRemote(t *testing.T) {
	svc, doer, _ := newMockService(t, time.Minute)
	d := &apimethod.Descriptor{
		Name:    "wallet.test_webhook",
		Method:  http.MethodGet,
		URL:     "https://api.example.test/payment-notifier/v1/hooks/test",
		NoCache: true,
	}

	doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"response":"Webhook sent"}`), nil
	}).Times(2)

	for range 2 {
		_, _, err := svc.Do(context.Background(), d, nil)
		require.NoError(t, err)
	}
	assert.Zero(t, svc.Cache().Len())
}

func TestEmit_DifferentArgumentsMissCache(t *testing.T) {
	svc, doer, _ := newMockService(t, time.Minute)

	doer.EXPECT().Do(gomock.Any()).Return(jsonResponse(200, `{"alias":"a"}`), nil)
	doer.EXPECT().Do(gomock.Any()).Return(jsonResponse(200, `{"alias":"b"}`), nil)

	a, err := Emit[balance](context.Background(), svc, getAccounts, apimethod.Values{"phone_number": "1"})
	require.NoError(t, err)
	b, err := Emit[balance](context.Background(), svc, getAccounts, apimethod.Values{"phone_number": "2"})
	require.NoError(t, err)

	assert.Equal(t, "a", a.Alias)
	assert.Equal(t, "b", b.Alias)
}

func TestEmit_ZeroTTLAlwaysCallsRemote(t *testing.T) {
	svc, doer, _ := newMockService(t, 0)
	values := apimethod.Values{"phone_number": "1"}

	doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"alias":"a"}`), nil
	}).Times(2)

	for i := 0; i < 2; i++ {
		_, err := Emit[balance](context.Background(), svc, getAccounts, values)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, svc.Cache().Len())
}

func TestEmit_PostIsNeverCached(t *testing.T) {
	svc, doer, _ := newMockService(t, time.Minute)
	d := &apimethod.Descriptor{
		Name:   "wallet.transfer",
		Method: http.MethodPost,
		URL:    "https://api.example.test/sinap/api/v2/terms/99/payments",
		Body:   apimethod.Object{"id": apimethod.Runtime()},
	}

	doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{}`), nil
	}).Times(2)

	for i := 0; i < 2; i++ {
		_, _, err := svc.Do(context.Background(), d, apimethod.Values{"id": "1"})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, svc.Cache().Len())
}

func TestEmit_StatusMessages(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		opts    []CallOption
		message string
	}{
		{
			name:    "client table",
			status:  404,
			message: DefaultMessages[404],
		},
		{
			name:    "call site override",
			status:  404,
			opts:    []CallOption{OverrideMessage(404, "Wrong card number entered")},
			message: "Wrong card number entered",
		},
		{
			name:    "override for another code leaves table entry",
			status:  401,
			opts:    []CallOption{OverrideMessage(404, "Wrong card number entered")},
			message: DefaultMessages[401],
		},
		{
			name:    "unmapped status",
			status:  418,
			message: UnknownMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, doer, _ := newMockService(t, time.Minute)
			doer.EXPECT().Do(gomock.Any()).Return(jsonResponse(tt.status, `{"errorCode":"x"}`), nil)

			_, err := Emit[balance](context.Background(), svc, getAccounts, apimethod.Values{"phone_number": "1"}, tt.opts...)
			require.Error(t, err)

			apiErr, ok := IsAPI(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, "wallet.accounts", apiErr.Method)
			assert.JSONEq(t, `{"errorCode":"x"}`, string(apiErr.Body))
			assert.True(t, errors.Is(err, ErrAPI))
			assert.False(t, IsTransport(err))
			assert.Equal(t, 0, svc.Cache().Len(), "failures are not cached")
		})
	}
}

func TestEmit_AllowedStatus(t *testing.T) {
	d := &apimethod.Descriptor{
		Name:   "wallet.create_balance",
		Method: http.MethodPost,
		URL:    "https://api.example.test/funding-sources/v2/persons/1/accounts",
	}

	t.Run("declared 201 is success", func(t *testing.T) {
		svc, doer, _ := newMockService(t, 0)
		doer.EXPECT().Do(gomock.Any()).Return(jsonResponse(201, ``), nil)

		_, err := Emit[struct{}](context.Background(), svc, d, nil, AllowStatus(201))
		require.NoError(t, err)
	})

	t.Run("undeclared 201 is failure", func(t *testing.T) {
		svc, doer, _ := newMockService(t, 0)
		doer.EXPECT().Do(gomock.Any()).Return(jsonResponse(201, ``), nil)

		_, err := Emit[struct{}](context.Background(), svc, d, nil)
		apiErr, ok := IsAPI(err)
		require.True(t, ok)
		assert.Equal(t, 201, apiErr.StatusCode)
		assert.Equal(t, UnknownMessage, apiErr.Message)
		assert.Nil(t, apiErr.Body)
	})
}

func TestEmit_TransportFailure(t *testing.T) {
	svc, doer, m := newMockService(t, time.Minute)
	boom := errors.New("connection refused")
	doer.EXPECT().Do(gomock.Any()).Return(nil, boom)

	_, err := Emit[balance](context.Background(), svc, getAccounts, apimethod.Values{"phone_number": "1"})
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, boom))
	assert.False(t, errors.Is(err, ErrAPI))
	assert.Equal(t, 0, svc.Cache().Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequests.WithLabelValues("wallet.accounts", "transport_error")))
}

func TestEmit_SchemaErrorNeverReachesTransport(t *testing.T) {
	svc, _, _ := newMockService(t, 0)

	_, err := Emit[balance](context.Background(), svc, getAccounts, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apimethod.ErrSchemaBuild))
	assert.False(t, IsTransport(err))
}

func TestEmit_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := NewService(Config{
		CacheTTL: time.Minute,
		Timeout:  50 * time.Millisecond,
		Logger:   log.Discard(),
	})
	defer svc.Close()

	d := &apimethod.Descriptor{Name: "slow", Method: http.MethodGet, URL: srv.URL + "/slow"}
	_, err := Emit[balance](context.Background(), svc, d, nil)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, 0, svc.Cache().Len())
}

func TestEmit_NonPersistentSessionOpensPerCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"alias":"a"}`)
	}))
	defer srv.Close()

	session := transport.NewSession(time.Second, transport.WithoutPersistentSession())
	svc := NewService(Config{Session: session, Logger: log.Discard()})

	d := &apimethod.Descriptor{Name: "ping", Method: http.MethodGet, URL: srv.URL}
	for i := 0; i < 3; i++ {
		got, err := Emit[balance](context.Background(), svc, d, nil)
		require.NoError(t, err)
		assert.Equal(t, "a", got.Alias)
	}
	assert.Equal(t, 3, session.Opened())
}

func TestEmit_RawBody(t *testing.T) {
	svc, doer, _ := newMockService(t, 0)
	doer.EXPECT().Do(gomock.Any()).Return(jsonResponse(200, `%PDF-1.4`), nil)

	d := &apimethod.Descriptor{Name: "wallet.receipt", Method: http.MethodGet, URL: "https://api.example.test/r"}
	raw, err := Emit[[]byte](context.Background(), svc, d, nil)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(raw))
}

func TestClearCache(t *testing.T) {
	svc, doer, _ := newMockService(t, time.Minute)
	values := apimethod.Values{"phone_number": "1"}

	doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"alias":"a"}`), nil
	}).Times(2)

	_, err := Emit[balance](context.Background(), svc, getAccounts, values)
	require.NoError(t, err)
	svc.ClearCache()
	assert.Equal(t, 0, svc.Cache().Len())

	_, err = Emit[balance](context.Background(), svc, getAccounts, values)
	require.NoError(t, err)
}
