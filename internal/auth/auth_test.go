package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc", want: "abc"},
		{name: "trims", header: "Bearer  abc ", want: "abc"},
		{name: "missing", wantErr: true},
		{name: "basic", header: "Basic abc", wantErr: true},
		{name: "empty", header: "Bearer ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequire(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "metrics-token", Scopes: []string{ScopeMetrics}},
		{Token: "other-token", Scopes: []string{"jobs:ro"}},
	}
	var principal Principal
	h := Require(tokens, ScopeMetrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "no token", status: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong scope", header: "Bearer other-token", status: http.StatusForbidden},
		{name: "allowed", header: "Bearer metrics-token", status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, "metrics-token", principal.Token)
}

func TestRequire_NoTokensIsOpen(t *testing.T) {
	h := Require(nil, ScopeMetrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHasAnyScope_Wildcard(t *testing.T) {
	p := Principal{Scopes: normalizeScopes([]string{"*"})}
	assert.True(t, HasAnyScope(p, ScopeMetrics))
}
