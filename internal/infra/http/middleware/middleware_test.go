package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xavierca1/lead-market/internal/usecase"
)

func TestParseAdminTokens(t *testing.T) {
	tokens, err := ParseAdminTokens("tok-a:ops@example.com:admin, tok-b:viewer@example.com:customer")
	require.NoError(t, err)
	assert.Equal(t, 2, tokens.Len())

	actor, ok := tokens.Lookup("tok-a")
	require.True(t, ok)
	assert.Equal(t, usecase.RoleAdmin, actor.Role)
	assert.Equal(t, "ops@example.com", actor.Email)

	_, ok = tokens.Lookup("tok-c")
	assert.False(t, ok)
}

func TestParseAdminTokensRejectsBadEntries(t *testing.T) {
	_, err := ParseAdminTokens("secret-only")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-only")

	_, err = ParseAdminTokens("tok:ops@example.com:root")
	assert.Error(t, err)
}

func TestAuthenticateAttachesActor(t *testing.T) {
	tokens, err := ParseAdminTokens("tok-a:ops@example.com:admin")
	require.NoError(t, err)

	var seen *usecase.Actor
	h := Authenticate(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = usecase.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/refunds", nil)
	req.Header.Set("Authorization", "Bearer tok-a")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, usecase.RoleAdmin, seen.Role)

	seen = nil
	req = httptest.NewRequest(http.MethodPost, "/admin/refunds", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, seen)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"))

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow("1.1.1.1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()
	h := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Post("/admin/orders/{id}/replace-leads", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/admin/orders/{id}/replace-leads", "409"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/orders/abc/replace-leads", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/admin/orders/{id}/replace-leads", "409"))
	assert.Equal(t, before+1, after)
}

func TestRecordFulfillment(t *testing.T) {
	before := testutil.ToFloat64(fulfillmentsTotal.WithLabelValues("PAYMENT_WEBHOOK", "completed"))
	RecordFulfillment("PAYMENT_WEBHOOK", "completed")
	assert.Equal(t, before+1, testutil.ToFloat64(fulfillmentsTotal.WithLabelValues("PAYMENT_WEBHOOK", "completed")))
}
