package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/principal"
)

type denyAll struct{ calls int }

func (d *denyAll) Middleware(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.calls++
		apperr.Write(w, apperr.Unauthenticated("missing_token", "authentication required"))
	})
}

func TestHealth(t *testing.T) {
	var pingErr error
	h := RegisterRoutes(Deps{Auth: &denyAll{}, Ping: func(context.Context) error { return pingErr }})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	pingErr = errors.New("down")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuthenticatedRoutesGoThroughAuth(t *testing.T) {
	auth := &denyAll{}
	h := RegisterRoutes(Deps{Auth: auth})
	for _, rt := range []struct{ method, path string }{
		{http.MethodPost, "/invites"},
		{http.MethodGet, "/invites"},
		{http.MethodPatch, "/invites/abc/cancel"},
		{http.MethodPost, "/invites/abc/resend"},
		{http.MethodPost, "/memberships"},
		{http.MethodGet, "/memberships"},
		{http.MethodPut, "/memberships/abc"},
		{http.MethodDelete, "/memberships/abc"},
		{http.MethodDelete, "/memberships/abc/roles/tenant"},
		{http.MethodGet, "/action-events"},
		{http.MethodGet, "/notifications"},
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, rt.method+" "+rt.path)
	}
	assert.Equal(t, 11, auth.calls)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = principal.RequestIDFrom(r.Context())
	}))

	in := uuid.NewString()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, in)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, in, seen)
	assert.Equal(t, in, w.Header().Get(RequestIDHeader))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "<script>")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.NotEqual(t, "<script>", seen)
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
}

func TestSecurityHeadersHSTSOnlyOverTLS(t *testing.T) {
	h := SecurityHeadersMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://x/", nil))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "https://x/", nil))
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestIPRateLimiter(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))

	now = now.Add(5 * time.Minute)
	assert.True(t, l.Allow("c"))
	assert.Equal(t, 1, l.size())
}

func TestRateLimitMiddleware(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, 1)
	l.now = func() time.Time { return now }
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := func(xff string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/public/invites/t/verify", nil)
		if xff != "" {
			r.Header.Set("X-Forwarded-For", xff)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}
	assert.Equal(t, http.StatusNoContent, req("").Code)
	w := req("")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	var body struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Error["kind"])

	assert.Equal(t, http.StatusNoContent, req("203.0.113.9").Code)
}
