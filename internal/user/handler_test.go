package user

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit"
	auditentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/session"
)

func login(h *Handler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	r.RemoteAddr = "198.51.100.4:4000"
	w := httptest.NewRecorder()
	h.Login(w, r)
	return w
}

func TestLoginIssuesVerifiableSession(t *testing.T) {
	s, db := newService(t)
	u := register(t, s, "a@x.io", true)
	issuer, err := session.NewIssuer(session.Config{Secret: strings.Repeat("z", 32), Issuer: "test", TTL: time.Hour})
	require.NoError(t, err)
	h := NewHandler(s, issuer, audit.NewEmitter(db.Events(), nil), nil)

	w := login(h, `{"email":"a@x.io","password":"password123"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "passwordHash")
	var res struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
		User      struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, u.ID.String(), res.User.ID)

	claims, err := issuer.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID())
	assert.Equal(t, u.Version, claims.Version)

	events := db.Events().Kinds()
	require.Len(t, events, 1)
	assert.Equal(t, auditentity.KindUserLogin, events[0])
}

func TestLoginFailures(t *testing.T) {
	s, db := newService(t)
	register(t, s, "a@x.io", true)
	issuer, err := session.NewIssuer(session.Config{Secret: strings.Repeat("z", 32), Issuer: "test", TTL: time.Hour})
	require.NoError(t, err)
	emitter := audit.NewEmitter(db.Events(), nil)
	h := NewHandler(s, issuer, emitter, nil)

	w := login(h, `{"email":"a@x.io","password":"nope-nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = login(h, `{"email":"a@x.io","pass":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	failed, err := db.Events().List(t.Context(), auditentity.Filter{Kind: auditentity.KindUserLogin})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, auditentity.StatusFailure, failed[0].Status)
	assert.Nil(t, failed[0].ActorID)
	assert.Equal(t, "198.51.100.4", failed[0].IP)
}
