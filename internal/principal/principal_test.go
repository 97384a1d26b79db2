package principal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/session"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

type fakeUsers map[ident.ID]*user.User

func (f fakeUsers) GetByID(_ context.Context, id ident.ID) (*user.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, apperr.NotFound("user_not_found", "user not found")
	}
	cp := *u
	return &cp, nil
}

type fakeMemberships map[ident.ID][]*membership.Membership

func (f fakeMemberships) FindForUser(_ context.Context, id ident.ID, _ membership.Filter) ([]*membership.Membership, error) {
	return f[id], nil
}

type fixture struct {
	issuer   *session.Issuer
	users    fakeUsers
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	issuer, err := session.NewIssuer(session.Config{Secret: strings.Repeat("s", 32), Issuer: "test", TTL: time.Hour})
	require.NoError(t, err)
	users := fakeUsers{
		"u1": {ID: "u1", Email: "a@x", GlobalRole: user.RoleUser, Status: user.StatusActive, EmailVerified: true, Version: 1},
		"u2": {ID: "u2", Email: "b@x", GlobalRole: user.RoleUser, Status: user.StatusDeactivated, Version: 1},
	}
	ms := fakeMemberships{
		"u1": {
			{ID: "m1", UserID: "u1", PropertyID: "P1", Roles: membership.NewRoleSet(membership.RoleLandlord), Active: true},
			{ID: "m2", UserID: "u1", PropertyID: "P2", Roles: membership.NewRoleSet(membership.RoleVendorAccess)},
		},
	}
	return &fixture{issuer: issuer, users: users, resolver: NewResolver(issuer, users, ms, nil)}
}

func (f *fixture) token(t *testing.T, id ident.ID, version int64) string {
	t.Helper()
	tok, err := f.issuer.Issue(session.Subject{UserID: id, Role: "user", Version: version})
	require.NoError(t, err)
	return tok.Value
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.resolver.Resolve(ctx, f.token(t, "u1", 1))
	require.NoError(t, err)
	assert.Equal(t, ident.ID("u1"), p.ID)
	assert.False(t, p.IsAdmin())
	require.Len(t, p.Memberships(), 1)
	assert.Len(t, p.MembershipsAt("P1"), 1)
	assert.Empty(t, p.MembershipsAt("P2"))

	tests := []struct {
		name  string
		token string
		kind  apperr.Kind
		code  string
	}{
		{"missing", "", apperr.KindUnauthenticated, "missing_token"},
		{"garbage", "not-a-jwt", apperr.KindUnauthenticated, "invalid_token"},
		{"stale version", f.token(t, "u1", 0), apperr.KindUnauthenticated, "invalid_token"},
		{"unknown user", f.token(t, "ghost", 1), apperr.KindUnauthenticated, "invalid_token"},
		{"deactivated", f.token(t, "u2", 1), apperr.KindForbidden, string(apperr.ReasonInactiveUser)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.Resolve(ctx, tt.token)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Equal(t, tt.code, apperr.As(err).Code)
		})
	}
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t)
	var got *Principal
	h := f.resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/invites", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, got)

	r = httptest.NewRequest(http.MethodGet, "/invites", nil)
	r.Header.Set("Authorization", "Bearer "+f.token(t, "u1", 1))
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	r = r.WithContext(WithRequestID(r.Context(), "req-1"))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "203.0.113.7", got.IP)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
	}
	for header, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, BearerToken(r), header)
	}
}

func TestClientIPFallsBackToPeer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", ClientIP(r))
	r.RemoteAddr = "unix"
	assert.Equal(t, "unix", ClientIP(r))
}

func TestSetMembershipsDropsMemo(t *testing.T) {
	p := New(&user.User{ID: "u1", Status: user.StatusActive}, nil)
	p.Remember("k", true)
	v, ok := p.Recall("k")
	require.True(t, ok)
	assert.Equal(t, true, v)

	p.SetMemberships([]*membership.Membership{{ID: "m1", Active: true}, {ID: "m2"}})
	_, ok = p.Recall("k")
	assert.False(t, ok)
	assert.Len(t, p.Memberships(), 1)
	assert.Nil(t, FromContext(context.Background()))
}
