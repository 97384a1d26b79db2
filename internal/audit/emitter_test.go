package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/policy"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/principal"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

type fakeRepo struct {
	events []*entity.Event
	err    error
	filter entity.Filter
}

func (f *fakeRepo) Append(_ context.Context, e *entity.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeRepo) List(_ context.Context, filter entity.Filter) ([]*entity.Event, error) {
	f.filter = filter
	return f.events, nil
}

func TestEmitSerializesSnapshots(t *testing.T) {
	repo := &fakeRepo{}
	em := NewEmitter(repo, nil)

	em.Emit(context.Background(), Record{
		Kind:         entity.KindMembershipGranted,
		Actor:        "admin-1",
		ResourceKind: "membership",
		ResourceID:   "m1",
		New:          map[string]any{"roles": []string{"tenant"}},
	})

	require.Len(t, repo.events, 1)
	ev := repo.events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, entity.StatusSuccess, ev.Status)
	require.NotNil(t, ev.ActorID)
	assert.Equal(t, ident.ID("admin-1"), *ev.ActorID)
	assert.Nil(t, ev.OldSnapshot)
	assert.JSONEq(t, `{"roles":["tenant"]}`, string(ev.NewSnapshot))
	assert.False(t, ev.CreatedAt.IsZero())
}

func TestEmitWithoutActor(t *testing.T) {
	repo := &fakeRepo{}
	NewEmitter(repo, nil).Emit(context.Background(), Record{Kind: entity.KindInviteDeclined})
	require.Len(t, repo.events, 1)
	assert.Nil(t, repo.events[0].ActorID)
}

func TestEmitFailureOnlyLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	repo := &fakeRepo{err: errors.New("disk full")}
	em := NewEmitter(repo, zap.New(core).Sugar())

	em.Emit(context.Background(), Record{Kind: entity.KindInviteIssued, ResourceID: "i1"})
	assert.Equal(t, 1, logs.FilterMessage("audit write failed").Len())
}

func TestRecordDenial(t *testing.T) {
	repo := &fakeRepo{}
	NewEmitter(repo, nil).RecordDenial(context.Background(), authz.Denial{
		PrincipalID: "u1",
		IP:          "198.51.100.7",
		Action:      policy.ActionInviteIssue,
		Ref:         authz.ResourceRef{Kind: policy.KindInvitation, PropertyID: "p1"},
		Reason:      apperr.ReasonRoleInsufficient,
	})

	require.Len(t, repo.events, 1)
	ev := repo.events[0]
	assert.Equal(t, entity.KindAuthzDenied, ev.Kind)
	assert.Equal(t, entity.StatusDenied, ev.Status)
	assert.Equal(t, "198.51.100.7", ev.IP)
	assert.Equal(t, "invitation", ev.ResourceKind)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(ev.NewSnapshot, &snap))
	assert.Equal(t, "invite:issue", snap["action"])
	assert.Equal(t, "role_insufficient", snap["reason"])
	assert.Equal(t, "p1", snap["propertyId"])
}

func newRequest(p *principal.Principal, target string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if p != nil {
		r = r.WithContext(principal.WithPrincipal(r.Context(), p))
	}
	return r
}

func TestHandlerListAdminOnly(t *testing.T) {
	repo := &fakeRepo{events: []*entity.Event{{ID: "1", Kind: entity.KindUserLogin, Status: entity.StatusSuccess}}}
	h := NewHandler(NewEmitter(repo, nil), authz.NewEngine(policy.Default(), nil, nil, nil), zap.NewNop().Sugar())

	admin := principal.New(&user.User{ID: "a1", GlobalRole: user.RoleAdmin, Status: user.StatusActive}, nil)
	rec := httptest.NewRecorder()
	h.List(rec, newRequest(admin, "/action-events?kind=user.login&limit=10"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entity.KindUserLogin, repo.filter.Kind)
	assert.Equal(t, 10, repo.filter.Limit)

	var body struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Items, 1)

	member := principal.New(&user.User{ID: "u1", GlobalRole: user.RoleUser, Status: user.StatusActive}, nil)
	rec = httptest.NewRecorder()
	h.List(rec, newRequest(member, "/action-events"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"not_admin"`)

	rec = httptest.NewRecorder()
	h.List(rec, newRequest(nil, "/action-events"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.List(rec, newRequest(admin, "/action-events?since=yesterday"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
