package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	inventity "github.com/ovaphlow/pitchfork/service-tenancy/internal/invitation/entity"
	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

func TestRunInTxRollsBack(t *testing.T) {
	db := New()
	ctx := context.Background()
	boom := errors.New("boom")

	ran := false
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		_, err := db.Users().Create(ctx, &user.User{Email: "a@x", Status: user.StatusActive})
		require.NoError(t, err)
		database.AfterCommit(ctx, func() { ran = true })
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, ran)

	_, err = db.Users().GetByEmail(ctx, "a@x")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRunInTxCommitsAndJoins(t *testing.T) {
	db := New()
	ctx := context.Background()

	ran := false
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		return db.RunInTx(ctx, func(ctx context.Context) error {
			_, err := db.Users().Create(ctx, &user.User{Email: "A@X ", Status: user.StatusActive})
			database.AfterCommit(ctx, func() { ran = true })
			return err
		})
	})
	require.NoError(t, err)
	assert.True(t, ran)

	u, err := db.Users().GetByEmail(ctx, "a@x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Version)
}

func TestRunInTxRestoresOnPanic(t *testing.T) {
	db := New()
	db.Properties().AddProperty("p1", "Elm")

	assert.Panics(t, func() {
		_ = db.RunInTx(context.Background(), func(ctx context.Context) error {
			db.Properties().SetPropertyActive("p1", false)
			panic("boom")
		})
	})
	p, err := db.Properties().GetProperty(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, p.Active)
}

func TestUsersEmailUnique(t *testing.T) {
	db := New()
	_, err := db.Users().Create(context.Background(), &user.User{Email: "a@x"})
	require.NoError(t, err)
	_, err = db.Users().Create(context.Background(), &user.User{Email: "A@x"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestMembershipUpsertMerges(t *testing.T) {
	db := New()
	repo := db.Memberships()
	ctx := context.Background()

	first, created, err := repo.Upsert(ctx, &membership.Membership{
		UserID: "u1", PropertyID: "p1", Roles: membership.NewRoleSet(membership.RolePropertyManager),
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.Upsert(ctx, &membership.Membership{
		UserID: "u1", PropertyID: "p1", Roles: membership.NewRoleSet(membership.RoleLandlord),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, membership.NewRoleSet(membership.RoleLandlord, membership.RolePropertyManager), second.Roles)

	_, created, err = repo.Upsert(ctx, &membership.Membership{
		UserID: "u1", PropertyID: "p1", UnitID: ident.Ptr("u-1"), Roles: membership.NewRoleSet(membership.RoleTenant),
	})
	require.NoError(t, err)
	assert.True(t, created, "a unit-scoped row is a different triple")

	rows, err := repo.Find(ctx, membership.Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMembershipFindFilters(t *testing.T) {
	db := New()
	repo := db.Memberships()
	ctx := context.Background()
	for _, m := range []*membership.Membership{
		{UserID: "u1", PropertyID: "p1", Roles: membership.NewRoleSet(membership.RoleLandlord)},
		{UserID: "u2", PropertyID: "p1", UnitID: ident.Ptr("unit-1"), Roles: membership.NewRoleSet(membership.RoleTenant)},
		{UserID: "u3", PropertyID: "p1", UnitID: ident.Ptr("unit-2"), Roles: membership.NewRoleSet(membership.RoleTenant)},
	} {
		_, _, err := repo.Upsert(ctx, m)
		require.NoError(t, err)
	}

	rows, err := repo.Find(ctx, membership.Filter{PropertyID: "p1", UnitID: "unit-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2, "unit filter matches that unit and property-wide rows")

	rows, err = repo.Find(ctx, membership.Filter{Roles: membership.NewRoleSet(membership.RoleTenant)})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = repo.List(ctx, authz.Scope{TenantUnits: []authz.UnitRef{{PropertyID: "p1", UnitID: "unit-2"}}}, membership.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ident.ID("u3"), rows[0].UserID)

	rows, err = repo.List(ctx, authz.Scope{TenantUnits: []authz.UnitRef{{PropertyID: "p2", UnitID: "unit-2"}}}, membership.Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows, "unit id paired with another property")
}

func TestInvitationPendingUnique(t *testing.T) {
	db := New()
	repo := db.Invitations()
	ctx := context.Background()
	prop := ident.Ptr("p1")
	mk := func(hash string) *inventity.Invitation {
		return &inventity.Invitation{
			ID: ident.New(), Email: "t@x", Roles: membership.NewRoleSet(membership.RoleTenant),
			PropertyID: prop, UnitID: ident.Ptr("unit-1"), TokenHash: hash,
			Status: inventity.StatusPending, ExpiresAt: time.Now().Add(time.Hour),
		}
	}

	first := mk("h1")
	require.NoError(t, repo.Create(ctx, first))
	err := repo.Create(ctx, mk("h2"))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	first.Status = inventity.StatusCancelled
	require.NoError(t, repo.Update(ctx, first))
	require.NoError(t, repo.Create(ctx, mk("h3")))

	got, err := repo.GetByTokenHash(ctx, "h3", true)
	require.NoError(t, err)
	assert.Equal(t, "tenant", got.RolesKey)
}

func TestInvitationExpireOverdue(t *testing.T) {
	db := New()
	repo := db.Invitations()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.Create(ctx, &inventity.Invitation{
		ID: "i1", Email: "a@x", Roles: membership.NewRoleSet(membership.RoleAdminAccess),
		TokenHash: "h", Status: inventity.StatusPending, ExpiresAt: now.Add(-time.Minute),
	}))

	n, err := repo.ExpireOverdue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err := repo.Get(ctx, "i1", false)
	require.NoError(t, err)
	assert.Equal(t, inventity.StatusExpired, got.Status)
}
