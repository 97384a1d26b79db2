package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/memstore"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

func newService(t *testing.T) (*UserService, *memstore.DB) {
	t.Helper()
	db := memstore.New()
	return NewUserService(db.Users(), BcryptHasher{Cost: bcrypt.MinCost}, nil), db
}

func register(t *testing.T, s *UserService, email string, verified bool) *entity.User {
	t.Helper()
	u, err := s.Register(context.Background(), RegisterInput{
		Email: email, FirstName: "Ada", LastName: "Lovelace", Password: "password123", Verified: verified,
	})
	require.NoError(t, err)
	return u
}

func TestRegister(t *testing.T) {
	s, _ := newService(t)
	u := register(t, s, " Ada@Example.com ", true)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, entity.StatusActive, u.Status)
	assert.Equal(t, entity.RoleUser, u.GlobalRole)
	require.NotNil(t, u.PasswordAlgo)
	assert.Equal(t, "bcrypt:4", *u.PasswordAlgo)

	_, err := s.Register(context.Background(), RegisterInput{
		Email: "ada@example.com", FirstName: "A", LastName: "B", Password: "password123",
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	pending := register(t, s, "p@example.com", false)
	assert.Equal(t, entity.StatusPendingEmail, pending.Status)
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newService(t)
	tests := []struct {
		name string
		in   RegisterInput
		code string
	}{
		{"bad email", RegisterInput{Email: "nope", FirstName: "A", LastName: "B", Password: "password123"}, "invalid_email"},
		{"no name", RegisterInput{Email: "a@x.io", FirstName: " ", LastName: "B", Password: "password123"}, "name_required"},
		{"short password", RegisterInput{Email: "a@x.io", FirstName: "A", LastName: "B", Password: "short"}, "weak_password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperr.As(err).Code)
		})
	}
}

func TestAuthenticatePassword(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	register(t, s, "a@x.io", true)

	u, err := s.AuthenticatePassword(ctx, "A@x.io", "password123")
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", u.Email)

	_, err = s.AuthenticatePassword(ctx, "a@x.io", "wrong-password")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = s.AuthenticatePassword(ctx, "ghost@x.io", "password123")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = s.AuthenticatePassword(ctx, "", "")
	assert.ErrorIs(t, err, ErrBadCredentials)

	register(t, s, "pending@x.io", false)
	_, err = s.AuthenticatePassword(ctx, "pending@x.io", "password123")
	assert.Equal(t, apperr.ReasonInactiveUser, apperr.ReasonOf(err))
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	register(t, s, "a@x.io", true)
	s.MaxFailed = 3

	for i := 0; i < 3; i++ {
		_, err := s.AuthenticatePassword(ctx, "a@x.io", "wrong-password")
		require.ErrorIs(t, err, ErrBadCredentials)
	}
	_, err := s.AuthenticatePassword(ctx, "a@x.io", "password123")
	assert.Equal(t, "account_locked", apperr.As(err).Code)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestSuccessResetsFailures(t *testing.T) {
	s, db := newService(t)
	ctx := context.Background()
	u := register(t, s, "a@x.io", true)

	_, err := s.AuthenticatePassword(ctx, "a@x.io", "wrong-password")
	require.Error(t, err)
	_, err = s.AuthenticatePassword(ctx, "a@x.io", "password123")
	require.NoError(t, err)

	stored, err := db.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginFailedAttempts)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	first, created, err := s.EnsureAdmin(ctx, "root@x.io", "password123")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, entity.RoleAdmin, first.GlobalRole)

	again, created, err := s.EnsureAdmin(ctx, "root@x.io", "other-password")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestConfirmEmailAndPromote(t *testing.T) {
	s, db := newService(t)
	ctx := context.Background()
	u := register(t, s, "a@x.io", false)

	require.NoError(t, s.ConfirmEmail(ctx, u))
	assert.True(t, u.IsActive())
	assert.True(t, u.EmailVerified)

	require.NoError(t, s.PromoteToAdmin(ctx, u))
	stored, err := db.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RoleAdmin, stored.GlobalRole)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, stored.Version, u.Version)

	require.NoError(t, db.Users().SetStatus(u.ID, entity.StatusDeactivated))
	off, err := s.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, s.ConfirmEmail(ctx, off), ErrInactive)
}
