package memstore

import (
	"context"
	"time"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

func errUserNotFound() error { return apperr.NotFound("user_not_found", "user not found") }

// Users implements the user repository.
type Users struct{ db *DB }

func cloneUser(u *user.User) *user.User {
	cp := *u
	return &cp
}

func (r *Users) Create(_ context.Context, u *user.User) (ident.ID, error) {
	if u.ID.IsZero() {
		u.ID = ident.New()
	}
	u.Email = user.NormalizeEmail(u.Email)
	err := r.db.write(func(s *state) error {
		for _, other := range s.users {
			if other.Email == u.Email {
				return apperr.Conflict("email_taken", "email already registered")
			}
		}
		now := r.db.now()
		row := cloneUser(u)
		row.Version = 1
		row.PasswordUpdatedAt = &now
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		row.UpdatedAt = now
		s.users[row.ID] = row
		return nil
	})
	if err != nil {
		return "", err
	}
	u.Version = 1
	return u.ID, nil
}

func (r *Users) GetByEmail(_ context.Context, email string) (*user.User, error) {
	email = user.NormalizeEmail(email)
	var out *user.User
	r.db.read(func(s *state) {
		for _, u := range s.users {
			if u.Email == email {
				out = cloneUser(u)
				return
			}
		}
	})
	if out == nil {
		return nil, errUserNotFound()
	}
	return out, nil
}

func (r *Users) GetByID(_ context.Context, id ident.ID) (*user.User, error) {
	var out *user.User
	r.db.read(func(s *state) {
		if u, ok := s.users[id]; ok {
			out = cloneUser(u)
		}
	})
	if out == nil {
		return nil, errUserNotFound()
	}
	return out, nil
}

func (r *Users) GetMinimalAuthView(ctx context.Context, id ident.ID) (*user.MinimalAuthView, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &user.MinimalAuthView{
		ID:            u.ID,
		GlobalRole:    u.GlobalRole,
		Status:        u.Status,
		Version:       u.Version,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
	}, nil
}

func (r *Users) mutate(id ident.ID, fn func(u *user.User) error) error {
	return r.db.write(func(s *state) error {
		u, ok := s.users[id]
		if !ok {
			return errUserNotFound()
		}
		if err := fn(u); err != nil {
			return err
		}
		u.UpdatedAt = r.db.now()
		return nil
	})
}

func (r *Users) IncrementFailedLogin(_ context.Context, id ident.ID) (int, error) {
	var n int
	err := r.mutate(id, func(u *user.User) error {
		u.LoginFailedAttempts++
		n = u.LoginFailedAttempts
		return nil
	})
	return n, err
}

func (r *Users) LockIfThreshold(_ context.Context, id ident.ID, threshold int, lockMinutes int) (bool, error) {
	locked := false
	err := r.mutate(id, func(u *user.User) error {
		if u.LoginFailedAttempts >= threshold {
			until := r.db.now().Add(time.Duration(lockMinutes) * time.Minute)
			u.LockedUntil = &until
			locked = true
		}
		return nil
	})
	return locked, err
}

func (r *Users) ResetLoginSuccess(_ context.Context, id ident.ID) error {
	return r.mutate(id, func(u *user.User) error {
		now := r.db.now()
		u.LoginFailedAttempts = 0
		u.LastLoginAt = &now
		u.LockedUntil = nil
		return nil
	})
}

func (r *Users) MarkEmailVerified(_ context.Context, id ident.ID) error {
	return r.mutate(id, func(u *user.User) error {
		if u.Status == user.StatusDeactivated {
			return errUserNotFound()
		}
		u.EmailVerified = true
		u.Status = user.StatusActive
		return nil
	})
}

func (r *Users) SetGlobalRole(_ context.Context, id ident.ID, role user.GlobalRole) error {
	return r.mutate(id, func(u *user.User) error {
		u.GlobalRole = role
		u.Version++
		return nil
	})
}

// SetStatus forces the account status. It seeds lifecycle states the
// service has no operation for.
func (r *Users) SetStatus(id ident.ID, status user.Status) error {
	return r.mutate(id, func(u *user.User) error {
		u.Status = status
		if status == user.StatusDeactivated {
			now := r.db.now()
			u.DeactivatedAt = &now
		}
		return nil
	})
}
