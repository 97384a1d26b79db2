package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

const userColumns = `id, email, email_verified, first_name, last_name, phone,
	password_hash, password_algo, password_updated_at, status, global_role,
	activated_by_admin, login_failed_attempts, locked_until, last_login_at,
	version, created_at, updated_at, deactivated_at`

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

func errUserNotFound() error { return apperr.NotFound("user_not_found", "user not found") }

// Create inserts a new user row and returns its id.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (ident.ID, error) {
	if u.ID.IsZero() {
		u.ID = ident.New()
	}
	const q = `INSERT INTO users (id, email, email_verified, first_name, last_name, phone,
		password_hash, password_algo, password_updated_at, status, global_role, activated_by_admin, version)
		VALUES (:id, :email, :email_verified, :first_name, :last_name, :phone,
		:password_hash, :password_algo, NOW(), :status, :global_role, :activated_by_admin, 1)`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), q, u); err != nil {
		if database.IsUniqueViolation(err) {
			return "", apperr.Conflict("email_taken", "email already registered")
		}
		return "", fmt.Errorf("insert user: %w", err)
	}
	return u.ID, nil
}

// GetByEmail returns a user matched by email (case-insensitive due to citext).
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, entity.NormalizeEmail(email))
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id ident.ID) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*entity.User, error) {
	var row entity.User
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errUserNotFound()
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &row, nil
}

// GetMinimalAuthView returns only the fields needed for token claim hydration.
func (r *UserRepo) GetMinimalAuthView(ctx context.Context, id ident.ID) (*entity.MinimalAuthView, error) {
	const q = `SELECT id, global_role, status, version, email, email_verified FROM users WHERE id=$1`
	var v entity.MinimalAuthView
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &v, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errUserNotFound()
		}
		return nil, fmt.Errorf("select auth view: %w", err)
	}
	return &v, nil
}

// IncrementFailedLogin increments the failure counter atomically and returns new value.
func (r *UserRepo) IncrementFailedLogin(ctx context.Context, id ident.ID) (int, error) {
	const q = `UPDATE users SET login_failed_attempts = login_failed_attempts + 1, updated_at=NOW() WHERE id=$1 RETURNING login_failed_attempts`
	var v int
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &v, q, id); err != nil {
		return 0, fmt.Errorf("increment failed login: %w", err)
	}
	return v, nil
}

// LockIfThreshold sets locked_until when attempts reached the threshold.
func (r *UserRepo) LockIfThreshold(ctx context.Context, id ident.ID, threshold int, lockMinutes int) (bool, error) {
	const q = `UPDATE users SET locked_until = NOW() + ($2 || ' minutes')::interval, updated_at=NOW()
		WHERE id=$1 AND login_failed_attempts >= $3 RETURNING 1`
	var one int
	err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &one, q, id, lockMinutes, threshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock user: %w", err)
	}
	return true, nil
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *UserRepo) ResetLoginSuccess(ctx context.Context, id ident.ID) error {
	const q = `UPDATE users SET login_failed_attempts=0, last_login_at=NOW(), locked_until=NULL, updated_at=NOW() WHERE id=$1`
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, q, id)
	return err
}

// MarkEmailVerified records proof of email ownership and activates the account.
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id ident.ID) error {
	const q = `UPDATE users SET email_verified=true, status='active', updated_at=NOW()
		WHERE id=$1 AND status IN ('pending_email','pending_admin_approval','active')`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errUserNotFound()
	}
	return nil
}

// SetGlobalRole changes the account-wide role and bumps version so
// sessions carrying the previous role stop verifying.
func (r *UserRepo) SetGlobalRole(ctx context.Context, id ident.ID, role entity.GlobalRole) error {
	const q = `UPDATE users SET global_role=$2, version=version+1, updated_at=NOW() WHERE id=$1`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, q, id, role)
	if err != nil {
		return fmt.Errorf("set global role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errUserNotFound()
	}
	return nil
}
