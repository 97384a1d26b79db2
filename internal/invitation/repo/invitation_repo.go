package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/invitation/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

const invitationColumns = `id, email, roles, roles_key, property_id, unit_id, token_hash, status,
	expires_at, created_by, accepted_by, accepted_at, revoked_by, revoked_at, decline_reason,
	declined_at, attempt_count, last_attempt_at, resend_count, last_resend_at, created_at, updated_at`

// ScopeColumns maps scope predicates onto the invitations table.
var ScopeColumns = authz.Columns{
	Property: "property_id",
	Unit:     "unit_id",
	Attrs:    map[string]string{"createdBy": "created_by"},
}

// InvitationRepo is the Postgres invitations table.
type InvitationRepo struct {
	db *sqlx.DB
}

func NewInvitationRepo(db *sqlx.DB) *InvitationRepo { return &InvitationRepo{db: db} }

func errInvitationNotFound() error {
	return apperr.NotFound("invite_not_found", "invitation not found")
}

// Create inserts a pending invitation. The partial unique index rejects a
// second pending row for the same target.
func (r *InvitationRepo) Create(ctx context.Context, inv *entity.Invitation) error {
	inv.RolesKey = inv.Roles.Key()
	const q = `INSERT INTO invitations (id, email, roles, roles_key, property_id, unit_id, token_hash,
		status, expires_at, created_by, created_at, updated_at)
		VALUES (:id, :email, :roles, :roles_key, :property_id, :unit_id, :token_hash,
		:status, :expires_at, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), q, inv); err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("duplicate_pending_invite", "a pending invitation already exists for this target")
		}
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

// Get loads by id. With lock set the row is locked until the surrounding
// transaction ends.
func (r *InvitationRepo) Get(ctx context.Context, id ident.ID, lock bool) (*entity.Invitation, error) {
	return r.getOne(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id=$1`, lock, id)
}

// GetByTokenHash loads the row carrying hash.
func (r *InvitationRepo) GetByTokenHash(ctx context.Context, hash string, lock bool) (*entity.Invitation, error) {
	return r.getOne(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token_hash=$1`, lock, hash)
}

func (r *InvitationRepo) getOne(ctx context.Context, q string, lock bool, arg any) (*entity.Invitation, error) {
	if lock {
		q += " FOR UPDATE"
	}
	var inv entity.Invitation
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &inv, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errInvitationNotFound()
		}
		return nil, fmt.Errorf("select invitation: %w", err)
	}
	return &inv, nil
}

// FindPending returns pending rows addressing email on the property and unit.
func (r *InvitationRepo) FindPending(ctx context.Context, email string, propertyID, unitID ident.ID) ([]*entity.Invitation, error) {
	const q = `SELECT ` + invitationColumns + ` FROM invitations
		WHERE status='pending' AND email=$1 AND COALESCE(property_id, '')=$2 AND COALESCE(unit_id, '')=$3
		ORDER BY created_at`
	var out []*entity.Invitation
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &out, q, email, propertyID, unitID); err != nil {
		return nil, fmt.Errorf("find pending invitations: %w", err)
	}
	return out, nil
}

// Update writes the lifecycle columns.
func (r *InvitationRepo) Update(ctx context.Context, inv *entity.Invitation) error {
	const q = `UPDATE invitations SET token_hash=:token_hash, status=:status, expires_at=:expires_at,
		accepted_by=:accepted_by, accepted_at=:accepted_at, revoked_by=:revoked_by, revoked_at=:revoked_at,
		decline_reason=:decline_reason, declined_at=:declined_at, attempt_count=:attempt_count,
		last_attempt_at=:last_attempt_at, resend_count=:resend_count, last_resend_at=:last_resend_at,
		updated_at=:updated_at
		WHERE id=:id`
	res, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), q, inv)
	if err != nil {
		return fmt.Errorf("update invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errInvitationNotFound()
	}
	return nil
}

// ExpireOverdue flips every overdue pending row to expired.
func (r *InvitationRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE invitations SET status='expired', updated_at=$1 WHERE status='pending' AND expires_at < $1`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	return res.RowsAffected()
}

// List returns rows admitted by scope, newest first.
func (r *InvitationRepo) List(ctx context.Context, scope authz.Scope, f entity.Filter) ([]*entity.Invitation, error) {
	clause, args, err := scope.SQL(ScopeColumns)
	if err != nil {
		return nil, fmt.Errorf("compile scope: %w", err)
	}
	where := []string{clause}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.PropertyID.IsZero() {
		where = append(where, "property_id = ?")
		args = append(args, f.PropertyID)
	}
	if f.Email != "" {
		where = append(where, "email = ?")
		args = append(args, f.Email)
	}
	q := `SELECT ` + invitationColumns + ` FROM invitations WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	var out []*entity.Invitation
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &out, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return out, nil
}
