package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

const membershipColumns = `id, user_id, property_id, unit_id, roles, active, invited_by,
	start_date, end_date, permissions, created_at, updated_at`

// ScopeColumns maps scope predicates onto the memberships table.
var ScopeColumns = authz.Columns{
	Property: "property_id",
	Unit:     "unit_id",
	Attrs:    map[string]string{"user": "user_id"},
}

// MembershipRepo is the Postgres membership table.
type MembershipRepo struct {
	db *sqlx.DB
}

func NewMembershipRepo(db *sqlx.DB) *MembershipRepo { return &MembershipRepo{db: db} }

func errMembershipNotFound() error {
	return apperr.NotFound("membership_not_found", "membership not found")
}

// Upsert inserts the row or merges its roles into the existing row for the
// same (user, property, unit) triple. The unique index serializes
// concurrent writers; the merge is a sorted distinct union and reactivates
// the row. created reports whether a new row was inserted.
func (r *MembershipRepo) Upsert(ctx context.Context, m *entity.Membership) (*entity.Membership, bool, error) {
	if m.ID.IsZero() {
		m.ID = ident.New()
	}
	const q = `INSERT INTO memberships (id, user_id, property_id, unit_id, roles, active, invited_by,
		start_date, end_date, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (user_id, property_id, (COALESCE(unit_id, ''))) DO UPDATE SET
			roles = ARRAY(SELECT DISTINCT r FROM unnest(memberships.roles || EXCLUDED.roles) AS r ORDER BY r),
			active = true,
			invited_by = COALESCE(memberships.invited_by, EXCLUDED.invited_by),
			start_date = COALESCE(memberships.start_date, EXCLUDED.start_date),
			updated_at = NOW()
		RETURNING ` + membershipColumns + `, (xmax = 0) AS created`
	var row struct {
		entity.Membership
		Created bool `db:"created"`
	}
	err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &row, q,
		m.ID, m.UserID, m.PropertyID, m.UnitID, m.Roles, m.InvitedBy, m.StartDate, m.EndDate, m.Permissions)
	if err != nil {
		return nil, false, fmt.Errorf("upsert membership: %w", err)
	}
	out := row.Membership
	return &out, row.Created, nil
}

// Get fetches one row by id.
func (r *MembershipRepo) Get(ctx context.Context, id ident.ID) (*entity.Membership, error) {
	return r.getOne(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE id=$1`, id)
}

// GetByKey fetches the row for an exact triple.
func (r *MembershipRepo) GetByKey(ctx context.Context, k entity.Key) (*entity.Membership, error) {
	return r.getOne(ctx, `SELECT `+membershipColumns+` FROM memberships
		WHERE user_id=$1 AND property_id=$2 AND COALESCE(unit_id, '')=$3`, k.UserID, k.PropertyID, k.UnitID)
}

func (r *MembershipRepo) getOne(ctx context.Context, q string, args ...any) (*entity.Membership, error) {
	var m entity.Membership
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &m, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errMembershipNotFound()
		}
		return nil, fmt.Errorf("select membership: %w", err)
	}
	return &m, nil
}

// Update writes the mutable columns of m.
func (r *MembershipRepo) Update(ctx context.Context, m *entity.Membership) error {
	const q = `UPDATE memberships SET roles=$2, active=$3, end_date=$4, permissions=$5, updated_at=NOW()
		WHERE id=$1 RETURNING updated_at`
	err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &m.UpdatedAt, q, m.ID, m.Roles, m.Active, m.EndDate, m.Permissions)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errMembershipNotFound()
		}
		return fmt.Errorf("update membership: %w", err)
	}
	return nil
}

// Find returns rows matching f, oldest first.
func (r *MembershipRepo) Find(ctx context.Context, f entity.Filter) ([]*entity.Membership, error) {
	return r.List(ctx, authz.Scope{All: true}, f)
}

// List returns rows matching f that the scope admits.
func (r *MembershipRepo) List(ctx context.Context, scope authz.Scope, f entity.Filter) ([]*entity.Membership, error) {
	clause, args, err := scope.SQL(ScopeColumns)
	if err != nil {
		return nil, fmt.Errorf("compile scope: %w", err)
	}
	where := []string{clause}
	if !f.UserID.IsZero() {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.PropertyID.IsZero() {
		where = append(where, "property_id = ?")
		args = append(args, f.PropertyID)
	}
	if !f.UnitID.IsZero() {
		where = append(where, "(unit_id = ? OR unit_id IS NULL)")
		args = append(args, f.UnitID)
	}
	if len(f.Roles) > 0 {
		where = append(where, "roles && ?")
		args = append(args, f.Roles)
	}
	if !f.IncludeInactive {
		where = append(where, "active")
	}
	q := `SELECT ` + membershipColumns + ` FROM memberships WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at, id`
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	var out []*entity.Membership
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &out, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return out, nil
}
