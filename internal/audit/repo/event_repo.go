package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

// EventRepo persists action events.
type EventRepo struct {
	db *sqlx.DB
}

func NewEventRepo(db *sqlx.DB) *EventRepo { return &EventRepo{db: db} }

// Append inserts one event. Rows are never updated.
func (r *EventRepo) Append(ctx context.Context, e *entity.Event) error {
	const q = `INSERT INTO action_events (id, kind, actor_id, resource_kind, resource_id,
		old_snapshot, new_snapshot, ip, description, status, created_at)
		VALUES (:id, :kind, :actor_id, :resource_kind, :resource_id,
		:old_snapshot, :new_snapshot, :ip, :description, :status, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), q, e); err != nil {
		return fmt.Errorf("insert action event: %w", err)
	}
	return nil
}

// List returns events newest first.
func (r *EventRepo) List(ctx context.Context, f entity.Filter) ([]*entity.Event, error) {
	f = f.Normalize()
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if !f.ActorID.IsZero() {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.ResourceKind != "" {
		where = append(where, "resource_kind = ?")
		args = append(args, f.ResourceKind)
	}
	if f.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *f.Since)
	}
	q := `SELECT id, kind, actor_id, resource_kind, resource_id, old_snapshot, new_snapshot,
		ip, description, status, created_at FROM action_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var out []*entity.Event
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &out, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list action events: %w", err)
	}
	return out, nil
}
