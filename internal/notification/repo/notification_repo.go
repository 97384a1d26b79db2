package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

type NotificationRepo struct {
	db *sqlx.DB
}

func NewNotificationRepo(db *sqlx.DB) *NotificationRepo { return &NotificationRepo{db: db} }

func (r *NotificationRepo) Create(ctx context.Context, n *entity.Notification) error {
	const q = `INSERT INTO notifications (id, user_id, kind, title, body, data, created_at)
		VALUES (:id, :user_id, :kind, :title, :body, :data, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, database.Conn(ctx, r.db), q, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListForUser returns the newest notifications of one user.
func (r *NotificationRepo) ListForUser(ctx context.Context, userID ident.ID, limit int) ([]*entity.Notification, error) {
	const q = `SELECT id, user_id, kind, title, body, data, read_at, created_at
		FROM notifications WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`
	var out []*entity.Notification
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &out, q, userID, limit); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}
