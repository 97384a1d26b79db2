// Package notification writes in-app notifications. Delivery is best
// effort: a failed write is logged and never aborts the caller.
package notification

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

type Repository interface {
	Create(ctx context.Context, n *entity.Notification) error
	ListForUser(ctx context.Context, userID ident.ID, limit int) ([]*entity.Notification, error)
}

type Service struct {
	repo   Repository
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(repo Repository, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Notify stores a notification for userID under a savepoint.
func (s *Service) Notify(ctx context.Context, userID ident.ID, kind entity.Kind, title, body string, data entity.Data) {
	if userID.IsZero() {
		return
	}
	n := &entity.Notification{
		ID:        ident.New(),
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: s.now().UTC(),
	}
	err := database.Savepoint(ctx, "notification", func(ctx context.Context) error {
		return s.repo.Create(ctx, n)
	})
	if err != nil {
		s.logger.Warnw("notification write failed", "user_id", userID, "kind", kind, "err", err)
	}
}

// Recent returns the latest notifications of userID.
func (s *Service) Recent(ctx context.Context, userID ident.ID, limit int) ([]*entity.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListForUser(ctx, userID, limit)
}
