package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit"
	auditrepo "github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/repo"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/invitation"
	invitationrepo "github.com/ovaphlow/pitchfork/service-tenancy/internal/invitation/repo"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/membership"
	membershiprepo "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/repo"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/memstore"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/notification"
	notificationrepo "github.com/ovaphlow/pitchfork/service-tenancy/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/property"
	propertyrepo "github.com/ovaphlow/pitchfork/service-tenancy/internal/property/repo"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

// storage is the repository set behind the services.
type storage struct {
	tx            database.TxManager
	users         user.Repository
	properties    property.Repository
	memberships   membership.Repository
	invitations   invitation.Repository
	events        audit.Repository
	notifications notification.Repository
	ping          func(ctx context.Context) error
	close         func() error
}

func postgresStorage(db *sqlx.DB) *storage {
	return &storage{
		tx:            database.NewTxManager(db),
		users:         userrepo.NewUserRepo(db),
		properties:    propertyrepo.NewPropertyRepo(db),
		memberships:   membershiprepo.NewMembershipRepo(db),
		invitations:   invitationrepo.NewInvitationRepo(db),
		events:        auditrepo.NewEventRepo(db),
		notifications: notificationrepo.NewNotificationRepo(db),
		ping:          db.PingContext,
		close:         db.Close,
	}
}

// memoryStorage starts empty; properties are owned by another service
// and must be seeded by the caller.
func memoryStorage(logger *zap.SugaredLogger) *storage {
	logger.Warn("using the in-memory store; data is lost on exit")
	db := memstore.New()
	return &storage{
		tx:            db,
		users:         db.Users(),
		properties:    db.Properties(),
		memberships:   db.Memberships(),
		invitations:   db.Invitations(),
		events:        db.Events(),
		notifications: db.Notifications(),
		close:         func() error { return nil },
	}
}
