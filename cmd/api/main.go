package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/config"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/invitation"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/mail"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/membership"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/notification"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/policy"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/principal"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/property"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/router"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/session"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/user"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/utilities"
)

const sweepEvery = time.Minute

func main() {
	// best-effort: a missing .env leaves the real environment in charge
	_ = godotenv.Load()

	configPath := pflag.String("config", "", "path to a YAML config file (overrides CONFIG_FILE)")
	addr := pflag.String("addr", "", "listen address (overrides HTTP_ADDR)")
	migrateOnly := pflag.Bool("migrate-only", false, "apply database migrations and exit")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	lg, err := utilities.Init(cfg.Logger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-tenancy")

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("storage: %v", err)
	}
	defer store.close()
	if *migrateOnly {
		sugar.Info("migrations applied")
		return
	}

	queue, err := openMailQueue(cfg, sugar)
	if err != nil {
		sugar.Fatalf("mail queue: %v", err)
	}

	sessions, err := session.NewIssuer(session.Config{Secret: cfg.JWTSecret(), Issuer: cfg.JWT.Issuer, TTL: cfg.JWT.TTL})
	if err != nil {
		sugar.Fatalf("session issuer: %v", err)
	}

	users := user.NewUserService(store.users, nil, sugar.Named("user"))
	if cfg.Bootstrap.AdminEmail != "" {
		admin, created, err := users.EnsureAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword)
		if err != nil {
			sugar.Fatalf("bootstrap admin: %v", err)
		}
		sugar.Infow("bootstrap admin ready", "user_id", admin.ID, "created", created)
	}

	props := property.NewService(store.properties)
	emitter := audit.NewEmitter(store.events, sugar.Named("audit"))
	engine := authz.NewEngine(policy.Default(), props, emitter, sugar.Named("authz"))
	memberships := membership.NewStore(store.memberships, props, users, sugar.Named("membership"))
	notifications := notification.NewService(store.notifications, sugar.Named("notification"))
	resolver := principal.NewResolver(sessions, users, memberships, sugar.Named("principal"))

	invites := invitation.NewManager(invitation.Deps{
		Repo:        store.invitations,
		Tx:          store.tx,
		Engine:      engine,
		Users:       users,
		Memberships: memberships,
		Targets:     props,
		Sessions:    sessions,
		Auditor:     emitter,
		Notifier:    notifications,
		Mailer:      queue,
		Logger:      sugar.Named("invitation"),
	}, invitation.Config{
		FrontendBaseURL: cfg.Frontend.BaseURL,
		TTL:             cfg.Invite.ExpiresAfter(),
		ResendInterval:  cfg.Invite.ResendInterval,
		ResendMax:       cfg.Invite.ResendMax,
	})
	go sweepInvitations(ctx, invites, sugar)

	handler := router.RegisterRoutes(router.Deps{
		Logger:        sugar,
		Auth:          resolver,
		Ping:          store.ping,
		Invitations:   invitation.NewHandler(invites, sugar),
		Memberships:   membership.NewHandler(memberships, engine, store.tx, emitter, sugar),
		Events:        audit.NewHandler(emitter, engine, sugar),
		Notifications: notification.NewHandler(notifications, engine, sugar),
		Users:         user.NewHandler(users, sessions, emitter, sugar),
		PublicLimit:   rate.Limit(cfg.Public.RateLimit),
		PublicBurst:   cfg.Public.Burst,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.HTTP.Addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	// drains in-process workers; queued AMQP messages survive
	if err := queue.Close(); err != nil {
		sugar.Warnf("mail queue close failed: %v", err)
	}

	sugar.Info("goodbye")
}

// openStorage selects Postgres or the in-memory store from the DSN and
// applies migrations to Postgres.
func openStorage(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*storage, error) {
	dbCfg := cfg.DB()
	if dbCfg.IsMemory() {
		return memoryStorage(logger), nil
	}
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return postgresStorage(db), nil
}

// openMailQueue publishes to AMQP when configured; otherwise mail is
// delivered in process.
func openMailQueue(cfg config.Config, logger *zap.SugaredLogger) (mail.Queue, error) {
	if cfg.AMQP.URL != "" {
		logger.Infow("publishing email to amqp", "queue", cfg.AMQP.EmailQueue)
		return mail.DialAMQP(cfg.AMQP.URL, cfg.AMQP.EmailQueue)
	}
	var sender mail.Sender = mail.LogSender{Logger: logger.Named("mail")}
	if cfg.SMTP.Enabled() {
		sender = mail.NewTransporter(cfg.Transport(), logger.Named("smtp"))
	} else {
		logger.Warn("smtp is not configured; emails are only logged")
	}
	retrying := mail.NewRetryingSender(sender, cfg.Retry(), logger.Named("mail"))
	return mail.NewAsyncQueue(retrying, cfg.Mail.Workers, cfg.Mail.Buffer, logger.Named("mail")), nil
}

// sweepInvitations flips overdue pending invitations to expired until ctx ends.
func sweepInvitations(ctx context.Context, m *invitation.Manager, logger *zap.SugaredLogger) {
	t := time.NewTicker(sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := m.ExpireOverdue(ctx); err != nil {
				logger.Warnw("invitation sweep failed", "err", err)
			}
		}
	}
}
