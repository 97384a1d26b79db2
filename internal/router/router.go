package router

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/invitation"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/membership"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/notification"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/user"
)

// Authenticator attaches the principal of a bearer session or rejects the request.
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
}

// Deps are the handlers and collaborators mounted by RegisterRoutes.
type Deps struct {
	Logger        *zap.SugaredLogger
	Auth          Authenticator
	Ping          func(ctx context.Context) error
	Invitations   *invitation.Handler
	Memberships   *membership.Handler
	Events        *audit.Handler
	Notifications *notification.Handler
	Users         *user.Handler
	PublicLimit   rate.Limit
	PublicBurst   int
}

// RegisterRoutes mounts every endpoint on a ServeMux and wraps it with the
// request id, access log and security header middleware.
func RegisterRoutes(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ping != nil {
			if err := d.Ping(r.Context()); err != nil {
				logger.Warnw("health check failed", "err", err)
				apperr.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		apperr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	auth := func(fn http.HandlerFunc) http.Handler { return d.Auth.Middleware(fn) }
	limiter := NewIPRateLimiter(d.PublicLimit, d.PublicBurst)
	public := func(fn http.HandlerFunc) http.Handler { return limiter.Middleware(fn) }

	mux.Handle("POST /auth/login", public(d.Users.Login))

	inv := d.Invitations
	mux.Handle("POST /invites", auth(inv.Issue))
	mux.Handle("GET /invites", auth(inv.List))
	mux.Handle("PATCH /invites/{id}/cancel", auth(inv.Cancel))
	mux.Handle("POST /invites/{id}/resend", auth(inv.Resend))
	mux.Handle("GET /public/invites/{token}/verify", public(inv.Verify))
	mux.Handle("POST /public/invites/{token}/accept", public(inv.Accept))
	mux.Handle("POST /public/invites/{token}/decline", public(inv.Decline))

	ms := d.Memberships
	mux.Handle("POST /memberships", auth(ms.Grant))
	mux.Handle("GET /memberships", auth(ms.List))
	mux.Handle("PUT /memberships/{id}", auth(ms.Update))
	mux.Handle("DELETE /memberships/{id}", auth(ms.Deactivate))
	mux.Handle("DELETE /memberships/{id}/roles/{role}", auth(ms.RevokeRole))

	mux.Handle("GET /action-events", auth(d.Events.List))
	mux.Handle("GET /notifications", auth(d.Notifications.Mine))

	return RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
}
