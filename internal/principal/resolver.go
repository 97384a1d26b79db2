package principal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/session"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

type TokenVerifier interface {
	Verify(raw string) (*session.Claims, error)
}

type UserSource interface {
	GetByID(ctx context.Context, id ident.ID) (*user.User, error)
}

type MembershipSource interface {
	FindForUser(ctx context.Context, userID ident.ID, f membership.Filter) ([]*membership.Membership, error)
}

var (
	errMissingToken = apperr.Unauthenticated("missing_token", "authentication required")
	errBadToken     = apperr.Unauthenticated("invalid_token", "invalid or expired session")
	errInactiveUser = apperr.Forbidden(apperr.ReasonInactiveUser, "account is not active")
)

// Resolver maps a session token to a Principal.
type Resolver struct {
	tokens      TokenVerifier
	users       UserSource
	memberships MembershipSource
	logger      *zap.SugaredLogger
}

func NewResolver(tokens TokenVerifier, users UserSource, memberships MembershipSource, logger *zap.SugaredLogger) *Resolver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Resolver{tokens: tokens, users: users, memberships: memberships, logger: logger}
}

// Resolve validates raw, loads the user and preloads active memberships.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, errMissingToken
	}
	claims, err := r.tokens.Verify(raw)
	if err != nil {
		r.logger.Debugw("session rejected", "err", err)
		return nil, errBadToken
	}
	u, err := r.users.GetByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, errBadToken
		}
		return nil, err
	}
	if u.Version != claims.Version {
		return nil, errBadToken
	}
	return r.ForUser(ctx, u)
}

// ForUser builds the principal of an already loaded user.
func (r *Resolver) ForUser(ctx context.Context, u *user.User) (*Principal, error) {
	if !u.IsActive() {
		return nil, errInactiveUser
	}
	ms, err := r.memberships.FindForUser(ctx, u.ID, membership.Filter{})
	if err != nil {
		return nil, err
	}
	return New(u, ms), nil
}

// Middleware requires a bearer session and attaches the principal.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p, err := r.Resolve(req.Context(), BearerToken(req))
		if err != nil {
			apperr.Write(w, err)
			return
		}
		p.IP = ClientIP(req)
		p.RequestID = RequestIDFrom(req.Context())
		next.ServeHTTP(w, req.WithContext(WithPrincipal(req.Context(), p)))
	})
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// ClientIP returns the first X-Forwarded-For hop or the peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
