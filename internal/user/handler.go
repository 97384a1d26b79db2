package user

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit"
	auditentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/principal"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/session"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

// Sessions issues bearer tokens.
type Sessions interface {
	Issue(sub session.Subject) (session.Token, error)
}

type Auditor interface {
	Emit(ctx context.Context, rec audit.Record)
}

// Handler exposes the password login endpoint.
type Handler struct {
	svc      *UserService
	sessions Sessions
	auditor  Auditor
	logger   *zap.SugaredLogger
}

func NewHandler(svc *UserService, sessions Sessions, auditor Auditor, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, sessions: sessions, auditor: auditor, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token and the account.
type LoginResponse struct {
	session.Token
	User *entity.User `json:"user"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	ip := principal.ClientIP(r)
	u, err := h.svc.AuthenticatePassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		if apperr.KindOf(err) != apperr.KindInternal {
			h.auditor.Emit(r.Context(), audit.Record{
				Kind:         auditentity.KindUserLogin,
				IP:           ip,
				ResourceKind: "user",
				Description:  "login failed for " + entity.NormalizeEmail(req.Email),
				Status:       auditentity.StatusFailure,
			})
		}
		apperr.Write(w, err)
		return
	}
	tok, err := h.sessions.Issue(session.Subject{UserID: u.ID, Role: string(u.GlobalRole), Version: u.Version})
	if err != nil {
		h.logger.Errorw("issue session failed", "user_id", u.ID, "err", err)
		apperr.Write(w, apperr.Internal(err))
		return
	}
	h.auditor.Emit(r.Context(), audit.Record{
		Kind:         auditentity.KindUserLogin,
		Actor:        u.ID,
		IP:           ip,
		ResourceKind: "user",
		ResourceID:   u.ID.String(),
		Description:  "password login",
	})
	apperr.WriteJSON(w, http.StatusOK, LoginResponse{Token: tok, User: u})
}
