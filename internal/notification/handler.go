package notification

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/policy"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/principal"
)

type Handler struct {
	svc    *Service
	engine *authz.Engine
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, engine *authz.Engine, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, engine: engine, logger: logger}
}

// Mine handles GET /notifications for the calling user.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if p == nil {
		apperr.Write(w, apperr.Unauthenticated("missing_principal", "authentication required"))
		return
	}
	ref := authz.ResourceRef{Kind: policy.KindNotification, Attrs: map[string]ident.ID{"user": p.ID}}
	if err := h.engine.Authorize(r.Context(), p, policy.ActionList, ref); err != nil {
		apperr.Write(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.svc.Recent(r.Context(), p.ID, limit)
	if err != nil {
		h.logger.Warnw("list notifications failed", "user_id", p.ID, "err", err)
		apperr.Write(w, err)
		return
	}
	if items == nil {
		items = []*entity.Notification{}
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}
