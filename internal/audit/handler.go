package audit

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/policy"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/principal"
)

// Handler serves the audit log to administrators.
type Handler struct {
	emitter *Emitter
	engine  *authz.Engine
	logger  *zap.SugaredLogger
}

func NewHandler(emitter *Emitter, engine *authz.Engine, logger *zap.SugaredLogger) *Handler {
	return &Handler{emitter: emitter, engine: engine, logger: logger}
}

// List handles GET /action-events.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if err := h.engine.Authorize(r.Context(), p, policy.ActionList, authz.ResourceRef{Kind: policy.KindActionEvent}); err != nil {
		apperr.Write(w, err)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	events, err := h.emitter.List(r.Context(), f)
	if err != nil {
		h.logger.Warnw("list action events failed", "err", err)
		apperr.Write(w, err)
		return
	}
	if events == nil {
		events = []*entity.Event{}
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]any{"items": events, "limit": f.Limit, "offset": f.Offset})
}

func parseFilter(r *http.Request) (entity.Filter, error) {
	q := r.URL.Query()
	f := entity.Filter{
		Kind:         entity.Kind(q.Get("kind")),
		ActorID:      ident.ID(q.Get("actor")),
		ResourceKind: q.Get("resourceKind"),
		ResourceID:   q.Get("resourceId"),
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, apperr.Validation("invalid_since", "since must be an RFC 3339 timestamp")
		}
		f.Since = &t
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		return f, err
	}
	return f.Normalize(), nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperr.Validation("invalid_paging", "limit and offset must be non-negative integers")
	}
	return n, nil
}
