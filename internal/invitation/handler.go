package invitation

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/invitation/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/principal"
)

// Handler exposes /invites and the public token endpoints.
type Handler struct {
	manager *Manager
	logger  *zap.SugaredLogger
}

func NewHandler(manager *Manager, logger *zap.SugaredLogger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// IssueRequest is the body of POST /invites.
type IssueRequest struct {
	Email      string    `json:"email"`
	Roles      []string  `json:"roles"`
	PropertyID *ident.ID `json:"propertyId,omitempty"`
	UnitID     *ident.ID `json:"unitId,omitempty"`
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	inv, err := h.manager.Issue(r.Context(), principal.FromContext(r.Context()), IssueInput{
		Email:      req.Email,
		Roles:      req.Roles,
		PropertyID: req.PropertyID,
		UnitID:     req.UnitID,
	})
	if err != nil {
		h.logger.Debugw("issue invitation failed", "email", req.Email, "err", err)
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, inv)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := entity.Filter{
		Status:     entity.Status(q.Get("status")),
		PropertyID: ident.ID(q.Get("property")),
		Email:      q.Get("email"),
	}
	var err error
	if f.Limit, err = atoi(q.Get("limit")); err != nil {
		apperr.Write(w, err)
		return
	}
	if f.Offset, err = atoi(q.Get("offset")); err != nil {
		apperr.Write(w, err)
		return
	}
	items, err := h.manager.List(r.Context(), principal.FromContext(r.Context()), f)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if items == nil {
		items = []*entity.Invitation{}
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	inv, err := h.manager.Cancel(r.Context(), principal.FromContext(r.Context()), ident.ID(r.PathValue("id")))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, inv)
}

func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	inv, err := h.manager.Resend(r.Context(), principal.FromContext(r.Context()), ident.ID(r.PathValue("id")))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, inv)
}

// Verify handles GET /public/invites/{token}/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.Verify(r.Context(), r.PathValue("token"))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, view)
}

// Accept handles POST /public/invites/{token}/accept.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	var in AcceptInput
	if err := apperr.DecodeJSON(r, &in); err != nil {
		apperr.Write(w, err)
		return
	}
	res, err := h.manager.Accept(r.Context(), r.PathValue("token"), in, principal.ClientIP(r))
	if err != nil {
		h.logger.Debugw("accept invitation failed", "err", err)
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, res)
}

type declineRequest struct {
	Reason string `json:"reason"`
}

// Decline handles POST /public/invites/{token}/decline.
func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	var req declineRequest
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	inv, err := h.manager.Decline(r.Context(), r.PathValue("token"), req.Reason, principal.ClientIP(r))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]any{"id": inv.ID, "status": inv.Status})
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperr.Validation("invalid_paging", "limit and offset must be non-negative integers")
	}
	return n, nil
}
