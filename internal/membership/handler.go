package membership

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit"
	auditentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/policy"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/principal"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

// Auditor receives action events.
type Auditor interface {
	Emit(ctx context.Context, rec audit.Record)
}

// Handler exposes /memberships.
type Handler struct {
	store   *Store
	engine  *authz.Engine
	tx      database.TxManager
	auditor Auditor
	logger  *zap.SugaredLogger
}

func NewHandler(store *Store, engine *authz.Engine, tx database.TxManager, auditor Auditor, logger *zap.SugaredLogger) *Handler {
	return &Handler{store: store, engine: engine, tx: tx, auditor: auditor, logger: logger}
}

// GrantAction is the action that guards adding or removing roles on an
// existing row. Owner-level roles need an administrator, managers need an
// owner.
func GrantAction(roles entity.RoleSet) policy.Action {
	switch {
	case roles.Contains(entity.RoleLandlord), roles.Contains(entity.RoleAdminAccess):
		return policy.ActionMembershipGrant
	case roles.Contains(entity.RolePropertyManager):
		return policy.ActionMembershipGrantManager
	default:
		return policy.ActionMembershipUpdate
	}
}

// GrantRequest is the body of POST /memberships. Direct grants are for
// administrators; everyone else goes through an invitation.
type GrantRequest struct {
	UserID      ident.ID           `json:"userId"`
	PropertyID  ident.ID           `json:"propertyId"`
	UnitID      *ident.ID          `json:"unitId,omitempty"`
	Roles       []string           `json:"roles"`
	StartDate   *time.Time         `json:"startDate,omitempty"`
	EndDate     *time.Time         `json:"endDate,omitempty"`
	Permissions entity.Permissions `json:"permissions,omitempty"`
}

func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal.FromContext(ctx)
	var req GrantRequest
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	roles, err := entity.ParseRoleSet(req.Roles)
	if err != nil {
		apperr.Write(w, apperr.Validation("unknown_role", err.Error()))
		return
	}
	unitID := ident.Ptr(ident.Deref(req.UnitID))
	in := UpsertInput{
		UserID:      req.UserID,
		PropertyID:  req.PropertyID,
		UnitID:      unitID,
		Roles:       roles,
		GrantedBy:   principalID(p),
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Permissions: req.Permissions,
	}
	if err := in.validate(); err != nil {
		apperr.Write(w, err)
		return
	}
	target, err := h.store.Resolve(ctx, in.PropertyID, in.UnitID)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	ref := authz.ResourceRef{
		Kind:       policy.KindMembership,
		PropertyID: in.PropertyID,
		UnitID:     ident.Deref(in.UnitID),
		Attrs:      map[string]ident.ID{"user": in.UserID},
		Inactive:   target.Inactive(),
	}
	if err := h.engine.Authorize(ctx, p, policy.ActionMembershipGrant, ref); err != nil {
		apperr.Write(w, err)
		return
	}

	var (
		m       *entity.Membership
		created bool
	)
	err = h.tx.RunInTx(ctx, func(ctx context.Context) error {
		old, err := h.store.Holds(ctx, entity.Key{UserID: in.UserID, PropertyID: in.PropertyID, UnitID: ident.Deref(in.UnitID)})
		if err != nil {
			return err
		}
		m, created, err = h.store.Upsert(ctx, in)
		if err != nil {
			return err
		}
		h.emit(ctx, p, auditentity.KindMembershipGranted, m, snapshotOrNil(old), "roles granted: "+roles.Key())
		return nil
	})
	if err != nil {
		h.logger.Debugw("grant membership failed", "user_id", in.UserID, "property_id", in.PropertyID, "err", err)
		apperr.Write(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	apperr.WriteJSON(w, status, m)
}

// UpdateRequest is the body of PUT /memberships/{id}.
type UpdateRequest struct {
	Roles       []string           `json:"roles,omitempty"`
	Active      *bool              `json:"active,omitempty"`
	EndDate     *time.Time         `json:"endDate,omitempty"`
	ClearEnd    bool               `json:"clearEndDate,omitempty"`
	Permissions entity.Permissions `json:"permissions,omitempty"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal.FromContext(ctx)
	var req UpdateRequest
	if err := apperr.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	in := UpdateInput{Active: req.Active, EndDate: req.EndDate, ClearEnd: req.ClearEnd, Permissions: req.Permissions}
	if req.Roles != nil {
		roles, err := entity.ParseRoleSet(req.Roles)
		if err != nil {
			apperr.Write(w, apperr.Validation("unknown_role", err.Error()))
			return
		}
		in.Roles = &roles
	}
	old, err := h.load(ctx, p, ident.ID(r.PathValue("id")), policy.ActionMembershipUpdate)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if err := h.authorizeChanges(ctx, p, old, in); err != nil {
		apperr.Write(w, err)
		return
	}
	var m *entity.Membership
	err = h.tx.RunInTx(ctx, func(ctx context.Context) error {
		m, err = h.store.Update(ctx, old.ID, in)
		if err != nil {
			return err
		}
		h.emit(ctx, p, auditentity.KindMembershipUpdated, m, old, "membership updated")
		return nil
	})
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, m)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal.FromContext(ctx)
	old, err := h.load(ctx, p, ident.ID(r.PathValue("id")), policy.ActionMembershipDeactivate)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if err := h.authorizeOn(ctx, p, GrantAction(old.Roles), old); err != nil {
		apperr.Write(w, err)
		return
	}
	var m *entity.Membership
	err = h.tx.RunInTx(ctx, func(ctx context.Context) error {
		m, err = h.store.Deactivate(ctx, old.ID)
		if err != nil {
			return err
		}
		h.emit(ctx, p, auditentity.KindMembershipDeactivated, m, old, "membership deactivated")
		return nil
	})
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, m)
}

// RevokeRole handles DELETE /memberships/{id}/roles/{role}.
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal.FromContext(ctx)
	role, err := entity.ParseRole(r.PathValue("role"))
	if err != nil {
		apperr.Write(w, apperr.Validation("unknown_role", err.Error()))
		return
	}
	old, err := h.load(ctx, p, ident.ID(r.PathValue("id")), GrantAction(entity.NewRoleSet(role)))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var m *entity.Membership
	err = h.tx.RunInTx(ctx, func(ctx context.Context) error {
		m, err = h.store.RevokeRole(ctx, old.Key(), role)
		if err != nil {
			return err
		}
		h.emit(ctx, p, auditentity.KindMembershipRoleRevoked, m, old, "role revoked: "+string(role))
		return nil
	})
	if err != nil {
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, m)
}

// List handles GET /memberships, filtered by the caller's read scope.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal.FromContext(ctx)
	if p == nil {
		apperr.Write(w, apperr.Unauthenticated("missing_principal", "authentication required"))
		return
	}
	q := r.URL.Query()
	f := entity.Filter{
		UserID:     ident.ID(q.Get("user")),
		PropertyID: ident.ID(q.Get("property")),
		UnitID:     ident.ID(q.Get("unit")),
	}
	f.IncludeInactive, _ = strconv.ParseBool(q.Get("includeInactive"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	if f.Limit < 0 || f.Offset < 0 {
		apperr.Write(w, apperr.Validation("invalid_paging", "limit and offset must be non-negative"))
		return
	}
	items, err := h.store.List(ctx, h.engine.ScopeFor(p, policy.KindMembership), f)
	if err != nil {
		h.logger.Warnw("list memberships failed", "err", err)
		apperr.Write(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// load fetches row id and authorizes action on it. Denials are recorded
// outside any transaction so a rollback cannot drop them.
func (h *Handler) load(ctx context.Context, p *principal.Principal, id ident.ID, action policy.Action) (*entity.Membership, error) {
	if p == nil {
		return nil, apperr.Unauthenticated("missing_principal", "authentication required")
	}
	m, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.authorizeOn(ctx, p, action, m); err != nil {
		return nil, err
	}
	return m, nil
}

// authorizeChanges checks an update against old. Every role added or
// removed needs its grant action, deactivating removes all of them, and
// permission overrides need an administrator.
func (h *Handler) authorizeChanges(ctx context.Context, p *principal.Principal, old *entity.Membership, in UpdateInput) error {
	if in.Permissions != nil {
		if err := h.authorizeOn(ctx, p, policy.ActionMembershipGrant, old); err != nil {
			return err
		}
	}
	changed := entity.RoleSet{}
	if in.Roles != nil {
		next := *in.Roles
		for _, role := range next {
			if !old.Roles.Contains(role) {
				changed = changed.Union(entity.NewRoleSet(role))
			}
		}
		for _, role := range old.Roles {
			if !next.Contains(role) {
				changed = changed.Union(entity.NewRoleSet(role))
			}
		}
	}
	if in.Active != nil && !*in.Active {
		changed = changed.Union(old.Roles)
	}
	if changed.Empty() {
		return nil
	}
	return h.authorizeOn(ctx, p, GrantAction(changed), old)
}

func (h *Handler) authorizeOn(ctx context.Context, p *principal.Principal, action policy.Action, m *entity.Membership) error {
	target, err := h.store.Resolve(ctx, m.PropertyID, m.UnitID)
	if err != nil {
		return err
	}
	return h.engine.Authorize(ctx, p, action, authz.ResourceRef{
		Kind:       policy.KindMembership,
		ID:         m.ID,
		PropertyID: m.PropertyID,
		UnitID:     m.Unit(),
		Attrs:      map[string]ident.ID{"user": m.UserID},
		Inactive:   target.Inactive(),
	})
}

func (h *Handler) emit(ctx context.Context, p *principal.Principal, kind auditentity.Kind, m *entity.Membership, old any, desc string) {
	rec := audit.Record{
		Kind:         kind,
		Actor:        principalID(p),
		ResourceKind: string(policy.KindMembership),
		ResourceID:   m.ID.String(),
		Old:          old,
		New:          m,
		Description:  desc,
	}
	if p != nil {
		rec.IP = p.IP
	}
	h.auditor.Emit(ctx, rec)
}

func principalID(p *principal.Principal) ident.ID {
	if p == nil {
		return ""
	}
	return p.ID
}

// snapshotOrNil keeps a nil row from becoming a typed nil in the record.
func snapshotOrNil(m *entity.Membership) any {
	if m == nil {
		return nil
	}
	return m
}
