// Package authz decides whether a principal may perform an action on a
// resource, and compiles the same policy into list scopes.
package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/policy"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/principal"
)

// ResourceRef describes the target of a decision. Attrs carries
// resource-local identities such as createdBy, assignedTo or sender.
type ResourceRef struct {
	Kind       policy.Kind
	ID         ident.ID
	PropertyID ident.ID
	UnitID     ident.ID
	Attrs      map[string]ident.ID
	// Inactive marks a deactivated property or unit; writes are denied.
	Inactive bool
}

// Rule names the pipeline stage that produced a decision.
type Rule string

const (
	RuleInactiveUser     Rule = "inactive_user"
	RuleNoPolicy         Rule = "no_policy"
	RuleAdminBypass      Rule = "admin_bypass"
	RuleInactiveResource Rule = "inactive_resource"
	RuleSelf             Rule = "self"
	RuleResourceLocal    Rule = "resource_local"
	RuleGlobalRole       Rule = "global_role"
	RuleMembership       Rule = "membership"
	RuleOverride         Rule = "permission_override"
)

// Decision is the outcome of Decide.
type Decision struct {
	Allowed bool
	Reason  apperr.Reason
	Rule    Rule
}

func allow(rule Rule) Decision { return Decision{Allowed: true, Rule: rule} }

func deny(reason apperr.Reason, rule Rule) Decision {
	return Decision{Reason: reason, Rule: rule}
}

func (d Decision) String() string {
	if d.Allowed {
		return "allow (" + string(d.Rule) + ")"
	}
	return "deny: " + string(d.Reason) + " (" + string(d.Rule) + ")"
}

// UnitResolver maps a unit to its property.
type UnitResolver interface {
	PropertyOfUnit(ctx context.Context, unitID ident.ID) (ident.ID, error)
}

// Denial is a security-relevant refusal handed to the recorder.
type Denial struct {
	PrincipalID ident.ID
	IP          string
	Action      policy.Action
	Ref         ResourceRef
	Reason      apperr.Reason
}

type DenialRecorder interface {
	RecordDenial(ctx context.Context, d Denial)
}

// Engine evaluates the policy catalog against principals.
type Engine struct {
	catalog  *policy.Catalog
	units    UnitResolver
	recorder DenialRecorder
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewEngine(catalog *policy.Catalog, units UnitResolver, recorder DenialRecorder, logger *zap.SugaredLogger) *Engine {
	if catalog == nil {
		catalog = policy.Default()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{catalog: catalog, units: units, recorder: recorder, logger: logger, now: time.Now}
}

// Catalog exposes the table the engine evaluates.
func (e *Engine) Catalog() *policy.Catalog { return e.catalog }

// Decide evaluates action on ref for p. Pipeline order: inactive user,
// admin bypass, inactive resource, self field, resource-local roles,
// global role restriction, memberships. The result is memoized on p.
func (e *Engine) Decide(ctx context.Context, p *principal.Principal, action policy.Action, ref ResourceRef) (Decision, error) {
	if p == nil {
		return Decision{}, apperr.Unauthenticated("missing_principal", "authentication required")
	}
	key := memoKey(action, ref)
	if v, ok := p.Recall(key); ok {
		return v.(Decision), nil
	}
	d, err := e.decide(ctx, p, action, ref)
	if err != nil {
		return Decision{}, err
	}
	p.Remember(key, d)
	return d, nil
}

func (e *Engine) decide(ctx context.Context, p *principal.Principal, action policy.Action, ref ResourceRef) (Decision, error) {
	if !p.IsActive() {
		return deny(apperr.ReasonInactiveUser, RuleInactiveUser), nil
	}
	entry, ok := e.catalog.Lookup(ref.Kind, action)
	if p.IsAdmin() && (!ok || !entry.AdminForbidden) {
		return allow(RuleAdminBypass), nil
	}
	if !ok {
		e.logger.Warnw("no policy entry", "kind", ref.Kind, "action", action)
		return deny(apperr.ReasonRoleInsufficient, RuleNoPolicy), nil
	}
	if ref.Inactive && entry.Write {
		return deny(apperr.ReasonInactiveResource, RuleInactiveResource), nil
	}
	if entry.Owner != policy.OwnerNone && attrMatches(p.ID, entry.SelfFields, ref) {
		return allow(RuleSelf), nil
	}
	if entry.Owner == policy.OwnerOnly {
		return deny(apperr.ReasonRoleInsufficient, RuleSelf), nil
	}
	if attrMatches(p.ID, entry.ResourceLocal, ref) {
		return allow(RuleResourceLocal), nil
	}
	if entry.RestrictsGlobalRole(p.GlobalRole) {
		return deny(apperr.ReasonNotAdmin, RuleGlobalRole), nil
	}

	propertyID := ref.PropertyID
	if propertyID.IsZero() && !ref.UnitID.IsZero() && e.units != nil {
		resolved, err := e.units.PropertyOfUnit(ctx, ref.UnitID)
		if err != nil {
			return Decision{}, err
		}
		propertyID = resolved
	}
	if propertyID.IsZero() {
		return deny(apperr.ReasonNotMember, RuleMembership), nil
	}
	memberships := e.live(p.MembershipsAt(propertyID))
	if len(memberships) == 0 {
		return deny(apperr.ReasonNotMember, RuleMembership), nil
	}
	reason := apperr.ReasonRoleInsufficient
	for _, m := range memberships {
		unitOK := unitAdmits(entry, m, ref.UnitID)
		if allowed, set := m.Permissions.Override(entry.PermissionKey()); set {
			if allowed && unitOK {
				return allow(RuleOverride), nil
			}
			continue
		}
		if !m.Roles.Intersects(entry.PropertyRoles) {
			continue
		}
		if !unitOK {
			reason = apperr.ReasonTenantUnitMismatch
			continue
		}
		return allow(RuleMembership), nil
	}
	return deny(reason, RuleMembership), nil
}

// Authorize wraps Decide into an error. Security-relevant denials are
// handed to the recorder.
func (e *Engine) Authorize(ctx context.Context, p *principal.Principal, action policy.Action, ref ResourceRef) error {
	d, err := e.Decide(ctx, p, action, ref)
	if err != nil {
		return err
	}
	if d.Allowed {
		return nil
	}
	e.logger.Debugw("authorization denied", "user_id", p.ID, "kind", ref.Kind, "action", action,
		"resource_id", ref.ID, "reason", d.Reason, "rule", d.Rule)
	if entry, ok := e.catalog.Lookup(ref.Kind, action); ok && entry.SecurityRelevant && e.recorder != nil {
		e.recorder.RecordDenial(ctx, Denial{PrincipalID: p.ID, IP: p.IP, Action: action, Ref: ref, Reason: d.Reason})
	}
	return apperr.Forbidden(d.Reason, denyMessage(d.Reason))
}

// ScopeFor compiles the read policy of kind into a list predicate for p.
func (e *Engine) ScopeFor(p *principal.Principal, kind policy.Kind) Scope {
	if p == nil || !p.IsActive() {
		return Scope{}
	}
	entry, ok := e.catalog.Lookup(kind, policy.ActionRead)
	if p.IsAdmin() && (!ok || !entry.AdminForbidden) {
		return Scope{All: true}
	}
	if !ok {
		return Scope{}
	}
	var s Scope
	if fields := entry.ScopeFields(); len(fields) > 0 {
		s.SelfMatches = make(map[string]ident.ID, len(fields))
		for _, f := range fields {
			s.SelfMatches[f] = p.ID
		}
	}
	if entry.Owner == policy.OwnerOnly || entry.RestrictsGlobalRole(p.GlobalRole) {
		return s
	}
	for _, m := range e.live(p.Memberships()) {
		if allowed, set := m.Permissions.Override(entry.PermissionKey()); set {
			if !allowed {
				continue
			}
		} else if !m.Roles.Intersects(entry.PropertyRoles) {
			continue
		}
		if m.UnitID != nil && entry.TenantUnitScoped {
			s.addUnit(m.PropertyID, *m.UnitID)
			continue
		}
		s.addProperty(m.PropertyID)
	}
	return s
}

// live drops memberships outside their start/end window.
func (e *Engine) live(ms []*membership.Membership) []*membership.Membership {
	now := e.now()
	out := ms[:0:0]
	for _, m := range ms {
		if !m.Active {
			continue
		}
		if m.StartDate != nil && now.Before(*m.StartDate) {
			continue
		}
		if m.EndDate != nil && !now.Before(*m.EndDate) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func unitAdmits(entry policy.Entry, m *membership.Membership, unit ident.ID) bool {
	if m.UnitID == nil || !entry.TenantUnitScoped {
		return true
	}
	return m.UnitID.Equal(unit)
}

func attrMatches(id ident.ID, fields []string, ref ResourceRef) bool {
	for _, f := range fields {
		if ref.Attrs[f].Equal(id) {
			return true
		}
	}
	return false
}

func memoKey(action policy.Action, ref ResourceRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "decide|%s|%s|%s|%s|%s|%t", ref.Kind, action, ref.ID, ref.PropertyID, ref.UnitID, ref.Inactive)
	attrs := make([]string, 0, len(ref.Attrs))
	for k := range ref.Attrs {
		attrs = append(attrs, k)
	}
	sort.Strings(attrs)
	for _, k := range attrs {
		fmt.Fprintf(&b, "|%s=%s", k, ref.Attrs[k])
	}
	return b.String()
}

func denyMessage(r apperr.Reason) string {
	switch r {
	case apperr.ReasonNotAdmin:
		return "administrator role required"
	case apperr.ReasonNotMember:
		return "not a member of this property"
	case apperr.ReasonTenantUnitMismatch:
		return "tenant access is limited to the tenant's unit"
	case apperr.ReasonInactiveUser:
		return "account is not active"
	case apperr.ReasonInactiveResource:
		return "resource is inactive"
	default:
		return "role does not permit this action"
	}
}
