// Package policy is the declarative table of (resource kind, action)
// requirements consulted by the authorization engine.
package policy

import (
	"fmt"
	"sort"

	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

// Kind is a resource kind.
type Kind string

const (
	KindProperty             Kind = "property"
	KindUnit                 Kind = "unit"
	KindMembership           Kind = "membership"
	KindInvitation           Kind = "invitation"
	KindRequest              Kind = "request"
	KindScheduledMaintenance Kind = "scheduled_maintenance"
	KindLease                Kind = "lease"
	KindLedger               Kind = "ledger"
	KindVendor               Kind = "vendor"
	KindComment              Kind = "comment"
	KindMedia                Kind = "media"
	KindNotification         Kind = "notification"
	KindActionEvent          Kind = "action_event"
)

// Action is what a principal attempts on a resource.
type Action string

const (
	ActionRead    Action = "read"
	ActionList    Action = "list"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionComment Action = "comment"

	ActionInviteIssue         Action = "invite:issue"
	ActionInviteIssueManager  Action = "invite:issue_manager"
	ActionInviteIssueLandlord Action = "invite:issue_landlord"
	ActionInviteIssueAdmin    Action = "invite:issue_admin"
	ActionInviteCancel        Action = "invite:cancel"
	ActionInviteResend        Action = "invite:resend"

	ActionMembershipGrant        Action = "membership:grant"
	ActionMembershipGrantManager Action = "membership:grant_manager"
	ActionMembershipUpdate       Action = "membership:update"
	ActionMembershipDeactivate   Action = "membership:deactivate"
)

// OwnerMode says how the self-field rule applies to an action.
type OwnerMode string

const (
	OwnerNone OwnerMode = "none"
	// OwnerOK allows the owner in addition to role holders.
	OwnerOK OwnerMode = "owner_ok"
	// OwnerOnly allows the owner only; role holders do not qualify.
	OwnerOnly OwnerMode = "owner_only"
)

// Entry is one row of the catalog.
type Entry struct {
	Kind   Kind
	Action Action
	// GlobalRoles, when non-empty, restricts the action to principals
	// holding one of these global roles.
	GlobalRoles []user.GlobalRole
	// PropertyRoles are the membership roles that grant the action.
	PropertyRoles membership.RoleSet
	// TenantUnitScoped narrows unit-scoped memberships to resources on
	// the same unit.
	TenantUnitScoped bool
	// SelfFields name resource attributes that identify its owner.
	SelfFields []string
	Owner      OwnerMode
	// ResourceLocal name attributes (assignee, creator) that grant the
	// action without a membership.
	ResourceLocal  []string
	AdminForbidden bool
	// Write actions are denied on inactive resources.
	Write bool
	// SecurityRelevant denials are written to the audit log.
	SecurityRelevant bool
}

// PermissionKey is the key of a per-membership override for this entry.
func (e Entry) PermissionKey() string { return string(e.Kind) + ":" + string(e.Action) }

// RestrictsGlobalRole reports whether role is excluded by GlobalRoles.
func (e Entry) RestrictsGlobalRole(role user.GlobalRole) bool {
	if len(e.GlobalRoles) == 0 {
		return false
	}
	for _, r := range e.GlobalRoles {
		if r == role {
			return false
		}
	}
	return true
}

// ScopeFields are the attributes a list scope may match on the principal.
func (e Entry) ScopeFields() []string {
	var out []string
	if e.Owner != OwnerNone {
		out = append(out, e.SelfFields...)
	}
	return append(out, e.ResourceLocal...)
}

type key struct {
	kind   Kind
	action Action
}

// Catalog is an immutable lookup table.
type Catalog struct {
	entries map[key]Entry
}

// New builds a catalog, rejecting duplicate rows.
func New(entries ...Entry) (*Catalog, error) {
	c := &Catalog{entries: make(map[key]Entry, len(entries))}
	for _, e := range entries {
		k := key{e.Kind, e.Action}
		if _, dup := c.entries[k]; dup {
			return nil, fmt.Errorf("duplicate policy entry %s", e.PermissionKey())
		}
		if e.Owner == "" {
			e.Owner = OwnerNone
		}
		if err := e.PropertyRoles.Validate(); err != nil {
			return nil, fmt.Errorf("policy entry %s: %w", e.PermissionKey(), err)
		}
		c.entries[k] = e
	}
	return c, nil
}

// Lookup returns the entry for (kind, action).
func (c *Catalog) Lookup(kind Kind, action Action) (Entry, bool) {
	e, ok := c.entries[key{kind, action}]
	return e, ok
}

// Entries returns all rows ordered by kind then action.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultEntries()...)
	if err != nil {
		panic(err)
	}
	return c
}
