package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
)

// Membership grants a role set to a user on a property, optionally
// narrowed to one unit.
type Membership struct {
	ID          ident.ID    `db:"id" json:"id"`
	UserID      ident.ID    `db:"user_id" json:"userId"`
	PropertyID  ident.ID    `db:"property_id" json:"propertyId"`
	UnitID      *ident.ID   `db:"unit_id" json:"unitId,omitempty"`
	Roles       RoleSet     `db:"roles" json:"roles"`
	Active      bool        `db:"active" json:"active"`
	InvitedBy   *ident.ID   `db:"invited_by" json:"invitedBy,omitempty"`
	StartDate   *time.Time  `db:"start_date" json:"startDate,omitempty"`
	EndDate     *time.Time  `db:"end_date" json:"endDate,omitempty"`
	Permissions Permissions `db:"permissions" json:"permissions,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`
}

// Unit returns the unit id or the zero ID for property-wide rows.
func (m *Membership) Unit() ident.ID { return ident.Deref(m.UnitID) }

// PropertyWide reports whether the row is not narrowed to a unit.
func (m *Membership) PropertyWide() bool { return m.UnitID == nil }

// Key returns the uniqueness triple.
func (m *Membership) Key() Key {
	return Key{UserID: m.UserID, PropertyID: m.PropertyID, UnitID: m.Unit()}
}

// Clone returns a deep copy.
func (m *Membership) Clone() *Membership {
	cp := *m
	cp.Roles = m.Roles.Clone()
	cp.Permissions = m.Permissions.Clone()
	return &cp
}

// Validate checks the row-level invariants that need no lookups.
func (m *Membership) Validate() error {
	if err := m.Roles.Validate(); err != nil {
		return err
	}
	if m.Roles.Contains(RoleTenant) && m.UnitID == nil {
		return fmt.Errorf("tenant role requires a unit")
	}
	return nil
}

// Key is the (user, property, unit) triple; the zero unit means property-wide.
type Key struct {
	UserID     ident.ID
	PropertyID ident.ID
	UnitID     ident.ID
}

// Permissions are per-grant overrides keyed by "kind:action". false
// revokes an action the roles would grant, true grants one they would not.
type Permissions map[string]bool

func (p Permissions) Clone() Permissions {
	if p == nil {
		return nil
	}
	cp := make(Permissions, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Override returns the override for key, if one is set.
func (p Permissions) Override(key string) (allowed, set bool) {
	allowed, set = p[key]
	return allowed, set
}

func (p Permissions) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]bool(p))
}

func (p *Permissions) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("permissions: unsupported type %T", src)
	}
	m := map[string]bool{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	if len(m) == 0 {
		*p = nil
		return nil
	}
	*p = m
	return nil
}

// Filter narrows membership queries.
type Filter struct {
	UserID     ident.ID
	PropertyID ident.ID
	// UnitID, when set, matches rows on that unit and property-wide rows.
	UnitID          ident.ID
	Roles           RoleSet
	IncludeInactive bool
	Limit           int
	Offset          int
}
