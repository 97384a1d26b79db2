package entity

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// Role is a property-level role carried by a membership.
type Role string

const (
	RoleLandlord        Role = "landlord"
	RolePropertyManager Role = "property_manager"
	RoleTenant          Role = "tenant"
	RoleVendorAccess    Role = "vendor_access"
	RoleAdminAccess     Role = "admin_access"
)

// AllRoles lists every known role.
var AllRoles = []Role{RoleAdminAccess, RoleLandlord, RolePropertyManager, RoleTenant, RoleVendorAccess}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleLandlord, RolePropertyManager, RoleTenant, RoleVendorAccess, RoleAdminAccess:
		return true
	}
	return false
}

// ParseRole validates s as a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// RoleSet is a sorted set of roles without duplicates. Build it with
// NewRoleSet; the zero value is the empty set.
type RoleSet []Role

func NewRoleSet(roles ...Role) RoleSet {
	if len(roles) == 0 {
		return RoleSet{}
	}
	seen := make(map[Role]struct{}, len(roles))
	out := make(RoleSet, 0, len(roles))
	for _, r := range roles {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseRoleSet validates and normalizes a list of role names.
func ParseRoleSet(names []string) (RoleSet, error) {
	roles := make([]Role, 0, len(names))
	for _, n := range names {
		r, err := ParseRole(n)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return NewRoleSet(roles...), nil
}

func (s RoleSet) Contains(r Role) bool {
	for _, x := range s {
		if x == r {
			return true
		}
	}
	return false
}

// Union returns the set union of s and other.
func (s RoleSet) Union(other RoleSet) RoleSet {
	all := make([]Role, 0, len(s)+len(other))
	all = append(all, s...)
	all = append(all, other...)
	return NewRoleSet(all...)
}

// Without returns s minus r.
func (s RoleSet) Without(r Role) RoleSet {
	out := make(RoleSet, 0, len(s))
	for _, x := range s {
		if x != r {
			out = append(out, x)
		}
	}
	return out
}

// Intersect returns the roles present in both sets.
func (s RoleSet) Intersect(other RoleSet) RoleSet {
	out := RoleSet{}
	for _, x := range s {
		if other.Contains(x) {
			out = append(out, x)
		}
	}
	return out
}

func (s RoleSet) Intersects(other RoleSet) bool { return len(s.Intersect(other)) > 0 }

// ContainsAll reports whether every role of other is in s.
func (s RoleSet) ContainsAll(other RoleSet) bool {
	for _, x := range other {
		if !s.Contains(x) {
			return false
		}
	}
	return true
}

func (s RoleSet) Empty() bool { return len(s) == 0 }

// Key is the canonical comma-joined form used for uniqueness checks.
func (s RoleSet) Key() string {
	return strings.Join(NewRoleSet(s...).Strings(), ",")
}

func (s RoleSet) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

// Validate rejects unknown roles.
func (s RoleSet) Validate() error {
	for _, r := range s {
		if !r.Valid() {
			return fmt.Errorf("unknown role %q", r)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (s RoleSet) Clone() RoleSet {
	if s == nil {
		return nil
	}
	return append(RoleSet{}, s...)
}

// Value stores the set as a Postgres TEXT[].
func (s RoleSet) Value() (driver.Value, error) {
	return pq.StringArray(NewRoleSet(s...).Strings()).Value()
}

// Scan reads a Postgres TEXT[].
func (s *RoleSet) Scan(src any) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return fmt.Errorf("scan roles: %w", err)
	}
	roles := make([]Role, len(arr))
	for i, v := range arr {
		roles[i] = Role(v)
	}
	*s = NewRoleSet(roles...)
	return nil
}
