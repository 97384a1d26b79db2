package authz

import (
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
)

// Scope is the list-endpoint form of the read policy of one resource
// kind. A row is visible when any clause admits it. The zero Scope admits
// nothing.
type Scope struct {
	All         bool
	PropertyIDs []ident.ID
	TenantUnits []UnitRef
	// SelfMatches maps a resource attribute to the principal id it must equal.
	SelfMatches map[string]ident.ID
}

// UnitRef names one unit inside the property that holds it. A tenant grant
// admits the unit only under that property.
type UnitRef struct {
	PropertyID ident.ID
	UnitID     ident.ID
}

// Empty reports whether the scope admits no row.
func (s Scope) Empty() bool {
	return !s.All && len(s.PropertyIDs) == 0 && len(s.TenantUnits) == 0 && len(s.SelfMatches) == 0
}

// Matches evaluates the scope against one resource. The ref must carry
// its property id.
func (s Scope) Matches(ref ResourceRef) bool {
	if s.All {
		return true
	}
	for field, id := range s.SelfMatches {
		if ref.Attrs[field].Equal(id) {
			return true
		}
	}
	for _, id := range s.PropertyIDs {
		if id.Equal(ref.PropertyID) {
			return true
		}
	}
	for _, u := range s.TenantUnits {
		if u.PropertyID.Equal(ref.PropertyID) && u.UnitID.Equal(ref.UnitID) {
			return true
		}
	}
	return false
}

func (s *Scope) addProperty(id ident.ID) {
	for _, x := range s.PropertyIDs {
		if x == id {
			return
		}
	}
	s.PropertyIDs = append(s.PropertyIDs, id)
}

func (s *Scope) addUnit(propertyID, unitID ident.ID) {
	u := UnitRef{PropertyID: propertyID, UnitID: unitID}
	for _, x := range s.TenantUnits {
		if x == u {
			return
		}
	}
	s.TenantUnits = append(s.TenantUnits, u)
}

// Columns names the table columns a scope compiles onto.
type Columns struct {
	Property string
	Unit     string
	// Attrs maps resource attributes to columns.
	Attrs map[string]string
}

// SQL compiles the scope into a parenthesized boolean clause with '?'
// bindvars. Callers append their own filters and Rebind the final query.
// Attributes without a mapped column are skipped.
func (s Scope) SQL(cols Columns) (string, []any, error) {
	if s.All {
		return "TRUE", nil, nil
	}
	var (
		parts []string
		args  []any
	)
	if len(s.PropertyIDs) > 0 && cols.Property != "" {
		q, a, err := sqlx.In(cols.Property+" IN (?)", s.PropertyIDs)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, q)
		args = append(args, a...)
	}
	if cols.Property != "" && cols.Unit != "" {
		for _, u := range s.TenantUnits {
			parts = append(parts, "("+cols.Property+" = ? AND "+cols.Unit+" = ?)")
			args = append(args, u.PropertyID, u.UnitID)
		}
	}
	fields := make([]string, 0, len(s.SelfMatches))
	for f := range s.SelfMatches {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		col, ok := cols.Attrs[f]
		if !ok {
			continue
		}
		parts = append(parts, col+" = ?")
		args = append(args, s.SelfMatches[f])
	}
	if len(parts) == 0 {
		return "FALSE", nil, nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args, nil
}
