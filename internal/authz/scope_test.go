package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
)

var requestColumns = Columns{
	Property: "property_id",
	Unit:     "unit_id",
	Attrs:    map[string]string{"assignedTo": "assigned_to", "createdBy": "created_by"},
}

func TestScopeSQL(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		want  string
		args  []any
	}{
		{"all", Scope{All: true}, "TRUE", nil},
		{"empty", Scope{}, "FALSE", nil},
		{
			"properties and units",
			Scope{PropertyIDs: []ident.ID{"p1", "p2"}, TenantUnits: []UnitRef{{PropertyID: "p3", UnitID: "u1"}}},
			"(property_id IN (?, ?) OR (property_id = ? AND unit_id = ?))",
			[]any{ident.ID("p1"), ident.ID("p2"), ident.ID("p3"), ident.ID("u1")},
		},
		{
			"self fields sorted",
			Scope{SelfMatches: map[string]ident.ID{"createdBy": "me", "assignedTo": "me"}},
			"(assigned_to = ? OR created_by = ?)",
			[]any{ident.ID("me"), ident.ID("me")},
		},
		{
			"unmapped field skipped",
			Scope{SelfMatches: map[string]ident.ID{"sender": "me"}},
			"FALSE",
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args, err := tt.scope.SQL(requestColumns)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestScopeMatches(t *testing.T) {
	s := Scope{PropertyIDs: []ident.ID{"p1"}, TenantUnits: []UnitRef{{PropertyID: "p2", UnitID: "u9"}}, SelfMatches: map[string]ident.ID{"user": "me"}}

	assert.True(t, s.Matches(ResourceRef{PropertyID: "p1"}))
	assert.True(t, s.Matches(ResourceRef{PropertyID: "p2", UnitID: "u9"}))
	assert.True(t, s.Matches(ResourceRef{PropertyID: "p2", Attrs: map[string]ident.ID{"user": "me"}}))
	assert.False(t, s.Matches(ResourceRef{PropertyID: "p2", UnitID: "u1"}))
	assert.False(t, s.Matches(ResourceRef{PropertyID: "p3", UnitID: "u9"}), "unit id under another property")
	assert.False(t, Scope{}.Matches(ResourceRef{}))
	assert.True(t, Scope{All: true}.Matches(ResourceRef{}))
}
