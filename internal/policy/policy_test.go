package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

func TestDefaultCatalogBuilds(t *testing.T) {
	c := Default()
	assert.NotEmpty(t, c.Entries())
}

func TestReadAndListRowsMatch(t *testing.T) {
	c := Default()
	for _, e := range c.Entries() {
		if e.Action != ActionRead {
			continue
		}
		list, ok := c.Lookup(e.Kind, ActionList)
		require.True(t, ok, "list row for %s", e.Kind)
		list.Action = ActionRead
		assert.Equal(t, e, list, "list row for %s mirrors read", e.Kind)
	}
}

func TestDuplicateEntriesRejected(t *testing.T) {
	_, err := New(
		Entry{Kind: KindLease, Action: ActionRead},
		Entry{Kind: KindLease, Action: ActionRead},
	)
	assert.Error(t, err)
}

func TestUnknownRoleRejected(t *testing.T) {
	_, err := New(Entry{Kind: KindLease, Action: ActionRead, PropertyRoles: membership.RoleSet{"janitor"}})
	assert.Error(t, err)
}

func TestInviteRules(t *testing.T) {
	c := Default()
	issue, ok := c.Lookup(KindInvitation, ActionInviteIssue)
	require.True(t, ok)
	assert.True(t, issue.PropertyRoles.Contains(membership.RoleLandlord))
	assert.True(t, issue.PropertyRoles.Contains(membership.RolePropertyManager))
	assert.False(t, issue.PropertyRoles.Contains(membership.RoleTenant))

	mgr, _ := c.Lookup(KindInvitation, ActionInviteIssueManager)
	assert.False(t, mgr.PropertyRoles.Contains(membership.RolePropertyManager))

	landlord, _ := c.Lookup(KindInvitation, ActionInviteIssueLandlord)
	assert.True(t, landlord.RestrictsGlobalRole(user.RoleUser))
	assert.False(t, landlord.RestrictsGlobalRole(user.RoleAdmin))
}

func TestScopeFields(t *testing.T) {
	e, _ := Default().Lookup(KindRequest, ActionList)
	assert.ElementsMatch(t, []string{"assignedTo", "createdBy"}, e.ScopeFields())

	e, _ = Default().Lookup(KindInvitation, ActionList)
	assert.Equal(t, []string{"createdBy"}, e.ScopeFields())
}

func TestEveryEntryHasOwnerMode(t *testing.T) {
	for _, e := range Default().Entries() {
		assert.NotEmpty(t, e.Owner, e.PermissionKey())
	}
}
