package policy

import (
	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

var (
	adminOnly = []user.GlobalRole{user.RoleAdmin}

	owners   = membership.NewRoleSet(membership.RoleLandlord, membership.RoleAdminAccess)
	managers = membership.NewRoleSet(membership.RoleLandlord, membership.RolePropertyManager, membership.RoleAdminAccess)
	staff    = managers.Union(membership.NewRoleSet(membership.RoleVendorAccess))
	occupied = managers.Union(membership.NewRoleSet(membership.RoleTenant))
	everyone = membership.NewRoleSet(membership.AllRoles...)
)

// readable returns identical read and list rows so a list scope is the
// compiled read policy.
func readable(e Entry) []Entry {
	read, list := e, e
	read.Action, list.Action = ActionRead, ActionList
	return []Entry{read, list}
}

func defaultEntries() []Entry {
	var out []Entry
	add := func(es ...Entry) { out = append(out, es...) }

	// properties and units
	add(readable(Entry{Kind: KindProperty, PropertyRoles: everyone})...)
	add(
		Entry{Kind: KindProperty, Action: ActionCreate, GlobalRoles: adminOnly, Write: true},
		Entry{Kind: KindProperty, Action: ActionUpdate, PropertyRoles: owners, Write: true},
		Entry{Kind: KindProperty, Action: ActionDelete, GlobalRoles: adminOnly, Write: true},
	)
	add(readable(Entry{Kind: KindUnit, PropertyRoles: everyone, TenantUnitScoped: true})...)
	add(
		Entry{Kind: KindUnit, Action: ActionCreate, PropertyRoles: owners, Write: true},
		Entry{Kind: KindUnit, Action: ActionUpdate, PropertyRoles: managers, Write: true},
		Entry{Kind: KindUnit, Action: ActionDelete, PropertyRoles: owners, Write: true},
	)

	// memberships
	add(readable(Entry{Kind: KindMembership, PropertyRoles: managers, SelfFields: []string{"user"}, Owner: OwnerOK})...)
	add(
		Entry{Kind: KindMembership, Action: ActionMembershipGrant, GlobalRoles: adminOnly, Write: true, SecurityRelevant: true},
		Entry{Kind: KindMembership, Action: ActionMembershipGrantManager, PropertyRoles: owners, Write: true, SecurityRelevant: true},
		Entry{Kind: KindMembership, Action: ActionMembershipUpdate, PropertyRoles: managers, Write: true, SecurityRelevant: true},
		Entry{Kind: KindMembership, Action: ActionMembershipDeactivate, PropertyRoles: managers, SecurityRelevant: true},
	)

	// invitations
	add(readable(Entry{Kind: KindInvitation, PropertyRoles: managers, SelfFields: []string{"createdBy"}, Owner: OwnerOK})...)
	add(
		Entry{Kind: KindInvitation, Action: ActionInviteIssue, PropertyRoles: managers, Write: true, SecurityRelevant: true},
		Entry{Kind: KindInvitation, Action: ActionInviteIssueManager, PropertyRoles: owners, Write: true, SecurityRelevant: true},
		Entry{Kind: KindInvitation, Action: ActionInviteIssueLandlord, GlobalRoles: adminOnly, Write: true, SecurityRelevant: true},
		Entry{Kind: KindInvitation, Action: ActionInviteIssueAdmin, GlobalRoles: adminOnly, Write: true, SecurityRelevant: true},
		Entry{Kind: KindInvitation, Action: ActionInviteCancel, SelfFields: []string{"createdBy"}, Owner: OwnerOnly, SecurityRelevant: true},
		Entry{Kind: KindInvitation, Action: ActionInviteResend, SelfFields: []string{"createdBy"}, Owner: OwnerOnly, SecurityRelevant: true},
	)

	// maintenance
	requestLocal := []string{"assignedTo", "createdBy"}
	add(readable(Entry{Kind: KindRequest, PropertyRoles: occupied, TenantUnitScoped: true, ResourceLocal: requestLocal})...)
	add(
		Entry{Kind: KindRequest, Action: ActionCreate, PropertyRoles: occupied, TenantUnitScoped: true, Write: true},
		Entry{Kind: KindRequest, Action: ActionUpdate, PropertyRoles: managers, SelfFields: []string{"createdBy"}, Owner: OwnerOK, Write: true},
		Entry{Kind: KindRequest, Action: ActionDelete, PropertyRoles: owners, SelfFields: []string{"createdBy"}, Owner: OwnerOK, Write: true},
		Entry{Kind: KindRequest, Action: ActionComment, PropertyRoles: occupied, TenantUnitScoped: true, ResourceLocal: requestLocal, Write: true},
	)
	add(readable(Entry{Kind: KindScheduledMaintenance, PropertyRoles: everyone, TenantUnitScoped: true, ResourceLocal: requestLocal})...)
	add(
		Entry{Kind: KindScheduledMaintenance, Action: ActionCreate, PropertyRoles: managers, Write: true},
		Entry{Kind: KindScheduledMaintenance, Action: ActionUpdate, PropertyRoles: managers, Write: true},
		Entry{Kind: KindScheduledMaintenance, Action: ActionDelete, PropertyRoles: managers, Write: true},
		Entry{Kind: KindScheduledMaintenance, Action: ActionComment, PropertyRoles: everyone, TenantUnitScoped: true, ResourceLocal: requestLocal, Write: true},
	)

	// leases and ledgers
	add(readable(Entry{Kind: KindLease, PropertyRoles: occupied, TenantUnitScoped: true})...)
	add(
		Entry{Kind: KindLease, Action: ActionCreate, PropertyRoles: managers, Write: true},
		Entry{Kind: KindLease, Action: ActionUpdate, PropertyRoles: managers, Write: true},
		Entry{Kind: KindLease, Action: ActionDelete, PropertyRoles: owners, Write: true},
	)
	add(readable(Entry{Kind: KindLedger, PropertyRoles: occupied, TenantUnitScoped: true})...)
	add(
		Entry{Kind: KindLedger, Action: ActionCreate, PropertyRoles: managers, Write: true},
		Entry{Kind: KindLedger, Action: ActionUpdate, PropertyRoles: managers, Write: true},
		Entry{Kind: KindLedger, Action: ActionDelete, GlobalRoles: adminOnly, Write: true},
	)

	// vendors
	add(readable(Entry{Kind: KindVendor, PropertyRoles: staff, SelfFields: []string{"createdBy"}, Owner: OwnerOK})...)
	add(
		Entry{Kind: KindVendor, Action: ActionCreate, PropertyRoles: managers, Write: true},
		Entry{Kind: KindVendor, Action: ActionUpdate, PropertyRoles: managers, SelfFields: []string{"createdBy"}, Owner: OwnerOK, Write: true},
		Entry{Kind: KindVendor, Action: ActionDelete, PropertyRoles: managers, SelfFields: []string{"createdBy"}, Owner: OwnerOK, Write: true},
	)

	// comments and media
	add(readable(Entry{Kind: KindComment, PropertyRoles: everyone, TenantUnitScoped: true, SelfFields: []string{"sender"}, Owner: OwnerOK})...)
	add(
		Entry{Kind: KindComment, Action: ActionCreate, PropertyRoles: everyone, TenantUnitScoped: true, Write: true},
		Entry{Kind: KindComment, Action: ActionUpdate, SelfFields: []string{"sender"}, Owner: OwnerOnly, Write: true},
		Entry{Kind: KindComment, Action: ActionDelete, SelfFields: []string{"sender"}, Owner: OwnerOnly, Write: true},
	)
	add(readable(Entry{Kind: KindMedia, PropertyRoles: everyone, TenantUnitScoped: true, SelfFields: []string{"createdBy"}, Owner: OwnerOK})...)
	add(
		Entry{Kind: KindMedia, Action: ActionCreate, PropertyRoles: everyone, TenantUnitScoped: true, Write: true},
		Entry{Kind: KindMedia, Action: ActionDelete, PropertyRoles: managers, SelfFields: []string{"createdBy"}, Owner: OwnerOK, Write: true},
	)

	// personal and administrative
	add(readable(Entry{Kind: KindNotification, SelfFields: []string{"user"}, Owner: OwnerOnly, AdminForbidden: true})...)
	add(Entry{Kind: KindNotification, Action: ActionUpdate, SelfFields: []string{"user"}, Owner: OwnerOnly, AdminForbidden: true})
	add(readable(Entry{Kind: KindActionEvent, GlobalRoles: adminOnly})...)
	return out
}
