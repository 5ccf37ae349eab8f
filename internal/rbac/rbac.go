// Package rbac maps console roles to fine-grained permission keys.
//
// The table below is a versioned constant. Widening a role is a reviewed code
// change that bumps TableVersion; there is no runtime mutation and no wildcard
// matching.
package rbac

import "sort"

// Permission is an exact-match permission key such as "audit.read".
type Permission string

const (
	AuditRead              Permission = "audit.read"
	AuditExport            Permission = "audit.export"
	StaffRead              Permission = "staff.read"
	StaffManage            Permission = "staff.manage"
	RolesManage            Permission = "roles.manage"
	SettingsRead           Permission = "settings.read"
	SettingsReadOnlyManage Permission = "settings.readonly.manage"
	DualControlRead        Permission = "dualcontrol.read"
	DualControlRequest     Permission = "dualcontrol.request"
	DualControlApprove     Permission = "dualcontrol.approve"
	DualControlExecute     Permission = "dualcontrol.execute"
	InvestigationsRead     Permission = "investigations.read"
	InvestigationsManage   Permission = "investigations.manage"
	ReleasesExecute        Permission = "releases.execute"
	BreakGlassInvoke       Permission = "breakglass.invoke"
	DiagnosticsRead        Permission = "diagnostics.read"
)

// Role names known to the table.
const (
	RoleSecurityAdmin = "security_admin"
	RoleAuditor       = "auditor"
	RoleInvestigator  = "investigator"
	RoleOperator      = "operator"
	RoleBreakGlass    = "break_glass"
	RoleObserver      = "observer"
)

// TableVersion identifies the revision of the role table below.
const TableVersion = "2026-10-01"

// Role is a name plus the permissions it grants.
type Role struct {
	Name        string
	Permissions []Permission
}

var table = map[string]Role{
	RoleSecurityAdmin: {Name: RoleSecurityAdmin, Permissions: []Permission{
		AuditRead, AuditExport,
		StaffRead, StaffManage, RolesManage,
		SettingsRead, SettingsReadOnlyManage,
		DualControlRead, DualControlRequest, DualControlApprove, DualControlExecute,
		DiagnosticsRead,
	}},
	RoleAuditor: {Name: RoleAuditor, Permissions: []Permission{
		AuditRead, AuditExport,
		StaffRead,
		SettingsRead,
		DualControlRead,
	}},
	RoleInvestigator: {Name: RoleInvestigator, Permissions: []Permission{
		AuditRead,
		InvestigationsRead, InvestigationsManage,
	}},
	RoleOperator: {Name: RoleOperator, Permissions: []Permission{
		DualControlRead, DualControlRequest, DualControlApprove, DualControlExecute,
		ReleasesExecute,
	}},
	RoleBreakGlass: {Name: RoleBreakGlass, Permissions: []Permission{
		BreakGlassInvoke,
		SettingsRead, SettingsReadOnlyManage,
	}},
	RoleObserver: {Name: RoleObserver, Permissions: []Permission{
		SettingsRead,
	}},
}

// PermissionSet is a deduplicated set of permission keys.
type PermissionSet map[Permission]struct{}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the keys in lexicographic order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// Expand returns the union of permissions granted by roles. Unknown roles
// contribute nothing.
func Expand(roles []string) PermissionSet {
	set := PermissionSet{}
	for _, name := range roles {
		role, ok := table[name]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			set[p] = struct{}{}
		}
	}
	return set
}

// HasPermission reports whether any of roles grants p.
func HasPermission(roles []string, p Permission) bool {
	return Expand(roles).Has(p)
}

// Lookup returns a copy of the named role.
func Lookup(name string) (Role, bool) {
	role, ok := table[name]
	if !ok {
		return Role{}, false
	}
	role.Permissions = append([]Permission(nil), role.Permissions...)
	return role, true
}

// RoleNames lists every role in the table, sorted.
func RoleNames() []string {
	out := make([]string, 0, len(table))
	for name := range table {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
