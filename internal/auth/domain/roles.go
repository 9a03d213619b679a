package domain

import (
	"slices"
	"strings"
)

// RoleType is the closed set of role kinds a principal can be assigned.
type RoleType string

const (
	RoleSuperAdmin   RoleType = "SUPER_ADMIN"
	RoleGlobalAdmin  RoleType = "GLOBAL_ADMIN"
	RoleTenantAdmin  RoleType = "TENANT_ADMIN"
	RoleCompanyAdmin RoleType = "COMPANY_ADMIN"
	RoleTrainer      RoleType = "TRAINER"
	RoleUser         RoleType = "USER"
)

// RoleScope is how far a role reaches beyond the principal's own company.
type RoleScope string

const (
	ScopeGlobal  RoleScope = "global"
	ScopeTenant  RoleScope = "tenant"
	ScopeCompany RoleScope = "company"
)

var allRoles = []RoleType{RoleSuperAdmin, RoleGlobalAdmin, RoleTenantAdmin, RoleCompanyAdmin, RoleTrainer, RoleUser}

// ParseRoleType accepts the canonical names case-insensitively ("global_admin" is GLOBAL_ADMIN).
func ParseRoleType(s string) (RoleType, bool) {
	r := RoleType(strings.ToUpper(strings.TrimSpace(s)))
	if slices.Contains(allRoles, r) {
		return r, true
	}
	return "", false
}

func (r RoleType) Scope() RoleScope {
	switch r {
	case RoleSuperAdmin, RoleGlobalAdmin:
		return ScopeGlobal
	case RoleTenantAdmin:
		return ScopeTenant
	default:
		return ScopeCompany
	}
}

// Permission catalogue.
const (
	PermUsersRead       = "users.read"
	PermUsersCreate     = "users.create"
	PermUsersUpdate     = "users.update"
	PermUsersDelete     = "users.delete"
	PermRolesManage     = "roles.manage"
	PermTenantsManage   = "tenants.manage"
	PermCompaniesRead   = "companies.read"
	PermCompaniesManage = "companies.manage"
	PermEmployeesRead   = "employees.read"
	PermEmployeesManage = "employees.manage"
	PermCoursesRead     = "courses.read"
	PermCoursesManage   = "courses.manage"
	PermSchedulesRead   = "schedules.read"
	PermSchedulesManage = "schedules.manage"
	PermDocumentsRead   = "documents.read"
	PermDocumentsWrite  = "documents.write"
	PermAuditRead       = "audit.read"
)

var (
	userPermissions = []string{PermEmployeesRead, PermCoursesRead, PermDocumentsRead}

	trainerPermissions = append(slices.Clone(userPermissions),
		PermSchedulesRead, PermSchedulesManage, PermDocumentsWrite,
	)

	companyAdminPermissions = append(slices.Clone(trainerPermissions),
		PermUsersRead, PermUsersCreate, PermUsersUpdate,
		PermCompaniesRead, PermEmployeesManage, PermCoursesManage,
	)

	tenantAdminPermissions = append(slices.Clone(companyAdminPermissions),
		PermUsersDelete, PermRolesManage, PermCompaniesManage, PermAuditRead,
	)

	globalAdminPermissions = append(slices.Clone(tenantAdminPermissions), PermTenantsManage)

	rolePermissions = map[RoleType][]string{
		RoleSuperAdmin:   globalAdminPermissions,
		RoleGlobalAdmin:  globalAdminPermissions,
		RoleTenantAdmin:  tenantAdminPermissions,
		RoleCompanyAdmin: companyAdminPermissions,
		RoleTrainer:      trainerPermissions,
		RoleUser:         userPermissions,
	}
)

// RolePermissions returns a copy of the built-in permission set of r.
func RolePermissions(r RoleType) []string {
	return slices.Clone(rolePermissions[r])
}
