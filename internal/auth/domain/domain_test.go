package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate_ZeroAssignmentsYieldsEmptySlices(t *testing.T) {
	for _, in := range [][]RoleAssignment{nil, {}, {{Role: RoleUser, IsActive: false}}} {
		got := Aggregate(in)
		require.NotNil(t, got.Roles)
		require.NotNil(t, got.Permissions)
		require.NotNil(t, got.Assignments)
		assert.Empty(t, got.Roles)
		assert.Empty(t, got.Permissions)
	}
}

func TestAggregate_DeduplicatesAndKeepsScoping(t *testing.T) {
	companyA, companyB := uuid.New(), uuid.New()
	got := Aggregate([]RoleAssignment{
		{Role: RoleUser, CompanyID: companyA, IsActive: true},
		{Role: RoleUser, CompanyID: companyB, IsActive: true, Permissions: []string{"reports.export", PermCoursesRead}},
		{Role: RoleTrainer, IsActive: false},
		{Role: "WIZARD", IsActive: true},
	})

	assert.Equal(t, []RoleType{RoleUser}, got.Roles)
	assert.Equal(t, []string{PermCoursesRead, PermDocumentsRead, PermEmployeesRead, "reports.export"}, got.Permissions)
	require.Len(t, got.Assignments, 2)
	assert.Equal(t, companyA, got.Assignments[0].CompanyID)
	assert.Equal(t, companyB, got.Assignments[1].CompanyID)
}

func TestAggregate_GlobalAdminCanCreateUsers(t *testing.T) {
	got := Aggregate([]RoleAssignment{{Role: RoleGlobalAdmin, IsActive: true}})
	assert.Contains(t, got.Permissions, PermUsersCreate)
}

func TestParseRoleType(t *testing.T) {
	r, ok := ParseRoleType(" global_admin ")
	require.True(t, ok)
	assert.Equal(t, RoleGlobalAdmin, r)
	assert.Equal(t, ScopeGlobal, r.Scope())

	_, ok = ParseRoleType("owner")
	assert.False(t, ok)
}

func TestRolePermissions_ReturnsCopy(t *testing.T) {
	p := RolePermissions(RoleUser)
	p[0] = "mutated"
	assert.NotContains(t, RolePermissions(RoleUser), "mutated")
}

func TestErrorTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("load principal: %w", ErrPrincipalLocked.Wrap(errors.New("row flag")))

	assert.True(t, errors.Is(wrapped, ErrUnauthenticated))
	assert.True(t, errors.Is(wrapped, ErrPrincipalLocked))
	assert.False(t, errors.Is(wrapped, ErrPrincipalDeleted))
	assert.Equal(t, "principal_locked", CodeOf(wrapped))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(wrapped))

	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(ErrInternalTimeout))
	assert.Equal(t, http.StatusForbidden, StatusOf(ErrPermissionDenied))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(ErrRefreshTokenReused))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
	assert.Equal(t, "internal_error", CodeOf(errors.New("boom")))
}

func TestPrincipalUsable(t *testing.T) {
	assert.NoError(t, Principal{IsActive: true}.Usable())
	assert.ErrorIs(t, Principal{IsActive: true, IsDeleted: true, IsLocked: true}.Usable(), ErrPrincipalDeleted)
	assert.ErrorIs(t, Principal{IsActive: false}.Usable(), ErrPrincipalInactive)
	assert.ErrorIs(t, Principal{IsActive: true, IsLocked: true}.Usable(), ErrPrincipalLocked)
}

func TestCanAccessCompany(t *testing.T) {
	tenant := uuid.New()
	companyA := CompanyRef{ID: uuid.New(), TenantID: tenant}
	companyB := CompanyRef{ID: uuid.New(), TenantID: tenant}
	foreign := CompanyRef{ID: uuid.New(), TenantID: uuid.New()}

	principal := func(assignments ...RoleAssignment) *CurrentPrincipal {
		for i := range assignments {
			assignments[i].IsActive = true
		}
		authz := Aggregate(assignments)
		return NewCurrentPrincipal(Principal{ID: uuid.New(), CompanyID: companyA.ID, TenantID: tenant}, authz)
	}

	user := principal(RoleAssignment{Role: RoleUser})
	assert.True(t, user.CanAccessCompany(companyA))
	assert.False(t, user.CanAccessCompany(companyB))

	global := principal(RoleAssignment{Role: RoleGlobalAdmin})
	assert.True(t, global.CanAccessCompany(companyB))
	assert.True(t, global.CanAccessCompany(foreign))

	tenantAdmin := principal(RoleAssignment{Role: RoleTenantAdmin})
	assert.True(t, tenantAdmin.CanAccessCompany(companyB))
	assert.False(t, tenantAdmin.CanAccessCompany(foreign))

	scoped := principal(RoleAssignment{Role: RoleCompanyAdmin, CompanyID: companyB.ID})
	assert.True(t, scoped.CanAccessCompany(companyB))
	assert.False(t, scoped.CanAccessCompany(foreign))

	var none *CurrentPrincipal
	assert.False(t, none.CanAccessCompany(companyA))
}
