package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
)

type stuckRoles struct{}

func (stuckRoles) ListRoleAssignments(context.Context, uuid.UUID) ([]domain.RoleAssignment, error) {
	time.Sleep(time.Second)
	return nil, nil
}

func TestResolver_IgnoresUnknownAndInactive(t *testing.T) {
	pid := uuid.New()
	roles := fakeRoles{pid: {
		{Role: "trainer", IsActive: true},
		{Role: "WIZARD", IsActive: true},
		{Role: domain.RoleTenantAdmin, IsActive: false},
		{Role: domain.RoleUser, IsActive: true, Permissions: []string{"reports.export"}},
	}}

	authz, err := NewResolver(roles, time.Second).Resolve(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, []domain.RoleType{domain.RoleTrainer, domain.RoleUser}, authz.Roles)
	assert.Contains(t, authz.Permissions, "reports.export")
	assert.Contains(t, authz.Permissions, domain.PermSchedulesManage)
	assert.NotContains(t, authz.Permissions, domain.PermRolesManage)
}

func TestResolver_NoAssignments(t *testing.T) {
	authz, err := NewResolver(fakeRoles{}, time.Second).Resolve(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, authz.Roles)
	assert.Empty(t, authz.Roles)
	assert.Empty(t, authz.Permissions)
}

func TestResolver_Timeout(t *testing.T) {
	start := time.Now()
	_, err := NewResolver(stuckRoles{}, 30*time.Millisecond).Resolve(context.Background(), uuid.New())
	assert.Equal(t, domain.KindInternalTimeout, domain.KindOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLoader_Load(t *testing.T) {
	f := newFixture(t, nil, nil)
	loader := f.svc.loader

	cp, err := loader.Load(context.Background(), f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, f.alice.Email, cp.Email)
	require.NotNil(t, cp.Company)
	assert.Equal(t, f.company.ID, cp.Company.ID)

	_, err = loader.Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrPrincipalNotFound)

	deleted := f.alice
	deleted.IsDeleted, deleted.IsLocked = true, true
	f.principals.put(deleted)
	_, err = loader.Load(context.Background(), f.alice.ID)
	assert.ErrorIs(t, err, domain.ErrPrincipalDeleted)
}

func TestLoader_BuildToleratesMissingDirectoryEntries(t *testing.T) {
	p := domain.Principal{ID: uuid.New(), CompanyID: uuid.New(), TenantID: uuid.New(), IsActive: true}
	loader := NewLoader(newFakePrincipals(), NewResolver(fakeRoles{}, time.Second), fakeDirectory{}, time.Second)

	cp, err := loader.Build(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, cp.Company)
	assert.Nil(t, cp.Tenant)
	assert.Equal(t, p.CompanyID, cp.CompanyID)

	noDir := NewLoader(newFakePrincipals(), NewResolver(fakeRoles{}, time.Second), nil, time.Second)
	cp, err = noDir.Build(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, cp.Company)
}
