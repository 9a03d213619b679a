package domain

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

// CurrentPrincipal is the authenticated caller attached to a request.
type CurrentPrincipal struct {
	ID          uuid.UUID
	Email       string
	Username    string
	CompanyID   uuid.UUID
	TenantID    uuid.UUID
	Company     *CompanyRef
	Tenant      *TenantRef
	Roles       []RoleType
	Permissions []string
	Assignments []RoleAssignment
}

// NewCurrentPrincipal combines a stored principal with its resolved authorization.
func NewCurrentPrincipal(p Principal, authz Authorization) *CurrentPrincipal {
	return &CurrentPrincipal{
		ID:          p.ID,
		Email:       p.Email,
		Username:    p.Username,
		CompanyID:   p.CompanyID,
		TenantID:    p.TenantID,
		Roles:       authz.Roles,
		Permissions: authz.Permissions,
		Assignments: authz.Assignments,
	}
}

func (p *CurrentPrincipal) HasPermission(name string) bool {
	return p != nil && slices.Contains(p.Permissions, name)
}

func (p *CurrentPrincipal) HasRole(r RoleType) bool {
	return p != nil && slices.Contains(p.Roles, r)
}

// HasGlobalRole reports whether any active assignment reaches across tenants.
func (p *CurrentPrincipal) HasGlobalRole() bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r.Scope() == ScopeGlobal {
			return true
		}
	}
	return false
}

// CanAccessCompany decides whether p may act on resources owned by company.
// Own company always passes. Global roles pass everywhere. A tenant-scoped role passes for
// companies of the tenant it is scoped to (the principal's tenant when unscoped). A
// company-scoped assignment passes for the company it names.
func (p *CurrentPrincipal) CanAccessCompany(company CompanyRef) bool {
	if p == nil || company.ID == uuid.Nil {
		return false
	}
	if p.CompanyID == company.ID || p.HasGlobalRole() {
		return true
	}
	for _, a := range p.Assignments {
		switch a.Role.Scope() {
		case ScopeTenant:
			tenant := a.TenantID
			if tenant == uuid.Nil {
				tenant = p.TenantID
			}
			if company.TenantID != uuid.Nil && tenant == company.TenantID {
				return true
			}
		case ScopeCompany:
			if a.CompanyID == company.ID {
				return true
			}
		}
	}
	return false
}

type ctxKey int

const principalKey ctxKey = iota

func WithPrincipal(ctx context.Context, p *CurrentPrincipal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal attached to ctx, or nil.
func PrincipalFrom(ctx context.Context) *CurrentPrincipal {
	p, _ := ctx.Value(principalKey).(*CurrentPrincipal)
	return p
}
