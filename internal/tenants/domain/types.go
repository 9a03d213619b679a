package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type Tenant struct {
	ID        uuid.UUID
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// Company belongs to exactly one tenant.
type Company struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	VATNumber string
	IsActive  bool
	CreatedAt time.Time
}

// ListOptions for company listing
type ListOptions struct {
	Query    string
	Page     int
	PageSize int
}

// ListResult holds items and pagination metadata
type ListResult struct {
	Items      []Company
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}

// Repository abstracts persistence for tenants and companies.
type Repository interface {
	CreateTenant(ctx context.Context, t Tenant) error
	CreateCompany(ctx context.Context, c Company) error
	GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error)
	GetCompany(ctx context.Context, id uuid.UUID) (Company, error)
	ListCompanies(ctx context.Context, tenantID uuid.UUID, query string, limit, offset int32) ([]Company, int64, error)
}

// Service encapsulates lookups over the tenant/company hierarchy.
type Service interface {
	GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error)
	GetCompany(ctx context.Context, id uuid.UUID) (Company, error)
	ListCompanies(ctx context.Context, tenantID uuid.UUID, opts ListOptions) (ListResult, error)
}
