package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	authdomain "github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/bounded"
	domain "github.com/Matteomic94/ElementMedica-sub000/internal/tenants/domain"
)

type Service struct {
	repo      domain.Repository
	timeout   time.Duration
	companies *expirable.LRU[uuid.UUID, domain.Company]
	tenants   *expirable.LRU[uuid.UUID, domain.Tenant]
}

// New caches up to cacheSize companies and tenants for ttl. Every repository call is bounded by
// timeout.
func New(repo domain.Repository, cacheSize int, ttl, timeout time.Duration) *Service {
	return &Service{
		repo:      repo,
		timeout:   timeout,
		companies: expirable.NewLRU[uuid.UUID, domain.Company](cacheSize, nil, ttl),
		tenants:   expirable.NewLRU[uuid.UUID, domain.Tenant](cacheSize, nil, ttl),
	}
}

func (s *Service) GetTenant(ctx context.Context, id uuid.UUID) (domain.Tenant, error) {
	if t, ok := s.tenants.Get(id); ok {
		return t, nil
	}
	t, err := bounded.Call(ctx, "get_tenant", s.timeout, func(ctx context.Context) (domain.Tenant, error) {
		return s.repo.GetTenant(ctx, id)
	})
	if err != nil {
		return domain.Tenant{}, err
	}
	s.tenants.Add(id, t)
	return t, nil
}

func (s *Service) GetCompany(ctx context.Context, id uuid.UUID) (domain.Company, error) {
	if c, ok := s.companies.Get(id); ok {
		return c, nil
	}
	c, err := bounded.Call(ctx, "get_company", s.timeout, func(ctx context.Context) (domain.Company, error) {
		return s.repo.GetCompany(ctx, id)
	})
	if err != nil {
		return domain.Company{}, err
	}
	s.companies.Add(id, c)
	return c, nil
}

func (s *Service) ListCompanies(ctx context.Context, tenantID uuid.UUID, opts domain.ListOptions) (domain.ListResult, error) {
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = 20
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.Page-1 > math.MaxInt32/opts.PageSize {
		return domain.ListResult{}, authdomain.ErrBadRequest.Wrap(errors.New("page out of range"))
	}
	limit := int32(opts.PageSize)
	offset := int32((opts.Page - 1) * opts.PageSize)

	type page struct {
		items []domain.Company
		total int64
	}
	res, err := bounded.Call(ctx, "list_companies", s.timeout, func(ctx context.Context) (page, error) {
		items, total, err := s.repo.ListCompanies(ctx, tenantID, opts.Query, limit, offset)
		return page{items: items, total: total}, err
	})
	if err != nil {
		return domain.ListResult{}, err
	}
	totalPages := int(res.total) / opts.PageSize
	if int(res.total)%opts.PageSize != 0 {
		totalPages++
	}
	return domain.ListResult{
		Items:      res.items,
		Total:      res.total,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalPages: totalPages,
	}, nil
}

// Directory adapts the service to the auth slice's company/tenant summaries.
func (s *Service) Directory() authdomain.Directory { return directory{s} }

type directory struct{ s *Service }

func (d directory) Company(ctx context.Context, id uuid.UUID) (authdomain.CompanyRef, error) {
	c, err := d.s.GetCompany(ctx, id)
	if err != nil {
		return authdomain.CompanyRef{}, translate(err)
	}
	return authdomain.CompanyRef{ID: c.ID, TenantID: c.TenantID, Name: c.Name}, nil
}

func (d directory) Tenant(ctx context.Context, id uuid.UUID) (authdomain.TenantRef, error) {
	t, err := d.s.GetTenant(ctx, id)
	if err != nil {
		return authdomain.TenantRef{}, translate(err)
	}
	return authdomain.TenantRef{ID: t.ID, Name: t.Name}, nil
}

func translate(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return authdomain.ErrNotFound
	}
	return err
}
