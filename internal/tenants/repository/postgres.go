package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/database"
	domain "github.com/Matteomic94/ElementMedica-sub000/internal/tenants/domain"
)

// Repository reads tenants and companies. Every query runs through the Scoper so row-level
// policies see the caller's identity when one is attached to the context.
type Repository struct {
	scoper *database.Scoper
}

func New(scoper *database.Scoper) *Repository {
	return &Repository{scoper: scoper}
}

const (
	insertTenantSQL  = `INSERT INTO tenants (id, name, is_active) VALUES ($1, $2, $3)`
	insertCompanySQL = `INSERT INTO companies (id, tenant_id, name, vat_number, is_active) VALUES ($1, $2, $3, $4, $5)`

	getTenantSQL  = `SELECT id, name, is_active, created_at FROM tenants WHERE id = $1`
	getCompanySQL = `SELECT id, tenant_id, name, COALESCE(vat_number, ''), is_active, created_at FROM companies WHERE id = $1`

	listCompaniesSQL = `SELECT id, tenant_id, name, COALESCE(vat_number, ''), is_active, created_at
FROM companies
WHERE tenant_id = $1 AND ($2 = '' OR name ILIKE '%' || $2 || '%')
ORDER BY name, id
LIMIT $3 OFFSET $4`

	countCompaniesSQL = `SELECT count(*) FROM companies WHERE tenant_id = $1 AND ($2 = '' OR name ILIKE '%' || $2 || '%')`
)

func (r *Repository) CreateTenant(ctx context.Context, t domain.Tenant) error {
	return r.scoper.Do(ctx, func(ctx context.Context, q database.Querier) error {
		if _, err := q.ExecContext(ctx, insertTenantSQL, t.ID, t.Name, t.IsActive); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		return nil
	})
}

func (r *Repository) CreateCompany(ctx context.Context, c domain.Company) error {
	return r.scoper.Do(ctx, func(ctx context.Context, q database.Querier) error {
		_, err := q.ExecContext(ctx, insertCompanySQL, c.ID, c.TenantID, c.Name, database.NullString(c.VATNumber), c.IsActive)
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("create company: unknown tenant %s", c.TenantID)
		}
		if err != nil {
			return fmt.Errorf("create company: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetTenant(ctx context.Context, id uuid.UUID) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.scoper.Do(ctx, func(ctx context.Context, q database.Querier) error {
		return q.QueryRowContext(ctx, getTenantSQL, id).Scan(&t.ID, &t.Name, &t.IsActive, &t.CreatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tenant{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (r *Repository) GetCompany(ctx context.Context, id uuid.UUID) (domain.Company, error) {
	var c domain.Company
	err := r.scoper.Do(ctx, func(ctx context.Context, q database.Querier) error {
		return scanCompany(q.QueryRowContext(ctx, getCompanySQL, id), &c)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Company{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Company{}, fmt.Errorf("get company: %w", err)
	}
	return c, nil
}

func (r *Repository) ListCompanies(ctx context.Context, tenantID uuid.UUID, query string, limit, offset int32) ([]domain.Company, int64, error) {
	items := []domain.Company{}
	var total int64
	err := r.scoper.Do(ctx, func(ctx context.Context, q database.Querier) error {
		rows, err := q.QueryContext(ctx, listCompaniesSQL, tenantID, query, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c domain.Company
			if err := scanCompany(rows, &c); err != nil {
				return err
			}
			items = append(items, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return q.QueryRowContext(ctx, countCompaniesSQL, tenantID, query).Scan(&total)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list companies: %w", err)
	}
	return items, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompany(row rowScanner, c *domain.Company) error {
	return row.Scan(&c.ID, &c.TenantID, &c.Name, &c.VATNumber, &c.IsActive, &c.CreatedAt)
}
