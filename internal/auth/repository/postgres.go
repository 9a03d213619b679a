package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/database"
)

// Store is the Postgres credential store: principals and their role assignments.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

const principalColumns = `id, email, COALESCE(username, ''), COALESCE(tax_code, ''), password_hash,
	company_id, tenant_id, is_active, is_deleted, is_locked, last_login`

const findPrincipalByIdentifierSQL = `SELECT ` + principalColumns + `
FROM principals
WHERE NOT is_deleted
  AND (lower(email) = lower($1) OR username = $1 OR upper(tax_code) = upper($1))
ORDER BY (lower(email) = lower($1)) DESC, (username = $1) DESC
LIMIT 1`

const getPrincipalByIDSQL = `SELECT ` + principalColumns + `
FROM principals
WHERE id = $1`

const updateLastLoginSQL = `UPDATE principals SET last_login = $2, updated_at = now() WHERE id = $1`

const listRoleAssignmentsSQL = `SELECT ra.id, ra.role_type, ra.company_id, ra.tenant_id, ra.is_active, ra.is_primary,
	COALESCE(string_agg(rap.permission, ',' ORDER BY rap.permission), '')
FROM role_assignments ra
LEFT JOIN role_assignment_permissions rap ON rap.assignment_id = ra.id
WHERE ra.principal_id = $1 AND ra.is_active
GROUP BY ra.id
ORDER BY ra.is_primary DESC, ra.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (domain.Principal, error) {
	var (
		p         domain.Principal
		companyID uuid.NullUUID
		lastLogin sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Email, &p.Username, &p.TaxCode, &p.PasswordHash,
		&companyID, &p.TenantID, &p.IsActive, &p.IsDeleted, &p.IsLocked, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Principal{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Principal{}, err
	}
	if companyID.Valid {
		p.CompanyID = companyID.UUID
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLogin = &t
	}
	return p, nil
}

func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (domain.Principal, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.Principal{}, domain.ErrNotFound
	}
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, findPrincipalByIdentifierSQL, identifier))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Principal{}, fmt.Errorf("find principal: %w", err)
	}
	return p, err
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (domain.Principal, error) {
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, getPrincipalByIDSQL, id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Principal{}, fmt.Errorf("get principal: %w", err)
	}
	return p, err
}

func (s *Store) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, updateLastLoginSQL, id, at.UTC()); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func (s *Store) ListRoleAssignments(ctx context.Context, principalID uuid.UUID) ([]domain.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, listRoleAssignmentsSQL, principalID)
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}
	defer rows.Close()

	out := []domain.RoleAssignment{}
	for rows.Next() {
		var (
			a         domain.RoleAssignment
			role      string
			companyID uuid.NullUUID
			tenantID  uuid.NullUUID
			perms     string
		)
		if err := rows.Scan(&a.ID, &role, &companyID, &tenantID, &a.IsActive, &a.IsPrimary, &perms); err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		a.PrincipalID = principalID
		a.Role = domain.RoleType(role)
		if companyID.Valid {
			a.CompanyID = companyID.UUID
		}
		if tenantID.Valid {
			a.TenantID = tenantID.UUID
		}
		a.Permissions = splitPermissions(perms)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role assignments: %w", err)
	}
	return out, nil
}

func splitPermissions(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CreatePrincipal inserts a principal; used by provisioning tools.
func (s *Store) CreatePrincipal(ctx context.Context, p domain.Principal) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO principals
		(id, email, username, tax_code, password_hash, company_id, tenant_id, is_active, is_deleted, is_locked)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, false, false)`,
		p.ID, p.Email, database.NullString(p.Username), database.NullString(p.TaxCode), p.PasswordHash,
		database.NullUUID(p.CompanyID), p.TenantID, p.IsActive)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("principal %s already exists", p.Email)
	}
	return err
}

// AssignRole inserts an active role assignment with optional extra permissions.
func (s *Store) AssignRole(ctx context.Context, a domain.RoleAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO role_assignments
		(id, principal_id, role_type, company_id, tenant_id, is_active, is_primary)
		VALUES ($1, $2, $3, $4, $5, true, $6)`,
		a.ID, a.PrincipalID, string(a.Role), database.NullUUID(a.CompanyID), database.NullUUID(a.TenantID), a.IsPrimary); err != nil {
		return fmt.Errorf("insert role assignment: %w", err)
	}
	for _, perm := range a.Permissions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO role_assignment_permissions (assignment_id, permission) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, a.ID, perm); err != nil {
			return fmt.Errorf("insert assignment permission: %w", err)
		}
	}
	return tx.Commit()
}
