package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/bounded"
)

// Resolver turns a principal's stored role assignments into roles and permissions.
type Resolver struct {
	roles   domain.RoleRepository
	timeout time.Duration
	log     zerolog.Logger
}

func NewResolver(roles domain.RoleRepository, timeout time.Duration) *Resolver {
	return &Resolver{roles: roles, timeout: timeout, log: zerolog.Nop()}
}

func (r *Resolver) SetLogger(l zerolog.Logger) { r.log = l }

// Resolve loads the principal's assignments and aggregates the active ones. Unknown role types are
// logged and ignored.
func (r *Resolver) Resolve(ctx context.Context, principalID uuid.UUID) (domain.Authorization, error) {
	assignments, err := bounded.Call(ctx, "list_role_assignments", r.timeout, func(ctx context.Context) ([]domain.RoleAssignment, error) {
		return r.roles.ListRoleAssignments(ctx, principalID)
	})
	if err != nil {
		return domain.Authorization{}, err
	}
	for _, a := range assignments {
		if _, ok := domain.ParseRoleType(string(a.Role)); !ok {
			r.log.Warn().
				Str("principal_id", principalID.String()).
				Str("assignment_id", a.ID.String()).
				Str("role", string(a.Role)).
				Msg("ignoring unknown role type")
		}
	}
	return domain.Aggregate(assignments), nil
}

// Loader builds the CurrentPrincipal for a request: status, roles, and company/tenant summaries.
type Loader struct {
	principals domain.PrincipalRepository
	resolver   *Resolver
	directory  domain.Directory
	timeout    time.Duration
	log        zerolog.Logger
}

// NewLoader wires a Loader. directory may be nil, in which case summaries are omitted.
func NewLoader(principals domain.PrincipalRepository, resolver *Resolver, directory domain.Directory, timeout time.Duration) *Loader {
	return &Loader{principals: principals, resolver: resolver, directory: directory, timeout: timeout, log: zerolog.Nop()}
}

func (l *Loader) SetLogger(lg zerolog.Logger) { l.log = lg }

// Load fetches the principal by id and rejects missing or unusable accounts with an
// Unauthenticated error carrying the precise reason.
func (l *Loader) Load(ctx context.Context, id uuid.UUID) (*domain.CurrentPrincipal, error) {
	p, err := bounded.Call(ctx, "get_principal", l.timeout, func(ctx context.Context) (domain.Principal, error) {
		return l.principals.GetByID(ctx, id)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := p.Usable(); err != nil {
		return nil, err
	}
	return l.Build(ctx, p)
}

// Build resolves authorization and directory summaries for p concurrently. Only the role lookup
// is mandatory; a failed summary lookup is logged and left empty.
func (l *Loader) Build(ctx context.Context, p domain.Principal) (*domain.CurrentPrincipal, error) {
	var (
		authz   domain.Authorization
		company *domain.CompanyRef
		tenant  *domain.TenantRef
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		authz, err = l.resolver.Resolve(gctx, p.ID)
		return err
	})
	if l.directory != nil && p.CompanyID != uuid.Nil {
		g.Go(func() error {
			c, err := bounded.Call(gctx, "directory_company", l.timeout, func(ctx context.Context) (domain.CompanyRef, error) {
				return l.directory.Company(ctx, p.CompanyID)
			})
			if err != nil {
				l.log.Warn().Err(err).Str("company_id", p.CompanyID.String()).Msg("company summary unavailable")
				return nil
			}
			company = &c
			return nil
		})
	}
	if l.directory != nil && p.TenantID != uuid.Nil {
		g.Go(func() error {
			t, err := bounded.Call(gctx, "directory_tenant", l.timeout, func(ctx context.Context) (domain.TenantRef, error) {
				return l.directory.Tenant(ctx, p.TenantID)
			})
			if err != nil {
				l.log.Warn().Err(err).Str("tenant_id", p.TenantID.String()).Msg("tenant summary unavailable")
				return nil
			}
			tenant = &t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	cp := domain.NewCurrentPrincipal(p, authz)
	cp.Company = company
	cp.Tenant = tenant
	return cp, nil
}
