package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	adomain "github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	arepo "github.com/Matteomic94/ElementMedica-sub000/internal/auth/repository"
	"github.com/Matteomic94/ElementMedica-sub000/internal/config"
	"github.com/Matteomic94/ElementMedica-sub000/internal/logger"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/database"
	tdomain "github.com/Matteomic94/ElementMedica-sub000/internal/tenants/domain"
	trepo "github.com/Matteomic94/ElementMedica-sub000/internal/tenants/repository"
)

func main() {
	_ = godotenv.Load()
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		fatalf("load config: %v", err)
	}
	pgCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		fatalf("invalid DATABASE_URL: %v", err)
	}
	pgPool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		fatalf("pg pool: %v", err)
	}
	defer pgPool.Close()
	db := database.Open(pgPool)
	defer db.Close()

	// Provisioning runs unscoped so row-level policies never hide the rows it writes.
	tenants := trepo.New(database.NewScoper(db, false, logger.Nop()))
	principals := arepo.New(db)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "tenant":
		fs := flag.NewFlagSet("tenant", flag.ExitOnError)
		name := fs.String("name", envOr("TENANT_NAME", "Demo Tenant"), "tenant name")
		_ = fs.Parse(os.Args[2:])
		id, err := createTenant(ctx, tenants, *name)
		if err != nil {
			fatalf("tenant create: %v", err)
		}
		printEnv(map[string]string{"TENANT_ID": id.String()})
	case "company":
		fs := flag.NewFlagSet("company", flag.ExitOnError)
		tenantIDStr := fs.String("tenant-id", os.Getenv("TENANT_ID"), "tenant UUID")
		name := fs.String("name", envOr("COMPANY_NAME", "Demo Company"), "company name")
		vat := fs.String("vat", os.Getenv("COMPANY_VAT"), "VAT number")
		_ = fs.Parse(os.Args[2:])
		tenantID, err := uuid.Parse(strings.TrimSpace(*tenantIDStr))
		if err != nil {
			fatalf("invalid tenant-id: %v", err)
		}
		id, err := createCompany(ctx, tenants, tenantID, *name, *vat)
		if err != nil {
			fatalf("company create: %v", err)
		}
		printEnv(map[string]string{"TENANT_ID": tenantID.String(), "COMPANY_ID": id.String()})
	case "principal":
		fs := flag.NewFlagSet("principal", flag.ExitOnError)
		tenantIDStr := fs.String("tenant-id", os.Getenv("TENANT_ID"), "tenant UUID")
		companyIDStr := fs.String("company-id", os.Getenv("COMPANY_ID"), "company UUID (optional)")
		email := fs.String("email", os.Getenv("EMAIL"), "principal email")
		username := fs.String("username", os.Getenv("USERNAME"), "username (optional)")
		taxCode := fs.String("tax-code", os.Getenv("TAX_CODE"), "tax code (optional)")
		password := fs.String("password", os.Getenv("PASSWORD"), "password")
		rolesCSV := fs.String("roles", envOr("ROLES", string(adomain.RoleUser)), "comma-separated roles (e.g. COMPANY_ADMIN,TRAINER)")
		_ = fs.Parse(os.Args[2:])

		if *tenantIDStr == "" || *email == "" || *password == "" {
			fatalf("tenant-id, email, and password are required")
		}
		tenantID, err := uuid.Parse(*tenantIDStr)
		if err != nil {
			fatalf("invalid tenant-id: %v", err)
		}
		var companyID uuid.UUID
		if strings.TrimSpace(*companyIDStr) != "" {
			if companyID, err = uuid.Parse(*companyIDStr); err != nil {
				fatalf("invalid company-id: %v", err)
			}
		}
		roles, err := parseRoles(*rolesCSV)
		if err != nil {
			fatalf("%v", err)
		}
		p := adomain.Principal{
			ID:        uuid.New(),
			Email:     *email,
			Username:  *username,
			TaxCode:   *taxCode,
			CompanyID: companyID,
			TenantID:  tenantID,
			IsActive:  true,
		}
		if err := createPrincipal(ctx, principals, p, *password, roles); err != nil {
			fatalf("principal create: %v", err)
		}
		printEnv(map[string]string{
			"TENANT_ID":    tenantID.String(),
			"PRINCIPAL_ID": p.ID.String(),
			"EMAIL":        strings.ToLower(*email),
			"PASSWORD":     *password,
		})
	case "default":
		fs := flag.NewFlagSet("default", flag.ExitOnError)
		email := fs.String("email", envOr("EMAIL", "admin@example.com"), "admin email")
		password := fs.String("password", envOr("PASSWORD", "Password123!"), "admin password")
		_ = fs.Parse(os.Args[2:])

		tenantID, err := createTenant(ctx, tenants, envOr("TENANT_NAME", "Demo Tenant"))
		if err != nil {
			fatalf("tenant create: %v", err)
		}
		companyID, err := createCompany(ctx, tenants, tenantID, envOr("COMPANY_NAME", "Demo Company"), "")
		if err != nil {
			fatalf("company create: %v", err)
		}
		p := adomain.Principal{ID: uuid.New(), Email: *email, Username: "admin", CompanyID: companyID, TenantID: tenantID, IsActive: true}
		if err := createPrincipal(ctx, principals, p, *password, []adomain.RoleType{adomain.RoleCompanyAdmin}); err != nil {
			fatalf("principal create: %v", err)
		}
		printEnv(map[string]string{
			"TENANT_ID":    tenantID.String(),
			"COMPANY_ID":   companyID.String(),
			"PRINCIPAL_ID": p.ID.String(),
			"EMAIL":        strings.ToLower(*email),
			"PASSWORD":     *password,
		})
	default:
		usage()
		os.Exit(2)
	}
}

type tenantWriter interface {
	CreateTenant(ctx context.Context, t tdomain.Tenant) error
	CreateCompany(ctx context.Context, c tdomain.Company) error
}

type principalWriter interface {
	CreatePrincipal(ctx context.Context, p adomain.Principal) error
	AssignRole(ctx context.Context, a adomain.RoleAssignment) error
}

func createTenant(ctx context.Context, w tenantWriter, name string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, fmt.Errorf("tenant name is required")
	}
	t := tdomain.Tenant{ID: uuid.New(), Name: name, IsActive: true}
	return t.ID, w.CreateTenant(ctx, t)
}

func createCompany(ctx context.Context, w tenantWriter, tenantID uuid.UUID, name, vat string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, fmt.Errorf("company name is required")
	}
	c := tdomain.Company{ID: uuid.New(), TenantID: tenantID, Name: name, VATNumber: strings.TrimSpace(vat), IsActive: true}
	return c.ID, w.CreateCompany(ctx, c)
}

// createPrincipal hashes password, inserts p and assigns roles. The first role is primary.
// Tenant-scoped roles are pinned to p's tenant and company-scoped ones to p's company.
func createPrincipal(ctx context.Context, w principalWriter, p adomain.Principal, password string, roles []adomain.RoleType) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	p.PasswordHash = string(hash)
	if err := w.CreatePrincipal(ctx, p); err != nil {
		return err
	}
	for i, r := range roles {
		a := adomain.RoleAssignment{ID: uuid.New(), PrincipalID: p.ID, Role: r, IsActive: true, IsPrimary: i == 0}
		switch r.Scope() {
		case adomain.ScopeTenant:
			a.TenantID = p.TenantID
		case adomain.ScopeCompany:
			a.CompanyID = p.CompanyID
		}
		if err := w.AssignRole(ctx, a); err != nil {
			return fmt.Errorf("assign %s: %w", r, err)
		}
	}
	return nil
}

// parseRoles splits a comma separated list into distinct role types, preserving first-seen order.
func parseRoles(csv string) ([]adomain.RoleType, error) {
	var out []adomain.RoleType
	seen := map[adomain.RoleType]bool{}
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, ok := adomain.ParseRoleType(part)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", part)
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  seed tenant --name <name>
  seed company --tenant-id <uuid> --name <name> [--vat <vat>]
  seed principal --tenant-id <uuid> --email <email> --password <password> [--company-id <uuid>] [--username u] [--tax-code c] [--roles COMPANY_ADMIN,TRAINER]
  seed default [--email admin@example.com] [--password Password123!]

Environment fallbacks:
  TENANT_NAME, TENANT_ID, COMPANY_NAME, COMPANY_VAT, COMPANY_ID, EMAIL, USERNAME, TAX_CODE, PASSWORD, ROLES
`)
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func printEnv(kv map[string]string) {
	// KEY=VALUE lines so callers can tee into a .env file and `source` it.
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%s\n", k, kv[k])
	}
}

func fatalf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}
