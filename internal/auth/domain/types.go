package domain

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Principal is an authenticatable account as stored in the credential store.
// CompanyID is uuid.Nil for principals not attached to a company.
type Principal struct {
	ID           uuid.UUID
	Email        string
	Username     string
	TaxCode      string
	PasswordHash string
	CompanyID    uuid.UUID
	TenantID     uuid.UUID
	IsActive     bool
	IsDeleted    bool
	IsLocked     bool
	LastLogin    *time.Time
}

// Usable reports why p may not authenticate, in precedence order deleted, inactive, locked.
func (p Principal) Usable() error {
	switch {
	case p.IsDeleted:
		return ErrPrincipalDeleted
	case !p.IsActive:
		return ErrPrincipalInactive
	case p.IsLocked:
		return ErrPrincipalLocked
	}
	return nil
}

// RoleAssignment binds a role to a principal, optionally scoped to a company and/or tenant.
// Permissions are extra grants stored alongside the assignment.
type RoleAssignment struct {
	ID          uuid.UUID
	PrincipalID uuid.UUID
	Role        RoleType
	CompanyID   uuid.UUID
	TenantID    uuid.UUID
	IsActive    bool
	IsPrimary   bool
	Permissions []string
}

// Authorization is the aggregated view of a principal's active role assignments.
type Authorization struct {
	Roles       []RoleType
	Permissions []string
	Assignments []RoleAssignment
}

// Aggregate folds assignments into an Authorization. Inactive assignments and unknown role types
// contribute nothing. Slices are never nil.
func Aggregate(assignments []RoleAssignment) Authorization {
	out := Authorization{
		Roles:       []RoleType{},
		Permissions: []string{},
		Assignments: []RoleAssignment{},
	}
	seenRole := make(map[RoleType]struct{})
	seenPerm := make(map[string]struct{})
	addPerm := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seenPerm[p]; ok {
			return
		}
		seenPerm[p] = struct{}{}
		out.Permissions = append(out.Permissions, p)
	}
	for _, a := range assignments {
		if !a.IsActive {
			continue
		}
		role, ok := ParseRoleType(string(a.Role))
		if !ok {
			continue
		}
		a.Role = role
		out.Assignments = append(out.Assignments, a)
		if _, ok := seenRole[a.Role]; !ok {
			seenRole[a.Role] = struct{}{}
			out.Roles = append(out.Roles, a.Role)
		}
		for _, p := range rolePermissions[a.Role] {
			addPerm(p)
		}
		for _, p := range a.Permissions {
			addPerm(p)
		}
	}
	slices.Sort(out.Roles)
	slices.Sort(out.Permissions)
	return out
}

// RoleNames renders roles as strings for token claims and responses.
func RoleNames(roles []RoleType) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

// CompanyRef identifies a company and the tenant that owns it.
type CompanyRef struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
}

type TenantRef struct {
	ID   uuid.UUID
	Name string
}

// RefreshToken is the persisted record of an issued refresh token. Only TokenHash identifies it.
type RefreshToken struct {
	ID            uuid.UUID
	PrincipalID   uuid.UUID
	FamilyID      uuid.UUID
	ParentID      *uuid.UUID
	TokenHash     string
	Remember      bool
	UserAgent     string
	IP            string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	RevokedAt     *time.Time
	RevokedReason string
}

// Active reports whether the record can still be exchanged at now.
func (r RefreshToken) Active(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// Revocation reasons.
const (
	RevokedRotated = "rotated"
	RevokedLogout  = "logout"
	RevokedReuse   = "reuse_detected"
	RevokedAll     = "revoke_all"
)

// HashToken is the storage key of a refresh token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Session is the result of a successful login or refresh.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Principal    *CurrentPrincipal
}

// LoginInput is the normalized login request.
type LoginInput struct {
	Identifier string
	Password   string
	RememberMe bool
	UserAgent  string
	IP         string
}

type RefreshInput struct {
	RefreshToken string
	UserAgent    string
	IP           string
}

// PrincipalRepository is the credential store.
type PrincipalRepository interface {
	// FindByIdentifier matches email, username or tax code among non-deleted principals.
	FindByIdentifier(ctx context.Context, identifier string) (Principal, error)
	GetByID(ctx context.Context, id uuid.UUID) (Principal, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// RoleRepository lists every role assignment of a principal; filtering happens in Aggregate.
type RoleRepository interface {
	ListRoleAssignments(ctx context.Context, principalID uuid.UUID) ([]RoleAssignment, error)
}

// RefreshTokenStore persists refresh tokens by hash. Implementations must make Rotate atomic:
// of two concurrent calls for the same token exactly one succeeds.
type RefreshTokenStore interface {
	Save(ctx context.Context, token string, rec RefreshToken) error
	Find(ctx context.Context, token string) (RefreshToken, error)
	// Rotate marks an active token as rotated and saves its successor under next as one unit:
	// either both happen or neither does. A token that is unknown yields ErrNotFound; one already
	// revoked or expired yields ErrRefreshTokenNotActive.
	Rotate(ctx context.Context, token, next string, successor RefreshToken) error
	// Revoke is idempotent; unknown tokens are not an error.
	Revoke(ctx context.Context, token string) error
	RevokeFamily(ctx context.Context, familyID uuid.UUID) error
	RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID) (int64, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// Directory resolves company and tenant summaries.
type Directory interface {
	Company(ctx context.Context, id uuid.UUID) (CompanyRef, error)
	Tenant(ctx context.Context, id uuid.UUID) (TenantRef, error)
}

// Service is the login/refresh/logout orchestration used by the HTTP layer.
type Service interface {
	Login(ctx context.Context, in LoginInput) (Session, error)
	Refresh(ctx context.Context, in RefreshInput) (Session, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, p *CurrentPrincipal) (int64, error)
}
