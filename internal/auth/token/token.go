// Package token issues and verifies the signed access and refresh tokens. It performs no I/O.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	"github.com/Matteomic94/ElementMedica-sub000/internal/config"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

type Config struct {
	AccessSecret       string
	RefreshSecret      string
	Issuer             string
	Audience           string
	Leeway             time.Duration
	AccessTTL          time.Duration
	AccessRememberTTL  time.Duration
	RefreshTTL         time.Duration
	RefreshRememberTTL time.Duration
}

// FromAppConfig extracts the token settings from the application config.
func FromAppConfig(c config.Config) Config {
	return Config{
		AccessSecret:       c.JWTAccessSecret,
		RefreshSecret:      c.JWTRefreshSecret,
		Issuer:             c.JWTIssuer,
		Audience:           c.JWTAudience,
		Leeway:             c.JWTLeeway,
		AccessTTL:          c.AccessTokenTTL,
		AccessRememberTTL:  c.AccessTokenRememberTTL,
		RefreshTTL:         c.RefreshTokenTTL,
		RefreshRememberTTL: c.RefreshTokenRememberTTL,
	}
}

// Identity is the set of claims carried by an access token.
type Identity struct {
	PrincipalID uuid.UUID
	Email       string
	Username    string
	CompanyID   uuid.UUID
	TenantID    uuid.UUID
	Roles       []string
}

// Refresh describes a refresh token. FamilyID is shared by every token rotated from one login.
type Refresh struct {
	ID          uuid.UUID
	PrincipalID uuid.UUID
	FamilyID    uuid.UUID
	Remember    bool
	ExpiresAt   time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	TokenType string   `json:"token_type"`
	Email     string   `json:"email"`
	Username  string   `json:"username,omitempty"`
	CompanyID string   `json:"company_id,omitempty"`
	TenantID  string   `json:"tenant_id,omitempty"`
	Roles     []string `json:"roles"`
}

type refreshClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	FamilyID  string `json:"family_id"`
	Remember  bool   `json:"remember,omitempty"`
}

type Service struct {
	cfg           Config
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func New(cfg Config) (*Service, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("token: issuer and audience are required")
	}
	return &Service{
		cfg:           cfg,
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		now:           time.Now,
	}, nil
}

// WithClock replaces the time source used for issuing and verifying.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) AccessTTL(remember bool) time.Duration {
	if remember {
		return s.cfg.AccessRememberTTL
	}
	return s.cfg.AccessTTL
}

func (s *Service) RefreshTTL(remember bool) time.Duration {
	if remember {
		return s.cfg.RefreshRememberTTL
	}
	return s.cfg.RefreshTTL
}

// IssueAccessToken signs id with the access secret. A non-positive ttl yields a token that is
// already expired.
func (s *Service) IssueAccessToken(id Identity, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(max(ttl, 0))
	roles := id.Roles
	if roles == nil {
		roles = []string{}
	}
	claims := accessClaims{
		RegisteredClaims: s.registered(id.PrincipalID, uuid.NewString(), now, exp),
		TokenType:        typeAccess,
		Email:            id.Email,
		Username:         id.Username,
		CompanyID:        uuidString(id.CompanyID),
		TenantID:         uuidString(id.TenantID),
		Roles:            roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time.UTC(), nil
}

// VerifyAccessToken checks signature, expiry, issuer, audience and token type.
func (s *Service) VerifyAccessToken(tokenString string) (Identity, error) {
	var claims accessClaims
	if err := s.parse(tokenString, &claims, s.accessSecret); err != nil {
		return Identity{}, err
	}
	if claims.TokenType != typeAccess {
		return Identity{}, domain.ErrTokenClaimsInvalid.Wrap(errors.New("not an access token"))
	}
	pid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, domain.ErrTokenClaimsInvalid.Wrap(err)
	}
	companyID, err := parseOptionalUUID(claims.CompanyID)
	if err != nil {
		return Identity{}, domain.ErrTokenClaimsInvalid.Wrap(err)
	}
	tenantID, err := parseOptionalUUID(claims.TenantID)
	if err != nil {
		return Identity{}, domain.ErrTokenClaimsInvalid.Wrap(err)
	}
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	return Identity{
		PrincipalID: pid,
		Email:       claims.Email,
		Username:    claims.Username,
		CompanyID:   companyID,
		TenantID:    tenantID,
		Roles:       roles,
	}, nil
}

// IssueRefreshToken signs a refresh token with the refresh secret. A zero FamilyID starts a new
// family keyed by the token's own id.
func (s *Service) IssueRefreshToken(sub Refresh, ttl time.Duration) (string, Refresh, error) {
	now := s.now()
	exp := now.Add(max(ttl, 0))
	jti := uuid.New()
	if sub.FamilyID == uuid.Nil {
		sub.FamilyID = jti
	}
	claims := refreshClaims{
		RegisteredClaims: s.registered(sub.PrincipalID, jti.String(), now, exp),
		TokenType:        typeRefresh,
		FamilyID:         sub.FamilyID.String(),
		Remember:         sub.Remember,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", Refresh{}, err
	}
	return signed, Refresh{
		ID:          jti,
		PrincipalID: sub.PrincipalID,
		FamilyID:    sub.FamilyID,
		Remember:    sub.Remember,
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
	}, nil
}

func (s *Service) VerifyRefreshToken(tokenString string) (Refresh, error) {
	var claims refreshClaims
	if err := s.parse(tokenString, &claims, s.refreshSecret); err != nil {
		return Refresh{}, err
	}
	if claims.TokenType != typeRefresh {
		return Refresh{}, domain.ErrTokenClaimsInvalid.Wrap(errors.New("not a refresh token"))
	}
	pid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Refresh{}, domain.ErrTokenClaimsInvalid.Wrap(err)
	}
	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		return Refresh{}, domain.ErrTokenClaimsInvalid.Wrap(err)
	}
	fam, err := uuid.Parse(claims.FamilyID)
	if err != nil {
		return Refresh{}, domain.ErrTokenClaimsInvalid.Wrap(err)
	}
	return Refresh{
		ID:          jti,
		PrincipalID: pid,
		FamilyID:    fam,
		Remember:    claims.Remember,
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
	}, nil
}

func (s *Service) registered(sub uuid.UUID, jti string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub.String(),
		Issuer:    s.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        jti,
		Audience:  jwt.ClaimStrings{s.cfg.Audience},
	}
}

func (s *Service) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithLeeway(s.cfg.Leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
	}
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	return mapError(err)
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.ErrTokenSignatureInvalid.Wrap(err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.ErrTokenExpired.Wrap(err)
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenUnverifiable):
		return domain.ErrTokenMalformed.Wrap(err)
	default:
		return domain.ErrTokenClaimsInvalid.Wrap(err)
	}
}

func uuidString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func parseOptionalUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}
