package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/token"
	"github.com/Matteomic94/ElementMedica-sub000/internal/metrics"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/bounded"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/database"
)

const ctxPrincipalKey = "auth_principal"

// PrincipalLoader resolves a principal id into the request principal, rejecting unusable accounts.
type PrincipalLoader interface {
	Load(ctx context.Context, id uuid.UUID) (*domain.CurrentPrincipal, error)
}

// LastSeenRecorder stores the time a principal was last seen.
type LastSeenRecorder interface {
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Authenticator turns a bearer access token into the request principal.
type Authenticator struct {
	tokens          *token.Service
	loader          PrincipalLoader
	lastSeen        LastSeenRecorder
	lastSeenTimeout time.Duration
	log             zerolog.Logger
}

func NewAuthenticator(tokens *token.Service, loader PrincipalLoader) *Authenticator {
	return &Authenticator{tokens: tokens, loader: loader, log: zerolog.Nop()}
}

// WithLastSeen enables detached last-seen updates bounded by timeout.
func (a *Authenticator) WithLastSeen(rec LastSeenRecorder, timeout time.Duration) *Authenticator {
	a.lastSeen = rec
	a.lastSeenTimeout = timeout
	return a
}

func (a *Authenticator) SetLogger(l zerolog.Logger) { a.log = l }

// Authenticate verifies the Authorization header value and loads the principal it names.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*domain.CurrentPrincipal, error) {
	raw, err := bearerToken(header)
	if err != nil {
		return nil, err
	}
	id, err := a.tokens.VerifyAccessToken(raw)
	if err != nil {
		return nil, err
	}
	return a.loader.Load(ctx, id.PrincipalID)
}

// Middleware rejects requests without a valid bearer token. On success the principal is available
// through Principal and domain.PrincipalFrom, and the request context carries the database.Scope.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			p, err := a.Authenticate(req.Context(), req.Header.Get(echo.HeaderAuthorization))
			if err != nil {
				a.reject(c, err)
				return err
			}

			ctx := domain.WithPrincipal(req.Context(), p)
			ctx = database.WithScope(ctx, scopeOf(p))
			c.SetRequest(req.WithContext(ctx))
			c.Set(ctxPrincipalKey, p)

			if a.lastSeen != nil {
				id := p.ID
				bounded.Fire(ctx, a.log, "update_last_seen", a.lastSeenTimeout, func(ctx context.Context) error {
					return a.lastSeen.UpdateLastLogin(ctx, id, time.Now())
				})
			}
			metrics.IncAuthOutcome("middleware", "success")
			return next(c)
		}
	}
}

func (a *Authenticator) reject(c echo.Context, err error) {
	switch domain.KindOf(err) {
	case domain.KindUnauthenticated:
		metrics.IncAuthOutcome("middleware", "failure")
		a.log.Debug().Str("code", domain.CodeOf(err)).Str("path", c.Path()).Msg("request not authenticated")
	case domain.KindInternalTimeout:
		metrics.IncAuthOutcome("middleware", "timeout")
	default:
		metrics.IncAuthOutcome("middleware", "error")
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", domain.ErrTokenMissing
	}
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", domain.ErrTokenMalformed
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.ErrTokenMissing
	}
	return raw, nil
}

// Principal returns the authenticated principal of the request, or nil.
func Principal(c echo.Context) *domain.CurrentPrincipal {
	if p, ok := c.Get(ctxPrincipalKey).(*domain.CurrentPrincipal); ok {
		return p
	}
	return domain.PrincipalFrom(c.Request().Context())
}

// scopeOf is the row scope for p. Global principals carry no company or tenant so policies do not
// narrow what they see.
func scopeOf(p *domain.CurrentPrincipal) database.Scope {
	if p.HasGlobalRole() {
		return database.Scope{PrincipalID: p.ID}
	}
	return database.Scope{PrincipalID: p.ID, CompanyID: p.CompanyID, TenantID: p.TenantID}
}
