package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	authmw "github.com/Matteomic94/ElementMedica-sub000/internal/auth/middleware"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/ratelimit"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/validation"
)

type stubService struct {
	lastLogin   domain.LoginInput
	lastRefresh domain.RefreshInput
	loggedOut   []string
	session     domain.Session
	err         error
}

func (s *stubService) Login(_ context.Context, in domain.LoginInput) (domain.Session, error) {
	s.lastLogin = in
	return s.session, s.err
}

func (s *stubService) Refresh(_ context.Context, in domain.RefreshInput) (domain.Session, error) {
	s.lastRefresh = in
	return s.session, s.err
}

func (s *stubService) Logout(_ context.Context, tok string) error {
	s.loggedOut = append(s.loggedOut, tok)
	return s.err
}

func (s *stubService) LogoutAll(_ context.Context, p *domain.CurrentPrincipal) (int64, error) {
	if p == nil {
		return 0, domain.ErrUnauthenticated
	}
	return 3, s.err
}

func principal() *domain.CurrentPrincipal {
	tenant := domain.TenantRef{ID: uuid.New(), Name: "Acme Group"}
	company := domain.CompanyRef{ID: uuid.New(), TenantID: tenant.ID, Name: "Acme Srl"}
	return &domain.CurrentPrincipal{
		ID:          uuid.New(),
		Email:       "alice@example.com",
		Username:    "alice",
		CompanyID:   company.ID,
		TenantID:    tenant.ID,
		Company:     &company,
		Tenant:      &tenant,
		Roles:       []domain.RoleType{domain.RoleCompanyAdmin},
		Permissions: []string{domain.PermCompaniesRead},
	}
}

// as attaches p the way the authentication middleware does.
func as(p *domain.CurrentPrincipal) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p == nil {
				return domain.ErrTokenMissing
			}
			c.SetRequest(c.Request().WithContext(domain.WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

func newServer(svc domain.Service, caller *domain.CurrentPrincipal, limit echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.Validator = validation.New()
	e.HTTPErrorHandler = authmw.ErrorHandler(zerolog.Nop())
	h := New(svc)
	if limit != nil {
		h.WithLoginLimit(limit)
	}
	h.RegisterV1(e.Group("/api/v1"), as(caller))
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("User-Agent", "controller-test")
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestLogin_ReturnsEnvelope(t *testing.T) {
	p := principal()
	svc := &stubService{session: domain.Session{AccessToken: "acc", RefreshToken: "ref", ExpiresIn: 3600, Principal: p}}
	e := newServer(svc, nil, nil)

	rec := do(e, http.MethodPost, "/api/v1/auth/login", `{"identifier":"  alice@example.com ","password":"pw","remember_me":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "alice@example.com", svc.lastLogin.Identifier)
	assert.True(t, svc.lastLogin.RememberMe)
	assert.Equal(t, "controller-test", svc.lastLogin.UserAgent)
	assert.Equal(t, "192.0.2.10", svc.lastLogin.IP)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "acc", data["accessToken"])
	assert.Equal(t, "ref", data["refreshToken"])
	assert.EqualValues(t, 3600, data["expiresIn"])
	user := data["user"].(map[string]any)
	assert.Equal(t, p.ID.String(), user["id"])
	assert.Equal(t, p.CompanyID.String(), user["companyId"])
	assert.Equal(t, []any{"COMPANY_ADMIN"}, user["roles"])
	assert.Equal(t, "Acme Srl", user["company"].(map[string]any)["name"])
	assert.Equal(t, "Acme Group", user["tenant"].(map[string]any)["name"])
}

func TestLogin_RequestErrors(t *testing.T) {
	e := newServer(&stubService{}, nil, nil)

	rec := do(e, http.MethodPost, "/api/v1/auth/login", `{"identifier":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decode(t, rec)["error"].(map[string]any)["code"])

	rec = do(e, http.MethodPost, "/api/v1/auth/login", `{"identifier":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, "validation_failed", errBody["code"])
	assert.Contains(t, errBody["fields"], "password")

	rec = do(e, http.MethodGet, "/api/v1/auth/login", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	e := newServer(&stubService{err: domain.ErrInvalidCredentials}, nil, nil)

	rec := do(e, http.MethodPost, "/api/v1/auth/login", `{"identifier":"nobody","password":"pw"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "invalid_credentials", body["error"].(map[string]any)["code"])
}

func TestLogin_TimeoutIsGeneric5xx(t *testing.T) {
	e := newServer(&stubService{err: domain.ErrInternalTimeout.Wrap(context.DeadlineExceeded)}, nil, nil)

	rec := do(e, http.MethodPost, "/api/v1/auth/login", `{"identifier":"alice","password":"pw"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "deadline")
}

func TestLogin_RateLimited(t *testing.T) {
	limit := ratelimit.Middleware(ratelimit.Policy{Name: "auth:login", Limit: 1, Window: time.Minute, Key: ratelimit.KeyIP("auth:login")})
	e := newServer(&stubService{err: domain.ErrInvalidCredentials}, nil, limit)

	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodPost, "/api/v1/auth/login", `{"identifier":"a","password":"b"}`).Code)
	rec := do(e, http.MethodPost, "/api/v1/auth/login", `{"identifier":"a","password":"b"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "too_many_requests", decode(t, rec)["error"].(map[string]any)["code"])
}

func TestRefresh(t *testing.T) {
	svc := &stubService{session: domain.Session{AccessToken: "acc2", RefreshToken: "ref2", ExpiresIn: 3600, Principal: principal()}}
	e := newServer(svc, nil, nil)

	rec := do(e, http.MethodPost, "/api/v1/auth/refresh", `{"refreshToken":"ref1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ref1", svc.lastRefresh.RefreshToken)
	assert.Equal(t, "ref2", decode(t, rec)["data"].(map[string]any)["refreshToken"])

	rec = do(e, http.MethodPost, "/api/v1/auth/refresh", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = domain.ErrRefreshTokenReused
	rec = do(e, http.MethodPost, "/api/v1/auth/refresh", `{"refreshToken":"ref1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "refresh_token_reused", decode(t, rec)["error"].(map[string]any)["code"])
}

func TestLogout_AlwaysNoContent(t *testing.T) {
	svc := &stubService{}
	e := newServer(svc, nil, nil)

	assert.Equal(t, http.StatusNoContent, do(e, http.MethodPost, "/api/v1/auth/logout", `{"refreshToken":"ref"}`).Code)
	assert.Equal(t, http.StatusNoContent, do(e, http.MethodPost, "/api/v1/auth/logout", `{}`).Code)
	assert.Equal(t, []string{"ref", ""}, svc.loggedOut)
}

func TestLogoutAll(t *testing.T) {
	rec := do(newServer(&stubService{}, principal(), nil), http.MethodPost, "/api/v1/auth/logout-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["data"].(map[string]any)["revoked"])

	rec = do(newServer(&stubService{}, nil, nil), http.MethodPost, "/api/v1/auth/logout-all", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerify(t *testing.T) {
	p := principal()
	rec := do(newServer(&stubService{}, p, nil), http.MethodGet, "/api/v1/auth/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, p.Email, body["user"].(map[string]any)["email"])
	assert.Equal(t, []any{domain.PermCompaniesRead}, body["permissions"])

	rec = do(newServer(&stubService{}, nil, nil), http.MethodGet, "/api/v1/auth/verify", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_missing", decode(t, rec)["error"].(map[string]any)["code"])
}
