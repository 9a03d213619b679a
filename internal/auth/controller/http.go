package controller

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	domain "github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	authmw "github.com/Matteomic94/ElementMedica-sub000/internal/auth/middleware"
)

type Controller struct {
	svc        domain.Service
	loginLimit echo.MiddlewareFunc
}

func New(svc domain.Service) *Controller {
	return &Controller{svc: svc}
}

// WithLoginLimit puts mw in front of the login route.
func (h *Controller) WithLoginLimit(mw echo.MiddlewareFunc) *Controller {
	h.loginLimit = mw
	return h
}

// RegisterV1 mounts the auth routes under g/auth. authn guards the routes that need a caller.
func (h *Controller) RegisterV1(g *echo.Group, authn echo.MiddlewareFunc) {
	a := g.Group("/auth")
	var loginMW []echo.MiddlewareFunc
	if h.loginLimit != nil {
		loginMW = append(loginMW, h.loginLimit)
	}
	a.POST("/login", h.login, loginMW...)
	a.POST("/refresh", h.refresh)
	a.POST("/logout", h.logout)
	a.POST("/logout-all", h.logoutAll, authn)
	a.GET("/verify", h.verify, authn)
}

type loginReq struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=1024"`
	RememberMe bool   `json:"remember_me"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutReq struct {
	RefreshToken string `json:"refreshToken"`
}

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type refResp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type userResp struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Username  string   `json:"username"`
	CompanyID string   `json:"companyId"`
	TenantID  string   `json:"tenantId"`
	Roles     []string `json:"roles"`
	Company   *refResp `json:"company,omitempty"`
	Tenant    *refResp `json:"tenant,omitempty"`
}

type sessionResp struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresIn    int64    `json:"expiresIn"`
	User         userResp `json:"user"`
}

type verifyResp struct {
	Valid       bool     `json:"valid"`
	User        userResp `json:"user"`
	Permissions []string `json:"permissions"`
}

type logoutAllResp struct {
	Revoked int64 `json:"revoked"`
}

func idString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func toUserResp(p *domain.CurrentPrincipal) userResp {
	u := userResp{
		ID:        p.ID.String(),
		Email:     p.Email,
		Username:  p.Username,
		CompanyID: idString(p.CompanyID),
		TenantID:  idString(p.TenantID),
		Roles:     domain.RoleNames(p.Roles),
	}
	if p.Company != nil {
		u.Company = &refResp{ID: p.Company.ID.String(), Name: p.Company.Name}
	}
	if p.Tenant != nil {
		u.Tenant = &refResp{ID: p.Tenant.ID.String(), Name: p.Tenant.Name}
	}
	return u
}

func toSessionResp(s domain.Session) envelope {
	return envelope{Success: true, Data: sessionResp{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresIn:    s.ExpiresIn,
		User:         toUserResp(s.Principal),
	}}
}

// bind decodes and validates req. Decode failures are bad requests; validation failures are
// returned as is for the error handler to list per field.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return domain.ErrBadRequest.Wrap(err)
	}
	return c.Validate(req)
}

func (h *Controller) login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.Login(c.Request().Context(), domain.LoginInput{
		Identifier: strings.TrimSpace(req.Identifier),
		Password:   req.Password,
		RememberMe: req.RememberMe,
		UserAgent:  c.Request().UserAgent(),
		IP:         c.RealIP(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSessionResp(sess))
}

func (h *Controller) refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.Refresh(c.Request().Context(), domain.RefreshInput{
		RefreshToken: req.RefreshToken,
		UserAgent:    c.Request().UserAgent(),
		IP:           c.RealIP(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSessionResp(sess))
}

// logout revokes the presented refresh token. A missing or unknown token still yields 204.
func (h *Controller) logout(c echo.Context) error {
	var req logoutReq
	if err := c.Bind(&req); err != nil {
		return domain.ErrBadRequest.Wrap(err)
	}
	if err := h.svc.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Controller) logoutAll(c echo.Context) error {
	n, err := h.svc.LogoutAll(c.Request().Context(), authmw.Principal(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Data: logoutAllResp{Revoked: n}})
}

func (h *Controller) verify(c echo.Context) error {
	p := authmw.Principal(c)
	if p == nil {
		return domain.ErrUnauthenticated
	}
	return c.JSON(http.StatusOK, verifyResp{Valid: true, User: toUserResp(p), Permissions: p.Permissions})
}
