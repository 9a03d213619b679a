package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	authdomain "github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	authmw "github.com/Matteomic94/ElementMedica-sub000/internal/auth/middleware"
	domain "github.com/Matteomic94/ElementMedica-sub000/internal/tenants/domain"
)

type Controller struct {
	svc           domain.Service
	dir           authmw.CompanyLookup
	lookupTimeout time.Duration
}

func New(svc domain.Service, dir authmw.CompanyLookup, lookupTimeout time.Duration) *Controller {
	return &Controller{svc: svc, dir: dir, lookupTimeout: lookupTimeout}
}

// RegisterV1 mounts the company routes behind authn.
func (h *Controller) RegisterV1(g *echo.Group, authn echo.MiddlewareFunc) {
	g.GET("/companies/:id", h.getCompany,
		authn,
		authmw.RequirePermission(authdomain.PermCompaniesRead),
		authmw.RequireSameCompany(authmw.CompanyFromParam(h.dir, "id", h.lookupTimeout)))
	g.GET("/tenants/:id/companies", h.listCompanies,
		authn,
		authmw.RequirePermission(authdomain.PermCompaniesRead))
}

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type companyResp struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	Name      string `json:"name"`
	VATNumber string `json:"vatNumber,omitempty"`
	IsActive  bool   `json:"isActive"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func toCompanyResp(c domain.Company) companyResp {
	r := companyResp{
		ID:        c.ID.String(),
		TenantID:  c.TenantID.String(),
		Name:      c.Name,
		VATNumber: c.VATNumber,
		IsActive:  c.IsActive,
	}
	if !c.CreatedAt.IsZero() {
		r.CreatedAt = c.CreatedAt.UTC().Format(time.RFC3339)
	}
	return r
}

func (h *Controller) getCompany(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return authdomain.ErrBadRequest.Wrap(err)
	}
	company, err := h.svc.GetCompany(c.Request().Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		return echo.ErrNotFound
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Data: toCompanyResp(company)})
}

type listQuery struct {
	Q        string `query:"q"`
	Page     int    `query:"page"`
	PageSize int    `query:"page_size"`
}

type listResponse struct {
	Items      []companyResp `json:"items"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
}

// listCompanies is limited to the caller's own tenant unless the caller holds a global role.
func (h *Controller) listCompanies(c echo.Context) error {
	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return authdomain.ErrBadRequest.Wrap(err)
	}
	p := authmw.Principal(c)
	if p.TenantID != tenantID && !p.HasGlobalRole() {
		return authdomain.ErrCompanyScopeDenied
	}
	var q listQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return authdomain.ErrBadRequest.Wrap(err)
	}
	res, err := h.svc.ListCompanies(c.Request().Context(), tenantID, domain.ListOptions{Query: q.Q, Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		return err
	}
	out := listResponse{
		Items:      make([]companyResp, 0, len(res.Items)),
		Total:      res.Total,
		Page:       res.Page,
		PageSize:   res.PageSize,
		TotalPages: res.TotalPages,
	}
	for _, it := range res.Items {
		out.Items = append(out.Items, toCompanyResp(it))
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Data: out})
}
