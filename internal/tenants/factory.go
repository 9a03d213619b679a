package tenants

import (
	"github.com/labstack/echo/v4"

	"github.com/Matteomic94/ElementMedica-sub000/internal/config"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/database"
	ctrl "github.com/Matteomic94/ElementMedica-sub000/internal/tenants/controller"
	repo "github.com/Matteomic94/ElementMedica-sub000/internal/tenants/repository"
	svc "github.com/Matteomic94/ElementMedica-sub000/internal/tenants/service"
)

// Module is the wired tenants slice. Its Service doubles as the auth directory.
type Module struct {
	Service *svc.Service
	ctrl    *ctrl.Controller
}

func New(scoper *database.Scoper, cfg config.Config) *Module {
	s := svc.New(repo.New(scoper), cfg.DirectoryCacheSize, cfg.DirectoryCacheTTL, cfg.DBLookupTimeout)
	return &Module{Service: s, ctrl: ctrl.New(s, s.Directory(), cfg.DBLookupTimeout)}
}

// RegisterV1 registers the company routes under g, each behind authn.
func (m *Module) RegisterV1(g *echo.Group, authn echo.MiddlewareFunc) {
	m.ctrl.RegisterV1(g, authn)
}
