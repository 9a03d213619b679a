package auth

import (
	"database/sql"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	ctrl "github.com/Matteomic94/ElementMedica-sub000/internal/auth/controller"
	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	authmw "github.com/Matteomic94/ElementMedica-sub000/internal/auth/middleware"
	repo "github.com/Matteomic94/ElementMedica-sub000/internal/auth/repository"
	svc "github.com/Matteomic94/ElementMedica-sub000/internal/auth/service"
	"github.com/Matteomic94/ElementMedica-sub000/internal/auth/token"
	"github.com/Matteomic94/ElementMedica-sub000/internal/config"
	evsvc "github.com/Matteomic94/ElementMedica-sub000/internal/events/service"
	rl "github.com/Matteomic94/ElementMedica-sub000/internal/platform/ratelimit"
)

// Deps are the shared resources the auth slice is built on. Redis may be nil unless the refresh
// store is redis; without it the login limiter is process-local. Directory may be nil.
type Deps struct {
	DB        *sql.DB
	Redis     redis.UniversalClient
	Directory domain.Directory
	Log       zerolog.Logger
}

type Registrar struct {
	Service *svc.Service
	authn   *authmw.Authenticator
	ctrl    *ctrl.Controller
}

func NewRegistrar(cfg config.Config, deps Deps) (*Registrar, error) {
	tokens, err := token.New(token.FromAppConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}

	store := repo.New(deps.DB)
	var refresh domain.RefreshTokenStore
	switch cfg.RefreshStore {
	case config.RefreshStoreRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("refresh store %q requires a redis client", cfg.RefreshStore)
		}
		refresh = repo.NewRedisRefreshTokens(deps.Redis)
	default:
		refresh = repo.NewRefreshTokens(deps.DB)
	}

	resolver := svc.NewResolver(store, cfg.DBLookupTimeout)
	resolver.SetLogger(deps.Log)
	loader := svc.NewLoader(store, resolver, deps.Directory, cfg.DBLookupTimeout)
	loader.SetLogger(deps.Log)

	s := svc.New(store, refresh, tokens, loader, cfg)
	s.SetLogger(deps.Log)
	s.SetPublisher(evsvc.NewLogger(deps.Log))

	authn := authmw.NewAuthenticator(tokens, loader)
	authn.SetLogger(deps.Log)
	if cfg.TrackLastSeen {
		authn.WithLastSeen(store, cfg.SideEffectTimeout)
	}

	policy := rl.Policy{
		Name:   "auth:login",
		Window: cfg.LoginRateWindow,
		Limit:  cfg.LoginRateLimit,
		Key:    rl.KeyIP("auth:login"),
		Log:    deps.Log,
	}
	limit := rl.Middleware(policy)
	if deps.Redis != nil {
		limit = rl.MiddlewareWithStore(policy, rl.NewRedisStore(deps.Redis, cfg.SideEffectTimeout))
	}

	return &Registrar{
		Service: s,
		authn:   authn,
		ctrl:    ctrl.New(s).WithLoginLimit(limit),
	}, nil
}

// Authn is the authentication middleware for routes outside this slice.
func (r *Registrar) Authn() echo.MiddlewareFunc {
	return r.authn.Middleware()
}

func (r *Registrar) RegisterV1(g *echo.Group) {
	r.ctrl.RegisterV1(g, r.Authn())
}
