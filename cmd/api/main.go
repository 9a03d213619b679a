package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	auth "github.com/Matteomic94/ElementMedica-sub000/internal/auth"
	authmw "github.com/Matteomic94/ElementMedica-sub000/internal/auth/middleware"
	"github.com/Matteomic94/ElementMedica-sub000/internal/config"
	"github.com/Matteomic94/ElementMedica-sub000/internal/logger"
	"github.com/Matteomic94/ElementMedica-sub000/internal/metrics"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/database"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/validation"
	"github.com/Matteomic94/ElementMedica-sub000/internal/tenants"
	"github.com/Matteomic94/ElementMedica-sub000/internal/version"
)

func main() {
	_ = godotenv.Load()

	if handleCLICommand(os.Args[1:]) {
		return
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.AppEnv)
	log.Info().Str("addr", cfg.AppAddr).Str("version", version.String()).Str("config", cfg.String()).Msg("starting api server")

	pgCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid DATABASE_URL")
	}
	pgPool, err := pgxpool.NewWithConfig(context.Background(), pgCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create pg pool")
	}
	defer pgPool.Close()
	db := database.Open(pgPool)
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()

	directory := tenants.New(database.NewScoper(db, cfg.RowLevelSecurity, log), cfg)
	authReg, err := auth.NewRegistrar(cfg, auth.Deps{
		DB:        db,
		Redis:     redisClient,
		Directory: directory.Service.Directory(),
		Log:       log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to wire auth")
	}

	e := newEcho(cfg, log)

	v1 := e.Group("/api/v1")
	authReg.RegisterV1(v1)
	directory.RegisterV1(v1, authReg.Authn())

	e.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 500*time.Millisecond)
		defer cancel()

		dbStatus := ping(ctx, "db", pgPool.Ping)
		cacheStatus := ping(ctx, "redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })

		status := http.StatusOK
		if dbStatus != "ok" {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, map[string]any{
			"status":  http.StatusText(status),
			"version": version.String(),
			"time":    time.Now().UTC().Format(time.RFC3339),
			"db":      dbStatus,
			"cache":   cacheStatus,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.TokenPurgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := authReg.Service.PurgeExpired(ctx)
		if err != nil {
			log.Error().Err(err).Msg("refresh token purge failed")
			return
		}
		log.Info().Int64("purged", n).Msg("refresh token purge completed")
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.TokenPurgeSchedule).Msg("invalid TOKEN_PURGE_SCHEDULE")
	}
	sched.Start()

	go func() {
		if err := e.Start(cfg.AppAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	<-sched.Stop().Done()
	log.Info().Msg("server stopped")
}

// newEcho builds the server with the shared middleware chain, error envelope and validator.
func newEcho(cfg config.Config, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = authmw.ErrorHandler(log)
	e.Validator = validation.New()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Status >= http.StatusInternalServerError {
				ev = log.Warn()
			}
			ev.Err(v.Error).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))
	e.Use(metrics.HTTPMiddleware())
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(origin string) (bool, error) {
			return matchCORSOrigin(origin, cfg.CORSAllowedOrigins), nil
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	return e
}

func ping(ctx context.Context, target string, fn func(context.Context) error) string {
	start := time.Now()
	err := fn(ctx)
	metrics.ObservePing(target, time.Since(start), err)
	if err != nil {
		return "down"
	}
	return "ok"
}
