package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	auth "github.com/Matteomic94/ElementMedica-sub000/internal/auth"
	"github.com/Matteomic94/ElementMedica-sub000/internal/config"
	"github.com/Matteomic94/ElementMedica-sub000/internal/logger"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/database"
)

const (
	exitOK      = 0
	exitUsage   = 2
	exitConfig  = 3
	exitMigrate = 4
	exitPurge   = 5
)

var (
	migrateRunner = realMigrateRunner
	purgeRunner   = realPurgeRunner
	osExit        = os.Exit
)

func handleCLICommand(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "migrate":
		osExit(runMigrate(args[1:]))
		return true
	case "purge-tokens":
		osExit(runPurge())
		return true
	case "help", "-h", "--help":
		printHelp()
		osExit(exitOK)
		return true
	default:
		return false
	}
}

func runMigrate(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "missing migrate subcommand (up|down|status)")
		return exitUsage
	}
	subcmd := args[0]
	switch subcmd {
	case "up", "down", "status":
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand: %s\n", subcmd)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfig
	}

	if err := migrateRunner(subcmd, cfg.DatabaseURL); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", subcmd, err)
		return exitMigrate
	}
	return exitOK
}

func realMigrateRunner(subcmd, databaseURL string) error {
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	const migrationsDir = "./migrations"

	switch subcmd {
	case "up":
		return goose.Up(db, migrationsDir)
	case "down":
		return goose.Down(db, migrationsDir)
	case "status":
		return goose.Status(db, migrationsDir)
	default:
		return fmt.Errorf("unsupported migrate subcommand %q", subcmd)
	}
}

// runPurge deletes expired refresh tokens once, for hosts that schedule housekeeping externally.
func runPurge() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfig
	}
	n, err := purgeRunner(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "purge-tokens failed: %v\n", err)
		return exitPurge
	}
	fmt.Printf("purged %d expired refresh tokens\n", n)
	return exitOK
}

func realPurgeRunner(cfg config.Config) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()
	db := database.Open(pool)
	defer db.Close()

	deps := auth.Deps{DB: db, Log: logger.New(cfg.AppEnv)}
	if cfg.RefreshStore == config.RefreshStoreRedis {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rc.Close()
		deps.Redis = rc
	}
	reg, err := auth.NewRegistrar(cfg, deps)
	if err != nil {
		return 0, err
	}
	return reg.Service.PurgeExpired(ctx)
}

func printHelp() {
	fmt.Println("ElementMedica API")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  api                   Start API server")
	fmt.Println("  api migrate up        Apply all pending migrations")
	fmt.Println("  api migrate down      Roll back one migration")
	fmt.Println("  api migrate status    Show migration status")
	fmt.Println("  api purge-tokens      Delete expired refresh tokens")
}
