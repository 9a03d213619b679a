package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scope is the identity that row-level-security policies see for one request.
type Scope struct {
	PrincipalID uuid.UUID
	CompanyID   uuid.UUID
	TenantID    uuid.UUID
}

type scopeKey struct{}

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// The settings are transaction-local (third argument true) so a pooled connection never carries
// one request's identity into another.
const applyScopeSQL = `SELECT set_config('app.current_user_id', $1, true), set_config('app.current_company_id', $2, true), set_config('app.current_tenant_id', $3, true)`

// Scoper runs queries inside a transaction carrying the request Scope.
type Scoper struct {
	db      *sql.DB
	enabled bool
	log     zerolog.Logger
}

func NewScoper(db *sql.DB, enabled bool, log zerolog.Logger) *Scoper {
	return &Scoper{db: db, enabled: enabled, log: log}
}

// Do runs fn with the scope from ctx applied. Without a scope, or with scoping disabled, fn runs
// directly on the pool. A store that rejects set_config is logged and fn runs unscoped.
func (s *Scoper) Do(ctx context.Context, fn func(context.Context, Querier) error) error {
	scope, ok := ScopeFrom(ctx)
	if !s.enabled || !ok {
		return fn(ctx, s.db)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scoped tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, applyScopeSQL, scopeValue(scope.PrincipalID), scopeValue(scope.CompanyID), scopeValue(scope.TenantID)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Str("principal_id", scope.PrincipalID.String()).Msg("row scoping unavailable, running unscoped")
		_ = tx.Rollback()
		return fn(ctx, s.db)
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func scopeValue(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
