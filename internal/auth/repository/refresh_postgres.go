package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domain "github.com/Matteomic94/ElementMedica-sub000/internal/auth/domain"
	"github.com/Matteomic94/ElementMedica-sub000/internal/platform/database"
)

// RefreshTokens is the Postgres refresh token store. Single use is enforced by a conditional
// UPDATE: under concurrent rotation only one statement matches the still-unrevoked row, and the
// successor is inserted in the same transaction.
type RefreshTokens struct {
	db  *sql.DB
	now func() time.Time
}

func NewRefreshTokens(db *sql.DB) *RefreshTokens {
	return &RefreshTokens{db: db, now: time.Now}
}

const refreshColumns = `id, principal_id, family_id, parent_id, token_hash, remember,
	COALESCE(user_agent, ''), COALESCE(ip, ''), expires_at, created_at, revoked_at, COALESCE(revoked_reason, '')`

const insertRefreshTokenSQL = `INSERT INTO refresh_tokens
	(id, principal_id, family_id, parent_id, token_hash, remember, user_agent, ip, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const findRefreshTokenSQL = `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE token_hash = $1`

const consumeRefreshTokenSQL = `UPDATE refresh_tokens
SET revoked_at = $2, revoked_reason = 'rotated'
WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
RETURNING ` + refreshColumns

const revokeRefreshTokenSQL = `UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
WHERE token_hash = $1 AND revoked_at IS NULL`

const revokeFamilySQL = `UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
WHERE family_id = $1 AND revoked_at IS NULL`

const revokeAllForPrincipalSQL = `UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
WHERE principal_id = $1 AND revoked_at IS NULL`

const purgeExpiredSQL = `DELETE FROM refresh_tokens WHERE expires_at <= $1`

func mapRefreshToken(row rowScanner) (domain.RefreshToken, error) {
	var (
		rt        domain.RefreshToken
		parentID  uuid.NullUUID
		revokedAt sql.NullTime
	)
	err := row.Scan(&rt.ID, &rt.PrincipalID, &rt.FamilyID, &parentID, &rt.TokenHash, &rt.Remember,
		&rt.UserAgent, &rt.IP, &rt.ExpiresAt, &rt.CreatedAt, &revokedAt, &rt.RevokedReason)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RefreshToken{}, err
	}
	if parentID.Valid {
		id := parentID.UUID
		rt.ParentID = &id
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		rt.RevokedAt = &t
	}
	return rt, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *RefreshTokens) insert(ctx context.Context, ex execer, token string, rec domain.RefreshToken) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	var parent uuid.NullUUID
	if rec.ParentID != nil {
		parent = database.NullUUID(*rec.ParentID)
	}
	_, err := ex.ExecContext(ctx, insertRefreshTokenSQL,
		rec.ID, rec.PrincipalID, rec.FamilyID, parent, domain.HashToken(token), rec.Remember,
		database.NullString(rec.UserAgent), database.NullString(rec.IP), rec.ExpiresAt.UTC(), rec.CreatedAt.UTC())
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("duplicate token")
	}
	return err
}

func (r *RefreshTokens) Save(ctx context.Context, token string, rec domain.RefreshToken) error {
	if err := r.insert(ctx, r.db, token, rec); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokens) Find(ctx context.Context, token string) (domain.RefreshToken, error) {
	rt, err := mapRefreshToken(r.db.QueryRowContext(ctx, findRefreshTokenSQL, domain.HashToken(token)))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	return rt, err
}

func (r *RefreshTokens) Rotate(ctx context.Context, token, next string, successor domain.RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = mapRefreshToken(tx.QueryRowContext(ctx, consumeRefreshTokenSQL, domain.HashToken(token), r.now().UTC()))
	if errors.Is(err, domain.ErrNotFound) {
		_ = tx.Rollback()
		if _, err := r.Find(ctx, token); err != nil {
			return err
		}
		return domain.ErrRefreshTokenNotActive
	}
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if err := r.insert(ctx, tx, next, successor); err != nil {
		return fmt.Errorf("rotate refresh token: save successor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokens) Revoke(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, revokeRefreshTokenSQL, domain.HashToken(token), r.now().UTC(), domain.RevokedLogout); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokens) RevokeFamily(ctx context.Context, familyID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, revokeFamilySQL, familyID, r.now().UTC(), domain.RevokedReuse); err != nil {
		return fmt.Errorf("revoke refresh token family: %w", err)
	}
	return nil
}

func (r *RefreshTokens) RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, revokeAllForPrincipalSQL, principalID, r.now().UTC(), domain.RevokedAll)
	if err != nil {
		return 0, fmt.Errorf("revoke principal refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func (r *RefreshTokens) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, purgeExpiredSQL, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return res.RowsAffected()
}
