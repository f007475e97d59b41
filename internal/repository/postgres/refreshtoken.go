package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const createRefreshToken = `-- name: CreateRefreshToken
INSERT INTO refresh_tokens (id, account_id, session_id, issued_at, expires_at, status, revoked_at, replaced_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, account_id, session_id, issued_at, expires_at, status, revoked_at, replaced_by
`

func (r *RefreshTokenRepo) Create(ctx context.Context, t models.RefreshToken) (models.RefreshToken, error) {
	return r.create(ctx, r.DB, t)
}

func (r *RefreshTokenRepo) create(ctx context.Context, db DBTX, t models.RefreshToken) (models.RefreshToken, error) {
	if t.Status == "" {
		t.Status = models.RefreshStatusActive
	}

	rows, _ := db.Query(ctx, createRefreshToken,
		t.ID, t.AccountID, t.SessionID, t.IssuedAt, t.ExpiresAt, t.Status, t.RevokedAt, t.ReplacedBy,
	)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return token, fmt.Errorf("db error: %w", err)
	}

	return token, nil
}

const getRefreshToken = `-- name: GetRefreshToken
SELECT id, account_id, session_id, issued_at, expires_at, status, revoked_at, replaced_by
FROM refresh_tokens
WHERE id = $1
`

// Get token
// It should return result even it expired, rotated or revoked
func (r *RefreshTokenRepo) Get(ctx context.Context, id uuid.UUID) (models.RefreshToken, error) {
	return r.get(ctx, r.DB, id)
}

func (r *RefreshTokenRepo) get(ctx context.Context, db DBTX, id uuid.UUID) (models.RefreshToken, error) {
	rows, _ := db.Query(ctx, getRefreshToken, id)
	return collectRefreshToken(rows)
}

const markRefreshTokenRotated = `-- name: MarkRefreshTokenRotated
UPDATE refresh_tokens
SET status = 'rotated', revoked_at = $2, replaced_by = $3
WHERE id = $1 AND status = 'active'
`

// Rotate token: mark the old one rotated and save its replacement in one transaction
// The conditional update locks the row, so concurrent rotation of the same token waits
// and then sees it is not active anymore
func (r *RefreshTokenRepo) Rotate(ctx context.Context, oldID uuid.UUID, next models.RefreshToken, at time.Time) (models.RefreshToken, error) {
	var saved models.RefreshToken

	err := inTx(ctx, r.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, markRefreshTokenRotated, oldID, at, next.ID)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		if tag.RowsAffected() == 0 {
			// Either token not exists or it was used already
			if _, err := r.get(ctx, tx, oldID); err != nil {
				return err
			}
			return fmt.Errorf("repo error: %w", apperrors.ErrConcurrentRotation)
		}

		saved, err = r.create(ctx, tx, next)
		return err
	})

	return saved, err
}

const revokeRefreshToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET status = 'revoked', revoked_at = COALESCE(revoked_at, $2)
WHERE id = $1
RETURNING id, account_id, session_id, issued_at, expires_at, status, revoked_at, replaced_by
`

// Mark token revoked
// Must be idempotent: already revoked token keeps its original 'revokedAt'
func (r *RefreshTokenRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, revokeRefreshToken, id, at)
	return collectRefreshToken(rows)
}

const revokeSession = `-- name: RevokeSession
UPDATE refresh_tokens
SET status = 'revoked', revoked_at = COALESCE(revoked_at, $2)
WHERE session_id = $1 AND status <> 'revoked'
`

func (r *RefreshTokenRepo) RevokeSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeSession, sessionID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const deleteExpired = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

func collectRefreshToken(rows pgx.Rows) (models.RefreshToken, error) {
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.AccountID, &t.SessionID, &t.IssuedAt, &t.ExpiresAt, &t.Status, &t.RevokedAt, &t.ReplacedBy)
	return t, err
}
