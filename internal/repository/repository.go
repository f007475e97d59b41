package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/models"
)

// Account repository interface
type AccountRepo interface {
	// Create account
	// If identity is taken already has to return apperrors.ErrDuplicateIdentity
	Create(ctx context.Context, identity string, secretHash string) (models.Account, error)

	// Get account by its id or identity
	// If account not found must return apperrors.ErrAccountNotFound
	GetByID(ctx context.Context, id uuid.UUID) (models.Account, error)
	GetByIdentity(ctx context.Context, identity string) (models.Account, error)
}

// Refresh token repository interface (session store)
type RefreshTokenRepo interface {
	// Save new token record
	Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the record even it is expired, rotated or revoked
	// If record not found must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, id uuid.UUID) (models.RefreshToken, error)

	// Atomically mark 'oldID' rotated and save 'next' as its replacement
	// If old token is not active must return apperrors.ErrConcurrentRotation and save nothing
	Rotate(ctx context.Context, oldID uuid.UUID, next models.RefreshToken, at time.Time) (models.RefreshToken, error)

	// Mark token revoked. Idempotent: revoking revoked token is not an error
	// If record not found must return apperrors.ErrRefreshTokenNotFound
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (models.RefreshToken, error)

	// Revoke every not revoked token of the login session, return count of affected tokens
	RevokeSession(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error)

	// Delete tokens expired before the time, return count of deleted tokens
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Storage interface {
	Account() AccountRepo
	Refresh() RefreshTokenRepo

	// Run fn in transaction: commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
