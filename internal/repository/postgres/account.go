package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
)

type AccountRepo struct {
	DB DBTX
}

const createAccount = `-- name: CreateAccount
INSERT INTO accounts (id, identity, secret_hash)
VALUES ($1, $2, $3)
RETURNING id, created_at, identity, secret_hash
`

// Insert runs in own transaction (savepoint inside outer one)
// so unique violation doesn't abort caller's transaction
func (r *AccountRepo) Create(ctx context.Context, identity string, secretHash string) (models.Account, error) {
	var account models.Account

	err := inTx(ctx, r.DB, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx, createAccount, uuid.New(), identity, secretHash)
		created, err := pgx.CollectOneRow(rows, rowToAccount)
		if err != nil {
			return err
		}
		account = created
		return nil
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return account, apperrors.ErrDuplicateIdentity
		}

		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const getAccountByID = `-- name: GetAccountByID
SELECT id, created_at, identity, secret_hash
FROM accounts
WHERE id = $1
`

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccountByID, id)
	return collectAccount(rows)
}

const getAccountByIdentity = `-- name: GetAccountByIdentity
SELECT id, created_at, identity, secret_hash
FROM accounts
WHERE identity = $1
`

func (r *AccountRepo) GetByIdentity(ctx context.Context, identity string) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccountByIdentity, identity)
	return collectAccount(rows)
}

func collectAccount(rows pgx.Rows) (models.Account, error) {
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.CreatedAt, &a.Identity, &a.SecretHash)
	return a, err
}
