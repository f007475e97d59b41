package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
)

// Interface to create or compare secret hashes
type PasswordHasher interface {
	// Generate salted hash from secret
	Hash(secret string) (string, error)

	// Compare known hashedSecret and user provided secret
	// Must be protected against timing attacks
	Compare(hashedSecret string, secret string) error
}

// Account service: creates accounts and verifies credentials
type AccountService struct {
	hasher   PasswordHasher
	accounts repository.AccountRepo

	// Hash to compare against when identity is unknown
	// So unknown identity and wrong secret fail in the same time
	dummyHash string
}

func NewService(hasher PasswordHasher, accounts repository.AccountRepo) (*AccountService, error) {
	if hasher == nil {
		hasher = DefaultHasher
	}

	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("can't prepare dummy hash. Err: %w", err)
	}

	return &AccountService{
		hasher:    hasher,
		accounts:  accounts,
		dummyHash: dummyHash,
	}, nil
}

// Register new account
// Return apperrors.ErrDuplicateIdentity if identity is taken
func (s *AccountService) Register(ctx context.Context, identity string, secret string) (models.Account, error) {
	return s.RegisterWith(ctx, s.accounts, identity, secret)
}

// Same as Register but saves account with given repo, e.g. bound to transaction
func (s *AccountService) RegisterWith(ctx context.Context, accounts repository.AccountRepo, identity string, secret string) (models.Account, error) {
	var account models.Account

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return account, fmt.Errorf("can't use this as secret. Err: %w", err)
	}

	account, err = accounts.Create(ctx, identity, hash)
	if err != nil {
		return account, fmt.Errorf("can't create account. Err: %w", err)
	}

	return account, nil
}

// Verify identity and secret
// Return apperrors.ErrInvalidCredentials either identity unknown or secret not match
func (s *AccountService) Verify(ctx context.Context, identity string, secret string) (models.Account, error) {
	account, err := s.accounts.GetByIdentity(ctx, identity)

	switch {
	case err == nil:
		if err := s.hasher.Compare(account.SecretHash, secret); err != nil {
			return models.Account{}, apperrors.ErrInvalidCredentials
		}
		return account, nil

	case errors.Is(err, apperrors.ErrAccountNotFound):
		_ = s.hasher.Compare(s.dummyHash, secret)
		return models.Account{}, apperrors.ErrInvalidCredentials

	default:
		return models.Account{}, fmt.Errorf("can't get account. Err: %w", err)
	}
}

func (s *AccountService) GetByID(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return s.accounts.GetByID(ctx, id)
}
