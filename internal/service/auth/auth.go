package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
)

type credentialVerifier interface {
	RegisterWith(ctx context.Context, accounts repository.AccountRepo, identity string, secret string) (models.Account, error)
	Verify(ctx context.Context, identity string, secret string) (models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (models.Account, error)
}

type tokenManager interface {
	Issue(ctx context.Context, accountID uuid.UUID) (models.TokenPair, error)
	IssueWith(ctx context.Context, refreshRepo repository.RefreshTokenRepo, accountID uuid.UUID) (models.TokenPair, error)
	Rotate(ctx context.Context, old models.RefreshToken) (models.TokenPair, error)
	ValidateAccess(access string) (uuid.UUID, error)
	ParseRefresh(refresh string) (uuid.UUID, error)
	ValidateRefresh(ctx context.Context, refresh string) (models.RefreshToken, error)
}

// Counts failed logins per identity
type LoginLimiter interface {
	Check(ctx context.Context, identity string) error
	Fail(ctx context.Context, identity string) error
	Reset(ctx context.Context, identity string) error
}

type Config struct {
	// Login throttling, disabled if nil
	Limiter LoginLimiter

	// Noop logger if not set
	Logger logger.Logger

	// Clock, time.Now if not set
	Now func() time.Time
}

// Auth service: register, login, refresh and logout flows
type AuthService struct {
	accounts credentialVerifier
	tokens   tokenManager
	storage  repository.Storage
	sessions repository.RefreshTokenRepo

	limiter LoginLimiter
	logger  logger.Logger
	now     func() time.Time
}

func NewService(cfg Config, accounts credentialVerifier, tokens tokenManager, storage repository.Storage) (*AuthService, error) {
	if accounts == nil || tokens == nil || storage == nil {
		return nil, errors.New("account service, token manager and storage must not be nil")
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &AuthService{
		accounts: accounts,
		tokens:   tokens,
		storage:  storage,
		sessions: storage.Refresh(),
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// Create account and start login session in one transaction
// No account is left behind if tokens could not be issued
func (s *AuthService) Register(ctx context.Context, identity string, secret string) (models.TokenPair, error) {
	var account models.Account
	var pair models.TokenPair

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		var err error

		account, err = s.accounts.RegisterWith(ctx, st.Account(), identity, secret)
		if err != nil {
			return err
		}

		pair, err = s.tokens.IssueWith(ctx, st.Refresh(), account.ID)
		if err != nil {
			return fmt.Errorf("token could not generated, sorry. %w", err)
		}
		return nil
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	s.logger.Info("Account registered", "account_id", account.ID)
	return pair, nil
}

// Verify credentials and start login session
func (s *AuthService) Login(ctx context.Context, identity string, secret string) (models.TokenPair, error) {
	if err := s.checkLimit(ctx, identity); err != nil {
		return models.TokenPair{}, err
	}

	account, err := s.accounts.Verify(ctx, identity, secret)
	if errors.Is(err, apperrors.ErrInvalidCredentials) {
		s.failLimit(ctx, identity)
		return models.TokenPair{}, err
	}
	if err != nil {
		return models.TokenPair{}, err
	}

	s.resetLimit(ctx, identity)

	pair, err := s.tokens.Issue(ctx, account.ID)
	if err != nil {
		return pair, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return pair, nil
}

// Exchange refresh token for new pair in the same login session
// Reusing rotated token revokes whole session
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	record, err := s.tokens.ValidateRefresh(ctx, refresh)
	if errors.Is(err, apperrors.ErrTokenRevoked) && record.Status == models.RefreshStatusRotated {
		s.revokeSession(ctx, record, "rotated refresh token reused")
	}
	if err != nil {
		return models.TokenPair{}, err
	}

	pair, err := s.tokens.Rotate(ctx, record)
	if errors.Is(err, apperrors.ErrConcurrentRotation) {
		s.revokeSession(ctx, record, "refresh token rotated concurrently")
		return models.TokenPair{}, fmt.Errorf("%w: %w", apperrors.ErrTokenRevoked, err)
	}
	// Purged after it was validated
	if errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
		return models.TokenPair{}, fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}
	if err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

// Revoke refresh token
// Token has to be signed by us, but expired, revoked or unknown token is not an error
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	id, err := s.tokens.ParseRefresh(refresh)
	if errors.Is(err, apperrors.ErrTokenExpired) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.sessions.Revoke(ctx, id, s.now())
	if errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("token could not be revoked. %w", err)
	}

	return nil
}

// Return account the access token issued for
func (s *AuthService) Authenticate(ctx context.Context, access string) (models.Account, error) {
	accountID, err := s.tokens.ValidateAccess(access)
	if err != nil {
		return models.Account{}, err
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, apperrors.ErrAccountNotFound) {
		return account, fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}

	return account, err
}

func (s *AuthService) revokeSession(ctx context.Context, record models.RefreshToken, reason string) {
	count, err := s.sessions.RevokeSession(ctx, record.SessionID, s.now())
	if err != nil {
		s.logger.Error("Failed to revoke login session", "session_id", record.SessionID, "error", err)
		return
	}

	s.logger.Warn("Login session revoked, possible token theft",
		"reason", reason,
		"account_id", record.AccountID,
		"session_id", record.SessionID,
		"token_id", record.ID,
		"revoked", count,
	)
}

// Limiter errors other than exhausted budget are logged only, so login works while limiter is down
func (s *AuthService) checkLimit(ctx context.Context, identity string) error {
	if s.limiter == nil {
		return nil
	}

	err := s.limiter.Check(ctx, identity)
	switch {
	case errors.Is(err, apperrors.ErrTooManyAttempts):
		s.logger.Warn("Login throttled", "identity", identity)
		return err
	case err != nil:
		s.logger.Error("Login limiter check failed", "error", err)
	}
	return nil
}

func (s *AuthService) failLimit(ctx context.Context, identity string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Fail(ctx, identity); err != nil {
		s.logger.Error("Login limiter failed to count failure", "error", err)
	}
}

func (s *AuthService) resetLimit(ctx context.Context, identity string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, identity); err != nil {
		s.logger.Error("Login limiter failed to reset", "error", err)
	}
}
