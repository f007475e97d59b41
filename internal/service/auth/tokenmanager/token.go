package tokenmanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/models"
	"github.com/nkiryanov/gophauth/internal/repository"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultSigningMethod   = "HS256"
	defaultIssuer          = "gophauth"

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims of both access and refresh tokens
// SessionID set for refresh tokens only
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
	TokenType string `json:"token_type"`
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// Previous signing keys, still accepted to verify tokens
	VerifyKeys []string

	// Token issuer ('iss' claim)
	Issuer string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

type TokenManager struct {
	// Signing key and its id
	key []byte
	kid string

	// Keys accepted to verify tokens by kid, signing key included
	keys map[string][]byte

	alg    jwt.SigningMethod
	issuer string

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time

	// Refresh token repo
	refreshRepo repository.RefreshTokenRepo
}

// Key id: first 8 bytes of key's sha256, hex encoded
func KeyID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

func New(cfg Config, refreshRepo repository.RefreshTokenRepo) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	keys := make(map[string][]byte, len(cfg.VerifyKeys)+1)
	for _, k := range cfg.VerifyKeys {
		if k == "" {
			return nil, errors.New("verify key must not be empty")
		}
		keys[KeyID(k)] = []byte(k)
	}
	kid := KeyID(cfg.SecretKey)
	keys[kid] = []byte(cfg.SecretKey)

	return &TokenManager{
		key:         []byte(cfg.SecretKey),
		kid:         kid,
		keys:        keys,
		alg:         jwt.GetSigningMethod(defaultSigningMethod),
		issuer:      cfg.Issuer,
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		now:         cfg.Now,
		refreshRepo: refreshRepo,
	}, nil
}

func (m *TokenManager) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(m.alg, claims)
	token.Header["kid"] = m.kid
	return token.SignedString(m.key)
}

func (m *TokenManager) issueAccess(accountID uuid.UUID, now time.Time) (models.IssuedToken, error) {
	expiresAt := now.Add(m.accessTTL)

	access, err := m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   accountID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenType: TokenTypeAccess,
	})
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: access, ExpiresAt: expiresAt}, nil
}

// Build the record and its signed wire form
func (m *TokenManager) newRefresh(accountID uuid.UUID, sessionID uuid.UUID, now time.Time) (models.RefreshToken, models.IssuedToken, error) {
	record := models.RefreshToken{
		ID:        uuid.New(),
		AccountID: accountID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.refreshTTL),
		Status:    models.RefreshStatusActive,
	}

	refresh, err := m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        record.ID.String(),
			Subject:   accountID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(record.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
		},
		SessionID: sessionID.String(),
		TokenType: TokenTypeRefresh,
	})
	if err != nil {
		return record, models.IssuedToken{}, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return record, models.IssuedToken{Value: refresh, ExpiresAt: record.ExpiresAt}, nil
}

// Issue access token only
func (m *TokenManager) IssueAccess(accountID uuid.UUID) (models.IssuedToken, error) {
	return m.issueAccess(accountID, m.now().Truncate(time.Second))
}

// Issue token pair and start new login session
func (m *TokenManager) Issue(ctx context.Context, accountID uuid.UUID) (models.TokenPair, error) {
	return m.IssueWith(ctx, m.refreshRepo, accountID)
}

// Same as Issue but saves refresh token with given repo
func (m *TokenManager) IssueWith(ctx context.Context, refreshRepo repository.RefreshTokenRepo, accountID uuid.UUID) (models.TokenPair, error) {
	var pair models.TokenPair
	now := m.now().Truncate(time.Second)

	access, err := m.issueAccess(accountID, now)
	if err != nil {
		return pair, err
	}

	record, refresh, err := m.newRefresh(accountID, uuid.New(), now)
	if err != nil {
		return pair, err
	}

	_, err = refreshRepo.Create(ctx, record)
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// Replace refresh token with new one in the same session and issue new access token
// Return apperrors.ErrConcurrentRotation if the token is not active anymore
func (m *TokenManager) Rotate(ctx context.Context, old models.RefreshToken) (models.TokenPair, error) {
	var pair models.TokenPair
	now := m.now().Truncate(time.Second)

	access, err := m.issueAccess(old.AccountID, now)
	if err != nil {
		return pair, err
	}

	next, refresh, err := m.newRefresh(old.AccountID, old.SessionID, now)
	if err != nil {
		return pair, err
	}

	_, err = m.refreshRepo.Rotate(ctx, old.ID, next, now)
	if err != nil {
		return pair, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

func (m *TokenManager) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	key, ok := m.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return key, nil
}

// Verify signature and registered claims
// Return apperrors.ErrTokenExpired or apperrors.ErrTokenInvalid
func (m *TokenManager) parse(value string, tokenType string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		value,
		claims,
		m.keyFunc,
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}

	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: want %s token, got %q", apperrors.ErrTokenInvalid, tokenType, claims.TokenType)
	}

	return claims, nil
}

// Parse and validate access token, return account id
func (m *TokenManager) ValidateAccess(access string) (uuid.UUID, error) {
	claims, err := m.parse(access, TokenTypeAccess)
	if err != nil {
		return uuid.Nil, err
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", apperrors.ErrTokenInvalid)
	}

	return accountID, nil
}

// Verify refresh token signature and claims, return its record id
// Stored record is not checked
func (m *TokenManager) ParseRefresh(refresh string) (uuid.UUID, error) {
	claims, err := m.parse(refresh, TokenTypeRefresh)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad token id", apperrors.ErrTokenInvalid)
	}

	return id, nil
}

// Parse refresh token and check its stored record
// Rotated or revoked record is returned along with apperrors.ErrTokenRevoked
func (m *TokenManager) ValidateRefresh(ctx context.Context, refresh string) (models.RefreshToken, error) {
	id, err := m.ParseRefresh(refresh)
	if err != nil {
		return models.RefreshToken{}, err
	}

	record, err := m.refreshRepo.Get(ctx, id)
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return models.RefreshToken{}, fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	case err != nil:
		return models.RefreshToken{}, fmt.Errorf("error while getting refresh token. Err: %w", err)
	}

	if !record.IsActive() {
		return record, fmt.Errorf("%w: token is %s", apperrors.ErrTokenRevoked, record.Status)
	}

	if !m.now().Before(record.ExpiresAt) {
		return record, apperrors.ErrTokenExpired
	}

	return record, nil
}
