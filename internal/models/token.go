package models

import (
	"time"

	"github.com/google/uuid"
)

// Refresh token record statuses
// Allowed transitions: active -> rotated -> revoked, active -> revoked
const (
	RefreshStatusActive  = "active"
	RefreshStatusRotated = "rotated"
	RefreshStatusRevoked = "revoked"
)

type RefreshToken struct {
	ID         uuid.UUID // the same value is used as 'jti' of the signed token
	AccountID  uuid.UUID
	SessionID  uuid.UUID // shared by every token of one login session
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Status     string
	RevokedAt  *time.Time // nil while token is active
	ReplacedBy *uuid.UUID // set when token rotated
}

func (t RefreshToken) IsActive() bool {
	return t.Status == RefreshStatusActive
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
