package apperrors

import (
	"errors"
)

var (
	ErrDuplicateIdentity  = errors.New("identity already registered")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")

	ErrTokenInvalid         = errors.New("token is invalid")
	ErrTokenExpired         = errors.New("token is expired")
	ErrTokenRevoked         = errors.New("token is revoked")
	ErrConcurrentRotation   = errors.New("refresh token already rotated")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
)
