package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/gophauth/internal/apperrors"
)

const (
	defaultMaxAttempts = 5
	defaultWindow      = 15 * time.Minute

	keyPrefix = "gophauth:login:failed:"
)

// Fixed window limiter of failed logins per identity
// Window starts with first failure and lasts until the counter key expires
type LoginLimiter struct {
	redis       redis.Cmdable
	maxAttempts int64
	window      time.Duration
}

func New(client redis.Cmdable, maxAttempts int, window time.Duration) *LoginLimiter {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if window <= 0 {
		window = defaultWindow
	}

	return &LoginLimiter{
		redis:       client,
		maxAttempts: int64(maxAttempts),
		window:      window,
	}
}

func (l *LoginLimiter) key(identity string) string {
	return keyPrefix + identity
}

// Return apperrors.ErrTooManyAttempts if failures budget is exhausted
func (l *LoginLimiter) Check(ctx context.Context, identity string) error {
	count, err := l.redis.Get(ctx, l.key(identity)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("limiter error: %w", err)
	}

	if count >= l.maxAttempts {
		return apperrors.ErrTooManyAttempts
	}
	return nil
}

// Count failed login
// Counter and its expiration are set in one transaction, so the counter never lives forever
func (l *LoginLimiter) Fail(ctx context.Context, identity string) error {
	key := l.key(identity)

	pipe := l.redis.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("limiter error: %w", err)
	}
	return nil
}

// Forget failures, called on successful login
func (l *LoginLimiter) Reset(ctx context.Context, identity string) error {
	if err := l.redis.Del(ctx, l.key(identity)).Err(); err != nil {
		return fmt.Errorf("limiter error: %w", err)
	}
	return nil
}
