package purger

import (
	"context"
	"time"

	"github.com/nkiryanov/gophauth/internal/logger"
)

const defaultInterval = time.Hour

type expiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Periodically deletes expired refresh tokens
type Purger struct {
	interval time.Duration
	logger   logger.Logger
	store    expiredDeleter
	now      func() time.Time
}

// Interval defaults to one hour if zero
func New(interval time.Duration, store expiredDeleter, logger logger.Logger) *Purger {
	if interval == 0 {
		interval = defaultInterval
	}

	return &Purger{
		interval: interval,
		logger:   logger,
		store:    store,
		now:      time.Now,
	}
}

// Delete expired tokens once, return count of deleted tokens
func (p *Purger) PurgeOnce(ctx context.Context) (int64, error) {
	return p.store.DeleteExpired(ctx, p.now())
}

// Start purge loop
// Returned channel is closed when loop stopped by context
func (p *Purger) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting purger", "interval", p.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Purger stopped by context")
				return

			case <-ticker.C:
				deleted, err := p.PurgeOnce(ctx)
				if err != nil {
					p.logger.Error("Failed to purge expired refresh tokens", "error", err)
					continue
				}
				p.logger.Info("Expired refresh tokens purged", "deleted", deleted)
			}
		}
	}()

	return idleStopped
}
