package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/gophauth/internal/db"
	"github.com/nkiryanov/gophauth/internal/handlers"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/repository/postgres"
	"github.com/nkiryanov/gophauth/internal/service/account"
	"github.com/nkiryanov/gophauth/internal/service/auth"
	"github.com/nkiryanov/gophauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/gophauth/internal/service/purger"
	"github.com/nkiryanov/gophauth/internal/service/ratelimit"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger logger.Logger

	// Nil if purging disabled
	purger *purger.Purger

	// Release connections, called in reverse order
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (_ *ServerApp, err error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, pool.Close)

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	hasher, err := account.NewBcryptHasher(c.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("error while creating hasher. Err: %w", err)
	}
	accountService, err := account.NewService(hasher, storage.Account())
	if err != nil {
		return nil, fmt.Errorf("error while creating account service. Err: %w", err)
	}

	tokenManager, err := tokenmanager.New(
		tokenmanager.Config{
			SecretKey:  c.SecretKey,
			VerifyKeys: c.VerifyKeys,
			AccessTTL:  c.AccessTTL,
			RefreshTTL: c.RefreshTTL,
		},
		storage.Refresh(),
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	authConfig := auth.Config{Logger: logger}
	if c.RedisURL != "" {
		client, err := connectRedis(ctx, c.RedisURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = client.Close() })
		authConfig.Limiter = ratelimit.New(client, c.LoginMaxAttempts, c.LoginLockout)
		logger.Info("Login throttling enabled", "max_attempts", c.LoginMaxAttempts, "lockout", c.LoginLockout)
	}

	authService, err := auth.NewService(authConfig, accountService, tokenManager, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	if c.PurgeInterval > 0 {
		app.purger = purger.New(c.PurgeInterval, storage.Refresh(), logger)
	}

	app.Handler, err = handlers.NewRouter(authService, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating router. Err: %w", err)
	}

	return app, nil
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("bad redis url. Err: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
	}

	return client, nil
}

// Release db and redis connections
func (s *ServerApp) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	var purgerStopped <-chan struct{}
	if s.purger != nil {
		purgerStopped = s.purger.Run(srvCtx)
	}

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	if purgerStopped != nil {
		<-purgerStopped
	}

	return err
}
