package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nkiryanov/gophauth/internal/handlers/middleware"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/models"
)

type authService interface {
	// Register account with identity and secret
	// Has to return apperrors.ErrDuplicateIdentity if identity is taken
	Register(ctx context.Context, identity string, secret string) (models.TokenPair, error)

	// Login with identity and secret
	// Has to return apperrors.ErrInvalidCredentials on wrong identity or secret
	// And apperrors.ErrTooManyAttempts if login throttled
	Login(ctx context.Context, identity string, secret string) (models.TokenPair, error)

	// Exchange refresh token for new pair
	// Has to return apperrors.ErrTokenInvalid, ErrTokenExpired or ErrTokenRevoked if token can't be used
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke refresh token
	// Has to return apperrors.ErrTokenInvalid if token is not signed by us
	Logout(ctx context.Context, refresh string) error

	// Return account access token issued for
	Authenticate(ctx context.Context, access string) (models.Account, error)
}

type route struct {
	method  string
	path    string
	handler http.Handler
}

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// Register routes on new mux
// Fail if route is malformed or registered twice
func buildMux(routes []route) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	seen := make(map[string]struct{}, len(routes))

	for _, rt := range routes {
		pattern := rt.method + " " + rt.path

		switch {
		case rt.method == "" || strings.ContainsAny(rt.method, " /"):
			return nil, fmt.Errorf("route %q: bad method", pattern)
		case !strings.HasPrefix(rt.path, "/"):
			return nil, fmt.Errorf("route %q: path must start with '/'", pattern)
		case rt.handler == nil:
			return nil, fmt.Errorf("route %q: handler is nil", pattern)
		}

		if _, ok := seen[pattern]; ok {
			return nil, fmt.Errorf("route %q: registered twice", pattern)
		}
		seen[pattern] = struct{}{}

		mux.Handle(pattern, rt.handler)
	}

	return mux, nil
}

func NewRouter(authService authService, logger logger.Logger) (http.Handler, error) {
	if authService == nil || logger == nil {
		return nil, errors.New("auth service and logger must not be nil")
	}

	withAuth := middleware.AuthMiddleware(authService, logger)

	mux, err := buildMux([]route{
		{http.MethodPost, "/register", handleRegister(authService, logger)},
		{http.MethodPost, "/login", handleLogin(authService, logger)},
		{http.MethodPost, "/refresh", handleRefresh(authService, logger)},
		{http.MethodPost, "/logout", handleLogout(authService, logger)},
		{http.MethodGet, "/me", withAuth(handleAccountMe())},
	})
	if err != nil {
		return nil, err
	}

	handler := chain(mux,
		middleware.LoggerMiddleware(logger),
	)

	return handler, nil
}
