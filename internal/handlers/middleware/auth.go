package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/handlers/accountctx"
	"github.com/nkiryanov/gophauth/internal/handlers/render"
	"github.com/nkiryanov/gophauth/internal/models"
)

const bearerScheme = "Bearer "

type authenticator interface {
	Authenticate(ctx context.Context, access string) (models.Account, error)
}

// Read access token from 'Authorization: Bearer <token>' header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) <= len(bearerScheme) || !strings.EqualFold(header[:len(bearerScheme)], bearerScheme) {
		return "", false
	}
	return strings.TrimSpace(header[len(bearerScheme):]), true
}

// Put authenticated account to request context
// Respond 401 if token is rejected and 500 if account could not be loaded
func AuthMiddleware(as authenticator, logger logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := BearerToken(r)
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			account, err := as.Authenticate(r.Context(), access)
			switch {
			case errors.Is(err, apperrors.ErrTokenExpired),
				errors.Is(err, apperrors.ErrTokenInvalid),
				errors.Is(err, apperrors.ErrTokenRevoked):
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			case err != nil:
				logger.Error("Authentication failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			ctx := accountctx.New(r.Context(), account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
