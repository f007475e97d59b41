package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/gophauth/internal/apperrors"
	"github.com/nkiryanov/gophauth/internal/handlers/render"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/models"
)

// Auth requests are small, larger bodies are rejected while decoding
const maxRequestBodySize = 16 << 10

type credentialsRequest struct {
	Identity string `json:"identity" validate:"required,max=254"`
	Secret   string `json:"secret" validate:"required,max=256"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type tokenResponse struct {
	TokenType             string    `json:"tokenType"`
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

func newTokenResponse(pair models.TokenPair) tokenResponse {
	return tokenResponse{
		TokenType:             "Bearer",
		AccessToken:           pair.Access.Value,
		AccessTokenExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:          pair.Refresh.Value,
		RefreshTokenExpiresAt: pair.Refresh.ExpiresAt,
	}
}

func limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
}

// Respond 401 with generic message if err is token error
func renderTokenError(w http.ResponseWriter, err error, logger logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrTokenExpired),
		errors.Is(err, apperrors.ErrTokenRevoked),
		errors.Is(err, apperrors.ErrTokenInvalid):
		logger.Debug("Refresh token rejected", "error", err)
		render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
	default:
		logger.Error("Refresh token processing failed", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func handleRegister(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limitBody(w, r)
		data, err := render.BindAndValidate[credentialsRequest](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Register(r.Context(), data.Identity, data.Secret)
		switch {
		case err == nil:
			render.JSONWithStatus(w, newTokenResponse(pair), http.StatusCreated)
		case errors.Is(err, apperrors.ErrDuplicateIdentity):
			render.ServiceError(w, "Identity already registered", http.StatusConflict)
		default:
			logger.Error("Registration failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleLogin(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limitBody(w, r)
		data, err := render.BindAndValidate[credentialsRequest](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Login(r.Context(), data.Identity, data.Secret)
		switch {
		case err == nil:
			render.JSON(w, newTokenResponse(pair))
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrTooManyAttempts):
			render.ServiceError(w, "Too many login attempts, try later", http.StatusTooManyRequests)
		default:
			logger.Error("Login failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleRefresh(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limitBody(w, r)
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Refresh(r.Context(), data.RefreshToken)
		if err != nil {
			renderTokenError(w, err, logger)
			return
		}

		render.JSON(w, newTokenResponse(pair))
	})
}

func handleLogout(authService authService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limitBody(w, r)
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		err = authService.Logout(r.Context(), data.RefreshToken)
		if err != nil {
			renderTokenError(w, err, logger)
			return
		}

		render.NoContent(w)
	})
}
