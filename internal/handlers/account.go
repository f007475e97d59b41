package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gophauth/internal/handlers/accountctx"
	"github.com/nkiryanov/gophauth/internal/handlers/render"
)

func handleAccountMe() http.Handler {
	type response struct {
		ID        uuid.UUID `json:"id"`
		Identity  string    `json:"identity"`
		CreatedAt time.Time `json:"createdAt"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := accountctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		render.JSON(w, response{ID: account.ID, Identity: account.Identity, CreatedAt: account.CreatedAt})
	})
}
