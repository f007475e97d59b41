package models

import (
	"time"

	"github.com/google/uuid"
)

type Account struct {
	ID         uuid.UUID
	CreatedAt  time.Time
	Identity   string
	SecretHash string
}
