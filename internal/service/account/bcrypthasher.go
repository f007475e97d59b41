package account

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var DefaultHasher = BcryptHasher{}

// Bcrypt password hasher
// Secret is pre-hashed with sha256, so bcrypt's 72 bytes input limit doesn't truncate long secrets
type BcryptHasher struct {
	// bcrypt.DefaultCost if zero
	Cost int
}

func NewBcryptHasher(cost int) (BcryptHasher, error) {
	if cost != 0 && (cost < bcrypt.MinCost || cost > bcrypt.MaxCost) {
		return BcryptHasher{}, errors.New("bcrypt cost is out of range")
	}

	return BcryptHasher{Cost: cost}, nil
}

func (h BcryptHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret must not be empty")
	}

	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	sum := sha256.Sum256([]byte(secret))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	return string(hash), err
}

// Compare in constant time
func (h BcryptHasher) Compare(hashedSecret string, secret string) error {
	sum := sha256.Sum256([]byte(secret))
	return bcrypt.CompareHashAndPassword([]byte(hashedSecret), sum[:])
}
