package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
)

// dummyHash is compared against when the user does not exist, so lookups of
// unknown names cost about as much as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("bhopmaps-dummy-password"), bcrypt.MinCost)

// HashPassword returns the bcrypt hash of password at the given cost.
// Costs outside bcrypt's range fall back to bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword checks password against hash. A mismatch or a malformed
// hash yields common.ErrInvalidCredentials.
func ComparePassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return common.ErrInvalidCredentials
	}
	return fmt.Errorf("%w: %w", common.ErrInvalidCredentials, err)
}

// CompareDummy burns a bcrypt comparison for an unknown user.
func CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
