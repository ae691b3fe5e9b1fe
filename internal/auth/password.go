package auth

import (
	"errors"
	"fmt"

	"appraisal/server/internal/apperr"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// HashPassword creates a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", apperr.NewValidation("user", "password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperr.NewValidation("user", "password", "is too long")
		}
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword checks password against a bcrypt hash. A mismatch wraps
// apperr.ErrUnauthorized.
func VerifyPassword(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("incorrect password: %w", apperr.ErrUnauthorized)
		}
		return fmt.Errorf("could not verify password: %w", err)
	}
	return nil
}
