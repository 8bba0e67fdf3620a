package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost = 10

	// MinPasswordLength is the shortest password accepted at registration.
	MinPasswordLength = 6
	// MaxPasswordLength is bcrypt's input limit in bytes. Longer input would be
	// silently truncated, so it is refused instead.
	MaxPasswordLength = 72
)

// ValidatePassword checks a candidate password against the length policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: must be %d-%d bytes", ErrInvalidPassword, MinPasswordLength, MaxPasswordLength)
	}
	return nil
}

// HashPassword validates the password and returns its bcrypt hash.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports ErrInvalidCredentials when password does not match
// hashedPassword. Seeded accounts carry a hash bcrypt cannot parse and never match.
func ComparePassword(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
