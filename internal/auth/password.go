package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest password bcrypt will hash.
const MaxPasswordBytes = 72

// ErrPasswordLength reports a password outside the accepted length range.
var ErrPasswordLength = errors.New("password length out of range")

// CheckPasswordLength accepts passwords of at least minLen characters and at
// most MaxPasswordBytes bytes.
func CheckPasswordLength(password string, minLen int) error {
	if len([]rune(password)) < minLen {
		return fmt.Errorf("%w: must be at least %d characters", ErrPasswordLength, minLen)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("%w: must be at most %d bytes", ErrPasswordLength, MaxPasswordBytes)
	}
	return nil
}

// HashPassword hashes a plaintext password with the given bcrypt cost.
// Over-long passwords fail with ErrPasswordLength rather than a bcrypt error.
func HashPassword(password string, cost int) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", CheckPasswordLength(password, 0)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its stored hash.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
