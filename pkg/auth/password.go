package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MaxPasswordBytes  = 72 // bcrypt input limit
)

// referencePassword is hashed once per hasher and compared against when no
// user record exists, so absent accounts cost one full bcrypt comparison too.
const referencePassword = "dragonbane-reference-credential"

// ErrMismatch is returned by Compare when the password does not match the hash.
var ErrMismatch = errors.New("password mismatch")

// BcryptHasher hashes and compares passwords with bcrypt.
type BcryptHasher struct {
	cost          int
	referenceHash string
}

// NewBcryptHasher creates a hasher and its fixed reference hash at the given cost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	ref, err := bcrypt.GenerateFromPassword([]byte(referencePassword), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to build reference hash: %w", err)
	}

	return &BcryptHasher{cost: cost, referenceHash: string(ref)}, nil
}

// Hash returns the bcrypt hash of password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if len(password) > MaxPasswordBytes {
		return "", fmt.Errorf("password exceeds %d bytes", MaxPasswordBytes)
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Compare checks password against hash in constant time with respect to
// where the inputs differ. It returns ErrMismatch on a wrong password and a
// different error when the stored hash itself is unusable.
func (h *BcryptHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
		return ErrMismatch
	default:
		return fmt.Errorf("unusable password hash: %w", err)
	}
}

// ReferenceHash returns the fixed hash used for absent-account comparisons.
func (h *BcryptHasher) ReferenceHash() string {
	return h.referenceHash
}
