package otpauth

import (
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// bcryptMaxInput is the number of bytes bcrypt takes into account.
const bcryptMaxInput = 72

// PasswordHasher turns plaintext passwords into salted one way hashes.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// BcryptHasher is the bcrypt implementation of PasswordHasher.
type BcryptHasher struct {
	cost int
}

var _ PasswordHasher = (*BcryptHasher)(nil)

// NewBcryptHasher returns a hasher using cost, or the package default
// when cost is outside the range bcrypt accepts.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = passwordHashCost()
	}
	return &BcryptHasher{cost: cost}
}

// Cost returns the work factor used for new hashes.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash will generate a password hash. Inputs that bcrypt would silently
// truncate are rejected.
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrNoEmptyString
	}

	if !utf8.ValidString(plaintext) {
		return "", ErrInvalidEncoding
	}

	if len(plaintext) > bcryptMaxInput {
		return "", ErrInputTooLarge
	}

	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", internalError(err, "failed to hash password")
	}
	return string(out), nil
}

// Verify reports whether plaintext matches hash. Malformed hashes never match,
// nor do inputs Hash would refuse: bcrypt only reads the first 72 bytes.
func (h *BcryptHasher) Verify(plaintext, hash string) bool {
	if plaintext == "" || hash == "" {
		return false
	}
	if len(plaintext) > bcryptMaxInput || !utf8.ValidString(plaintext) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// randomPasswordHash hashes a throwaway secret. The result is compared against
// for unknown emails so that login timing does not reveal which emails exist.
func randomPasswordHash(h PasswordHasher) string {
	out, err := h.Hash(uuid.NewString())
	if err != nil {
		return ""
	}
	return out
}
