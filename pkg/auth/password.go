package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	// MaxPasswordBytes is bcrypt's input limit; longer inputs are rejected, not truncated.
	MaxPasswordBytes = 72
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
	VerifyDummy(password string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implements Hasher using bcrypt. The hash string encodes
// algorithm version, cost and salt, so Verify needs nothing else.
type BcryptHasher struct {
	cost int

	// dummy is compared against when no user exists so unknown-email logins
	// spend the same bcrypt work as wrong-password logins.
	dummyOnce sync.Once
	dummy     []byte
}

// NewBcryptHasher creates a hasher with the given cost, clamped to bcrypt's valid range.
// A zero cost selects DefaultBcryptCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost returns the configured work factor.
func (h *BcryptHasher) Cost() int {
	return h.cost
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Verify reports whether password matches hash. Malformed hashes verify as false.
// bcrypt only reads the first MaxPasswordBytes, so longer inputs never match;
// they still spend one comparison.
func (h *BcryptHasher) Verify(password, hash string) bool {
	if len(password) > MaxPasswordBytes {
		return h.VerifyDummy(password)
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// VerifyDummy burns one bcrypt comparison and always reports false.
func (h *BcryptHasher) VerifyDummy(password string) bool {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("gatekeeper-dummy-password"), h.cost)
	})
	if len(password) > MaxPasswordBytes {
		password = password[:MaxPasswordBytes]
	}
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
	return false
}

// NeedsRehash reports whether hash was produced with a different cost.
func (h *BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}

var _ Hasher = (*BcryptHasher)(nil)
