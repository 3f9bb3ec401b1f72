// Package credential hashes and verifies account passwords.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"

	"github.com/victorgomez09/sentinel/internal/auth/models"
	"golang.org/x/crypto/pbkdf2"
)

const (
	MinSaltLength = 32
	MinKeyLength  = 128
)

// Params controls PBKDF2-HMAC-SHA512 derivation.
type Params struct {
	Iterations int // PBKDF2 rounds.
	KeyLength  int // Derived key size in bytes.
	SaltLength int // Random salt size in bytes.
}

var DefaultParams = Params{
	Iterations: 50000,
	KeyLength:  128,
	SaltLength: 64,
}

func (p Params) normalize() Params {
	if p.Iterations <= 0 {
		p.Iterations = DefaultParams.Iterations
	}
	if p.KeyLength < MinKeyLength {
		p.KeyLength = MinKeyLength
	}
	if p.SaltLength < MinSaltLength {
		p.SaltLength = MinSaltLength
	}
	return p
}

type Hasher struct {
	params Params
	pool   *Pool
	dummy  models.PasswordHash
}

// NewHasher builds a hasher that runs derivations on pool. A nil pool runs
// them on the caller's goroutine.
func NewHasher(params Params, pool *Pool) (*Hasher, error) {
	h := &Hasher{params: params.normalize(), pool: pool}

	salt, err := randomBytes(h.params.SaltLength)
	if err != nil {
		return nil, err
	}
	// the dummy record gives unknown users and malformed records the same cost
	h.dummy = models.PasswordHash{
		Salt:       salt,
		Digest:     derive("", salt, h.params.Iterations, h.params.KeyLength),
		Iterations: h.params.Iterations,
	}
	return h, nil
}

func (h *Hasher) Params() Params {
	return h.params
}

// Hash derives a fresh salted record for password.
func (h *Hasher) Hash(ctx context.Context, password string) (models.PasswordHash, error) {
	salt, err := randomBytes(h.params.SaltLength)
	if err != nil {
		return models.PasswordHash{}, err
	}

	var digest []byte
	if err := h.run(ctx, func() {
		digest = derive(password, salt, h.params.Iterations, h.params.KeyLength)
	}); err != nil {
		return models.PasswordHash{}, err
	}

	return models.PasswordHash{
		Salt:       salt,
		Digest:     digest,
		Iterations: h.params.Iterations,
	}, nil
}

// Verify recomputes the key with the stored salt and compares in constant
// time. A malformed record verifies as false after the same amount of work.
// The error is only non-nil when the context ends or the pool is closed.
func (h *Hasher) Verify(ctx context.Context, password string, stored models.PasswordHash) (bool, error) {
	malformed := stored.Malformed()
	if malformed {
		stored = h.dummy
	}

	var match bool
	if err := h.run(ctx, func() {
		got := derive(password, stored.Salt, stored.Iterations, len(stored.Digest))
		match = subtle.ConstantTimeCompare(got, stored.Digest) == 1
	}); err != nil {
		return false, err
	}

	return match && !malformed, nil
}

// VerifyDummy spends one verification's worth of work and always fails.
func (h *Hasher) VerifyDummy(ctx context.Context, password string) error {
	_, err := h.Verify(ctx, password, models.PasswordHash{})
	return err
}

func (h *Hasher) run(ctx context.Context, fn func()) error {
	if h.pool == nil {
		fn()
		return nil
	}
	return h.pool.Do(ctx, fn)
}

func derive(password string, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha512.New)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}
