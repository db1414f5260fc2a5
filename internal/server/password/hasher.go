// Package password hashes and verifies account passwords.
//
// New hashes are argon2id PHC strings ($argon2id$v=19$m=..,t=..,p=..$salt$key)
// so the work factor travels with each hash. bcrypt hashes imported from the
// previous deployment still verify and are reported by NeedsRehash.
package password

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnknownHash is returned for stored values in an unrecognised format.
var ErrUnknownHash = errors.New("unknown password hash format")

// Params is the argon2id work factor used for new hashes.
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams mirrors argon2id.DefaultParams.
var DefaultParams = Params{
	Memory:      argon2id.DefaultParams.Memory,
	Iterations:  argon2id.DefaultParams.Iterations,
	Parallelism: argon2id.DefaultParams.Parallelism,
}

type Hasher struct {
	params *argon2id.Params
}

func NewHasher(p Params) *Hasher {
	return &Hasher{params: &argon2id.Params{
		Memory:      p.Memory,
		Iterations:  p.Iterations,
		Parallelism: p.Parallelism,
		SaltLength:  16,
		KeyLength:   32,
	}}
}

// Hash returns a salted argon2id hash of raw. Two calls with the same input
// yield different strings.
func (h *Hasher) Hash(raw string) (string, error) {
	hash, err := argon2id.CreateHash(raw, h.params)
	if err != nil {
		return "", fmt.Errorf("argon2id: %w", err)
	}
	return hash, nil
}

// Verify reports whether raw matches encoded. Comparison is constant time
// for both supported algorithms. A mismatch is (false, nil); err is set only
// for malformed hashes.
func (h *Hasher) Verify(raw, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		ok, err := argon2id.ComparePasswordAndHash(raw, encoded)
		if err != nil {
			return false, fmt.Errorf("argon2id: %w", err)
		}
		return ok, nil

	case isBcrypt(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(raw))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("bcrypt: %w", err)
		}
		return true, nil
	}

	return false, ErrUnknownHash
}

// NeedsRehash reports whether encoded was produced by another algorithm or
// with parameters different from the current ones.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if !strings.HasPrefix(encoded, "$argon2id$") {
		return true
	}
	p, _, _, err := argon2id.DecodeHash(encoded)
	if err != nil {
		return true
	}
	return p.Memory != h.params.Memory ||
		p.Iterations != h.params.Iterations ||
		p.Parallelism != h.params.Parallelism
}

func isBcrypt(encoded string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encoded, prefix) {
			return true
		}
	}
	return false
}
