// Package hashlock implements the secret/hashlock primitives shared by every
// chain: a swap secret is 32 random bytes and its hashlock is the sha256 of
// those bytes. Both on-chain runtimes verify releases with the same sha256,
// so this is the only hash the engine ever computes.
package hashlock

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// SecretSize is the byte length of a swap secret.
const SecretSize = 32

// HashSize is the byte length of a hashlock.
const HashSize = sha256.Size

// ErrInvalidLength is returned when parsing a secret or hashlock of the wrong size.
var ErrInvalidLength = errors.New("invalid hex length")

// Secret is the preimage that releases an escrow. It must be treated as
// public the moment it appears on any chain.
type Secret [SecretSize]byte

// Hash is the sha256 commitment to a Secret, fixed at order creation.
type Hash [HashSize]byte

// NewSecret generates a cryptographically random secret.
func NewSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("failed to generate secret: %w", err)
	}

	return s, nil
}

// MakeSecretFromHex parses a hex-encoded secret.
func MakeSecretFromHex(s string) (Secret, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Secret{}, fmt.Errorf("failed to decode secret: %w", err)
	}
	if len(raw) != SecretSize {
		return Secret{}, ErrInvalidLength
	}

	var secret Secret
	copy(secret[:], raw)

	return secret, nil
}

// MakeHashFromHex parses a hex-encoded hashlock.
func MakeHashFromHex(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to decode hashlock: %w", err)
	}
	if len(raw) != HashSize {
		return Hash{}, ErrInvalidLength
	}

	var h Hash
	copy(h[:], raw)

	return h, nil
}

// Hash returns the hashlock committing to this secret.
func (s Secret) Hash() Hash {
	return sha256.Sum256(s[:])
}

func (s Secret) String() string {
	return hex.EncodeToString(s[:])
}

// Matches reports whether the secret is the preimage of this hashlock.
// The comparison is constant-time.
func (h Hash) Matches(s Secret) bool {
	sum := s.Hash()

	return subtle.ConstantTimeCompare(h[:], sum[:]) == 1
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}
