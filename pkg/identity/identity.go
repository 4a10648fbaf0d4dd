// Package identity derives the two secrets everything else hangs off: a
// per-session symmetric encryption key and a long-lived per-owner tag secret.
// Both come from the owner's signing identity, so possession of the signing
// credential is the only thing that can reproduce them.
package identity

import (
	"context"
	"crypto/subtle"
	"time"
)

// Source records which derivation path produced a piece of key material.
type Source string

const (
	// SourceSignature marks material derived from a wallet signature.
	SourceSignature Source = "signature"

	// SourceFallback marks material derived via the degraded PBKDF2 path.
	// Anyone who knows the owner's public address could reproduce it, so
	// audit surfaces must show this source.
	SourceFallback Source = "pbkdf2-fallback"
)

// Signer is the boundary to the host application's identity layer. A wallet,
// a hardware key, or the local keyfile signer all satisfy it.
type Signer interface {
	// Address returns the owner's stable public identifier.
	Address() string

	// SignMessage signs an arbitrary message with the owner's credential.
	// Implementations return ErrAuthDenied when the owner declines and
	// ErrSigningUnsupported when ad-hoc signing is not available.
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// SecretStore persists one UserSecret per owner. Deleting the underlying
// store at any time is safe: the secret is re-derived on next use.
type SecretStore interface {
	// LoadSecret returns the persisted secret for owner, or
	// ErrSecretNotFound when none exists.
	LoadSecret(ctx context.Context, owner string) (UserSecret, error)

	// SaveSecret persists the secret, overwriting any prior entry for the
	// same owner.
	SaveSecret(ctx context.Context, secret UserSecret) error

	// DeleteSecret removes the persisted secret for owner. Removing a
	// missing secret is not an error.
	DeleteSecret(ctx context.Context, owner string) error
}

// EncryptionKey is a 32-byte AES-256 key derived per session. It is never
// persisted; callers should Zero it when the operation finishes.
type EncryptionKey struct {
	material [32]byte
	source   Source
}

// NewEncryptionKey wraps raw key material. Exposed for tests and for hosts
// that bring their own derivation.
func NewEncryptionKey(material [32]byte, source Source) EncryptionKey {
	return EncryptionKey{material: material, source: source}
}

// Bytes returns a copy of the key material.
func (k EncryptionKey) Bytes() []byte {
	out := make([]byte, len(k.material))
	copy(out, k.material[:])
	return out
}

// Source reports which derivation path produced the key.
func (k EncryptionKey) Source() Source {
	return k.source
}

// IsZero reports whether the key holds no material.
func (k EncryptionKey) IsZero() bool {
	var zero [32]byte
	return subtle.ConstantTimeCompare(k.material[:], zero[:]) == 1
}

// Zero wipes the key material in place.
func (k *EncryptionKey) Zero() {
	for i := range k.material {
		k.material[i] = 0
	}
}

// UserSecret is the long-lived per-owner keying material behind search tags.
// It lives in a SecretStore keyed by owner address and is replaced wholesale
// on rotation.
type UserSecret struct {
	Owner     string
	Secret    [32]byte
	Source    Source
	CreatedAt time.Time
}

// IsZero reports whether the secret holds no material.
func (s UserSecret) IsZero() bool {
	var zero [32]byte
	return subtle.ConstantTimeCompare(s.Secret[:], zero[:]) == 1
}
