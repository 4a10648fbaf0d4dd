package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Derivation messages are versioned so a future scheme change can coexist
// with material derived under the old one.
const (
	encryptionKeyMessage = "cumdach/encryption-key/v1"
	tagSecretMessage     = "cumdach/tag-secret/v1"

	fallbackSalt       = "cumdach/fallback/v1"
	fallbackIterations = 600_000
)

// Deriver turns a Signer into encryption keys and tag secrets. The primary
// path hashes a signature over a fixed versioned message; the optional
// fallback stretches the owner's public address with PBKDF2 when the signer
// cannot sign ad-hoc messages.
type Deriver struct {
	signer        Signer
	store         SecretStore
	rotationNonce string
	allowFallback bool
	logger        *slog.Logger
	now           func() time.Time
}

// DeriverOption configures a Deriver.
type DeriverOption func(*Deriver)

// WithFallback enables the degraded PBKDF2 derivation path. Off by default:
// a signer that cannot sign gets ErrDerivationUnavailable instead of
// silently weaker keys.
func WithFallback(allow bool) DeriverOption {
	return func(d *Deriver) {
		d.allowFallback = allow
	}
}

// WithLogger overrides the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) DeriverOption {
	return func(d *Deriver) {
		d.logger = logger
	}
}

// WithClock overrides the time source used for CreatedAt stamps.
func WithClock(now func() time.Time) DeriverOption {
	return func(d *Deriver) {
		d.now = now
	}
}

// WithRotationNonce resumes derivation under a previously issued rotation
// nonce, so a rotated secret survives the loss of the local secret store.
// Callers persist the nonce Rotate returns and pass it back here.
func WithRotationNonce(nonce string) DeriverOption {
	return func(d *Deriver) {
		d.rotationNonce = nonce
	}
}

// NewDeriver creates a Deriver. A nil store is allowed: user secrets are
// then re-derived on every call instead of being persisted.
func NewDeriver(signer Signer, store SecretStore, opts ...DeriverOption) *Deriver {
	d := &Deriver{
		signer: signer,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// EncryptionKey derives the per-session AES-256 payload key. The result is
// never cached or persisted; every session signs again.
func (d *Deriver) EncryptionKey(ctx context.Context) (EncryptionKey, error) {
	material, source, err := d.derive(ctx, encryptionKeyMessage)
	if err != nil {
		return EncryptionKey{}, fmt.Errorf("deriving encryption key: %w", err)
	}

	return EncryptionKey{material: material, source: source}, nil
}

// UserSecret returns the owner's tag secret, loading the persisted one when
// present and deriving plus persisting it on first use.
func (d *Deriver) UserSecret(ctx context.Context) (UserSecret, error) {
	if d.store != nil {
		secret, err := d.store.LoadSecret(ctx, d.signer.Address())
		switch {
		case err == nil:
			return secret, nil
		case !errors.Is(err, ErrSecretNotFound):
			return UserSecret{}, fmt.Errorf("loading user secret: %w", err)
		}
	}

	return d.mintSecret(ctx, d.secretMessage())
}

// Rotate derives a fresh tag secret under a rotation nonce and overwrites
// the persisted entry. Every tag issued under the previous secret becomes
// permanently unmatchable, so callers must confirm with the owner first.
// An empty nonce is replaced with a random 16-byte hex one; the effective
// nonce is returned for the caller to persist.
func (d *Deriver) Rotate(ctx context.Context, nonce string) (UserSecret, string, error) {
	if nonce == "" {
		var err error
		nonce, err = randomNonce()
		if err != nil {
			return UserSecret{}, "", fmt.Errorf("generating rotation nonce: %w", err)
		}
	}

	secret, err := d.mintSecret(ctx, tagSecretMessage+":"+nonce)
	if err != nil {
		return UserSecret{}, "", err
	}
	d.rotationNonce = nonce

	d.logger.Info("rotated user secret", "owner", secret.Owner, "source", secret.Source)
	return secret, nonce, nil
}

// secretMessage is the tag-secret derivation message under the current
// rotation nonce, or the base message when no rotation has happened.
func (d *Deriver) secretMessage() string {
	if d.rotationNonce != "" {
		return tagSecretMessage + ":" + d.rotationNonce
	}
	return tagSecretMessage
}

// mintSecret derives material for message, stamps it, and persists it.
func (d *Deriver) mintSecret(ctx context.Context, message string) (UserSecret, error) {
	material, source, err := d.derive(ctx, message)
	if err != nil {
		return UserSecret{}, fmt.Errorf("deriving user secret: %w", err)
	}

	secret := UserSecret{
		Owner:     d.signer.Address(),
		Secret:    material,
		Source:    source,
		CreatedAt: d.now().UTC(),
	}

	if d.store != nil {
		if err := d.store.SaveSecret(ctx, secret); err != nil {
			return UserSecret{}, fmt.Errorf("persisting user secret: %w", err)
		}
	}

	return secret, nil
}

// derive runs the signature path, taking the fallback only when the signer
// reports ErrSigningUnsupported and the fallback was explicitly enabled.
func (d *Deriver) derive(ctx context.Context, message string) ([32]byte, Source, error) {
	signature, err := d.signer.SignMessage(ctx, []byte(message))
	switch {
	case err == nil:
		return sha256.Sum256(signature), SourceSignature, nil
	case errors.Is(err, ErrSigningUnsupported):
		if !d.allowFallback {
			return [32]byte{}, "", fmt.Errorf("%w: signer for %s cannot sign ad-hoc messages and fallback is disabled",
				ErrDerivationUnavailable, d.signer.Address())
		}
		return d.deriveFallback(message)
	default:
		return [32]byte{}, "", fmt.Errorf("signing derivation message: %w", err)
	}
}

// deriveFallback stretches the owner's public address with PBKDF2-SHA256.
// The salt mixes in the derivation message so the encryption key and tag
// secret stay independent, and rotation nonces carry through unchanged.
func (d *Deriver) deriveFallback(message string) ([32]byte, Source, error) {
	d.logger.Warn("using degraded pbkdf2 derivation; material is reproducible from the public address",
		"owner", d.signer.Address(),
	)

	salt := fallbackSalt + "|" + message
	key := pbkdf2.Key([]byte(d.signer.Address()), []byte(salt), fallbackIterations, 32, sha256.New)

	var material [32]byte
	copy(material[:], key)

	return material, SourceFallback, nil
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}
