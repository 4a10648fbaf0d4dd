package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/amach-health/cumdach/pkg/identity"
)

// nonceInfo versions the nonce derivation.
const nonceInfo = "cumdach/nonce/v1"

// seal encrypts plaintext with AES-256-GCM under a nonce derived from the
// plaintext itself: the first 12 bytes of HMAC-SHA256(key, info||plaintext).
// Encryption is therefore deterministic per (key, plaintext), which is what
// makes the content hash over ciphertext a usable deduplication key and
// keeps retried uploads byte-identical. A repeated nonce can only occur for
// a repeated plaintext, where it reproduces the identical ciphertext instead
// of leaking anything new.
//
// Output framing: nonce || ciphertext.
func seal(key identity.EncryptionKey, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, key.Bytes())
	mac.Write([]byte(nonceInfo))
	mac.Write(plaintext)
	nonce := mac.Sum(nil)[:gcm.NonceSize()]

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open reverses seal. An authentication failure means the ciphertext was
// modified or the key is wrong; both surface as ErrIntegrityMismatch.
func open(key identity.EncryptionKey, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: sealed payload shorter than nonce", ErrIntegrityMismatch)
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed", ErrIntegrityMismatch)
	}

	return plaintext, nil
}

func newGCM(key identity.EncryptionKey) (cipher.AEAD, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: zero encryption key", ErrInvalidArgument)
	}

	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}

	return gcm, nil
}
