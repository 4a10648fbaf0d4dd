package identity

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyfileVersion       = 1
	keyfileKDF           = "pbkdf2-sha256"
	keyfileKDFIterations = 600_000
)

var (
	// ErrPassphraseRequired is returned when loading a protected keyfile
	// without a passphrase.
	ErrPassphraseRequired = errors.New("keyfile is passphrase-protected")

	// ErrInvalidPassphrase is returned when the supplied passphrase cannot
	// unseal the keyfile.
	ErrInvalidPassphrase = errors.New("invalid keyfile passphrase")
)

// keyfile is the on-disk TOML shape of a local signing identity.
type keyfile struct {
	Version   int    `toml:"version"`
	Address   string `toml:"address"`
	PublicKey string `toml:"public_key"`

	// Seed holds the ed25519 seed hex when the keyfile is unprotected.
	Seed string `toml:"seed,omitempty"`

	// The sealed fields replace Seed when a passphrase protects the file.
	Encrypted  bool   `toml:"encrypted"`
	KDF        string `toml:"kdf,omitempty"`
	Iterations int    `toml:"iterations,omitempty"`
	Salt       string `toml:"salt,omitempty"`
	Nonce      string `toml:"nonce,omitempty"`
	SealedSeed string `toml:"sealed_seed,omitempty"`
}

// KeyfileSigner signs with a local ed25519 key stored in a TOML keyfile.
// It stands in for a wallet when the host application does not bring one:
// ed25519 signatures are deterministic, so derived secrets are stable
// across sessions.
type KeyfileSigner struct {
	path    string
	address string
	priv    ed25519.PrivateKey
}

// GenerateKeyfile creates a fresh ed25519 identity and writes it to path
// with 0600 permissions. A non-empty passphrase seals the seed with
// AES-256-GCM under a PBKDF2-stretched key.
func GenerateKeyfile(path, passphrase string) (*KeyfileSigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}

	kf := keyfile{
		Version:   keyfileVersion,
		Address:   AddressFromPublicKey(pub),
		PublicKey: hex.EncodeToString(pub),
	}

	if passphrase == "" {
		kf.Seed = hex.EncodeToString(priv.Seed())
	} else {
		if err := sealSeed(&kf, priv.Seed(), passphrase); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating keyfile dir: %w", err)
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(kf); err != nil {
		return nil, fmt.Errorf("encoding keyfile: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("writing keyfile: %w", err)
	}

	return &KeyfileSigner{path: path, address: kf.Address, priv: priv}, nil
}

// LoadKeyfile opens an existing keyfile. The passphrase must be supplied
// exactly when the keyfile was written with one.
func LoadKeyfile(path, passphrase string) (*KeyfileSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keyfile: %w", err)
	}

	var kf keyfile
	if err := toml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parsing keyfile: %w", err)
	}

	var seed []byte
	if kf.Encrypted {
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		seed, err = unsealSeed(kf, passphrase)
		if err != nil {
			return nil, err
		}
	} else {
		seed, err = hex.DecodeString(kf.Seed)
		if err != nil {
			return nil, fmt.Errorf("parsing keyfile seed: %w", err)
		}
	}

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keyfile seed has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	address := AddressFromPublicKey(priv.Public().(ed25519.PublicKey))

	// A keyfile whose recorded address disagrees with its key material has
	// been tampered with or corrupted.
	if kf.Address != "" && kf.Address != address {
		return nil, fmt.Errorf("keyfile address %s does not match key material", kf.Address)
	}

	return &KeyfileSigner{path: path, address: address, priv: priv}, nil
}

// Address returns the owner address derived from the public key.
func (s *KeyfileSigner) Address() string {
	return s.address
}

// SignMessage signs message with the local ed25519 key. Signing is local
// and deterministic; it never blocks on the context.
func (s *KeyfileSigner) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("cannot sign empty message")
	}

	return ed25519.Sign(s.priv, message), nil
}

// Path returns the keyfile location on disk.
func (s *KeyfileSigner) Path() string {
	return s.path
}

// AddressFromPublicKey derives the owner address for a public key: 0x plus
// the first 20 bytes of its SHA-256, hex-encoded.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "0x" + hex.EncodeToString(sum[:20])
}

// sealSeed encrypts seed into kf under a PBKDF2-stretched passphrase key.
func sealSeed(kf *keyfile, seed []byte, passphrase string) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating keyfile salt: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, keyfileKDFIterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("sealing keyfile seed: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("sealing keyfile seed: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating keyfile nonce: %w", err)
	}

	kf.Encrypted = true
	kf.KDF = keyfileKDF
	kf.Iterations = keyfileKDFIterations
	kf.Salt = hex.EncodeToString(salt)
	kf.Nonce = hex.EncodeToString(nonce)
	kf.SealedSeed = hex.EncodeToString(gcm.Seal(nil, nonce, seed, nil))

	return nil
}

// unsealSeed reverses sealSeed. A GCM authentication failure means the
// passphrase is wrong (or the file was modified), reported as
// ErrInvalidPassphrase either way.
func unsealSeed(kf keyfile, passphrase string) ([]byte, error) {
	salt, err := hex.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("parsing keyfile salt: %w", err)
	}

	nonce, err := hex.DecodeString(kf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("parsing keyfile nonce: %w", err)
	}

	sealed, err := hex.DecodeString(kf.SealedSeed)
	if err != nil {
		return nil, fmt.Errorf("parsing sealed seed: %w", err)
	}

	iterations := kf.Iterations
	if iterations <= 0 {
		iterations = keyfileKDFIterations
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("unsealing keyfile seed: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("unsealing keyfile seed: %w", err)
	}

	seed, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}

	return seed, nil
}
