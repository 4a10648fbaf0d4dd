// Package appenv assembles the runtime environment shared by cumdach
// commands: the resolved .cumdach directory, merged configuration, the
// logger, and constructors for the pieces most commands need (local state
// database, keyfile signer, secret deriver, vault).
//
// Commands stay thin: they parse flags, call into appenv, and render
// output. Everything that touches disk, environment variables, or the
// configured backend lives here.
package appenv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/amach-health/cumdach/pkg/config"
	"github.com/amach-health/cumdach/pkg/dotdir"
	"github.com/amach-health/cumdach/pkg/identity"
	"github.com/amach-health/cumdach/pkg/localdb"
	"github.com/amach-health/cumdach/pkg/logger"
	"github.com/amach-health/cumdach/pkg/vault"
	"github.com/amach-health/cumdach/pkg/vault/inmemory"
	"github.com/amach-health/cumdach/pkg/vault/s3"
	"github.com/amach-health/cumdach/pkg/vault/sqlite"
)

const (
	// DBFile is the local state database inside the .cumdach directory.
	// It holds derived secrets and the insight fingerprint cache, never
	// health payloads.
	DBFile = "cumdach.db"

	// VaultDBFile is the default sqlite vault location when
	// storage.sqlite_path is not configured.
	VaultDBFile = "vault.db"

	// PassphraseEnv carries the keyfile passphrase for scripted use.
	// When set, no prompt is shown.
	PassphraseEnv = "CUMDACH_KEYFILE_PASSPHRASE"

	// SecretKeyEnv carries the S3 secret access key. The secret key is
	// never read from config.toml; pairing it with the configured
	// storage.s3.access_key_id happens here.
	SecretKeyEnv = "CUMDACH_S3_SECRET_ACCESS_KEY"
)

// Env is the resolved environment a command runs in.
type Env struct {
	// Dir is the absolute .cumdach directory in effect.
	Dir string

	// Viper holds merged configuration: flags over environment over
	// config.toml over defaults.
	Viper *viper.Viper

	// Log writes human-readable diagnostics to stderr so stdout stays
	// clean for payloads and pipeable output.
	Log *slog.Logger
}

// Load resolves the .cumdach directory, reads configuration, and builds
// the command logger. configDir carries the --config-dir override; empty
// means the usual local-then-home resolution.
func Load(configDir string, debug bool) (*Env, error) {
	ddm := dotdir.NewManager()

	dir, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving cumdach directory: %w", err)
	}

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, err
	}

	log := logger.New(
		logger.WithDebug(debug),
		logger.WithPretty(true),
		logger.WithWriter(os.Stderr),
	)

	return &Env{Dir: dir, Viper: v, Log: log}, nil
}

// KeyfilePath resolves identity.keyfile, joining relative paths onto the
// .cumdach directory.
func (e *Env) KeyfilePath() string {
	path := e.Viper.GetString("identity.keyfile")
	if path == "" {
		path = "identity.key"
	}

	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(e.Dir, path)
}

// OpenDB opens the local state database.
func (e *Env) OpenDB() (*localdb.DB, error) {
	return localdb.Open(filepath.Join(e.Dir, DBFile))
}

// OpenSigner loads the keyfile signer. Sealed keyfiles take their
// passphrase from CUMDACH_KEYFILE_PASSPHRASE when set, otherwise from a
// no-echo prompt on stderr.
func (e *Env) OpenSigner() (*identity.KeyfileSigner, error) {
	path := e.KeyfilePath()

	signer, err := identity.LoadKeyfile(path, os.Getenv(PassphraseEnv))
	if err == nil {
		return signer, nil
	}
	if !errors.Is(err, identity.ErrPassphraseRequired) {
		return nil, err
	}

	passphrase, err := ReadPassphrase("Keyfile passphrase: ")
	if err != nil {
		return nil, err
	}

	return identity.LoadKeyfile(path, passphrase)
}

// NewDeriver builds the secret deriver for signer, honoring the
// identity.allow_fallback setting and any recorded rotation for the
// signer's address.
func (e *Env) NewDeriver(signer identity.Signer, store identity.SecretStore) (*identity.Deriver, error) {
	opts := []identity.DeriverOption{
		identity.WithLogger(e.Log),
		identity.WithFallback(e.Viper.GetBool("identity.allow_fallback")),
	}

	state, err := dotdir.NewManager().LoadRotationState(e.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading rotation record: %w", err)
	}
	if state != nil && state.Owner == signer.Address() {
		opts = append(opts, identity.WithRotationNonce(state.Nonce))
	}

	return identity.NewDeriver(signer, store, opts...), nil
}

// OpenVault builds the vault over the configured backend. The returned
// cleanup releases backend resources and must be called once the command
// is done with the vault.
func (e *Env) OpenVault(ctx context.Context) (*vault.Vault, func() error, error) {
	backend, cleanup, err := e.openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := []vault.Option{vault.WithLogger(e.Log)}
	if size := e.Viper.GetInt("cache.max_entries"); size > 0 {
		ttl := e.Viper.GetDuration("cache.max_age")
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		opts = append(opts, vault.WithMetadataCache(size, ttl))
	}

	v, err := vault.New(backend, opts...)
	if err != nil {
		_ = cleanup()
		return nil, nil, err
	}

	return v, cleanup, nil
}

func (e *Env) openBackend(ctx context.Context) (vault.Backend, func() error, error) {
	noop := func() error { return nil }

	name := e.Viper.GetString("storage.backend")
	switch strings.ToLower(name) {
	case "memory":
		return inmemory.NewBackend("health-vault"), noop, nil

	case "sqlite":
		path := e.Viper.GetString("storage.sqlite_path")
		if path == "" {
			path = filepath.Join(e.Dir, VaultDBFile)
		}

		backend, err := sqlite.NewBackend(ctx, path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite vault %s: %w", path, err)
		}

		return backend, backend.Close, nil

	case "s3":
		cfg := s3.Config{
			Region:       e.Viper.GetString("storage.s3.region"),
			Bucket:       e.Viper.GetString("storage.s3.bucket"),
			Endpoint:     e.Viper.GetString("storage.s3.endpoint"),
			AccessKeyID:  e.Viper.GetString("storage.s3.access_key_id"),
			UsePathStyle: e.Viper.GetBool("storage.s3.path_style"),
		}
		if cfg.Bucket == "" {
			return nil, nil, errors.New("storage.s3.bucket is not configured")
		}
		if cfg.AccessKeyID != "" {
			cfg.SecretAccessKey = os.Getenv(SecretKeyEnv)
			if cfg.SecretAccessKey == "" {
				return nil, nil, fmt.Errorf("storage.s3.access_key_id is set but %s is empty", SecretKeyEnv)
			}
		}

		backend, err := s3.NewBackend(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("opening s3 vault: %w", err)
		}

		return backend, noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q (available: sqlite, s3, memory)", name)
	}
}

// ReadPassphrase reads a passphrase without echo, prompting on stderr.
// CUMDACH_KEYFILE_PASSPHRASE bypasses the prompt so scripts and tests
// never need a terminal.
func ReadPassphrase(prompt string) (string, error) {
	if passphrase := os.Getenv(PassphraseEnv); passphrase != "" {
		return passphrase, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("a keyfile passphrase is required and stdin is not a terminal; set %s", PassphraseEnv)
	}

	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	return string(passphrase), nil
}
