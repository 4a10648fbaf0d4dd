package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent cumdach configuration stored as config.toml
// in the .cumdach/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version  int            `toml:"version"`
	Storage  StorageConfig  `toml:"storage"`
	Identity IdentityConfig `toml:"identity"`
	Cache    CacheConfig    `toml:"cache"`
	Prune    PruneConfig    `toml:"prune"`
}

// StorageConfig selects the vault backend and its parameters.
type StorageConfig struct {
	Backend    string   `toml:"backend,omitempty"`
	SQLitePath string   `toml:"sqlite_path,omitempty"`
	S3         S3Config `toml:"s3"`
}

// S3Config holds the object-store coordinates for the s3 backend.
// AccessKeyID is the (non-secret) key id; the matching secret access key
// is read from the environment and never written to config.toml.
type S3Config struct {
	Bucket      string `toml:"bucket,omitempty"`
	Region      string `toml:"region,omitempty"`
	Endpoint    string `toml:"endpoint,omitempty"`
	AccessKeyID string `toml:"access_key_id,omitempty"`
	PathStyle   bool   `toml:"path_style,omitempty"`
}

// IdentityConfig holds the signer keyfile location and the derivation
// fallback gate. Keyfile is resolved relative to the .cumdach/ directory
// unless absolute.
type IdentityConfig struct {
	Keyfile       string `toml:"keyfile,omitempty"`
	AllowFallback bool   `toml:"allow_fallback,omitempty"`
}

// CacheConfig bounds the local insight cache.
type CacheConfig struct {
	MaxEntries uint   `toml:"max_entries,omitempty"`
	MaxAge     string `toml:"max_age,omitempty"`
}

// PruneConfig holds retention settings for the prune command.
type PruneConfig struct {
	MaxAge string `toml:"max_age,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.backend": {
		get: func(c *Config) string { return c.Storage.Backend },
		set: func(c *Config, v string) error {
			if !IsValidBackend(v) {
				return fmt.Errorf("invalid value for storage.backend: %q (available: sqlite, s3, memory)", v)
			}
			c.Storage.Backend = v
			return nil
		},
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.s3.bucket": {
		get: func(c *Config) string { return c.Storage.S3.Bucket },
		set: func(c *Config, v string) error { c.Storage.S3.Bucket = v; return nil },
	},
	"storage.s3.region": {
		get: func(c *Config) string { return c.Storage.S3.Region },
		set: func(c *Config, v string) error { c.Storage.S3.Region = v; return nil },
	},
	"storage.s3.endpoint": {
		get: func(c *Config) string { return c.Storage.S3.Endpoint },
		set: func(c *Config, v string) error { c.Storage.S3.Endpoint = v; return nil },
	},
	"storage.s3.access_key_id": {
		get: func(c *Config) string { return c.Storage.S3.AccessKeyID },
		set: func(c *Config, v string) error { c.Storage.S3.AccessKeyID = v; return nil },
	},
	"storage.s3.path_style": {
		get: func(c *Config) string { return strconv.FormatBool(c.Storage.S3.PathStyle) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for storage.s3.path_style: %w", err)
			}
			c.Storage.S3.PathStyle = b
			return nil
		},
	},
	"identity.keyfile": {
		get: func(c *Config) string { return c.Identity.Keyfile },
		set: func(c *Config, v string) error { c.Identity.Keyfile = v; return nil },
	},
	"identity.allow_fallback": {
		get: func(c *Config) string { return strconv.FormatBool(c.Identity.AllowFallback) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for identity.allow_fallback: %w", err)
			}
			c.Identity.AllowFallback = b
			return nil
		},
	},
	"cache.max_entries": {
		get: func(c *Config) string {
			if c.Cache.MaxEntries == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Cache.MaxEntries), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for cache.max_entries: %w", err)
			}
			c.Cache.MaxEntries = uint(n)
			return nil
		},
	},
	"cache.max_age": {
		get: func(c *Config) string { return c.Cache.MaxAge },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for cache.max_age: %w", err)
			}
			c.Cache.MaxAge = v
			return nil
		},
	},
	"prune.max_age": {
		get: func(c *Config) string { return c.Prune.MaxAge },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for prune.max_age: %w", err)
			}
			c.Prune.MaxAge = v
			return nil
		},
	},
}
