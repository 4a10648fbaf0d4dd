package config

const (
	defaultBackend = "sqlite"

	defaultKeyfile = "identity.key"

	defaultCacheMaxEntries = 512
	defaultCacheMaxAge     = "24h"

	// 90 days; health exports churn slowly enough that anything older
	// has been superseded several times over.
	defaultPruneMaxAge = "2160h"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
//
// The S3 section carries no defaults: when those fields stay empty the
// AWS SDK's own resolution chain (env, shared config) applies.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Backend: defaultBackend,
		},
		Identity: IdentityConfig{
			Keyfile: defaultKeyfile,
		},
		Cache: CacheConfig{
			MaxEntries: defaultCacheMaxEntries,
			MaxAge:     defaultCacheMaxAge,
		},
		Prune: PruneConfig{
			MaxAge: defaultPruneMaxAge,
		},
	}
}
