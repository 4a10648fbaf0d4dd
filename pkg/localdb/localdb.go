// Package localdb is the client-local state file: derived user secrets and
// the fingerprint cache in one bbolt database under the dot directory.
// Deleting the file is always safe; secrets re-derive and caches re-fill.
package localdb

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/amach-health/cumdach/pkg/fingerprint"
	"github.com/amach-health/cumdach/pkg/identity"
)

var (
	bucketUserSecrets  = []byte("user_secrets")
	bucketInsightCache = []byte("insight_cache")
)

// DB wraps one bbolt file and satisfies identity.SecretStore and
// fingerprint.Store.
type DB struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path with owner-only permissions
// and ensures both buckets exist. The open times out quickly so a second
// process fails fast instead of hanging on the file lock.
func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening local database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUserSecrets, bucketInsightCache} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// Close releases the file lock.
func (d *DB) Close() error {
	return d.db.Close()
}

// secretRecord is the on-disk form of a user secret. The material is hex so
// the file stays inspectable with strings(1) during debugging.
type secretRecord struct {
	Owner     string    `json:"owner"`
	Secret    string    `json:"secret"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// LoadSecret implements identity.SecretStore.
func (d *DB) LoadSecret(ctx context.Context, owner string) (identity.UserSecret, error) {
	var record secretRecord

	err := d.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUserSecrets).Get([]byte(owner))
		if data == nil {
			return identity.ErrSecretNotFound
		}
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("decoding stored secret: %w", err)
		}
		return nil
	})
	if err != nil {
		return identity.UserSecret{}, err
	}

	material, err := hex.DecodeString(record.Secret)
	if err != nil || len(material) != 32 {
		return identity.UserSecret{}, fmt.Errorf("stored secret for %s is malformed", owner)
	}

	secret := identity.UserSecret{
		Owner:     record.Owner,
		Source:    identity.Source(record.Source),
		CreatedAt: record.CreatedAt,
	}
	copy(secret.Secret[:], material)

	return secret, nil
}

// SaveSecret implements identity.SecretStore, overwriting any prior entry
// for the same owner.
func (d *DB) SaveSecret(ctx context.Context, secret identity.UserSecret) error {
	record := secretRecord{
		Owner:     secret.Owner,
		Secret:    hex.EncodeToString(secret.Secret[:]),
		Source:    string(secret.Source),
		CreatedAt: secret.CreatedAt,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding secret: %w", err)
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUserSecrets).Put([]byte(secret.Owner), data)
	})
}

// DeleteSecret implements identity.SecretStore. Deleting a missing secret
// is not an error.
func (d *DB) DeleteSecret(ctx context.Context, owner string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUserSecrets).Delete([]byte(owner))
	})
}

// SaveEntry implements fingerprint.Store.
func (d *DB) SaveEntry(ctx context.Context, entry fingerprint.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketInsightCache).Put([]byte(entry.Key), data)
	})
}

// LoadEntries implements fingerprint.Store. Undecodable values are skipped,
// not fatal: a corrupt cache entry is just a miss.
func (d *DB) LoadEntries(ctx context.Context) ([]fingerprint.Entry, error) {
	var entries []fingerprint.Entry

	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketInsightCache).ForEach(func(k, v []byte) error {
			var entry fingerprint.Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading cache entries: %w", err)
	}

	return entries, nil
}

// DeleteEntry implements fingerprint.Store.
func (d *DB) DeleteEntry(ctx context.Context, key string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketInsightCache).Delete([]byte(key))
	})
}

// ClearEntries implements fingerprint.Store.
func (d *DB) ClearEntries(ctx context.Context) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketInsightCache); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketInsightCache)
		return err
	})
}
