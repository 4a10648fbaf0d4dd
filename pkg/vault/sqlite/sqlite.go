// Package sqlite backs a vault with a single-file SQLite database. Payloads
// and metadata live in one objects table, so a laptop or an air-gapped
// machine gets full store semantics without a service running.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/vault"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Backend implements vault.Backend on a local SQLite file. Lock contention
// is absorbed by a busy timeout rather than surfacing as unavailability, so
// the only taxonomy error a caller sees from here is vault.ErrNotFound.
type Backend struct {
	db     *sql.DB
	bucket string
}

// NewBackend opens (or creates) the database at path and migrates the
// schema. The bucket name is the database filename without its extension.
// Use ":memory:" for throwaway databases in tests.
func NewBackend(ctx context.Context, path string) (*Backend, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", vault.ErrInvalidArgument)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids lock churn and
	// keeps ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Backend{db: db, bucket: bucketName(path)}, nil
}

func migrate(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	return nil
}

// Close releases the database handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) Put(ctx context.Context, key string, data []byte, obj vault.Object) error {
	meta, err := encodeUserMetadata(obj.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO objects
			(key, owner, data_type, tag, content_hash, size, durable, metadata, payload, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		key, obj.Owner, string(obj.DataType), obj.Tag, obj.ContentHash,
		int64(len(data)), boolToInt(obj.Durable), meta, data, obj.UploadedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting object: %w", err)
	}

	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, vault.Object, error) {
	query := `
		SELECT owner, data_type, tag, content_hash, size, durable, metadata, payload, uploaded_at
		FROM objects
		WHERE key = ?
	`

	var (
		obj      = vault.Object{Key: key}
		dataType string
		durable  int
		meta     string
		payload  []byte
		nanos    int64
	)
	err := b.db.QueryRowContext(ctx, query, key).Scan(
		&obj.Owner, &dataType, &obj.Tag, &obj.ContentHash, &obj.Size,
		&durable, &meta, &payload, &nanos,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, vault.Object{}, fmt.Errorf("%w: %s", vault.ErrNotFound, key)
	case err != nil:
		return nil, vault.Object{}, fmt.Errorf("selecting object: %w", err)
	}

	obj.DataType = healthdata.DataType(dataType)
	obj.Durable = durable != 0
	obj.UploadedAt = time.Unix(0, nanos).UTC()
	if err := decodeUserMetadata(meta, &obj.Metadata); err != nil {
		return nil, vault.Object{}, err
	}

	return payload, obj, nil
}

func (b *Backend) Head(ctx context.Context, key string) (vault.Object, error) {
	query := `
		SELECT owner, data_type, tag, content_hash, size, durable, metadata, uploaded_at
		FROM objects
		WHERE key = ?
	`

	var (
		obj      = vault.Object{Key: key}
		dataType string
		durable  int
		meta     string
		nanos    int64
	)
	err := b.db.QueryRowContext(ctx, query, key).Scan(
		&obj.Owner, &dataType, &obj.Tag, &obj.ContentHash, &obj.Size,
		&durable, &meta, &nanos,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return vault.Object{}, fmt.Errorf("%w: %s", vault.ErrNotFound, key)
	case err != nil:
		return vault.Object{}, fmt.Errorf("selecting object metadata: %w", err)
	}

	obj.DataType = healthdata.DataType(dataType)
	obj.Durable = durable != 0
	obj.UploadedAt = time.Unix(0, nanos).UTC()
	if err := decodeUserMetadata(meta, &obj.Metadata); err != nil {
		return vault.Object{}, err
	}

	return obj, nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]vault.Object, error) {
	query := `
		SELECT key, owner, data_type, tag, content_hash, size, durable, metadata, uploaded_at
		FROM objects
		WHERE key LIKE ? ESCAPE '\'
		ORDER BY key
	`

	rows, err := b.db.QueryContext(ctx, query, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	defer rows.Close()

	var objects []vault.Object
	for rows.Next() {
		var (
			obj      vault.Object
			dataType string
			durable  int
			meta     string
			nanos    int64
		)
		err := rows.Scan(
			&obj.Key, &obj.Owner, &dataType, &obj.Tag, &obj.ContentHash,
			&obj.Size, &durable, &meta, &nanos,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning object row: %w", err)
		}

		obj.DataType = healthdata.DataType(dataType)
		obj.Durable = durable != 0
		obj.UploadedAt = time.Unix(0, nanos).UTC()
		if err := decodeUserMetadata(meta, &obj.Metadata); err != nil {
			return nil, err
		}

		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating object rows: %w", err)
	}

	return objects, nil
}

// Delete removes the object at key, reporting vault.ErrNotFound when no
// row matched.
func (b *Backend) Delete(ctx context.Context, key string) error {
	result, err := b.db.ExecContext(ctx, `DELETE FROM objects WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", vault.ErrNotFound, key)
	}

	return nil
}

func (b *Backend) Scheme() string {
	return "sqlite"
}

func (b *Backend) Bucket() string {
	return b.bucket
}

func bucketName(path string) string {
	if path == ":memory:" {
		return "memory"
	}

	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// likePrefix escapes LIKE metacharacters so arbitrary owner strings cannot
// widen a prefix scan.
func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}

func encodeUserMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: encoding user metadata: %v", vault.ErrInvalidArgument, err)
	}

	return string(encoded), nil
}

func decodeUserMetadata(raw string, into *map[string]string) error {
	if raw == "" {
		return nil
	}

	if err := json.Unmarshal([]byte(raw), into); err != nil {
		return fmt.Errorf("decoding user metadata: %w", err)
	}

	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
