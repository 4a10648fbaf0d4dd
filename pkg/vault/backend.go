package vault

import (
	"context"
	"time"

	"github.com/amach-health/cumdach/pkg/healthdata"
)

// Object is one stored blob's backend-side record: its key, the stored
// bytes' hash, and the reference metadata carried alongside. The tag is
// opaque hex by the time it reaches a backend; no backend ever sees a
// category name.
type Object struct {
	Key         string
	Size        int64
	UploadedAt  time.Time
	Owner       string
	DataType    healthdata.DataType
	Tag         string
	ContentHash string
	Durable     bool
	Metadata    map[string]string
}

// Backend is the boundary to a concrete object store: PUT/GET/LIST/DELETE
// over scheme://bucket/key. Implementations map their native failures onto
// the package error taxonomy — ErrNotFound, ErrBackendUnavailable,
// ErrQuotaExceeded — so the Vault can decide what is retryable.
//
// Backends must make individual object writes atomic; the Vault relies on
// that in place of cross-object transactions.
type Backend interface {
	// Put stores data under key together with its metadata. Re-putting
	// identical bytes under the same key is a no-op overwrite.
	Put(ctx context.Context, key string, data []byte, obj Object) error

	// Get returns the stored bytes and metadata for key.
	Get(ctx context.Context, key string) ([]byte, Object, error)

	// Head returns the metadata for key without fetching the payload.
	Head(ctx context.Context, key string) (Object, error)

	// List returns the metadata of every object whose key starts with
	// prefix. Order is backend-defined.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes the object at key. Irreversible. Backends that can
	// cheaply detect a missing key return ErrNotFound for it.
	Delete(ctx context.Context, key string) error

	// Scheme names the backend's URI scheme (e.g. "s3", "sqlite", "mem").
	Scheme() string

	// Bucket names the container object keys live in.
	Bucket() string
}
