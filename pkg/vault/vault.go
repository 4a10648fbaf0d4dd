// Package vault stores encrypted payloads addressed by content hash. It
// seals each payload with the owner's derived key, hashes the ciphertext,
// and hands the bytes to a pluggable Backend; retrieval re-hashes what came
// back before decrypting, so silent corruption cannot pass. Listing and
// pruning work on reference metadata alone and never need a key.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sethvargo/go-retry"

	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/identity"
	"github.com/amach-health/cumdach/pkg/tagging"
)

const (
	// keyPrefix roots every object key: owners/<owner>/<data-type>/<name>.
	keyPrefix = "owners"

	defaultAttempts  = 3
	defaultBaseDelay = 200 * time.Millisecond
)

// Vault coordinates encryption, hashing, and backend IO for one bucket.
// Safe for concurrent use as long as the Backend is.
type Vault struct {
	backend   Backend
	logger    *slog.Logger
	attempts  uint64
	baseDelay time.Duration
	now       func() time.Time
	meta      *expirable.LRU[string, Reference]
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger overrides the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
	}
}

// WithRetry bounds retries for ErrBackendUnavailable: attempts is the total
// number of tries including the first, base the initial backoff delay.
func WithRetry(attempts int, base time.Duration) Option {
	return func(v *Vault) {
		if attempts > 0 {
			v.attempts = uint64(attempts)
		}
		if base > 0 {
			v.baseDelay = base
		}
	}
}

// WithMetadataCache caches references by URI in an expiring LRU, sparing
// repeated Head calls. References are immutable, so staleness is bounded by
// out-of-band deletes; local deletes invalidate immediately.
func WithMetadataCache(size int, ttl time.Duration) Option {
	return func(v *Vault) {
		if size > 0 {
			v.meta = expirable.NewLRU[string, Reference](size, nil, ttl)
		}
	}
}

// WithClock overrides the time source used for upload stamps.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// New creates a Vault over backend.
func New(backend Backend, opts ...Option) (*Vault, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidArgument)
	}

	v := &Vault{
		backend:   backend,
		logger:    slog.Default(),
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// StoreOptions carry the logical coordinates of a stored payload.
type StoreOptions struct {
	// DataType partitions objects for listing and pruning. Required.
	DataType healthdata.DataType

	// Tag attaches an opaque search label. Optional.
	Tag *tagging.Tag

	// Metadata is free-form user metadata carried on the object.
	Metadata map[string]string

	// Durable exempts the object from pruning regardless of age.
	Durable bool
}

// Store seals payload with the owner's key, hashes the ciphertext, and
// uploads it under a freshly minted key. The Reference is returned only
// after the backend confirms the write; an aborted or failed upload leaves
// nothing referenced. The object key is minted once per call, so retries
// re-put identical bytes to the identical path.
func (v *Vault) Store(ctx context.Context, payload []byte, owner string, key identity.EncryptionKey, opts StoreOptions) (Reference, error) {
	if owner == "" {
		return Reference{}, fmt.Errorf("%w: empty owner", ErrInvalidArgument)
	}
	if !opts.DataType.Valid() {
		return Reference{}, fmt.Errorf("%w: empty data type", ErrInvalidArgument)
	}
	if len(payload) == 0 {
		return Reference{}, fmt.Errorf("%w: empty payload", ErrInvalidArgument)
	}

	sealed, err := seal(key, payload)
	if err != nil {
		return Reference{}, err
	}

	now := v.now().UTC()
	contentHash := HashBytes(sealed)

	obj := Object{
		Key:         objectKey(owner, opts.DataType, contentHash, now),
		Size:        int64(len(sealed)),
		UploadedAt:  now,
		Owner:       owner,
		DataType:    opts.DataType,
		ContentHash: contentHash,
		Durable:     opts.Durable,
		Metadata:    copyMetadata(opts.Metadata),
	}
	if opts.Tag != nil {
		obj.Tag = opts.Tag.Hex()
	}

	err = v.withRetry(ctx, "put", func(ctx context.Context) error {
		return v.backend.Put(ctx, obj.Key, sealed, obj)
	})
	if err != nil {
		return Reference{}, fmt.Errorf("storing object: %w", err)
	}

	ref := referenceFromObject(v.backend.Scheme(), v.backend.Bucket(), obj)
	v.cacheReference(ref)

	v.logger.Debug("stored object", "uri", ref.URI, "size", ref.Size, "type", ref.DataType)

	return ref, nil
}

// RetrieveResult is one verified, decrypted download.
type RetrieveResult struct {
	// Data is the decrypted payload.
	Data []byte

	// ContentHash is recomputed over the fetched stored bytes.
	ContentHash string

	// Verified reports that the recomputed hash matched the expected one.
	// Retrieve never returns an unverified result without an error.
	Verified bool

	// Reference describes the object as the backend reported it.
	Reference Reference
}

type retrieveConfig struct {
	expectedHash string
}

// RetrieveOption configures a single Retrieve call.
type RetrieveOption func(*retrieveConfig)

// WithExpectedHash checks the fetched bytes against a caller-held hash
// instead of the backend's stored metadata hash.
func WithExpectedHash(hash string) RetrieveOption {
	return func(c *retrieveConfig) {
		c.expectedHash = hash
	}
}

// Retrieve downloads the object at uri, re-hashes the stored bytes, and
// decrypts. A hash disagreement or an authentication failure surfaces as
// ErrIntegrityMismatch; there is no unverified success path.
func (v *Vault) Retrieve(ctx context.Context, uri string, key identity.EncryptionKey, opts ...RetrieveOption) (RetrieveResult, error) {
	var cfg retrieveConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	objKey, err := v.keyFor(uri)
	if err != nil {
		return RetrieveResult{}, err
	}

	var (
		data []byte
		obj  Object
	)
	err = v.withRetry(ctx, "get", func(ctx context.Context) error {
		var err error
		data, obj, err = v.backend.Get(ctx, objKey)
		return err
	})
	if err != nil {
		return RetrieveResult{}, fmt.Errorf("retrieving %s: %w", uri, err)
	}

	recomputed := HashBytes(data)

	expected := cfg.expectedHash
	if expected == "" {
		expected = obj.ContentHash
	}
	if expected != "" && recomputed != expected {
		return RetrieveResult{ContentHash: recomputed}, fmt.Errorf(
			"%w: %s stored bytes hash to %s, expected %s", ErrIntegrityMismatch, uri, recomputed, expected)
	}

	plaintext, err := open(key, data)
	if err != nil {
		return RetrieveResult{ContentHash: recomputed}, fmt.Errorf("decrypting %s: %w", uri, err)
	}

	ref := referenceFromObject(v.backend.Scheme(), v.backend.Bucket(), obj)
	v.cacheReference(ref)

	return RetrieveResult{
		Data:        plaintext,
		ContentHash: recomputed,
		Verified:    true,
		Reference:   ref,
	}, nil
}

// Update re-stores payload under prev's logical coordinates: same owner,
// data type, tag, durability, and metadata. The previous object is
// superseded, never mutated; pruning collects it later.
func (v *Vault) Update(ctx context.Context, prev Reference, payload []byte, key identity.EncryptionKey) (Reference, error) {
	if prev.Owner == "" || !prev.DataType.Valid() {
		return Reference{}, fmt.Errorf("%w: reference missing owner or data type", ErrInvalidArgument)
	}

	opts := StoreOptions{
		DataType: prev.DataType,
		Metadata: prev.Metadata,
		Durable:  prev.Durable,
	}
	if prev.Tag != "" {
		tag, err := tagging.ParseTag(prev.Tag)
		if err != nil {
			return Reference{}, fmt.Errorf("%w: reference tag: %v", ErrInvalidArgument, err)
		}
		opts.Tag = &tag
	}

	return v.Store(ctx, payload, prev.Owner, key, opts)
}

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	// DataType restricts the listing to one partition.
	DataType healthdata.DataType

	// Tag keeps only objects carrying this opaque tag. Matching happens on
	// backend metadata; the backend never learns what the tag represents.
	Tag *tagging.Tag
}

// List enumerates the owner's references, newest first.
func (v *Vault) List(ctx context.Context, owner string, filter Filter) ([]Reference, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrInvalidArgument)
	}

	prefix := path.Join(keyPrefix, owner) + "/"
	if filter.DataType != "" {
		prefix = path.Join(keyPrefix, owner, string(filter.DataType)) + "/"
	}

	var objects []Object
	err := v.withRetry(ctx, "list", func(ctx context.Context) error {
		var err error
		objects, err = v.backend.List(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing objects for %s: %w", owner, err)
	}

	var wantTag string
	if filter.Tag != nil {
		wantTag = filter.Tag.Hex()
	}

	refs := make([]Reference, 0, len(objects))
	for _, obj := range objects {
		if wantTag != "" && obj.Tag != wantTag {
			continue
		}
		refs = append(refs, referenceFromObject(v.backend.Scheme(), v.backend.Bucket(), obj))
	}

	slices.SortFunc(refs, func(a, b Reference) int {
		return b.UploadedAt.Compare(a.UploadedAt)
	})

	return refs, nil
}

// Exists reports whether uri names a stored object.
func (v *Vault) Exists(ctx context.Context, uri string) (bool, error) {
	objKey, err := v.keyFor(uri)
	if err != nil {
		return false, err
	}

	if v.meta != nil {
		if _, ok := v.meta.Get(uri); ok {
			return true, nil
		}
	}

	var obj Object
	err = v.withRetry(ctx, "head", func(ctx context.Context) error {
		var err error
		obj, err = v.backend.Head(ctx, objKey)
		return err
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("checking %s: %w", uri, err)
	}

	v.cacheReference(referenceFromObject(v.backend.Scheme(), v.backend.Bucket(), obj))

	return true, nil
}

// Delete removes the object at uri. Irreversible.
func (v *Vault) Delete(ctx context.Context, uri string) error {
	objKey, err := v.keyFor(uri)
	if err != nil {
		return err
	}

	err = v.withRetry(ctx, "delete", func(ctx context.Context) error {
		return v.backend.Delete(ctx, objKey)
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", uri, err)
	}

	if v.meta != nil {
		v.meta.Remove(uri)
	}

	v.logger.Debug("deleted object", "uri", uri)

	return nil
}

// VerifyIntegrity re-hashes the stored bytes at uri against expectedHash.
// Keyless: it never decrypts, so any reference holder can audit without the
// owner's key.
func (v *Vault) VerifyIntegrity(ctx context.Context, uri, expectedHash string) error {
	if expectedHash == "" {
		return fmt.Errorf("%w: empty expected hash", ErrInvalidArgument)
	}

	objKey, err := v.keyFor(uri)
	if err != nil {
		return err
	}

	var data []byte
	err = v.withRetry(ctx, "get", func(ctx context.Context) error {
		var err error
		data, _, err = v.backend.Get(ctx, objKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("verifying %s: %w", uri, err)
	}

	if recomputed := HashBytes(data); recomputed != expectedHash {
		return fmt.Errorf("%w: %s stored bytes hash to %s, expected %s",
			ErrIntegrityMismatch, uri, recomputed, expectedHash)
	}

	return nil
}

// keyFor validates that uri belongs to this vault's backend and returns the
// object key part.
func (v *Vault) keyFor(uri string) (string, error) {
	scheme, bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}

	if scheme != v.backend.Scheme() || bucket != v.backend.Bucket() {
		return "", fmt.Errorf("%w: uri %q does not belong to %s://%s",
			ErrInvalidArgument, uri, v.backend.Scheme(), v.backend.Bucket())
	}

	return key, nil
}

// withRetry runs fn with exponential backoff, retrying only
// ErrBackendUnavailable. Integrity, quota, and argument failures pass
// through on the first attempt; context cancellation aborts mid-backoff.
func (v *Vault) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(v.attempts-1, retry.NewExponential(v.baseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrBackendUnavailable) {
			v.logger.Debug("backend unavailable, retrying", "op", op, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (v *Vault) cacheReference(ref Reference) {
	if v.meta != nil {
		v.meta.Add(ref.URI, ref)
	}
}

// objectKey mints the backend key for a new object. The upload timestamp
// keeps keys unique per store call; the hash fragment makes collisions on
// identical nanoseconds impossible for differing content and keys readable
// when debugging a bucket by hand.
func objectKey(owner string, dataType healthdata.DataType, contentHash string, at time.Time) string {
	short := strings.TrimPrefix(contentHash, hashPrefix)
	if len(short) > 12 {
		short = short[:12]
	}

	return path.Join(keyPrefix, owner, string(dataType), fmt.Sprintf("%d-%s", at.UnixNano(), short))
}
