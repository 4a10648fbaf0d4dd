package vault

import "errors"

var (
	// ErrInvalidArgument is returned for malformed input: an empty owner or
	// payload coordinate, a zero key, or a URI that does not parse.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when the URI names no stored object.
	ErrNotFound = errors.New("object not found")

	// ErrIntegrityMismatch is returned when stored bytes do not hash to the
	// expected content hash, or when decryption authentication fails. It is
	// fatal: callers must surface it, never auto-correct.
	ErrIntegrityMismatch = errors.New("content integrity mismatch")

	// ErrEncryptionFailure is returned when sealing a payload fails.
	ErrEncryptionFailure = errors.New("payload encryption failed")

	// ErrBackendUnavailable is returned for network and remote-side
	// failures. It is the only retryable error in the taxonomy.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrQuotaExceeded is returned when the backend refuses a write for
	// capacity reasons. Not retryable: prune stale items or raise the
	// bucket quota, then try again.
	ErrQuotaExceeded = errors.New("storage quota exceeded: prune stale items or raise the bucket quota")
)
