package vault

import (
	"fmt"
	"strings"
)

// FormatURI renders the canonical object URI: scheme://bucket/key.
func FormatURI(scheme, bucket, key string) string {
	return scheme + "://" + bucket + "/" + key
}

// ParseURI splits a scheme://bucket/key URI into its parts. Every part must
// be non-empty; anything else is ErrInvalidArgument.
func ParseURI(uri string) (scheme, bucket, key string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return "", "", "", fmt.Errorf("%w: uri %q has no scheme", ErrInvalidArgument, uri)
	}

	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", "", fmt.Errorf("%w: uri %q needs scheme://bucket/key", ErrInvalidArgument, uri)
	}

	return scheme, bucket, key, nil
}
