package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/amach-health/cumdach/pkg/healthdata"
)

// hashPrefix namespaces content hashes by algorithm.
const hashPrefix = "sha256:"

// Reference points at one stored encrypted blob. It is immutable once
// issued: re-storing under the same logical coordinates supersedes it with
// a new Reference, never mutates this one.
type Reference struct {
	URI         string              `json:"uri"`
	ContentHash string              `json:"content_hash"`
	Size        int64               `json:"size"`
	UploadedAt  time.Time           `json:"uploaded_at"`
	Owner       string              `json:"owner"`
	DataType    healthdata.DataType `json:"data_type"`
	Tag         string              `json:"tag,omitempty"`
	Durable     bool                `json:"durable,omitempty"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

// HashBytes computes the content hash over stored bytes: sha256:<hex>.
// The hash doubles as the deduplication key, which is why it is always
// taken over the (deterministic) ciphertext rather than the plaintext.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// referenceFromObject assembles the caller-facing Reference for a stored
// object on a given backend.
func referenceFromObject(scheme, bucket string, obj Object) Reference {
	return Reference{
		URI:         FormatURI(scheme, bucket, obj.Key),
		ContentHash: obj.ContentHash,
		Size:        obj.Size,
		UploadedAt:  obj.UploadedAt,
		Owner:       obj.Owner,
		DataType:    obj.DataType,
		Tag:         obj.Tag,
		Durable:     obj.Durable,
		Metadata:    copyMetadata(obj.Metadata),
	}
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}

	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
