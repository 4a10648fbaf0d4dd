// Package tagging derives opaque searchable labels from the owner's tag
// secret. A tag lets the storage layer filter items by category without ever
// learning the category name: the backend only sees HMAC output. Generation
// is a pure function of (secret, category, optional time bucket) — rotating
// the secret is the only way to revoke issued tags.
package tagging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/identity"
)

// tagMessagePrefix versions the tag derivation so a future scheme change
// cannot collide with tags issued under this one.
const tagMessagePrefix = "cumdach/tag/v1|"

// timeBucketLayout is the coarse bucket mixed into time-bound tags. Monthly
// buckets rotate tags naturally without a secret rotation, bounding the
// blast radius of a leaked tag to one month.
const timeBucketLayout = "2006-01"

// Tag is an opaque 32-byte category label. It carries no type information
// by the time it reaches a storage backend.
type Tag [32]byte

// Hex returns the lowercase hex encoding used at storage boundaries.
func (t Tag) Hex() string {
	return hex.EncodeToString(t[:])
}

// IsZero reports whether the tag holds no material.
func (t Tag) IsZero() bool {
	return t == Tag{}
}

// ParseTag decodes a hex tag string produced by Hex.
func ParseTag(s string) (Tag, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Tag{}, fmt.Errorf("%w: tag is not hex: %v", ErrInvalidArgument, err)
	}

	if len(raw) != len(Tag{}) {
		return Tag{}, fmt.Errorf("%w: tag has %d bytes, want %d", ErrInvalidArgument, len(raw), len(Tag{}))
	}

	var tag Tag
	copy(tag[:], raw)
	return tag, nil
}

// SharedTag packages one category's tag for handing to a third party, e.g.
// a reviewing clinician. The holder can query exactly that category's items
// and nothing else.
type SharedTag struct {
	Category  healthdata.Category `json:"category"`
	Tag       string              `json:"tag"`
	UsageNote string              `json:"usage_note"`
}

// Generator derives tags under one user secret.
type Generator struct {
	secret identity.UserSecret
}

// NewGenerator creates a Generator for the given secret.
func NewGenerator(secret identity.UserSecret) (*Generator, error) {
	if secret.IsZero() {
		return nil, fmt.Errorf("%w: zero user secret", ErrInvalidArgument)
	}

	return &Generator{secret: secret}, nil
}

// Generate derives the tag for one category: HMAC-SHA256 keyed by the user
// secret over the versioned category message. Identical inputs always yield
// identical output.
func (g *Generator) Generate(category healthdata.Category) (Tag, error) {
	if !category.Valid() {
		return Tag{}, fmt.Errorf("%w: empty category", ErrInvalidArgument)
	}

	return g.mac(tagMessagePrefix + category.String()), nil
}

// GenerateAll derives tags for every given category.
func (g *Generator) GenerateAll(categories []healthdata.Category) (map[healthdata.Category]Tag, error) {
	tags := make(map[healthdata.Category]Tag, len(categories))
	for _, category := range categories {
		tag, err := g.Generate(category)
		if err != nil {
			return nil, err
		}
		tags[category] = tag
	}

	return tags, nil
}

// TimeBound derives a tag that additionally mixes in the UTC year-month
// bucket of ts. Items tagged in different months get different tags under
// the same secret.
func (g *Generator) TimeBound(category healthdata.Category, ts time.Time) (Tag, error) {
	if !category.Valid() {
		return Tag{}, fmt.Errorf("%w: empty category", ErrInvalidArgument)
	}
	if ts.IsZero() {
		return Tag{}, fmt.Errorf("%w: zero timestamp", ErrInvalidArgument)
	}

	bucket := ts.UTC().Format(timeBucketLayout)
	return g.mac(tagMessagePrefix + category.String() + "|" + bucket), nil
}

// Share wraps a category's tag for a third party.
func (g *Generator) Share(category healthdata.Category) (SharedTag, error) {
	tag, err := g.Generate(category)
	if err != nil {
		return SharedTag{}, err
	}

	return SharedTag{
		Category: category,
		Tag:      tag.Hex(),
		UsageNote: "Matches only items the owner stored under this category. " +
			"It reveals no category name and stops matching once the owner rotates their secret.",
	}, nil
}

func (g *Generator) mac(message string) Tag {
	m := hmac.New(sha256.New, g.secret.Secret[:])
	m.Write([]byte(message))

	var tag Tag
	copy(tag[:], m.Sum(nil))
	return tag
}
