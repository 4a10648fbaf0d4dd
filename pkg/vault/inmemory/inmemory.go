// Package inmemory provides a map-backed vault.Backend for tests and
// ephemeral sessions. Faults can be injected — a run of unavailable calls,
// a byte quota, out-of-band corruption — to exercise the retry, quota, and
// integrity paths without a real object store.
package inmemory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/amach-health/cumdach/pkg/vault"
)

const defaultBucket = "local"

type object struct {
	data []byte
	meta vault.Object
}

// Backend implements vault.Backend over a mutex-guarded map.
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	bucket  string

	failPuts int
	failGets int
	quota    int64
	used     int64

	putCalls  int
	headCalls int
}

// NewBackend creates an empty in-memory backend. An empty bucket name
// defaults to "local".
func NewBackend(bucket string) *Backend {
	if bucket == "" {
		bucket = defaultBucket
	}

	return &Backend{
		objects: make(map[string]object),
		bucket:  bucket,
	}
}

// Put stores a copy of data under key.
func (b *Backend) Put(_ context.Context, key string, data []byte, obj vault.Object) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.putCalls++

	if b.failPuts > 0 {
		b.failPuts--
		return fmt.Errorf("put %s: %w: injected fault", key, vault.ErrBackendUnavailable)
	}

	var existing int64
	if prev, ok := b.objects[key]; ok {
		existing = int64(len(prev.data))
	}

	if b.quota > 0 && b.used-existing+int64(len(data)) > b.quota {
		return fmt.Errorf("put %s: %w", key, vault.ErrQuotaExceeded)
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	b.used += int64(len(data)) - existing
	b.objects[key] = object{data: stored, meta: obj}

	return nil
}

// Get returns a copy of the stored bytes and metadata for key.
func (b *Backend) Get(_ context.Context, key string) ([]byte, vault.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failGets > 0 {
		b.failGets--
		return nil, vault.Object{}, fmt.Errorf("get %s: %w: injected fault", key, vault.ErrBackendUnavailable)
	}

	stored, ok := b.objects[key]
	if !ok {
		return nil, vault.Object{}, fmt.Errorf("get %s: %w", key, vault.ErrNotFound)
	}

	data := make([]byte, len(stored.data))
	copy(data, stored.data)

	return data, stored.meta, nil
}

// Head returns the metadata for key.
func (b *Backend) Head(_ context.Context, key string) (vault.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.headCalls++

	stored, ok := b.objects[key]
	if !ok {
		return vault.Object{}, fmt.Errorf("head %s: %w", key, vault.ErrNotFound)
	}

	return stored.meta, nil
}

// List returns the metadata of every object whose key starts with prefix.
func (b *Backend) List(_ context.Context, prefix string) ([]vault.Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []vault.Object
	for key, stored := range b.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, stored.meta)
		}
	}

	return out, nil
}

// Delete removes the object at key, returning ErrNotFound for a missing one.
func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.objects[key]
	if !ok {
		return fmt.Errorf("delete %s: %w", key, vault.ErrNotFound)
	}

	b.used -= int64(len(stored.data))
	delete(b.objects, key)

	return nil
}

// Scheme returns "mem".
func (b *Backend) Scheme() string {
	return "mem"
}

// Bucket returns the configured bucket name.
func (b *Backend) Bucket() string {
	return b.bucket
}

// Len returns the number of stored objects.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.objects)
}

// PutCalls returns how many Put attempts the backend has seen, counting
// injected failures.
func (b *Backend) PutCalls() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.putCalls
}

// HeadCalls returns how many Head calls the backend has seen.
func (b *Backend) HeadCalls() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.headCalls
}

// FailNextPuts makes the next n Put calls fail with ErrBackendUnavailable.
func (b *Backend) FailNextPuts(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failPuts = n
}

// FailNextGets makes the next n Get calls fail with ErrBackendUnavailable.
func (b *Backend) FailNextGets(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failGets = n
}

// SetQuota caps total stored bytes; Puts beyond it fail with
// ErrQuotaExceeded. Zero removes the cap.
func (b *Backend) SetQuota(maxBytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.quota = maxBytes
}

// Tamper mutates the stored bytes at key in place, bypassing the Backend
// contract. Tests use it to simulate out-of-band corruption.
func (b *Backend) Tamper(key string, mutate func([]byte)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.objects[key]
	if !ok {
		return false
	}

	mutate(stored.data)
	b.objects[key] = stored

	return true
}
