// Package memstore keeps state in process memory. It is not durable, so the
// JSON store built on it refuses safety operations.
package memstore

import (
	"context"
	"sync"

	"github.com/vadiminshakov/auction/internal/storage"
)

// Backend in-memory storage.Backend.
type Backend struct {
	mu     sync.RWMutex
	values map[string][]byte
	lists  map[string][][]byte
	hashes map[string]map[string][]byte
}

var _ storage.Backend = (*Backend)(nil)

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{
		values: make(map[string][]byte),
		lists:  make(map[string][][]byte),
		hashes: make(map[string]map[string][]byte),
	}
}

// New returns a JSON store over a fresh in-memory backend.
func New() *storage.JSONStore {
	return storage.NewJSONStore(NewBackend())
}

func (b *Backend) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	b.values[key] = clone(value)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(v), nil
}

func (b *Backend) Append(_ context.Context, key string, value []byte, limit int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := append(b.lists[key], clone(value))
	if limit > 0 && len(list) > limit {
		list = append([][]byte(nil), list[len(list)-limit:]...)
	}
	b.lists[key] = list
	return nil
}

func (b *Backend) Range(_ context.Context, key string, n int) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	list := b.lists[key]
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	out := make([][]byte, len(list))
	for i, v := range list {
		out[i] = clone(v)
	}
	return out, nil
}

func (b *Backend) PutField(_ context.Context, key, field string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		b.hashes[key] = h
	}
	h[field] = clone(value)
	return nil
}

func (b *Backend) Fields(_ context.Context, key string) (map[string][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string][]byte, len(b.hashes[key]))
	for f, v := range b.hashes[key] {
		out[f] = clone(v)
	}
	return out, nil
}

// Durable is always false.
func (b *Backend) Durable() bool { return false }

func (b *Backend) Close() error { return nil }

func clone(v []byte) []byte {
	return append([]byte(nil), v...)
}
