package memstore

import (
	"context"
	"sync"

	"github.com/rekapu/go-rekapu/service/persist"
)

// Store is an in-memory implementation of persist.Store backed by nested
// maps. It is the default backend for tests and local runs.
type Store struct {
	mu    sync.RWMutex
	colls map[persist.Collection]map[string][]byte
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		colls: map[persist.Collection]map[string][]byte{},
	}
}

// Get returns the value stored under a key
func (s *Store) Get(ctx context.Context, coll persist.Collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.colls[coll]
	if !ok {
		return nil, persist.ErrKeyNotFound{Collection: coll, Key: key}
	}
	value, ok := entries[key]
	if !ok {
		return nil, persist.ErrKeyNotFound{Collection: coll, Key: key}
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a value under a key, creating the collection if needed
func (s *Store) Set(ctx context.Context, coll persist.Collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.colls[coll]
	if !ok {
		entries = map[string][]byte{}
		s.colls[coll] = entries
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	entries[key] = cp
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, coll persist.Collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entries, ok := s.colls[coll]; ok {
		delete(entries, key)
	}
	return nil
}

// GetAll returns a copy of every entry in a collection
func (s *Store) GetAll(ctx context.Context, coll persist.Collection) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.colls[coll]
	out := make(map[string][]byte, len(entries))
	for k, v := range entries {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out, nil
}
