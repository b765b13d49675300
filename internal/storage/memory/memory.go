// Package memory is the default, process-local inventory store.
package memory

import (
	"context"
	"sync"

	"github.com/goodtune/licensewatch/internal/license"
	"github.com/goodtune/licensewatch/internal/storage"
)

// Store implements storage.Store in memory.
type Store struct {
	inventory *inventoryStore
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{inventory: &inventoryStore{}}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Inventory returns the InventoryStore implementation
func (s *Store) Inventory() storage.InventoryStore {
	return s.inventory
}

type inventoryStore struct {
	mu   sync.RWMutex
	pass *storage.Pass
}

func (s *inventoryStore) Publish(_ context.Context, pass storage.Pass) error {
	p := pass
	p.Tools = append([]string(nil), pass.Tools...)
	p.Features = append([]license.Feature(nil), pass.Features...)

	s.mu.Lock()
	s.pass = &p
	s.mu.Unlock()
	return nil
}

func (s *inventoryStore) Latest(_ context.Context) (*storage.Pass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pass == nil {
		return nil, storage.ErrNotFound
	}
	p := *s.pass
	p.Tools = append([]string(nil), s.pass.Tools...)
	p.Features = append([]license.Feature(nil), s.pass.Features...)
	return &p, nil
}

func (s *inventoryStore) Tool(_ context.Context, tool string) ([]license.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pass == nil {
		return nil, storage.ErrNotFound
	}
	features := []license.Feature{}
	for _, f := range s.pass.Features {
		if f.Tool == tool {
			features = append(features, f)
		}
	}
	return features, nil
}
