// Package memory provides an in-process HostStore for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/host-inventory/internal/id/uuid"
	"github.com/JakeFAU/host-inventory/internal/inventory"
)

// HostStore keeps host documents in insertion order. Like the persistent
// backends it does not enforce hostname uniqueness; lookups return the
// first document inserted for a hostname.
type HostStore struct {
	mu    sync.RWMutex
	ids   inventory.IDGenerator
	order []string
	docs  map[string]inventory.HostRecord
}

// NewHostStore creates an empty store. A nil generator selects UUIDv7 IDs.
func NewHostStore(ids inventory.IDGenerator) *HostStore {
	if ids == nil {
		ids = uuid.New()
	}
	return &HostStore{
		ids:  ids,
		docs: make(map[string]inventory.HostRecord),
	}
}

// FindByHostname returns the first document whose hostname matches exactly.
func (s *HostStore) FindByHostname(_ context.Context, hostname string) (inventory.StoredHost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if rec := s.docs[id]; rec.Hostname == hostname {
			return inventory.StoredHost{ID: id, Record: rec.Clone()}, nil
		}
	}
	return inventory.StoredHost{}, inventory.ErrNotFound
}

// Insert adds a new document.
func (s *HostStore) Insert(_ context.Context, record inventory.HostRecord) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("insert host: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, id)
	s.docs[id] = record.Clone()
	return nil
}

// Replace overwrites the document stored under id.
func (s *HostStore) Replace(_ context.Context, id string, record inventory.HostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("replace host %s: %w", id, inventory.ErrNotFound)
	}
	s.docs[id] = record.Clone()
	return nil
}

// List returns every stored document in insertion order.
func (s *HostStore) List() []inventory.StoredHost {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.StoredHost, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, inventory.StoredHost{ID: id, Record: s.docs[id].Clone()})
	}
	return out
}
