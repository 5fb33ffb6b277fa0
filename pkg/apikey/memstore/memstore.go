// Package memstore is the in-memory apikey.Store, used by the zero-config
// default wiring and in tests.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/benthamhq/bentham/pkg/apikey"
)

// Store is an in-memory apikey.Store guarded by a single RWMutex.
type Store struct {
	mu   sync.RWMutex
	keys map[string]*apikey.ApiKey // hash -> key
}

// New returns an empty Store.
func New() *Store {
	return &Store{keys: make(map[string]*apikey.ApiKey)}
}

func (s *Store) Create(ctx context.Context, k *apikey.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.keys[k.KeyHash] = &cp
	return nil
}

func (s *Store) FindByHash(ctx context.Context, hash string) (*apikey.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[hash]
	if !ok {
		return nil, apikey.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *Store) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*apikey.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*apikey.ApiKey
	for _, k := range s.keys {
		if k.TenantID == tenantID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) Revoke(ctx context.Context, tenantID, keyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, k := range s.keys {
		if k.TenantID == tenantID && k.ID == keyID {
			delete(s.keys, hash)
			return nil
		}
	}
	return apikey.ErrNotFound
}

var _ apikey.Store = (*Store)(nil)
