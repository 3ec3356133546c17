// Package session holds the single in-memory identity slot and its persistent mirror.
package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/and161185/toollink/internal/errs"
	"github.com/and161185/toollink/internal/model"
	"github.com/and161185/toollink/internal/store"
)

// Store is the current identity. Only the auth manager writes it; everyone else reads.
type Store struct {
	kv store.Storage

	mu  sync.RWMutex
	cur *model.Identity
}

// NewStore returns an empty slot mirrored into kv under store.KeyUser.
func NewStore(kv store.Storage) *Store {
	return &Store{kv: kv}
}

// Set overwrites the slot. A non-nil identity is also written to storage;
// Set(nil) leaves storage untouched.
func (s *Store) Set(id *model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur = id.Clone()
	if id == nil {
		return nil
	}
	b, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if prev, ok, err := s.kv.Get(store.KeyUser); err == nil && ok && prev == string(b) {
		return nil
	}
	return s.kv.Set(store.KeyUser, string(b))
}

// Get returns the current identity or nil. It never fails.
func (s *Store) Get() *model.Identity {
	id, _ := s.Load()
	return id
}

// Load is Get with the reason for a nil result. Corrupt entries are left in place.
func (s *Store) Load() (*model.Identity, error) {
	s.mu.RLock()
	cur := s.cur
	s.mu.RUnlock()
	if cur != nil {
		return cur.Clone(), nil
	}

	id, err := s.Persisted()
	if err != nil || id == nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		s.cur = id
	}
	return s.cur.Clone(), nil
}

// Persisted parses the storage mirror without touching the in-memory slot.
func (s *Store) Persisted() (*model.Identity, error) {
	raw, ok, err := s.kv.Get(store.KeyUser)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", store.KeyUser, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var id model.Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrCorruptPersistedState, store.KeyUser, err)
	}
	if id.ID == "" && id.Role == "" {
		return nil, fmt.Errorf("%w: %s: empty identity", errs.ErrCorruptPersistedState, store.KeyUser)
	}
	return &id, nil
}

// InMemory returns the slot content without the lazy restore.
func (s *Store) InMemory() *model.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Clone()
}

// Raw reports whether the user key holds anything, parseable or not.
func (s *Store) Raw() bool {
	raw, ok, err := s.kv.Get(store.KeyUser)
	return err == nil && ok && raw != ""
}
