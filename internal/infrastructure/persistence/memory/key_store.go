// Package memory provides an in-process KeyStore.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/pkg/constants"
)

type recordKey struct {
	kind constants.KeyKind
	tag  string
}

// KeyStore keeps key records in a map guarded by a mutex. The existence check and the
// insert in Put happen under one lock.
type KeyStore struct {
	mu      sync.RWMutex
	records map[recordKey]*models.StoredKey
}

// NewKeyStore creates an empty in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		records: make(map[recordKey]*models.StoredKey),
	}
}

// Put stores a copy of rec unless the (kind, tag) pair is taken.
func (s *KeyStore) Put(ctx context.Context, rec *models.StoredKey) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	k := recordKey{kind: rec.Kind, tag: string(rec.Tag)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[k]; ok {
		return repository.ErrTagExists
	}
	s.records[k] = rec.Clone()
	return nil
}

// Get returns a copy of the record for (kind, tag).
func (s *KeyStore) Get(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{kind: kind, tag: string(tag)}]
	if !ok {
		return nil, repository.ErrKeyNotFound
	}
	return rec.Clone(), nil
}

// Delete removes the record for (kind, tag) and zeroes its material.
func (s *KeyStore) Delete(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	k := recordKey{kind: kind, tag: string(tag)}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[k]
	if !ok {
		return repository.ErrKeyNotFound
	}
	rec.ZeroMaterial()
	delete(s.records, k)
	return nil
}

// Len returns the number of stored records.
func (s *KeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ repository.KeyStore = (*KeyStore)(nil)
