package policy

import (
	"context"
	"errors"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
)

// GuardedStore enforces each record's access policy at the store boundary: Get is checked
// as a resolve and Delete as a delete. Protected records are not returned while the
// custody context is locked.
type GuardedStore struct {
	inner repository.KeyStore
	gate  service.AccessGate
}

// NewGuardedStore wraps inner with gate.
func NewGuardedStore(inner repository.KeyStore, gate service.AccessGate) *GuardedStore {
	return &GuardedStore{inner: inner, gate: gate}
}

func (s *GuardedStore) Put(ctx context.Context, key *models.StoredKey) error {
	return s.inner.Put(ctx, key)
}

func (s *GuardedStore) Get(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error) {
	rec, err := s.inner.Get(ctx, kind, tag)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(ctx, rec.Kind, rec.Policy, constants.OpResolve); err != nil {
		rec.ZeroMaterial()
		return nil, err
	}
	return rec, nil
}

// GetMetadata returns the record without material. It is not gated.
func (s *GuardedStore) GetMetadata(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error) {
	return repository.Metadata(ctx, s.inner, kind, tag)
}

// Delete checks the record's policy without decoding its material. A record whose metadata
// cannot be decoded either is held to constants.AccessWhenUnlocked.
func (s *GuardedStore) Delete(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) error {
	policy := constants.AccessWhenUnlocked
	rec, err := repository.Metadata(ctx, s.inner, kind, tag)
	switch {
	case errors.Is(err, repository.ErrCorruptRecord):
	case err != nil:
		return err
	default:
		policy = rec.Policy
	}
	if err := s.gate.Check(ctx, kind, policy, constants.OpDelete); err != nil {
		return err
	}
	return s.inner.Delete(ctx, kind, tag)
}

var (
	_ repository.KeyStore       = (*GuardedStore)(nil)
	_ repository.MetadataReader = (*GuardedStore)(nil)
)
