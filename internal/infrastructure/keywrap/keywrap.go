// Package keywrap seals private and symmetric key material before it reaches a persistent
// KeyStore, using AES-256-GCM under a key-encryption key (KEK).
package keywrap

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/pkg/constants"
)

const (
	// KEKSize is the required key-encryption key length in bytes.
	KEKSize = 32

	// formatV1 prefixes every wrapped blob: version (1) || nonce (12) || ciphertext || tag (16).
	formatV1 byte = 0x01
)

var (
	// ErrInvalidKEKSize is returned when the key-encryption key is not 32 bytes.
	ErrInvalidKEKSize = errors.New("invalid key-encryption key size")

	// ErrUnwrapFailed is returned when wrapped material cannot be authenticated.
	ErrUnwrapFailed = errors.New("unwrap failed")
)

// WrappingStore decorates a KeyStore so that non-public material is stored sealed.
// The record kind and tag are bound as additional data, so a blob copied to another
// record fails to unwrap.
type WrappingStore struct {
	inner repository.KeyStore
	aead  cipher.AEAD
	rand  io.Reader
}

// NewWrappingStore creates a WrappingStore around inner.
func NewWrappingStore(inner repository.KeyStore, kek []byte) (*WrappingStore, error) {
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKEKSize, len(kek), KEKSize)
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &WrappingStore{inner: inner, aead: aead, rand: rand.Reader}, nil
}

func additionalData(kind constants.KeyKind, tag models.KeyTag) []byte {
	ad := make([]byte, 0, len(kind)+1+len(tag))
	ad = append(ad, kind...)
	ad = append(ad, 0)
	return append(ad, tag...)
}

// Wrap seals material for a (kind, tag) pair.
func (s *WrappingStore) Wrap(kind constants.KeyKind, tag models.KeyTag, material []byte) ([]byte, error) {
	out := make([]byte, 1+constants.AEADNonceSize, 1+constants.AEADNonceSize+len(material)+s.aead.Overhead())
	out[0] = formatV1
	if _, err := io.ReadFull(s.rand, out[1:]); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return s.aead.Seal(out, out[1:], material, additionalData(kind, tag)), nil
}

// Unwrap opens material sealed by Wrap.
func (s *WrappingStore) Unwrap(kind constants.KeyKind, tag models.KeyTag, blob []byte) ([]byte, error) {
	if len(blob) < 1+constants.AEADNonceSize+s.aead.Overhead() || blob[0] != formatV1 {
		return nil, ErrUnwrapFailed
	}
	nonce := blob[1 : 1+constants.AEADNonceSize]
	out, err := s.aead.Open(nil, nonce, blob[1+constants.AEADNonceSize:], additionalData(kind, tag))
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	return out, nil
}

// Put wraps non-public material and forwards the record.
func (s *WrappingStore) Put(ctx context.Context, key *models.StoredKey) error {
	if key.Kind == constants.KeyKindPublic {
		return s.inner.Put(ctx, key)
	}
	wrapped, err := s.Wrap(key.Kind, key.Tag, key.Material)
	if err != nil {
		return fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
	}
	rec := *key
	rec.Material = wrapped
	return s.inner.Put(ctx, &rec)
}

// Get fetches a record and unwraps its material.
func (s *WrappingStore) Get(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error) {
	rec, err := s.inner.Get(ctx, kind, tag)
	if err != nil || kind == constants.KeyKindPublic {
		return rec, err
	}
	plain, err := s.Unwrap(kind, tag, rec.Material)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrCorruptRecord, err)
	}
	rec.Material = plain
	return rec, nil
}

// GetMetadata returns the record without unwrapping its material, so a record sealed
// under another KEK can still be inspected and deleted.
func (s *WrappingStore) GetMetadata(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error) {
	return repository.Metadata(ctx, s.inner, kind, tag)
}

func (s *WrappingStore) Delete(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) error {
	return s.inner.Delete(ctx, kind, tag)
}

var (
	_ repository.KeyStore       = (*WrappingStore)(nil)
	_ repository.MetadataReader = (*WrappingStore)(nil)
)
