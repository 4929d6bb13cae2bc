package keywrap

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/internal/infrastructure/persistence/memory"
	"github.com/turtacn/custody/pkg/constants"
)

var testKEK = bytes.Repeat([]byte{0x42}, KEKSize)

func TestNewWrappingStore_KEKSize(t *testing.T) {
	_, err := NewWrappingStore(memory.NewKeyStore(), []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKEKSize)
}

func TestWrappingStore_PrivateMaterialIsSealed(t *testing.T) {
	inner := memory.NewKeyStore()
	s, err := NewWrappingStore(inner, testKEK)
	require.NoError(t, err)
	ctx := context.Background()

	material := []byte("pkcs8-private-key-bytes")
	tag := models.NewKeyTag("com.example.private")
	require.NoError(t, s.Put(ctx, &models.StoredKey{ID: "1", Kind: constants.KeyKindPrivate, Tag: tag, Material: material}))

	raw, err := inner.Get(ctx, constants.KeyKindPrivate, tag)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw.Material, material))
	assert.Equal(t, formatV1, raw.Material[0])

	got, err := s.Get(ctx, constants.KeyKindPrivate, tag)
	require.NoError(t, err)
	assert.Equal(t, material, got.Material)
}

func TestWrappingStore_PublicMaterialIsPlain(t *testing.T) {
	inner := memory.NewKeyStore()
	s, err := NewWrappingStore(inner, testKEK)
	require.NoError(t, err)
	ctx := context.Background()

	tag := models.NewKeyTag("com.example.public")
	require.NoError(t, s.Put(ctx, &models.StoredKey{ID: "1", Kind: constants.KeyKindPublic, Tag: tag, Material: []byte("pkix")}))
	raw, err := inner.Get(ctx, constants.KeyKindPublic, tag)
	require.NoError(t, err)
	assert.Equal(t, []byte("pkix"), raw.Material)
}

func TestWrappingStore_BoundToRecord(t *testing.T) {
	s, err := NewWrappingStore(memory.NewKeyStore(), testKEK)
	require.NoError(t, err)

	blob, err := s.Wrap(constants.KeyKindSymmetric, models.NewKeyTag("a"), []byte("secret"))
	require.NoError(t, err)

	_, err = s.Unwrap(constants.KeyKindSymmetric, models.NewKeyTag("b"), blob)
	assert.ErrorIs(t, err, ErrUnwrapFailed)
	_, err = s.Unwrap(constants.KeyKindPrivate, models.NewKeyTag("a"), blob)
	assert.ErrorIs(t, err, ErrUnwrapFailed)
	_, err = s.Unwrap(constants.KeyKindSymmetric, models.NewKeyTag("a"), blob[:5])
	assert.ErrorIs(t, err, ErrUnwrapFailed)

	out, err := s.Unwrap(constants.KeyKindSymmetric, models.NewKeyTag("a"), blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), out)
}

func TestWrappingStore_WrongKEKIsCorrupt(t *testing.T) {
	inner := memory.NewKeyStore()
	ctx := context.Background()
	a, err := NewWrappingStore(inner, testKEK)
	require.NoError(t, err)
	b, err := NewWrappingStore(inner, bytes.Repeat([]byte{0x07}, KEKSize))
	require.NoError(t, err)

	tag := models.NewKeyTag("k")
	require.NoError(t, a.Put(ctx, &models.StoredKey{ID: "1", Kind: constants.KeyKindSymmetric, Tag: tag, Material: []byte("0123456789abcdef")}))
	_, err = b.Get(ctx, constants.KeyKindSymmetric, tag)
	assert.ErrorIs(t, err, repository.ErrCorruptRecord)

	_, err = b.Get(ctx, constants.KeyKindSymmetric, models.NewKeyTag("missing"))
	assert.ErrorIs(t, err, repository.ErrKeyNotFound)

	rec, err := b.GetMetadata(ctx, constants.KeyKindSymmetric, tag)
	require.NoError(t, err)
	assert.Equal(t, "1", rec.ID)
	assert.Nil(t, rec.Material)

	require.NoError(t, b.Delete(ctx, constants.KeyKindSymmetric, tag))
	assert.Equal(t, 0, inner.Len())
}
