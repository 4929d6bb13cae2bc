package repository

import (
	"context"
	"errors"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/pkg/constants"
)

var (
	// ErrTagExists is returned by Put when the (kind, tag) pair is already taken.
	ErrTagExists = errors.New("key tag already exists")

	// ErrKeyNotFound is returned by Get and Delete when no record matches.
	ErrKeyNotFound = errors.New("key not found")

	// ErrAccessDenied is returned when the store's access policy rejects the request.
	ErrAccessDenied = errors.New("key access denied")

	// ErrStoreUnavailable is returned when the backend cannot be reached.
	ErrStoreUnavailable = errors.New("key store unavailable")

	// ErrCorruptRecord is returned when a stored record cannot be decoded or unwrapped.
	ErrCorruptRecord = errors.New("key record corrupt")
)

// KeyStore defines the interface for key persistence. Put must be an atomic
// insert-if-absent on (kind, tag): implementations never overwrite an existing record.
// KeyStore 定义了密钥持久化的接口。Put 必须是针对 (kind, tag) 的原子"不存在则插入"操作。
type KeyStore interface {
	// Put stores a new record. It fails with ErrTagExists if the pair is taken.
	// Put 存储一条新记录。如果该对已被占用，则返回 ErrTagExists。
	Put(ctx context.Context, key *models.StoredKey) error

	// Get retrieves the record for a (kind, tag) pair.
	// Get 检索 (kind, tag) 对对应的记录。
	Get(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error)

	// Delete removes the record for a (kind, tag) pair.
	// Delete 删除 (kind, tag) 对对应的记录。
	Delete(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) error
}

// MetadataReader is implemented by stores that can return a record without decoding or
// unwrapping its material. The returned record carries no Material.
type MetadataReader interface {
	GetMetadata(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error)
}

// Metadata returns the record for (kind, tag) with its material cleared. It uses
// MetadataReader when store implements it and falls back to Get otherwise.
// Metadata 返回不含密钥材料的记录。
func Metadata(ctx context.Context, store KeyStore, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error) {
	if r, ok := store.(MetadataReader); ok {
		return r.GetMetadata(ctx, kind, tag)
	}
	rec, err := store.Get(ctx, kind, tag)
	if err != nil {
		return nil, err
	}
	rec.ZeroMaterial()
	rec.Material = nil
	return rec, nil
}
