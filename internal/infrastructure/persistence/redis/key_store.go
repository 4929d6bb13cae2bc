package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

// keyRecord is the JSON document stored under each key.
type keyRecord struct {
	ID        string                 `json:"id"`
	Kind      constants.KeyKind      `json:"kind"`
	Tag       []byte                 `json:"tag"`
	Algorithm constants.Algorithm    `json:"algorithm"`
	Bits      int                    `json:"bits"`
	Usage     constants.KeyUsage     `json:"usage"`
	Policy    constants.AccessPolicy `json:"policy"`
	Provider  string                 `json:"provider"`
	Material  []byte                 `json:"material"`
	CreatedAt time.Time              `json:"created_at"`
}

func toRecord(k *models.StoredKey) keyRecord {
	return keyRecord{
		ID: k.ID, Kind: k.Kind, Tag: k.Tag, Algorithm: k.Algorithm, Bits: k.Bits,
		Usage: k.Usage, Policy: k.Policy, Provider: k.Provider, Material: k.Material, CreatedAt: k.CreatedAt,
	}
}

func (r keyRecord) toModel() *models.StoredKey {
	return &models.StoredKey{
		ID: r.ID, Kind: r.Kind, Tag: models.KeyTag(r.Tag), Algorithm: r.Algorithm, Bits: r.Bits,
		Usage: r.Usage, Policy: r.Policy, Provider: r.Provider, Material: r.Material, CreatedAt: r.CreatedAt,
	}
}

// redisKeyStore is a Redis-backed implementation of the KeyStore interface.
// Put relies on SETNX, so concurrent writers of one tag cannot both succeed.
type redisKeyStore struct {
	client redis.UniversalClient
	prefix string
	logger logger.Logger
}

// NewRedisKeyStore creates a new Redis key store. Keys are named prefix:kind:hex(tag).
func NewRedisKeyStore(client redis.UniversalClient, prefix string, log logger.Logger) repository.KeyStore {
	if prefix == "" {
		prefix = constants.DefaultRedisKeyPrefix
	}
	return &redisKeyStore{
		client: client,
		prefix: prefix,
		logger: log.WithComponent("RedisKeyStore"),
	}
}

func (s *redisKeyStore) key(kind constants.KeyKind, tag models.KeyTag) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, tag.Hex())
}

// Put stores a record unless the key already exists.
func (s *redisKeyStore) Put(ctx context.Context, k *models.StoredKey) error {
	data, err := json.Marshal(toRecord(k))
	if err != nil {
		return fmt.Errorf("failed to marshal key record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(k.Kind, k.Tag), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: redis setnx: %v", repository.ErrStoreUnavailable, err)
	}
	if !ok {
		return repository.ErrTagExists
	}
	return nil
}

// Get retrieves a record by kind and tag.
func (s *redisKeyStore) Get(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error) {
	data, err := s.client.Get(ctx, s.key(kind, tag)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: redis get: %v", repository.ErrStoreUnavailable, err)
	}
	var rec keyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn(ctx, "Undecodable key record", logger.Fields{"kind": kind, "tag": tag.String()})
		return nil, fmt.Errorf("%w: %v", repository.ErrCorruptRecord, err)
	}
	return rec.toModel(), nil
}

// Delete removes a record by kind and tag.
func (s *redisKeyStore) Delete(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) error {
	n, err := s.client.Del(ctx, s.key(kind, tag)).Result()
	if err != nil {
		return fmt.Errorf("%w: redis del: %v", repository.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return repository.ErrKeyNotFound
	}
	return nil
}
