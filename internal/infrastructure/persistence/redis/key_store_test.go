package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

type RedisKeyStoreTestSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client redis.UniversalClient
	store  repository.KeyStore
	ctx    context.Context
}

func (s *RedisKeyStoreTestSuite) SetupTest() {
	var err error
	s.mr, err = miniredis.Run()
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.client, err = NewClient(s.ctx, config.RedisConfig{Addresses: []string{s.mr.Addr()}}, logger.NewNoopLogger())
	s.Require().NoError(err)
	s.store = NewRedisKeyStore(s.client, "test", logger.NewNoopLogger())
}

func (s *RedisKeyStoreTestSuite) TearDownTest() {
	_ = s.client.Close()
	s.mr.Close()
}

func TestRedisKeyStoreTestSuite(t *testing.T) {
	suite.Run(t, new(RedisKeyStoreTestSuite))
}

func (s *RedisKeyStoreTestSuite) record(kind constants.KeyKind, tag string) *models.StoredKey {
	return &models.StoredKey{
		ID:        "id-" + tag,
		Kind:      kind,
		Tag:       models.NewKeyTag(tag),
		Algorithm: constants.AlgorithmRSA,
		Bits:      2048,
		Usage:     constants.UsageAll,
		Policy:    constants.AccessWhenUnlockedPrivateOps,
		Provider:  "software",
		Material:  []byte{0x30, 0x82, 0x01},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func (s *RedisKeyStoreTestSuite) TestPutAndGet() {
	rec := s.record(constants.KeyKindPrivate, "com.example.keys.private")
	s.Require().NoError(s.store.Put(s.ctx, rec))

	s.True(s.mr.Exists("test:private:" + rec.Tag.Hex()))

	got, err := s.store.Get(s.ctx, constants.KeyKindPrivate, rec.Tag)
	s.Require().NoError(err)
	s.Equal(rec.ID, got.ID)
	s.Equal(rec.Material, got.Material)
	s.Equal(rec.Policy, got.Policy)
	s.True(rec.Tag.Equal(got.Tag))
	s.WithinDuration(rec.CreatedAt, got.CreatedAt, time.Second)
}

func (s *RedisKeyStoreTestSuite) TestPutConflictKeepsOriginal() {
	rec := s.record(constants.KeyKindPublic, "dup")
	s.Require().NoError(s.store.Put(s.ctx, rec))

	other := s.record(constants.KeyKindPublic, "dup")
	other.ID = "other"
	s.ErrorIs(s.store.Put(s.ctx, other), repository.ErrTagExists)

	got, err := s.store.Get(s.ctx, constants.KeyKindPublic, rec.Tag)
	s.Require().NoError(err)
	s.Equal(rec.ID, got.ID)

	// The same tag under another kind does not conflict.
	s.NoError(s.store.Put(s.ctx, s.record(constants.KeyKindPrivate, "dup")))
}

func (s *RedisKeyStoreTestSuite) TestGetMissingAndDelete() {
	_, err := s.store.Get(s.ctx, constants.KeyKindSymmetric, models.NewKeyTag("nope"))
	s.ErrorIs(err, repository.ErrKeyNotFound)

	s.ErrorIs(s.store.Delete(s.ctx, constants.KeyKindSymmetric, models.NewKeyTag("nope")), repository.ErrKeyNotFound)

	rec := s.record(constants.KeyKindSymmetric, "sym")
	s.Require().NoError(s.store.Put(s.ctx, rec))
	s.NoError(s.store.Delete(s.ctx, constants.KeyKindSymmetric, rec.Tag))
	_, err = s.store.Get(s.ctx, constants.KeyKindSymmetric, rec.Tag)
	s.ErrorIs(err, repository.ErrKeyNotFound)
}

func (s *RedisKeyStoreTestSuite) TestCorruptRecord() {
	s.Require().NoError(s.mr.Set("test:public:"+models.NewKeyTag("bad").Hex(), "{not json"))
	_, err := s.store.Get(s.ctx, constants.KeyKindPublic, models.NewKeyTag("bad"))
	s.ErrorIs(err, repository.ErrCorruptRecord)
}

func (s *RedisKeyStoreTestSuite) TestUnavailable() {
	s.mr.Close()
	err := s.store.Put(s.ctx, s.record(constants.KeyKindPublic, "down"))
	s.ErrorIs(err, repository.ErrStoreUnavailable)
}
