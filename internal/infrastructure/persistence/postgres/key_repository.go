package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/pkg/constants"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// keyModel is the row layout of the custody_keys table. (kind, tag_hex) is unique.
type keyModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Kind      string    `gorm:"size:16;not null;uniqueIndex:idx_custody_keys_kind_tag"`
	TagHex    string    `gorm:"size:512;not null;uniqueIndex:idx_custody_keys_kind_tag"`
	Tag       []byte    `gorm:"not null"`
	Algorithm string    `gorm:"size:32;not null"`
	Bits      int       `gorm:"not null"`
	Usage     uint8     `gorm:"not null"`
	Policy    string    `gorm:"size:32;not null"`
	Provider  string    `gorm:"size:32;not null"`
	Material  []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (keyModel) TableName() string { return "custody_keys" }

// KeyRepository is a gorm implementation of the KeyStore interface.
type KeyRepository struct {
	db *gorm.DB
}

// NewKeyRepository creates a new KeyRepository.
func NewKeyRepository(db *gorm.DB) repository.KeyStore {
	return &KeyRepository{db: db}
}

// Put inserts a key row. The unique index makes concurrent inserts of one tag fail.
func (r *KeyRepository) Put(ctx context.Context, key *models.StoredKey) error {
	row := keyModel{
		ID:        key.ID,
		Kind:      string(key.Kind),
		TagHex:    key.Tag.Hex(),
		Tag:       key.Tag,
		Algorithm: string(key.Algorithm),
		Bits:      key.Bits,
		Usage:     uint8(key.Usage),
		Policy:    string(key.Policy),
		Provider:  key.Provider,
		Material:  key.Material,
		CreatedAt: key.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return repository.ErrTagExists
		}
		return fmt.Errorf("%w: insert key: %v", repository.ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves a key by kind and tag.
func (r *KeyRepository) Get(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error) {
	var row keyModel
	err := r.db.WithContext(ctx).Where("kind = ? AND tag_hex = ?", string(kind), tag.Hex()).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: select key: %v", repository.ErrStoreUnavailable, err)
	}
	return &models.StoredKey{
		ID:        row.ID,
		Kind:      constants.KeyKind(row.Kind),
		Tag:       models.KeyTag(row.Tag),
		Algorithm: constants.Algorithm(row.Algorithm),
		Bits:      row.Bits,
		Usage:     constants.KeyUsage(row.Usage),
		Policy:    constants.AccessPolicy(row.Policy),
		Provider:  row.Provider,
		Material:  row.Material,
		CreatedAt: row.CreatedAt,
	}, nil
}

// Delete removes a key by kind and tag.
func (r *KeyRepository) Delete(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) error {
	res := r.db.WithContext(ctx).Where("kind = ? AND tag_hex = ?", string(kind), tag.Hex()).Delete(&keyModel{})
	if res.Error != nil {
		return fmt.Errorf("%w: delete key: %v", repository.ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrKeyNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
