package kms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

// NewVaultClient creates and configures a new Vault client.
func NewVaultClient(cfg config.VaultConfig) (*vault.Client, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	return client, nil
}

// VaultKeyStore is a KeyStore backed by a Vault KV v2 mount. Records live at
// <path_prefix>/<kind>/<hex(tag)>; Put writes with cas=0 so Vault itself rejects a second writer.
type VaultKeyStore struct {
	kv     *vault.KVv2
	prefix string
	logger logger.Logger
}

// NewVaultKeyStore creates a new VaultKeyStore.
func NewVaultKeyStore(cfg config.VaultConfig, client *vault.Client, log logger.Logger) *VaultKeyStore {
	mount := cfg.MountPath
	if mount == "" {
		mount = constants.DefaultVaultMount
	}
	prefix := cfg.PathPrefix
	if prefix == "" {
		prefix = constants.DefaultVaultPathPrefix
	}
	return &VaultKeyStore{
		kv:     client.KVv2(mount),
		prefix: prefix,
		logger: log.WithComponent("VaultKeyStore"),
	}
}

func (s *VaultKeyStore) secretPath(kind constants.KeyKind, tag models.KeyTag) string {
	return path.Join(s.prefix, string(kind), tag.Hex())
}

// Put writes a new secret version only if none exists yet.
func (s *VaultKeyStore) Put(ctx context.Context, key *models.StoredKey) error {
	data := map[string]interface{}{
		"id":         key.ID,
		"kind":       string(key.Kind),
		"tag":        base64.StdEncoding.EncodeToString(key.Tag),
		"algorithm":  string(key.Algorithm),
		"bits":       key.Bits,
		"usage":      int(key.Usage),
		"policy":     string(key.Policy),
		"provider":   key.Provider,
		"material":   base64.StdEncoding.EncodeToString(key.Material),
		"created_at": key.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	_, err := s.kv.Put(ctx, s.secretPath(key.Kind, key.Tag), data, vault.WithCheckAndSet(0))
	if err != nil {
		if isCASConflict(err) {
			return repository.ErrTagExists
		}
		return fmt.Errorf("%w: vault write: %v", repository.ErrStoreUnavailable, err)
	}
	return nil
}

// Get reads the current secret version for a kind and tag.
func (s *VaultKeyStore) Get(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (*models.StoredKey, error) {
	secret, err := s.kv.Get(ctx, s.secretPath(kind, tag))
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, repository.ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: vault read: %v", repository.ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, repository.ErrKeyNotFound
	}
	rec, err := decodeSecret(secret.Data)
	if err != nil {
		s.logger.Warn(ctx, "Undecodable key record", logger.Fields{"kind": kind, "tag": tag.String()})
		return nil, fmt.Errorf("%w: %v", repository.ErrCorruptRecord, err)
	}
	return rec, nil
}

// Delete removes every version and the metadata of a secret.
func (s *VaultKeyStore) Delete(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) error {
	p := s.secretPath(kind, tag)
	secret, err := s.kv.Get(ctx, p)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return repository.ErrKeyNotFound
		}
		return fmt.Errorf("%w: vault read: %v", repository.ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return repository.ErrKeyNotFound
	}
	if err := s.kv.DeleteMetadata(ctx, p); err != nil {
		return fmt.Errorf("%w: vault delete: %v", repository.ErrStoreUnavailable, err)
	}
	return nil
}

func isCASConflict(err error) bool {
	var respErr *vault.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusBadRequest {
		return false
	}
	for _, msg := range respErr.Errors {
		if strings.Contains(msg, "check-and-set") {
			return true
		}
	}
	return false
}

func decodeSecret(data map[string]interface{}) (*models.StoredKey, error) {
	str := func(k string) (string, error) {
		v, ok := data[k].(string)
		if !ok {
			return "", fmt.Errorf("field %s missing or not a string", k)
		}
		return v, nil
	}
	num := func(k string) (int, error) {
		switch v := data[k].(type) {
		case json.Number:
			n, err := v.Int64()
			return int(n), err
		case float64:
			return int(v), nil
		case int:
			return v, nil
		}
		return 0, fmt.Errorf("field %s missing or not a number", k)
	}

	rec := &models.StoredKey{}
	var err error
	fields := []struct {
		name string
		dst  *string
	}{
		{"id", &rec.ID},
		{"provider", &rec.Provider},
	}
	for _, f := range fields {
		if *f.dst, err = str(f.name); err != nil {
			return nil, err
		}
	}

	kind, err := str("kind")
	if err != nil {
		return nil, err
	}
	rec.Kind = constants.KeyKind(kind)
	alg, err := str("algorithm")
	if err != nil {
		return nil, err
	}
	rec.Algorithm = constants.Algorithm(alg)
	policy, err := str("policy")
	if err != nil {
		return nil, err
	}
	rec.Policy = constants.AccessPolicy(policy)

	if rec.Bits, err = num("bits"); err != nil {
		return nil, err
	}
	usage, err := num("usage")
	if err != nil {
		return nil, err
	}
	rec.Usage = constants.KeyUsage(usage)

	tag, err := str("tag")
	if err != nil {
		return nil, err
	}
	if rec.Tag, err = base64.StdEncoding.DecodeString(tag); err != nil {
		return nil, fmt.Errorf("tag: %w", err)
	}
	material, err := str("material")
	if err != nil {
		return nil, err
	}
	if rec.Material, err = base64.StdEncoding.DecodeString(material); err != nil {
		return nil, fmt.Errorf("material: %w", err)
	}
	created, err := str("created_at")
	if err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	return rec, nil
}

var _ repository.KeyStore = (*VaultKeyStore)(nil)
