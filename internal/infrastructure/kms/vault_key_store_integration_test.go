//go:build integration

package kms

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

// startVault runs a dev-mode Vault, whose KV v2 engine is mounted at secret/.
func startVault(t *testing.T) config.VaultConfig {
	t.Helper()
	pool, err := dockertest.NewPool("")
	require.NoError(t, err, "could not connect to docker")

	res, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "hashicorp/vault",
		Tag:        "1.15",
		Env: []string{
			"VAULT_DEV_ROOT_TOKEN_ID=root",
			"VAULT_DEV_LISTEN_ADDRESS=0.0.0.0:8200",
		},
		CapAdd: []string{"IPC_LOCK"},
	})
	require.NoError(t, err, "could not start vault")
	t.Cleanup(func() { _ = pool.Purge(res) })

	cfg := config.VaultConfig{
		Address:    fmt.Sprintf("http://%s", res.GetHostPort("8200/tcp")),
		Token:      "root",
		MountPath:  constants.DefaultVaultMount,
		PathPrefix: constants.DefaultVaultPathPrefix,
	}
	require.NoError(t, pool.Retry(func() error {
		client, err := NewVaultClient(cfg)
		if err != nil {
			return err
		}
		_, err = client.Sys().Health()
		return err
	}))
	return cfg
}

func TestVaultKeyStore_Integration(t *testing.T) {
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}
	cfg := startVault(t)
	client, err := NewVaultClient(cfg)
	require.NoError(t, err)
	store := NewVaultKeyStore(cfg, client, logger.NewNoopLogger())
	ctx := context.Background()

	rec := &models.StoredKey{
		ID:        "integration-1",
		Kind:      constants.KeyKindPrivate,
		Tag:       models.NewKeyTag("com.example.integration"),
		Algorithm: constants.AlgorithmRSA,
		Bits:      2048,
		Usage:     constants.UsageAll,
		Policy:    constants.AccessWhenUnlockedPrivateOps,
		Provider:  "software",
		Material:  []byte{0xde, 0xad, 0xbe, 0xef},
	}
	require.NoError(t, store.Put(ctx, rec))
	require.ErrorIs(t, store.Put(ctx, rec), repository.ErrTagExists)

	got, err := store.Get(ctx, constants.KeyKindPrivate, rec.Tag)
	require.NoError(t, err)
	require.Equal(t, rec.Material, got.Material)
	require.Equal(t, rec.Policy, got.Policy)

	_, err = store.Get(ctx, constants.KeyKindPublic, rec.Tag)
	require.ErrorIs(t, err, repository.ErrKeyNotFound)

	require.NoError(t, store.Delete(ctx, constants.KeyKindPrivate, rec.Tag))
	_, err = store.Get(ctx, constants.KeyKindPrivate, rec.Tag)
	require.ErrorIs(t, err, repository.ErrKeyNotFound)
	require.NoError(t, store.Put(ctx, rec))
}
