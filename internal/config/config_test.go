package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/custody/pkg/constants"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "custody.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := decode(NewViper(""))
	require.NoError(t, err)
	assert.Equal(t, constants.MinRSABits, cfg.Custody.MinRSABits)
	assert.Equal(t, string(constants.AccessWhenUnlockedPrivateOps), cfg.Custody.PrivateKeyPolicy)
	assert.Equal(t, constants.DefaultHandleCacheTTL, cfg.Custody.HandleCacheTTL)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "static", cfg.Policy.Engine)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
custody:
  min_rsa_bits: 3072
  default_rsa_bits: 4096
store:
  backend: redis
redis:
  addresses: ["127.0.0.1:6380"]
  key_prefix: test
log:
  level: debug
`)
	t.Setenv("CUSTODY_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(NewViper(path))
	require.NoError(t, err)
	assert.Equal(t, 3072, cfg.Custody.MinRSABits)
	assert.Equal(t, 4096, cfg.Custody.DefaultRSABits)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, []string{"127.0.0.1:6380"}, cfg.Redis.Addresses)
	assert.Equal(t, "test", cfg.Redis.KeyPrefix)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg, err := decode(NewViper(""))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"rsa minimum below 2048", func(c *Config) { c.Custody.MinRSABits = 1024 }, "min_rsa_bits"},
		{"unknown policy", func(c *Config) { c.Custody.PrivateKeyPolicy = "sometimes" }, "private_key_policy"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend"},
		{"short wrap key", func(c *Config) { c.Store.WrapKeyHex = "00ff" }, "32 bytes"},
		{"bad sql driver", func(c *Config) { c.Store.Backend = "sql"; c.Database.Driver = "mysql" }, "database.driver"},
		{"vault without address", func(c *Config) { c.Store.Backend = "vault" }, "vault.address"},
		{"pkcs11 without library", func(c *Config) { c.PKCS11.Enabled = true }, "library_path"},
		{"kafka audit without brokers", func(c *Config) { c.Audit.Enabled = true; c.Audit.Sink = "kafka" }, "audit.brokers"},
		{"unknown audit sink", func(c *Config) { c.Audit.Enabled = true; c.Audit.Sink = "syslog" }, "audit.sink"},
		{"log audit sink", func(c *Config) { c.Audit.Enabled = true }, ""},
		{"unknown trace exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, "tracing.exporter"},
		{"stdout trace exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "stdout" }, ""},
		{"valid wrap key", func(c *Config) { c.Store.WrapKeyHex = strings.Repeat("ab", 32) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
