package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/turtacn/custody/pkg/constants"
)

// Config holds the key custody service configuration.
type Config struct {
	Custody  CustodyConfig  `mapstructure:"custody"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Vault    VaultConfig    `mapstructure:"vault"`
	PKCS11   PKCS11Config   `mapstructure:"pkcs11"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

type CustodyConfig struct {
	MinRSABits       int           `mapstructure:"min_rsa_bits"`
	DefaultRSABits   int           `mapstructure:"default_rsa_bits"`
	PrivateKeyPolicy string        `mapstructure:"private_key_policy"`
	StartLocked      bool          `mapstructure:"start_locked"`
	HandleCacheTTL   time.Duration `mapstructure:"handle_cache_ttl"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"` // memory, redis, sql, vault
	// WrapKeyHex is a 32-byte hex AES key sealing private and symmetric material at rest.
	WrapKeyHex string `mapstructure:"wrap_key_hex"`
}

// WrapKey decodes WrapKeyHex. It returns nil when no wrap key is configured.
func (c *StoreConfig) WrapKey() ([]byte, error) {
	if c.WrapKeyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.WrapKeyHex)
	if err != nil {
		return nil, fmt.Errorf("store.wrap_key_hex is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("store.wrap_key_hex must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // sqlite or postgres
	DSN             string `mapstructure:"dsn"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConns        int    `mapstructure:"max_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime"` // in minutes
}

// GetDSN returns DSN if set, otherwise a Postgres keyword DSN built from the parts.
func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addresses    []string `mapstructure:"addresses"`
	Password     string   `mapstructure:"password"`
	DB           int      `mapstructure:"db"`
	PoolSize     int      `mapstructure:"pool_size"`
	MinIdleConns int      `mapstructure:"min_idle_conns"`
	KeyPrefix    string   `mapstructure:"key_prefix"`
}

type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`
	PathPrefix string `mapstructure:"path_prefix"`
}

type PKCS11Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	LibraryPath string `mapstructure:"library_path"`
	Pin         string `mapstructure:"pin"`
	Slot        int    `mapstructure:"slot"`
}

type PolicyConfig struct {
	Engine    string `mapstructure:"engine"` // static or opa
	RulesPath string `mapstructure:"rules_path"`
	RegoPath  string `mapstructure:"rego_path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Exporter    string `mapstructure:"exporter"` // otlp, stdout or none
	Endpoint    string `mapstructure:"endpoint"` // host:port of the OTLP/HTTP collector
	Insecure    bool   `mapstructure:"insecure"`
}

type AuditConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Sink       string   `mapstructure:"sink"`
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	SigningKey string   `mapstructure:"signing_key"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.Custody.MinRSABits < constants.MinRSABits {
		return fmt.Errorf("custody.min_rsa_bits must be at least %d, got %d", constants.MinRSABits, c.Custody.MinRSABits)
	}
	if c.Custody.DefaultRSABits < c.Custody.MinRSABits {
		return fmt.Errorf("custody.default_rsa_bits %d is below custody.min_rsa_bits %d", c.Custody.DefaultRSABits, c.Custody.MinRSABits)
	}
	if !constants.AccessPolicy(c.Custody.PrivateKeyPolicy).Valid() {
		return fmt.Errorf("custody.private_key_policy %q is not a known policy", c.Custody.PrivateKeyPolicy)
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if len(c.Redis.Addresses) == 0 {
			return fmt.Errorf("redis.addresses is required for the redis store")
		}
	case "sql":
		if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
			return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
		}
	case "vault":
		if c.Vault.Address == "" {
			return fmt.Errorf("vault.address is required for the vault store")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	if _, err := c.Store.WrapKey(); err != nil {
		return err
	}

	switch c.Policy.Engine {
	case "static", "opa":
	default:
		return fmt.Errorf("policy.engine must be static or opa, got %q", c.Policy.Engine)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "", "otlp", "stdout", "none":
		default:
			return fmt.Errorf("tracing.exporter must be otlp, stdout or none, got %q", c.Tracing.Exporter)
		}
	}

	if c.PKCS11.Enabled && c.PKCS11.LibraryPath == "" {
		return fmt.Errorf("pkcs11.library_path is required when pkcs11 is enabled")
	}
	if c.Audit.Enabled {
		switch c.Audit.Sink {
		case "log", "sql":
		case "kafka":
			if len(c.Audit.Brokers) == 0 || c.Audit.Topic == "" {
				return fmt.Errorf("audit.brokers and audit.topic are required for the kafka audit sink")
			}
		default:
			return fmt.Errorf("audit.sink must be log, kafka or sql, got %q", c.Audit.Sink)
		}
	}
	return nil
}

//Personal.AI order the ending
