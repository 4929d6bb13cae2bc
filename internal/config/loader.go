package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

// setDefaults registers the default value of every key so that environment variables
// can override keys that are absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("custody.min_rsa_bits", constants.MinRSABits)
	v.SetDefault("custody.default_rsa_bits", constants.DefaultRSABits)
	v.SetDefault("custody.private_key_policy", string(constants.AccessWhenUnlockedPrivateOps))
	v.SetDefault("custody.start_locked", false)
	v.SetDefault("custody.handle_cache_ttl", constants.DefaultHandleCacheTTL)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.wrap_key_hex", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:custody.db?cache=shared")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_conn_lifetime", 30)

	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", constants.DefaultRedisKeyPrefix)

	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.mount_path", constants.DefaultVaultMount)
	v.SetDefault("vault.path_prefix", constants.DefaultVaultPathPrefix)

	v.SetDefault("pkcs11.enabled", false)
	v.SetDefault("pkcs11.library_path", "")
	v.SetDefault("pkcs11.pin", "")
	v.SetDefault("pkcs11.slot", 0)

	v.SetDefault("policy.engine", "static")
	v.SetDefault("policy.rules_path", "")
	v.SetDefault("policy.rego_path", "")

	v.SetDefault("log.level", string(constants.LogLevelInfo))
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stderr")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "custody")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "custody")
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.sink", "log")
	v.SetDefault("audit.brokers", []string{})
	v.SetDefault("audit.topic", "custody-audit")
}

// NewViper builds the viper instance used by LoadConfig. configFile overrides the search path.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("custody")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/custody/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CUSTODY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Watch reloads the configuration whenever the config file changes and hands every
// valid result to onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, log logger.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.Warn(context.Background(), "Ignoring invalid config change", logger.Fields{"file": e.Name, "error": err.Error()})
			return
		}
		log.Info(context.Background(), "Config reloaded", logger.Fields{"file": e.Name})
		onChange(cfg)
	})
	v.WatchConfig()
}

//Personal.AI order the ending
