package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/gorm"

	cryptoadapter "github.com/turtacn/custody/internal/adapter/crypto"
	"github.com/turtacn/custody/internal/application"
	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/internal/infrastructure/audit"
	"github.com/turtacn/custody/internal/infrastructure/cache"
	"github.com/turtacn/custody/internal/infrastructure/crypto"
	"github.com/turtacn/custody/internal/infrastructure/keywrap"
	"github.com/turtacn/custody/internal/infrastructure/kms"
	"github.com/turtacn/custody/internal/infrastructure/monitoring"
	"github.com/turtacn/custody/internal/infrastructure/persistence/memory"
	"github.com/turtacn/custody/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/custody/internal/infrastructure/persistence/redis"
	"github.com/turtacn/custody/internal/infrastructure/policy"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

// runtime holds every service a command may use, built once from the loaded configuration.
// runtime 持有命令可能使用的所有服务，由加载的配置一次性构建。
type runtime struct {
	cfg      *config.Config
	logger   *monitoring.ZapLogger
	tracing  *monitoring.TracingManager
	registry *prometheus.Registry

	custody  *application.KeyCustodyService
	envelope *application.EnvelopeService
	digest   *application.DigestService
	tokens   *cryptoadapter.TokenService

	db      *gorm.DB
	closers []func() error
}

// newRuntime wires provider, store chain, policy gate, cache, audit sink and services.
// On failure everything opened so far is closed again. traceOpts are handed to the tracer
// provider when tracing is enabled.
// newRuntime 装配提供者、存储链、策略闸门、缓存、审计接收器与各服务。
func newRuntime(ctx context.Context, cfg *config.Config, zl *monitoring.ZapLogger, traceOpts ...sdktrace.TracerProviderOption) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: zl}
	defer func() {
		if err != nil {
			rt.close(ctx)
		}
	}()
	log := logger.Logger(zl)

	rt.tracing, err = monitoring.NewTracingManager(cfg.Tracing, log, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	rt.closers = append(rt.closers, func() error { return rt.tracing.Shutdown(context.Background()) })

	var metrics service.Metrics = service.NoopMetrics{}
	if cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		metrics = monitoring.NewMetrics(cfg.Metrics.Namespace, rt.registry)
	}

	provider, err := rt.newProvider(log)
	if err != nil {
		return nil, err
	}

	store, err := rt.newStore(ctx, log)
	if err != nil {
		return nil, err
	}
	kek, err := cfg.Store.WrapKey()
	if err != nil {
		return nil, err
	}
	if kek != nil {
		if store, err = keywrap.NewWrappingStore(store, kek); err != nil {
			return nil, fmt.Errorf("failed to initialize key wrapping: %w", err)
		}
	}

	engine, err := newPolicyEngine(ctx, cfg.Policy)
	if err != nil {
		return nil, err
	}
	lock := policy.NewLockState(!cfg.Custody.StartLocked)
	gate := policy.NewGate(engine, lock, log)
	guarded := policy.NewGuardedStore(store, gate)

	ttl := cfg.Custody.HandleCacheTTL
	if ttl <= 0 {
		ttl = constants.DefaultHandleCacheTTL
	}
	handles := cache.NewHandleCache(ttl, metrics)

	sink, err := rt.newAuditSink(ctx, log)
	if err != nil {
		return nil, err
	}

	opts := application.CustodyOptions{
		MinRSABits:       cfg.Custody.MinRSABits,
		DefaultRSABits:   cfg.Custody.DefaultRSABits,
		PrivateKeyPolicy: constants.AccessPolicy(cfg.Custody.PrivateKeyPolicy),
	}
	rt.custody = application.NewKeyCustodyService(provider, guarded, handles, lock, sink, metrics, opts, log)
	rt.envelope = application.NewEnvelopeService(provider, gate, metrics, log)
	rt.digest = application.NewDigestService(provider)
	rt.tokens = cryptoadapter.NewTokenService(rt.envelope, log)

	log.Debug(ctx, "Custody runtime ready", logger.Fields{
		"provider": provider.Name(),
		"backend":  cfg.Store.Backend,
		"policy":   cfg.Policy.Engine,
		"wrapped":  kek != nil,
	})
	return rt, nil
}

func (rt *runtime) newProvider(log logger.Logger) (service.PrimitiveProvider, error) {
	if !rt.cfg.PKCS11.Enabled {
		return crypto.NewSoftwareProvider(log), nil
	}
	p, err := kms.NewPKCS11Provider(rt.cfg.PKCS11.LibraryPath, rt.cfg.PKCS11.Pin, rt.cfg.PKCS11.Slot, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open PKCS#11 token: %w", err)
	}
	rt.closers = append(rt.closers, p.Close)
	return p, nil
}

func (rt *runtime) newStore(ctx context.Context, log logger.Logger) (repository.KeyStore, error) {
	cfg := rt.cfg
	switch cfg.Store.Backend {
	case "redis":
		client, err := redis.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		return redis.NewRedisKeyStore(client, cfg.Redis.KeyPrefix, log), nil
	case "sql":
		db, err := rt.database(ctx, log)
		if err != nil {
			return nil, err
		}
		return postgres.NewKeyRepository(db), nil
	case "vault":
		client, err := kms.NewVaultClient(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault client: %w", err)
		}
		return kms.NewVaultKeyStore(cfg.Vault, client, log), nil
	default:
		return memory.NewKeyStore(), nil
	}
}

// database opens the SQL database once; the key store and the sql audit sink share it.
func (rt *runtime) database(ctx context.Context, log logger.Logger) (*gorm.DB, error) {
	if rt.db != nil {
		return rt.db, nil
	}
	db, err := postgres.OpenDatabase(ctx, rt.cfg.Database, log)
	if err != nil {
		return nil, err
	}
	rt.db = db
	rt.closers = append(rt.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return db, nil
}

func newPolicyEngine(ctx context.Context, cfg config.PolicyConfig) (service.AccessPolicyEngine, error) {
	switch cfg.Engine {
	case "opa":
		if cfg.RegoPath != "" {
			return policy.NewOPAPolicyEngineFromFile(ctx, cfg.RegoPath)
		}
		return policy.NewOPAPolicyEngine(ctx, policy.DefaultRegoModule)
	default:
		if cfg.RulesPath != "" {
			return policy.NewStaticPolicyEngineFromFile(cfg.RulesPath)
		}
		return policy.NewStaticPolicyEngine(), nil
	}
}

func (rt *runtime) newAuditSink(ctx context.Context, log logger.Logger) (service.AuditSink, error) {
	cfg := rt.cfg.Audit
	if !cfg.Enabled {
		return nil, nil
	}
	key := []byte(cfg.SigningKey)
	switch cfg.Sink {
	case "kafka":
		sink := audit.NewKafkaAuditSink(audit.NewKafkaWriter(cfg), key, log)
		rt.closers = append(rt.closers, sink.Close)
		return sink, nil
	case "sql":
		db, err := rt.database(ctx, log)
		if err != nil {
			return nil, err
		}
		return audit.NewGormAuditSink(db, key)
	default:
		return audit.NewLogAuditSink(log), nil
	}
}

// trace runs fn inside a span named after the command.
func (rt *runtime) trace(ctx context.Context, name string, fn func(context.Context) error) error {
	return monitoring.TraceOperation(ctx, rt.tracing, "cli."+name, fn,
		attribute.String("custody.backend", rt.cfg.Store.Backend))
}

// close releases resources in reverse order of acquisition.
func (rt *runtime) close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && rt.logger != nil {
			rt.logger.Warn(ctx, "Failed to release resource", logger.Fields{"error": err.Error()})
		}
	}
	rt.closers = nil
}
