// Package application provides the application layer services.
package application

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
	custodyerrors "github.com/turtacn/custody/pkg/errors"
	"github.com/turtacn/custody/pkg/logger"
)

// CustodyOptions carries the policy knobs of the custody service.
// CustodyOptions 包含托管服务的策略参数。
type CustodyOptions struct {
	// MinRSABits is the smallest modulus GenerateAndStore accepts. Never below 2048.
	// MinRSABits 是 GenerateAndStore 接受的最小模数，不低于 2048。
	MinRSABits int
	// DefaultRSABits is used when the caller passes a key size of zero.
	// DefaultRSABits 在调用方传入零时使用。
	DefaultRSABits int
	// PrivateKeyPolicy is the access policy stored with private and symmetric keys.
	// PrivateKeyPolicy 是私钥与对称密钥存储时附带的访问策略。
	PrivateKeyPolicy constants.AccessPolicy
}

// DefaultCustodyOptions returns the options used when none are configured.
func DefaultCustodyOptions() CustodyOptions {
	return CustodyOptions{
		MinRSABits:       constants.MinRSABits,
		DefaultRSABits:   constants.DefaultRSABits,
		PrivateKeyPolicy: constants.AccessWhenUnlockedPrivateOps,
	}
}

// KeyCustodyService is the application-layer service that generates keys, stores them under
// caller-chosen tags and resolves tags back into opaque key handles. Private key bytes never
// leave it: the store receives them from the provider and only handles come back out.
// KeyCustodyService 是负责生成密钥、以调用方选择的标签存储密钥并将标签解析为不透明密钥句柄的应用层服务。
// 私钥字节永远不会离开该服务。
type KeyCustodyService struct {
	provider service.PrimitiveProvider
	store    repository.KeyStore
	cache    service.HandleCache
	lock     service.LockState
	audit    service.AuditSink
	metrics  service.Metrics
	tracer   trace.Tracer
	opts     CustodyOptions
	logger   logger.Logger
}

// NewKeyCustodyService creates a new instance of the KeyCustodyService.
// cache, audit and metrics are optional.
// NewKeyCustodyService 创建 KeyCustodyService 的一个新实例。cache、audit 和 metrics 可以为 nil。
func NewKeyCustodyService(
	provider service.PrimitiveProvider,
	store repository.KeyStore,
	cache service.HandleCache,
	lock service.LockState,
	audit service.AuditSink,
	metrics service.Metrics,
	opts CustodyOptions,
	log logger.Logger,
) *KeyCustodyService {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if opts.MinRSABits < constants.MinRSABits {
		opts.MinRSABits = constants.MinRSABits
	}
	if opts.DefaultRSABits == 0 {
		opts.DefaultRSABits = constants.DefaultRSABits
	}
	if !opts.PrivateKeyPolicy.Valid() {
		opts.PrivateKeyPolicy = constants.AccessWhenUnlockedPrivateOps
	}
	return &KeyCustodyService{
		provider: provider,
		store:    store,
		cache:    cache,
		lock:     lock,
		audit:    audit,
		metrics:  metrics,
		tracer:   otel.Tracer(constants.TracerName),
		opts:     opts,
		logger:   log.WithComponent("KeyCustodyService"),
	}
}

// GenerateAndStore creates a fresh RSA key pair of keySize bits and stores the public half
// under publicTag and the private half under privateTag. Either both halves are stored or
// neither is. A keySize of zero selects the configured default.
// GenerateAndStore 创建 keySize 位的 RSA 密钥对，并分别以 publicTag 和 privateTag 存储公钥与私钥。
// 两部分要么都存储，要么都不存储。
func (s *KeyCustodyService) GenerateAndStore(ctx context.Context, keySize int, publicTag, privateTag models.KeyTag) (*models.KeyPairRecord, error) {
	return s.GenerateAndStoreWithSpec(ctx, models.KeySpec{
		Algorithm: constants.AlgorithmRSA,
		Bits:      keySize,
		Usage:     constants.UsageAll,
	}, publicTag, privateTag)
}

// GenerateAndStoreWithSpec is GenerateAndStore with explicit usage and private key policy.
// GenerateAndStoreWithSpec 与 GenerateAndStore 相同，但可显式指定用途和私钥访问策略。
func (s *KeyCustodyService) GenerateAndStoreWithSpec(ctx context.Context, spec models.KeySpec, publicTag, privateTag models.KeyTag) (pair *models.KeyPairRecord, err error) {
	ctx, op := startOperation(ctx, s.tracer, s.metrics, "custody.GenerateAndStore",
		attribute.Int("custody.key_bits", spec.Bits))
	defer func() { op.end(err) }()

	spec, err = s.normalizePairSpec(spec)
	if err != nil {
		return nil, err
	}
	if err := invalidTag(constants.KeyKindPublic, publicTag); err != nil {
		return nil, err
	}
	if err := invalidTag(constants.KeyKindPrivate, privateTag); err != nil {
		return nil, err
	}

	pubMat, privMat, err := s.provider.GenerateKeyPair(ctx, spec)
	if err != nil {
		s.logger.Error(ctx, "Key pair generation failed", err, logger.Fields{"bits": spec.Bits})
		return nil, generationError(err)
	}
	defer privMat.Zero()

	now := time.Now().UTC()
	pubRec := s.newRecord(constants.KeyKindPublic, publicTag, spec, constants.AccessAlways, pubMat, now)
	privRec := s.newRecord(constants.KeyKindPrivate, privateTag, spec, spec.Policy, privMat, now)

	if err := s.store.Put(ctx, pubRec); err != nil {
		s.discard(ctx, constants.KeyKindPrivate, privMat)
		s.recordAudit(ctx, s.auditEvent(constants.AuditEventKeyGenerated, pubRec, "failure", "public key put failed"))
		return nil, storeError(err, constants.KeyKindPublic, publicTag, constants.OpResolve)
	}

	if err := s.store.Put(ctx, privRec); err != nil {
		cerr := s.rollback(ctx, storeError(err, constants.KeyKindPrivate, privateTag, constants.OpResolve), pubRec)
		s.discard(ctx, constants.KeyKindPrivate, privMat)
		s.recordAudit(ctx, s.auditEvent(constants.AuditEventKeyRolledBack, pubRec, "failure", "private key put failed"))
		return nil, cerr
	}

	pubHandle, err := s.handleFor(ctx, pubRec)
	if err == nil {
		var privHandle *models.KeyHandle
		if privHandle, err = s.handleFor(ctx, privRec); err == nil {
			s.recordAudit(ctx, s.auditEvent(constants.AuditEventKeyGenerated, privRec, "success", ""))
			s.logger.Info(ctx, "Key pair generated and stored", logger.Fields{
				"public_tag":  publicTag.String(),
				"private_tag": privateTag.String(),
				"bits":        spec.Bits,
				"provider":    s.provider.Name(),
			})
			return &models.KeyPairRecord{
				PublicTag:  pubHandle.Tag(),
				PrivateTag: privHandle.Tag(),
				Public:     pubHandle,
				Private:    privHandle,
			}, nil
		}
	}

	// Both halves are stored but unusable; remove them so the tags can be used again.
	err = s.rollback(ctx, err, pubRec, privRec)
	if s.cache != nil {
		s.cache.Invalidate(pubRec.ID)
		s.cache.Invalidate(privRec.ID)
	}
	s.discard(ctx, constants.KeyKindPrivate, privMat)
	s.recordAudit(ctx, s.auditEvent(constants.AuditEventKeyRolledBack, privRec, "failure", "stored key could not be loaded"))
	return nil, err
}

// rollback deletes the given records after a failed generation. A failed delete is
// logged and flagged on cause as rollback=failed.
func (s *KeyCustodyService) rollback(ctx context.Context, cause error, recs ...*models.StoredKey) error {
	ctx = context.WithoutCancel(ctx)
	for _, rec := range recs {
		err := s.store.Delete(ctx, rec.Kind, rec.Tag)
		if err == nil {
			continue
		}
		s.logger.Error(ctx, "Rollback of stored key failed", err, logger.Fields{"kind": rec.Kind, "tag": rec.Tag.String()})
		if ce, ok := custodyerrors.AsCustodyError(cause); ok {
			cause = ce.WithMetadata("rollback", "failed")
		}
	}
	return cause
}

func (s *KeyCustodyService) normalizePairSpec(spec models.KeySpec) (models.KeySpec, error) {
	if spec.Algorithm == "" {
		spec.Algorithm = constants.AlgorithmRSA
	}
	if spec.Algorithm != constants.AlgorithmRSA {
		return spec, custodyerrors.ErrUnsupportedAlgorithm("key pairs are RSA only, got " + string(spec.Algorithm))
	}
	if spec.Bits == 0 {
		spec.Bits = s.opts.DefaultRSABits
	}
	if spec.Bits < s.opts.MinRSABits || !slices.Contains(s.provider.SupportedRSABits(), spec.Bits) {
		return spec, custodyerrors.ErrUnsupportedAlgorithm("unsupported rsa key size").
			WithMetadata("bits", spec.Bits).
			WithMetadata("supported", s.provider.SupportedRSABits())
	}
	if spec.Usage == 0 {
		spec.Usage = constants.UsageAll
	}
	if spec.Policy == "" {
		spec.Policy = s.opts.PrivateKeyPolicy
	}
	if !spec.Policy.Valid() {
		return spec, custodyerrors.ErrUnsupportedAlgorithm("unknown access policy " + string(spec.Policy))
	}
	return spec, nil
}

// GenerateSymmetricKey creates a fresh AEAD key and stores it under tag.
// alg defaults to AES-GCM and bits to 256.
// GenerateSymmetricKey 创建新的 AEAD 密钥并以 tag 存储。
func (s *KeyCustodyService) GenerateSymmetricKey(ctx context.Context, alg constants.Algorithm, bits int, tag models.KeyTag) (h *models.KeyHandle, err error) {
	ctx, op := startOperation(ctx, s.tracer, s.metrics, "custody.GenerateSymmetricKey",
		attribute.String("custody.algorithm", string(alg)))
	defer func() { op.end(err) }()

	if err := invalidTag(constants.KeyKindSymmetric, tag); err != nil {
		return nil, err
	}
	mat, err := s.generateSymmetric(ctx, alg, bits)
	if err != nil {
		return nil, err
	}
	defer mat.Zero()

	spec := models.KeySpec{Algorithm: mat.Algorithm, Bits: mat.Bits, Usage: constants.UsageEncrypt}
	rec := s.newRecord(constants.KeyKindSymmetric, tag, spec, s.opts.PrivateKeyPolicy, mat, time.Now().UTC())
	if err := s.store.Put(ctx, rec); err != nil {
		s.recordAudit(ctx, s.auditEvent(constants.AuditEventKeyGenerated, rec, "failure", "symmetric key put failed"))
		return nil, storeError(err, constants.KeyKindSymmetric, tag, constants.OpResolve)
	}

	h, err = s.handleFor(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, s.auditEvent(constants.AuditEventKeyGenerated, rec, "success", ""))
	s.logger.Info(ctx, "Symmetric key generated and stored", logger.Fields{"tag": tag.String(), "algorithm": mat.Algorithm, "bits": mat.Bits})
	return h, nil
}

// NewEphemeralSymmetricKey returns a handle to a fresh AEAD key that is never stored.
// NewEphemeralSymmetricKey 返回一个从不存储的新 AEAD 密钥句柄。
func (s *KeyCustodyService) NewEphemeralSymmetricKey(ctx context.Context, alg constants.Algorithm, bits int) (h *models.KeyHandle, err error) {
	ctx, op := startOperation(ctx, s.tracer, s.metrics, "custody.NewEphemeralSymmetricKey",
		attribute.String("custody.algorithm", string(alg)))
	defer func() { op.end(err) }()

	mat, err := s.generateSymmetric(ctx, alg, bits)
	if err != nil {
		return nil, err
	}
	defer mat.Zero()

	spec := models.KeySpec{Algorithm: mat.Algorithm, Bits: mat.Bits, Usage: constants.UsageEncrypt}
	rec := s.newRecord(constants.KeyKindSymmetric, models.NewKeyTag("ephemeral"), spec, constants.AccessAlways, mat, time.Now().UTC())
	key, public, err := s.provider.LoadKey(ctx, rec)
	if err != nil {
		return nil, loadError(err)
	}
	return models.NewKeyHandle(rec, key, public), nil
}

func (s *KeyCustodyService) generateSymmetric(ctx context.Context, alg constants.Algorithm, bits int) (models.KeyMaterial, error) {
	if alg == "" {
		alg = constants.AlgorithmAESGCM
	}
	if bits == 0 {
		bits = constants.DefaultSymmetricBits
	}
	if !slices.Contains(s.provider.SupportedSymmetricBits(alg), bits) {
		return models.KeyMaterial{}, custodyerrors.ErrUnsupportedAlgorithm("unsupported symmetric key").
			WithMetadata("algorithm", string(alg)).
			WithMetadata("bits", bits)
	}
	mat, err := s.provider.GenerateSymmetricKey(ctx, alg, bits)
	if err != nil {
		s.logger.Error(ctx, "Symmetric key generation failed", err, logger.Fields{"algorithm": alg, "bits": bits})
		return models.KeyMaterial{}, generationError(err)
	}
	return mat, nil
}

// Resolve returns a handle to the key stored under (kind, tag). The key's access policy is
// evaluated on every call, cached handles included.
// Resolve 返回以 (kind, tag) 存储的密钥句柄。每次调用都会评估密钥的访问策略，包括缓存的句柄。
func (s *KeyCustodyService) Resolve(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (h *models.KeyHandle, err error) {
	ctx, op := startOperation(ctx, s.tracer, s.metrics, "custody.Resolve",
		attribute.String("custody.kind", string(kind)))
	defer func() { op.end(err) }()

	if err := invalidTag(kind, tag); err != nil {
		return nil, err
	}
	rec, err := s.store.Get(ctx, kind, tag)
	if err != nil {
		if errors.Is(err, repository.ErrAccessDenied) {
			s.recordAudit(ctx, s.deniedEvent(kind, tag, constants.OpResolve))
		}
		return nil, storeError(err, kind, tag, constants.OpResolve)
	}
	defer rec.ZeroMaterial()

	return s.handleFor(ctx, rec)
}

// ResolvePair resolves both halves of a key pair.
func (s *KeyCustodyService) ResolvePair(ctx context.Context, publicTag, privateTag models.KeyTag) (*models.KeyPairRecord, error) {
	pub, err := s.Resolve(ctx, constants.KeyKindPublic, publicTag)
	if err != nil {
		return nil, err
	}
	priv, err := s.Resolve(ctx, constants.KeyKindPrivate, privateTag)
	if err != nil {
		return nil, err
	}
	return &models.KeyPairRecord{
		PublicTag:  pub.Tag(),
		PrivateTag: priv.Tag(),
		Public:     pub,
		Private:    priv,
	}, nil
}

// Delete removes the key stored under (kind, tag) and destroys any provider-held object.
// Delete 删除以 (kind, tag) 存储的密钥，并销毁提供者持有的对象。
func (s *KeyCustodyService) Delete(ctx context.Context, kind constants.KeyKind, tag models.KeyTag) (err error) {
	ctx, op := startOperation(ctx, s.tracer, s.metrics, "custody.Delete",
		attribute.String("custody.kind", string(kind)))
	defer func() { op.end(err) }()

	if err := invalidTag(kind, tag); err != nil {
		return err
	}
	rec, err := s.store.Get(ctx, kind, tag)
	unreadable := errors.Is(err, repository.ErrCorruptRecord)
	switch {
	case unreadable:
		// The record stays deletable; only its metadata is consulted.
		s.logger.Warn(ctx, "Deleting unreadable key record", logger.Fields{"kind": kind, "tag": tag.String(), "error": err.Error()})
		rec = &models.StoredKey{Kind: kind, Tag: tag}
		if meta, merr := repository.Metadata(ctx, s.store, kind, tag); merr == nil {
			rec = meta
		}
	case err != nil:
		if errors.Is(err, repository.ErrAccessDenied) {
			s.recordAudit(ctx, s.deniedEvent(kind, tag, constants.OpDelete))
		}
		return storeError(err, kind, tag, constants.OpDelete)
	}
	defer rec.ZeroMaterial()

	if err := s.store.Delete(ctx, kind, tag); err != nil {
		if errors.Is(err, repository.ErrAccessDenied) {
			s.recordAudit(ctx, s.deniedEvent(kind, tag, constants.OpDelete))
		}
		return storeError(err, kind, tag, constants.OpDelete)
	}
	if s.cache != nil && rec.ID != "" {
		s.cache.Invalidate(rec.ID)
	}
	if !unreadable && rec.Provider == s.provider.Name() {
		s.discard(ctx, kind, models.KeyMaterial{Algorithm: rec.Algorithm, Bits: rec.Bits, Provider: rec.Provider, Bytes: rec.Material})
	}

	var message string
	if unreadable {
		message = "unreadable record"
	}
	s.recordAudit(ctx, s.auditEvent(constants.AuditEventKeyDeleted, rec, "success", message))
	s.logger.Info(ctx, "Key deleted", logger.Fields{"kind": kind, "tag": tag.String()})
	return nil
}

// Lock locks the custody context. Keys stored with an unlocked-only policy become unusable.
// Lock 锁定托管上下文。
func (s *KeyCustodyService) Lock(ctx context.Context) {
	s.lock.Lock()
	s.logger.Info(ctx, "Custody context locked")
}

// Unlock unlocks the custody context.
// Unlock 解锁托管上下文。
func (s *KeyCustodyService) Unlock(ctx context.Context) {
	s.lock.Unlock()
	s.logger.Info(ctx, "Custody context unlocked")
}

// Unlocked reports whether the custody context is unlocked.
func (s *KeyCustodyService) Unlocked(ctx context.Context) bool {
	return s.lock.Unlocked(ctx)
}

func (s *KeyCustodyService) newRecord(kind constants.KeyKind, tag models.KeyTag, spec models.KeySpec, policy constants.AccessPolicy, mat models.KeyMaterial, now time.Time) *models.StoredKey {
	provider := mat.Provider
	if provider == "" {
		provider = s.provider.Name()
	}
	return &models.StoredKey{
		ID:        uuid.NewString(),
		Kind:      kind,
		Tag:       append(models.KeyTag(nil), tag...),
		Algorithm: spec.Algorithm,
		Bits:      spec.Bits,
		Usage:     spec.Usage,
		Policy:    policy,
		Provider:  provider,
		Material:  mat.Bytes,
		CreatedAt: now,
	}
}

// handleFor loads rec into a handle through the process cache.
func (s *KeyCustodyService) handleFor(ctx context.Context, rec *models.StoredKey) (*models.KeyHandle, error) {
	load := func(ctx context.Context) (*models.KeyHandle, error) {
		key, public, err := s.provider.LoadKey(ctx, rec)
		if err != nil {
			s.logger.Warn(ctx, "Stored key could not be loaded", logger.Fields{"key_id": rec.ID, "kind": rec.Kind, "error": err.Error()})
			return nil, loadError(err)
		}
		return models.NewKeyHandle(rec, key, public), nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.GetOrLoad(ctx, rec.ID, load)
}

func (s *KeyCustodyService) discard(ctx context.Context, kind constants.KeyKind, mat models.KeyMaterial) {
	d, ok := s.provider.(service.MaterialDiscarder)
	if !ok {
		return
	}
	if err := d.Discard(context.WithoutCancel(ctx), kind, mat); err != nil {
		s.logger.Error(ctx, "Failed to discard provider key object", err, logger.Fields{"kind": kind})
	}
}

func (s *KeyCustodyService) auditEvent(t constants.AuditEventType, rec *models.StoredKey, result, message string) models.AuditEvent {
	ev := models.NewAuditEvent(t, rec.Kind, rec.Tag, result)
	ev.KeyID = rec.ID
	ev.Algorithm = rec.Algorithm
	ev.Bits = rec.Bits
	ev.Message = message
	return ev
}

func (s *KeyCustodyService) deniedEvent(kind constants.KeyKind, tag models.KeyTag, op constants.Operation) models.AuditEvent {
	ev := models.NewAuditEvent(constants.AuditEventAccessDenied, kind, tag, "failure")
	ev.Message = string(op)
	return ev
}

func (s *KeyCustodyService) recordAudit(ctx context.Context, ev models.AuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, ev); err != nil {
		s.logger.Warn(ctx, "Failed to record audit event", logger.Fields{"event_type": ev.EventType, "error": err.Error()})
	}
}

//Personal.AI order the ending
