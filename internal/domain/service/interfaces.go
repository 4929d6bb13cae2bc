package service

import (
	"context"
	"crypto"
	"crypto/sha256"
	"errors"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/pkg/constants"
)

var (
	// ErrUnsupported is returned by a provider for an algorithm, scheme or size it cannot serve.
	ErrUnsupported = errors.New("unsupported by provider")

	// ErrProviderUnavailable is returned when the provider or its device cannot be used.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrCryptoFailure is returned for any failed decryption or authentication.
	ErrCryptoFailure = errors.New("cryptographic operation failed")

	// ErrMalformedSignature is returned when a signature cannot be valid for the key.
	ErrMalformedSignature = errors.New("malformed signature")

	// ErrKeyTypeMismatch is returned when a key object of the wrong type is passed to a primitive.
	ErrKeyTypeMismatch = errors.New("key object type mismatch")
)

// Hasher computes message digests.
type Hasher interface {
	// Sum256 returns the SHA-256 digest of data.
	Sum256(data []byte) [sha256.Size]byte

	// Hash returns the digest of data under alg.
	Hash(alg constants.HashAlgorithm, data []byte) ([]byte, error)
}

//go:generate mockery --name PrimitiveProvider --output mocks --outpkg mocks
// PrimitiveProvider abstracts the underlying cryptographic implementation (software, HSM).
// Key objects returned by LoadKey are opaque to every other package.
// PrimitiveProvider 抽象了底层加密实现（软件、HSM）。LoadKey 返回的密钥对象对其他包是不透明的。
type PrimitiveProvider interface {
	Hasher

	// Name identifies the provider; it is recorded on every stored key.
	// Name 标识提供者；它会记录在每个存储的密钥上。
	Name() string

	// SupportedRSABits lists the RSA modulus sizes the provider can generate.
	// SupportedRSABits 列出提供者可以生成的 RSA 模数大小。
	SupportedRSABits() []int

	// SupportedSymmetricBits lists the key sizes the provider can generate for alg.
	// SupportedSymmetricBits 列出提供者可以为 alg 生成的密钥大小。
	SupportedSymmetricBits(alg constants.Algorithm) []int

	// GenerateKeyPair creates a new asymmetric key pair.
	// GenerateKeyPair 创建一个新的非对称密钥对。
	GenerateKeyPair(ctx context.Context, spec models.KeySpec) (public, private models.KeyMaterial, err error)

	// GenerateSymmetricKey creates a new secret key.
	// GenerateSymmetricKey 创建一个新的对称密钥。
	GenerateSymmetricKey(ctx context.Context, alg constants.Algorithm, bits int) (models.KeyMaterial, error)

	// LoadKey turns a stored record into a usable key object. public is set for public keys.
	// LoadKey 将存储的记录转换为可用的密钥对象。
	LoadKey(ctx context.Context, rec *models.StoredKey) (key any, public crypto.PublicKey, err error)

	AsymmetricEncrypt(ctx context.Context, key any, scheme constants.Scheme, plaintext []byte) ([]byte, error)
	AsymmetricDecrypt(ctx context.Context, key any, scheme constants.Scheme, ciphertext []byte) ([]byte, error)
	Sign(ctx context.Context, key any, scheme constants.Scheme, data []byte) ([]byte, error)
	Verify(ctx context.Context, key any, scheme constants.Scheme, data, signature []byte) (bool, error)
	Seal(ctx context.Context, key any, scheme constants.Scheme, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, key any, scheme constants.Scheme, blob []byte) ([]byte, error)
}

// MaterialDiscarder is implemented by providers that keep key objects outside the store
// (e.g. on a token) and must destroy them when the stored record goes away.
type MaterialDiscarder interface {
	Discard(ctx context.Context, kind constants.KeyKind, material models.KeyMaterial) error
}

// AccessPolicyEngine decides whether an access request is allowed.
// AccessPolicyEngine 决定访问请求是否被允许。
type AccessPolicyEngine interface {
	Authorize(ctx context.Context, req models.AccessRequest) (bool, error)
}

// LockState reports whether the custody context is currently unlocked.
// LockState 报告托管上下文当前是否已解锁。
type LockState interface {
	Unlocked(ctx context.Context) bool
	Lock()
	Unlock()
}

// AccessGate combines a policy engine with the lock state and returns
// repository.ErrAccessDenied when a key may not be used.
type AccessGate interface {
	Check(ctx context.Context, kind constants.KeyKind, policy constants.AccessPolicy, op constants.Operation) error
}

// HandleCache keeps loaded key handles per record id for the lifetime of the process.
type HandleCache interface {
	GetOrLoad(ctx context.Context, id string, load func(ctx context.Context) (*models.KeyHandle, error)) (*models.KeyHandle, error)
	Invalidate(id string)
}

// AuditSink records custody audit events.
// AuditSink 记录托管审计事件。
type AuditSink interface {
	Record(ctx context.Context, event models.AuditEvent) error
}
