// Package constants defines system-wide constants for the key custody service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Key Kind Constants
// ================================================================================

// KeyKind names the namespace a stored key lives in. Tags are unique per (kind, tag).
type KeyKind string

const (
	// KeyKindPublic is the public half of an asymmetric key pair
	KeyKindPublic KeyKind = "public"

	// KeyKindPrivate is the private half of an asymmetric key pair
	KeyKindPrivate KeyKind = "private"

	// KeyKindSymmetric is a secret key for authenticated symmetric encryption
	KeyKindSymmetric KeyKind = "symmetric"
)

// Valid reports whether k is a known key kind.
func (k KeyKind) Valid() bool {
	switch k {
	case KeyKindPublic, KeyKindPrivate, KeyKindSymmetric:
		return true
	}
	return false
}

// ================================================================================
// Algorithm Constants
// ================================================================================

// Algorithm is the key algorithm pinned to a stored key at generation time.
type Algorithm string

const (
	// AlgorithmRSA is an RSA key pair
	AlgorithmRSA Algorithm = "RSA"

	// AlgorithmAESGCM is an AES key used with Galois/Counter Mode
	AlgorithmAESGCM Algorithm = "AES-GCM"

	// AlgorithmChaCha20Poly1305 is a 256-bit ChaCha20-Poly1305 key
	AlgorithmChaCha20Poly1305 Algorithm = "CHACHA20-POLY1305"
)

// Scheme identifies the exact primitive an envelope operation runs.
type Scheme string

const (
	// SchemeRSAOAEPSHA256 is RSA-OAEP with SHA-256 for both the label hash and MGF1
	SchemeRSAOAEPSHA256 Scheme = "RSA-OAEP-SHA256"

	// SchemeRSAPKCS1v15SHA256 is RSASSA-PKCS1-v1_5 over a SHA-256 message digest
	SchemeRSAPKCS1v15SHA256 Scheme = "RSA-PKCS1v15-SHA256"

	// SchemeAESGCM is AES-GCM with a 12-byte random nonce and 16-byte tag
	SchemeAESGCM Scheme = "AES-GCM"

	// SchemeChaCha20Poly1305 is ChaCha20-Poly1305 with a 12-byte random nonce
	SchemeChaCha20Poly1305 Scheme = "CHACHA20-POLY1305"
)

// Algorithm returns the key algorithm a scheme requires.
func (s Scheme) Algorithm() Algorithm {
	switch s {
	case SchemeRSAOAEPSHA256, SchemeRSAPKCS1v15SHA256:
		return AlgorithmRSA
	case SchemeAESGCM:
		return AlgorithmAESGCM
	case SchemeChaCha20Poly1305:
		return AlgorithmChaCha20Poly1305
	}
	return ""
}

// HashAlgorithm identifies a digest function.
type HashAlgorithm string

const (
	// HashSHA256 is SHA-256 (32-byte digest), the reference hash
	HashSHA256 HashAlgorithm = "sha256"

	// HashSHA512 is SHA-512 (64-byte digest)
	HashSHA512 HashAlgorithm = "sha512"

	// HashSHA3_256 is SHA3-256 (32-byte digest)
	HashSHA3_256 HashAlgorithm = "sha3-256"
)

// ================================================================================
// Key Usage Constants
// ================================================================================

// KeyUsage is a bitmask of the operation families a key may serve.
type KeyUsage uint8

const (
	// UsageEncrypt allows encryption and decryption
	UsageEncrypt KeyUsage = 1 << iota

	// UsageSign allows signing and verification
	UsageSign

	// UsageAll allows every operation family
	UsageAll = UsageEncrypt | UsageSign
)

// Has reports whether every bit of other is set in u.
func (u KeyUsage) Has(other KeyUsage) bool {
	return u&other == other
}

// ================================================================================
// Access Policy Constants
// ================================================================================

// AccessPolicy is the access-control condition attached to a stored key.
type AccessPolicy string

const (
	// AccessAlways places no condition on the key
	AccessAlways AccessPolicy = "always"

	// AccessWhenUnlocked allows use only while the custody context is unlocked
	AccessWhenUnlocked AccessPolicy = "when_unlocked"

	// AccessWhenUnlockedPrivateOps allows use only while unlocked and only for private-key operations
	AccessWhenUnlockedPrivateOps AccessPolicy = "when_unlocked_private_ops"
)

// Valid reports whether p is a known access policy.
func (p AccessPolicy) Valid() bool {
	switch p {
	case AccessAlways, AccessWhenUnlocked, AccessWhenUnlockedPrivateOps:
		return true
	}
	return false
}

// Operation names the action an access check is evaluated for.
type Operation string

const (
	OpResolve Operation = "resolve"
	OpDelete  Operation = "delete"
	OpEncrypt Operation = "encrypt"
	OpDecrypt Operation = "decrypt"
	OpSign    Operation = "sign"
	OpVerify  Operation = "verify"
	OpSeal    Operation = "seal"
	OpOpen    Operation = "open"
)

// ================================================================================
// Key Size Constants
// ================================================================================

const (
	// MinRSABits is the smallest RSA modulus the service will ever generate
	MinRSABits = 2048

	// DefaultRSABits is used when no key size is configured
	DefaultRSABits = 2048

	// DefaultSymmetricBits is the size of freshly generated symmetric keys
	DefaultSymmetricBits = 256

	// MaxTagLength bounds the length of a key tag in bytes
	MaxTagLength = 255

	// AEADNonceSize is the nonce length prefixed to every sealed blob
	AEADNonceSize = 12

	// AEADTagSize is the authentication tag length appended to every sealed blob
	AEADTagSize = 16
)

// ================================================================================
// Audit Event Constants
// ================================================================================

// AuditEventType represents the type of a custody audit event
type AuditEventType string

const (
	AuditEventKeyGenerated  AuditEventType = "key.generated"
	AuditEventKeyDeleted    AuditEventType = "key.deleted"
	AuditEventKeyRolledBack AuditEventType = "key.rolled_back"
	AuditEventAccessDenied  AuditEventType = "key.access_denied"
)

// ================================================================================
// Logging Constants
// ================================================================================

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ContextKey is the type for values stored in a context by this service
type ContextKey string

const (
	// ContextKeyRequestID carries a caller supplied request id into log lines
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyLogger carries a request scoped logger
	ContextKeyLogger ContextKey = "logger"
)

// ================================================================================
// Store Constants
// ================================================================================

const (
	// DefaultHandleCacheTTL is how long a loaded key handle stays in the process cache
	DefaultHandleCacheTTL = 5 * time.Minute

	// DefaultRedisKeyPrefix namespaces custody records in a shared Redis
	DefaultRedisKeyPrefix = "custody"

	// DefaultVaultMount is the KV v2 mount used for key records
	DefaultVaultMount = "secret"

	// DefaultVaultPathPrefix is the path below the mount where key records live
	DefaultVaultPathPrefix = "custody/keys"

	// TracerName is the instrumentation name used for spans
	TracerName = "github.com/turtacn/custody"
)

//Personal.AI order the ending
