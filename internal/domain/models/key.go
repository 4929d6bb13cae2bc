package models

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/turtacn/custody/pkg/constants"
)

// KeyTag is an opaque, caller-chosen identifier naming a stored key within a key kind.
// KeyTag 是调用方选择的不透明标识符，用于在某一密钥类型内命名已存储的密钥。
type KeyTag []byte

// NewKeyTag builds a tag from a string.
func NewKeyTag(s string) KeyTag {
	return KeyTag(s)
}

// String returns the tag bytes as a string, for logs and messages.
func (t KeyTag) String() string {
	return string(t)
}

// Hex returns the lowercase hex form of the tag, used as a storage key component.
func (t KeyTag) Hex() string {
	return hex.EncodeToString(t)
}

// Equal reports whether two tags hold the same bytes.
func (t KeyTag) Equal(other KeyTag) bool {
	return bytes.Equal(t, other)
}

// Validate checks that the tag is non-empty and within the length bound.
func (t KeyTag) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("key tag is empty")
	}
	if len(t) > constants.MaxTagLength {
		return fmt.Errorf("key tag is %d bytes, maximum is %d", len(t), constants.MaxTagLength)
	}
	return nil
}

// KeySpec defines the specifications for generating a new cryptographic key.
// KeySpec 定义了生成新加密密钥的规范。
type KeySpec struct {
	// Algorithm is the key algorithm (e.g., "RSA", "AES-GCM").
	// Algorithm 是密钥算法（例如，"RSA"、"AES-GCM"）。
	Algorithm constants.Algorithm
	// Bits is the key size in bits (e.g., 2048 for RSA).
	// Bits 是密钥大小（以位为单位）（例如，RSA 为 2048）。
	Bits int
	// Usage restricts the operation families the key may serve.
	// Usage 限制密钥可用于的操作类别。
	Usage constants.KeyUsage
	// Policy is the access policy applied to the secret half of the key.
	// Policy 是应用于密钥秘密部分的访问策略。
	Policy constants.AccessPolicy
}

// KeyMaterial is provider-produced key material. Its encoding is owned by the provider:
// PKIX DER for public keys, PKCS#8 DER or a token object reference for private keys,
// raw bytes for symmetric keys.
// KeyMaterial 是由提供者生成的密钥材料，其编码由提供者决定。
type KeyMaterial struct {
	Algorithm constants.Algorithm
	Bits      int
	Provider  string
	Bytes     []byte
}

// Zero overwrites the material bytes.
func (m *KeyMaterial) Zero() {
	for i := range m.Bytes {
		m.Bytes[i] = 0
	}
}

// StoredKey is the record a KeyStore persists for one (kind, tag) pair.
// StoredKey 是 KeyStore 为每个 (kind, tag) 对持久化的记录。
type StoredKey struct {
	// ID is a unique identifier of this record, regenerated on every write.
	// ID 是此记录的唯一标识符。
	ID        string
	Kind      constants.KeyKind
	Tag       KeyTag
	Algorithm constants.Algorithm
	Bits      int
	Usage     constants.KeyUsage
	Policy    constants.AccessPolicy
	// Provider names the primitive provider able to load Material.
	// Provider 指明能够加载 Material 的原语提供者。
	Provider string
	// Material is the provider-encoded key material. It never leaves the custody boundary.
	// Material 是提供者编码的密钥材料，永远不会离开托管边界。
	Material  []byte
	CreatedAt time.Time
}

// Clone returns a deep copy of the record.
func (k *StoredKey) Clone() *StoredKey {
	if k == nil {
		return nil
	}
	c := *k
	c.Tag = append(KeyTag(nil), k.Tag...)
	c.Material = append([]byte(nil), k.Material...)
	return &c
}

// ZeroMaterial overwrites the material bytes of the record.
func (k *StoredKey) ZeroMaterial() {
	for i := range k.Material {
		k.Material[i] = 0
	}
}

// KeyHandle is an opaque reference to key material resolved through the key store.
// It never carries exportable private key bytes: the provider key object is held in an
// unexported field and its concrete type is private to the provider that produced it.
// KeyHandle 是通过密钥存储解析得到的不透明密钥引用，不包含可导出的私钥字节。
type KeyHandle struct {
	id        string
	kind      constants.KeyKind
	tag       KeyTag
	algorithm constants.Algorithm
	bits      int
	usage     constants.KeyUsage
	policy    constants.AccessPolicy
	provider  string
	public    crypto.PublicKey
	key       any
}

// NewKeyHandle binds a loaded provider key object to the metadata of its record.
// public is only retained for public keys.
func NewKeyHandle(rec *StoredKey, key any, public crypto.PublicKey) *KeyHandle {
	h := &KeyHandle{
		id:        rec.ID,
		kind:      rec.Kind,
		tag:       append(KeyTag(nil), rec.Tag...),
		algorithm: rec.Algorithm,
		bits:      rec.Bits,
		usage:     rec.Usage,
		policy:    rec.Policy,
		provider:  rec.Provider,
		key:       key,
	}
	if rec.Kind == constants.KeyKindPublic {
		h.public = public
	}
	return h
}

func (h *KeyHandle) ID() string                     { return h.id }
func (h *KeyHandle) Kind() constants.KeyKind        { return h.kind }
func (h *KeyHandle) Tag() KeyTag                    { return append(KeyTag(nil), h.tag...) }
func (h *KeyHandle) Algorithm() constants.Algorithm { return h.algorithm }
func (h *KeyHandle) Bits() int                      { return h.bits }
func (h *KeyHandle) Usage() constants.KeyUsage      { return h.usage }
func (h *KeyHandle) Policy() constants.AccessPolicy { return h.policy }
func (h *KeyHandle) Provider() string               { return h.provider }

// Public returns the public key of a public handle, or nil for any other kind.
func (h *KeyHandle) Public() crypto.PublicKey {
	return h.public
}

// String never includes key material.
func (h *KeyHandle) String() string {
	return fmt.Sprintf("KeyHandle{id=%s kind=%s tag=%q alg=%s bits=%d}", h.id, h.kind, string(h.tag), h.algorithm, h.bits)
}

// HandleKey returns the provider key object behind a handle. Only primitive providers
// can do anything with the result.
func HandleKey(h *KeyHandle) any {
	if h == nil {
		return nil
	}
	return h.key
}

// KeyPairRecord pairs the two handles produced by one generation call. The halves are
// stored independently under their own tags.
// KeyPairRecord 将一次生成调用产生的两个句柄配对，两部分分别以各自的标签存储。
type KeyPairRecord struct {
	PublicTag  KeyTag
	PrivateTag KeyTag
	Public     *KeyHandle
	Private    *KeyHandle
}
