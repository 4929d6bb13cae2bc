// Package crypto provides the in-process primitive provider: RSA key pairs, AEAD symmetric
// keys and message digests backed by the Go standard library and golang.org/x/crypto.
package crypto

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

// ProviderName is recorded on every key produced by SoftwareProvider.
const ProviderName = "software"

var defaultRSABits = []int{2048, 3072, 4096}

// privateKey wraps an RSA private key so that no package outside this one can reach it.
type privateKey struct {
	k *rsa.PrivateKey
}

// publicKey wraps an RSA public key loaded from a stored record.
type publicKey struct {
	k *rsa.PublicKey
}

// secretKey holds a ready AEAD built from symmetric material.
type secretKey struct {
	alg  constants.Algorithm
	aead cipher.AEAD
}

// SoftwareProvider implements service.PrimitiveProvider in process memory.
type SoftwareProvider struct {
	rsaBits []int
	random  io.Reader
	logger  logger.Logger
}

// SoftwareOption customises a SoftwareProvider.
type SoftwareOption func(*SoftwareProvider)

// WithRSABits restricts the RSA modulus sizes the provider will generate.
func WithRSABits(bits ...int) SoftwareOption {
	return func(p *SoftwareProvider) {
		p.rsaBits = append([]int(nil), bits...)
	}
}

// WithRandom replaces the entropy source. Intended for tests that inject failures.
func WithRandom(r io.Reader) SoftwareOption {
	return func(p *SoftwareProvider) {
		p.random = r
	}
}

// NewSoftwareProvider creates a new software primitive provider.
func NewSoftwareProvider(log logger.Logger, opts ...SoftwareOption) *SoftwareProvider {
	p := &SoftwareProvider{
		rsaBits: defaultRSABits,
		random:  rand.Reader,
		logger:  log.WithComponent("SoftwareProvider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *SoftwareProvider) Name() string { return ProviderName }

func (p *SoftwareProvider) SupportedRSABits() []int {
	return append([]int(nil), p.rsaBits...)
}

func (p *SoftwareProvider) SupportedSymmetricBits(alg constants.Algorithm) []int {
	switch alg {
	case constants.AlgorithmAESGCM:
		return []int{128, 192, 256}
	case constants.AlgorithmChaCha20Poly1305:
		return []int{chacha20poly1305.KeySize * 8}
	}
	return nil
}

// GenerateKeyPair creates an RSA key pair. Public material is PKIX DER, private material PKCS#8 DER.
func (p *SoftwareProvider) GenerateKeyPair(ctx context.Context, spec models.KeySpec) (models.KeyMaterial, models.KeyMaterial, error) {
	if spec.Algorithm != constants.AlgorithmRSA {
		return models.KeyMaterial{}, models.KeyMaterial{}, fmt.Errorf("%w: key pair algorithm %q", service.ErrUnsupported, spec.Algorithm)
	}
	if !containsInt(p.rsaBits, spec.Bits) {
		return models.KeyMaterial{}, models.KeyMaterial{}, fmt.Errorf("%w: rsa key size %d", service.ErrUnsupported, spec.Bits)
	}
	if err := ctx.Err(); err != nil {
		return models.KeyMaterial{}, models.KeyMaterial{}, fmt.Errorf("%w: %v", service.ErrProviderUnavailable, err)
	}

	key, err := rsa.GenerateKey(p.random, spec.Bits)
	if err != nil {
		return models.KeyMaterial{}, models.KeyMaterial{}, fmt.Errorf("failed to generate rsa key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return models.KeyMaterial{}, models.KeyMaterial{}, fmt.Errorf("failed to marshal public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return models.KeyMaterial{}, models.KeyMaterial{}, fmt.Errorf("failed to marshal private key: %w", err)
	}

	p.logger.Debug(ctx, "Generated RSA key pair", logger.Fields{"bits": spec.Bits})

	pub := models.KeyMaterial{Algorithm: constants.AlgorithmRSA, Bits: spec.Bits, Provider: ProviderName, Bytes: pubDER}
	priv := models.KeyMaterial{Algorithm: constants.AlgorithmRSA, Bits: spec.Bits, Provider: ProviderName, Bytes: privDER}
	return pub, priv, nil
}

// GenerateSymmetricKey creates raw random key bytes for an AEAD algorithm.
func (p *SoftwareProvider) GenerateSymmetricKey(ctx context.Context, alg constants.Algorithm, bits int) (models.KeyMaterial, error) {
	if !containsInt(p.SupportedSymmetricBits(alg), bits) {
		return models.KeyMaterial{}, fmt.Errorf("%w: %s key size %d", service.ErrUnsupported, alg, bits)
	}
	if err := ctx.Err(); err != nil {
		return models.KeyMaterial{}, fmt.Errorf("%w: %v", service.ErrProviderUnavailable, err)
	}
	buf := make([]byte, bits/8)
	if _, err := io.ReadFull(p.random, buf); err != nil {
		return models.KeyMaterial{}, fmt.Errorf("failed to read key bytes: %w", err)
	}
	return models.KeyMaterial{Algorithm: alg, Bits: bits, Provider: ProviderName, Bytes: buf}, nil
}

// LoadKey parses stored material into an opaque key object.
func (p *SoftwareProvider) LoadKey(ctx context.Context, rec *models.StoredKey) (any, crypto.PublicKey, error) {
	if rec.Provider != "" && rec.Provider != ProviderName {
		return nil, nil, fmt.Errorf("%w: record belongs to provider %q", service.ErrUnsupported, rec.Provider)
	}
	switch rec.Kind {
	case constants.KeyKindPublic:
		parsed, err := x509.ParsePKIXPublicKey(rec.Material)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, nil, fmt.Errorf("%w: public key is %T", service.ErrUnsupported, parsed)
		}
		return &publicKey{k: pub}, pub, nil

	case constants.KeyKindPrivate:
		parsed, err := x509.ParsePKCS8PrivateKey(rec.Material)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		priv, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, nil, fmt.Errorf("%w: private key is %T", service.ErrUnsupported, parsed)
		}
		return &privateKey{k: priv}, nil, nil

	case constants.KeyKindSymmetric:
		key, err := newSecretKey(rec.Algorithm, rec.Material)
		if err != nil {
			return nil, nil, err
		}
		return key, nil, nil
	}
	return nil, nil, fmt.Errorf("%w: key kind %q", service.ErrUnsupported, rec.Kind)
}

func newSecretKey(alg constants.Algorithm, raw []byte) (*secretKey, error) {
	var (
		aead cipher.AEAD
		err  error
	)
	switch alg {
	case constants.AlgorithmAESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(raw)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case constants.AlgorithmChaCha20Poly1305:
		aead, err = chacha20poly1305.New(raw)
	default:
		return nil, fmt.Errorf("%w: symmetric algorithm %q", service.ErrUnsupported, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build %s cipher: %w", alg, err)
	}
	return &secretKey{alg: alg, aead: aead}, nil
}

// AsymmetricEncrypt runs RSA-OAEP with SHA-256 against a public key object.
func (p *SoftwareProvider) AsymmetricEncrypt(ctx context.Context, key any, scheme constants.Scheme, plaintext []byte) ([]byte, error) {
	if scheme != constants.SchemeRSAOAEPSHA256 {
		return nil, fmt.Errorf("%w: scheme %q", service.ErrUnsupported, scheme)
	}
	pub, err := rsaPublic(key)
	if err != nil {
		return nil, err
	}
	out, err := rsa.EncryptOAEP(sha256.New(), p.random, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrCryptoFailure, err)
	}
	return out, nil
}

// AsymmetricDecrypt runs RSA-OAEP with SHA-256 against a private key object. Every failure
// is reported as ErrCryptoFailure without detail.
func (p *SoftwareProvider) AsymmetricDecrypt(ctx context.Context, key any, scheme constants.Scheme, ciphertext []byte) ([]byte, error) {
	if scheme != constants.SchemeRSAOAEPSHA256 {
		return nil, fmt.Errorf("%w: scheme %q", service.ErrUnsupported, scheme)
	}
	priv, ok := key.(*privateKey)
	if !ok {
		return nil, service.ErrKeyTypeMismatch
	}
	out, err := rsa.DecryptOAEP(sha256.New(), nil, priv.k, ciphertext, nil)
	if err != nil {
		return nil, service.ErrCryptoFailure
	}
	return out, nil
}

// Sign produces an RSASSA-PKCS1-v1_5 signature over SHA-256(data).
func (p *SoftwareProvider) Sign(ctx context.Context, key any, scheme constants.Scheme, data []byte) ([]byte, error) {
	if scheme != constants.SchemeRSAPKCS1v15SHA256 {
		return nil, fmt.Errorf("%w: scheme %q", service.ErrUnsupported, scheme)
	}
	priv, ok := key.(*privateKey)
	if !ok {
		return nil, service.ErrKeyTypeMismatch
	}
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(p.random, priv.k, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrCryptoFailure, err)
	}
	return sig, nil
}

// Verify checks an RSASSA-PKCS1-v1_5 signature. A signature whose length differs from the
// modulus size is malformed; any other mismatch reports false.
func (p *SoftwareProvider) Verify(ctx context.Context, key any, scheme constants.Scheme, data, signature []byte) (bool, error) {
	if scheme != constants.SchemeRSAPKCS1v15SHA256 {
		return false, fmt.Errorf("%w: scheme %q", service.ErrUnsupported, scheme)
	}
	pub, err := rsaPublic(key)
	if err != nil {
		return false, err
	}
	return VerifyPKCS1v15(pub, data, signature)
}

// VerifyPKCS1v15 verifies sig over SHA-256(data) with pub.
func VerifyPKCS1v15(pub *rsa.PublicKey, data, sig []byte) (bool, error) {
	if len(sig) != pub.Size() {
		return false, fmt.Errorf("%w: got %d bytes, want %d", service.ErrMalformedSignature, len(sig), pub.Size())
	}
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		if errors.Is(err, rsa.ErrVerification) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", service.ErrMalformedSignature, err)
	}
	return true, nil
}

// Seal encrypts plaintext with a fresh random nonce. The result is nonce || ciphertext || tag.
func (p *SoftwareProvider) Seal(ctx context.Context, key any, scheme constants.Scheme, plaintext []byte) ([]byte, error) {
	sk, err := p.secret(key, scheme)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, sk.aead.NonceSize(), sk.aead.NonceSize()+len(plaintext)+sk.aead.Overhead())
	if _, err := io.ReadFull(p.random, nonce); err != nil {
		return nil, fmt.Errorf("%w: failed to read nonce: %v", service.ErrCryptoFailure, err)
	}
	return sk.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a sealed blob. Any failure, including a short blob,
// is reported as ErrCryptoFailure.
func (p *SoftwareProvider) Open(ctx context.Context, key any, scheme constants.Scheme, blob []byte) ([]byte, error) {
	sk, err := p.secret(key, scheme)
	if err != nil {
		return nil, err
	}
	ns := sk.aead.NonceSize()
	if len(blob) < ns+sk.aead.Overhead() {
		return nil, service.ErrCryptoFailure
	}
	out, err := sk.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return nil, service.ErrCryptoFailure
	}
	return out, nil
}

func (p *SoftwareProvider) secret(key any, scheme constants.Scheme) (*secretKey, error) {
	sk, ok := key.(*secretKey)
	if !ok {
		return nil, service.ErrKeyTypeMismatch
	}
	if scheme.Algorithm() != sk.alg {
		return nil, fmt.Errorf("%w: scheme %q with %s key", service.ErrUnsupported, scheme, sk.alg)
	}
	return sk, nil
}

// Sum256 returns the SHA-256 digest of data.
func (p *SoftwareProvider) Sum256(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}

// Hash returns the digest of data under alg.
func (p *SoftwareProvider) Hash(alg constants.HashAlgorithm, data []byte) ([]byte, error) {
	switch alg {
	case constants.HashSHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case constants.HashSHA512:
		sum := sha512.Sum512(data)
		return sum[:], nil
	case constants.HashSHA3_256:
		sum := sha3.Sum256(data)
		return sum[:], nil
	}
	return nil, fmt.Errorf("%w: hash %q", service.ErrUnsupported, alg)
}

func rsaPublic(key any) (*rsa.PublicKey, error) {
	switch k := key.(type) {
	case *publicKey:
		return k.k, nil
	case *rsa.PublicKey:
		return k, nil
	}
	return nil, service.ErrKeyTypeMismatch
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

var _ service.PrimitiveProvider = (*SoftwareProvider)(nil)
