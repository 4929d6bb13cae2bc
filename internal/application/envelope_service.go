package application

import (
	"context"
	"crypto/sha256"
	"fmt"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
	custodyerrors "github.com/turtacn/custody/pkg/errors"
	"github.com/turtacn/custody/pkg/logger"
)

// EnvelopeService performs encryption, sealing and signing with key handles resolved by the
// KeyCustodyService. It never sees key bytes, only the opaque provider key object inside a handle.
// EnvelopeService 使用 KeyCustodyService 解析的密钥句柄执行加密、封装和签名。
// 它从不接触密钥字节，只使用句柄内不透明的提供者密钥对象。
type EnvelopeService struct {
	provider service.PrimitiveProvider
	gate     service.AccessGate
	metrics  service.Metrics
	tracer   trace.Tracer
	logger   logger.Logger
}

// NewEnvelopeService creates a new instance of the EnvelopeService.
// NewEnvelopeService 创建 EnvelopeService 的一个新实例。
func NewEnvelopeService(provider service.PrimitiveProvider, gate service.AccessGate, metrics service.Metrics, log logger.Logger) *EnvelopeService {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &EnvelopeService{
		provider: provider,
		gate:     gate,
		metrics:  metrics,
		tracer:   otel.Tracer(constants.TracerName),
		logger:   log.WithComponent("EnvelopeService"),
	}
}

// AsymmetricEncrypt encrypts plaintext to a public key with RSA-OAEP-SHA256. The output is
// exactly the modulus size and differs on every call for the same input.
// AsymmetricEncrypt 使用 RSA-OAEP-SHA256 以公钥加密明文。
func (s *EnvelopeService) AsymmetricEncrypt(ctx context.Context, plaintext []byte, pub *models.KeyHandle) (ct []byte, err error) {
	ctx, op := s.start(ctx, "envelope.AsymmetricEncrypt", pub)
	defer func() { op.end(err) }()

	if err := s.admit(ctx, pub, constants.KeyKindPublic, constants.SchemeRSAOAEPSHA256, constants.UsageEncrypt, constants.OpEncrypt); err != nil {
		return nil, err
	}
	if limit := maxOAEPPlaintext(pub.Bits()); len(plaintext) > limit {
		return nil, custodyerrors.ErrUnsupportedAlgorithm(fmt.Sprintf("plaintext of %d bytes exceeds the %d byte limit", len(plaintext), limit)).
			WithMetadata("reason", "plaintext_too_long")
	}
	ct, err = s.provider.AsymmetricEncrypt(ctx, models.HandleKey(pub), constants.SchemeRSAOAEPSHA256, plaintext)
	if err != nil {
		return nil, primitiveError(err, constants.OpEncrypt)
	}
	return ct, nil
}

// AsymmetricDecrypt decrypts an RSA-OAEP-SHA256 ciphertext with a private key. Every failure
// other than an unavailable provider is reported as the same DecryptionFailed error.
// AsymmetricDecrypt 使用私钥解密 RSA-OAEP-SHA256 密文。
func (s *EnvelopeService) AsymmetricDecrypt(ctx context.Context, ciphertext []byte, priv *models.KeyHandle) (pt []byte, err error) {
	ctx, op := s.start(ctx, "envelope.AsymmetricDecrypt", priv)
	defer func() { op.end(err) }()

	if err := s.admit(ctx, priv, constants.KeyKindPrivate, constants.SchemeRSAOAEPSHA256, constants.UsageEncrypt, constants.OpDecrypt); err != nil {
		return nil, err
	}
	pt, err = s.provider.AsymmetricDecrypt(ctx, models.HandleKey(priv), constants.SchemeRSAOAEPSHA256, ciphertext)
	if err != nil {
		s.logger.Debug(ctx, "Asymmetric decryption rejected", logger.Fields{"key_id": priv.ID()})
		return nil, primitiveError(err, constants.OpDecrypt)
	}
	return pt, nil
}

// Encrypt is AsymmetricEncrypt.
func (s *EnvelopeService) Encrypt(ctx context.Context, plaintext []byte, pub *models.KeyHandle) ([]byte, error) {
	return s.AsymmetricEncrypt(ctx, plaintext, pub)
}

// Decrypt is AsymmetricDecrypt.
func (s *EnvelopeService) Decrypt(ctx context.Context, ciphertext []byte, priv *models.KeyHandle) ([]byte, error) {
	return s.AsymmetricDecrypt(ctx, ciphertext, priv)
}

// EncryptString encrypts the UTF-8 bytes of text.
func (s *EnvelopeService) EncryptString(ctx context.Context, text string, pub *models.KeyHandle) ([]byte, error) {
	return s.AsymmetricEncrypt(ctx, []byte(text), pub)
}

// DecryptToString decrypts ciphertext and requires the plaintext to be valid UTF-8.
func (s *EnvelopeService) DecryptToString(ctx context.Context, ciphertext []byte, priv *models.KeyHandle) (string, error) {
	pt, err := s.AsymmetricDecrypt(ctx, ciphertext, priv)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(pt) {
		return "", custodyerrors.ErrDecryptionFailed()
	}
	return string(pt), nil
}

// SymmetricSeal encrypts and authenticates plaintext. The result is nonce || ciphertext || tag
// with a fresh random 12-byte nonce per call.
// SymmetricSeal 加密并认证明文，结果为 nonce || ciphertext || tag。
func (s *EnvelopeService) SymmetricSeal(ctx context.Context, plaintext []byte, key *models.KeyHandle) (blob []byte, err error) {
	ctx, op := s.start(ctx, "envelope.SymmetricSeal", key)
	defer func() { op.end(err) }()

	scheme, err := aeadScheme(key)
	if err != nil {
		return nil, err
	}
	if err := s.admit(ctx, key, constants.KeyKindSymmetric, scheme, constants.UsageEncrypt, constants.OpSeal); err != nil {
		return nil, err
	}
	blob, err = s.provider.Seal(ctx, models.HandleKey(key), scheme, plaintext)
	if err != nil {
		return nil, primitiveError(err, constants.OpSeal)
	}
	return blob, nil
}

// SymmetricOpen verifies and decrypts a sealed blob. Truncated, tampered and wrong-key blobs
// all fail with the same AuthenticationFailed error.
// SymmetricOpen 验证并解密封装数据。
func (s *EnvelopeService) SymmetricOpen(ctx context.Context, blob []byte, key *models.KeyHandle) (pt []byte, err error) {
	ctx, op := s.start(ctx, "envelope.SymmetricOpen", key)
	defer func() { op.end(err) }()

	scheme, err := aeadScheme(key)
	if err != nil {
		return nil, err
	}
	if err := s.admit(ctx, key, constants.KeyKindSymmetric, scheme, constants.UsageEncrypt, constants.OpOpen); err != nil {
		return nil, err
	}
	if len(blob) < constants.AEADNonceSize+constants.AEADTagSize {
		return nil, custodyerrors.ErrAuthenticationFailed()
	}
	pt, err = s.provider.Open(ctx, models.HandleKey(key), scheme, blob)
	if err != nil {
		s.logger.Debug(ctx, "Sealed blob rejected", logger.Fields{"key_id": key.ID()})
		return nil, primitiveError(err, constants.OpOpen)
	}
	return pt, nil
}

// Sign produces an RSA-PKCS1v15 signature over the SHA-256 digest of data.
// Sign 对数据的 SHA-256 摘要生成 RSA-PKCS1v15 签名。
func (s *EnvelopeService) Sign(ctx context.Context, data []byte, priv *models.KeyHandle) (sig []byte, err error) {
	ctx, op := s.start(ctx, "envelope.Sign", priv)
	defer func() { op.end(err) }()

	if err := s.admit(ctx, priv, constants.KeyKindPrivate, constants.SchemeRSAPKCS1v15SHA256, constants.UsageSign, constants.OpSign); err != nil {
		return nil, err
	}
	sig, err = s.provider.Sign(ctx, models.HandleKey(priv), constants.SchemeRSAPKCS1v15SHA256, data)
	if err != nil {
		return nil, primitiveError(err, constants.OpSign)
	}
	return sig, nil
}

// Verify checks an RSA-PKCS1v15-SHA256 signature. A well-formed signature that does not match
// returns false with no error; a signature of the wrong length is SignatureMalformed.
// Verify 校验 RSA-PKCS1v15-SHA256 签名。
func (s *EnvelopeService) Verify(ctx context.Context, data, sig []byte, pub *models.KeyHandle) (ok bool, err error) {
	ctx, op := s.start(ctx, "envelope.Verify", pub)
	defer func() { op.end(err) }()

	if err := s.admit(ctx, pub, constants.KeyKindPublic, constants.SchemeRSAPKCS1v15SHA256, constants.UsageSign, constants.OpVerify); err != nil {
		return false, err
	}
	if want := (pub.Bits() + 7) / 8; len(sig) != want {
		return false, custodyerrors.ErrSignatureMalformed(fmt.Sprintf("signature is %d bytes, want %d", len(sig), want))
	}
	ok, err = s.provider.Verify(ctx, models.HandleKey(pub), constants.SchemeRSAPKCS1v15SHA256, data, sig)
	if err != nil {
		return false, primitiveError(err, constants.OpVerify)
	}
	return ok, nil
}

func (s *EnvelopeService) start(ctx context.Context, name string, h *models.KeyHandle) (context.Context, *operation) {
	attrs := []attribute.KeyValue{}
	if h != nil {
		attrs = append(attrs,
			attribute.String("custody.key_id", h.ID()),
			attribute.String("custody.kind", string(h.Kind())),
			attribute.String("custody.algorithm", string(h.Algorithm())))
	}
	return startOperation(ctx, s.tracer, s.metrics, name, attrs...)
}

// admit checks that the handle can serve scheme for op and that its access policy allows
// op right now. Nothing reaches the provider before admit succeeds.
func (s *EnvelopeService) admit(ctx context.Context, h *models.KeyHandle, kind constants.KeyKind, scheme constants.Scheme, usage constants.KeyUsage, op constants.Operation) error {
	if h == nil {
		return custodyerrors.ErrUnsupportedAlgorithm("no key handle")
	}
	if h.Kind() != kind {
		return custodyerrors.ErrUnsupportedAlgorithm(fmt.Sprintf("%s needs a %s key, got %s", op, kind, h.Kind()))
	}
	if h.Algorithm() != scheme.Algorithm() {
		return custodyerrors.ErrUnsupportedAlgorithm(fmt.Sprintf("%s key cannot run %s", h.Algorithm(), scheme))
	}
	if !h.Usage().Has(usage) {
		return custodyerrors.ErrUnsupportedAlgorithm(fmt.Sprintf("key usage does not allow %s", op))
	}
	if s.gate != nil {
		if err := s.gate.Check(ctx, h.Kind(), h.Policy(), op); err != nil {
			return custodyerrors.ErrAccessDenied(string(op)).WithMetadata("kind", string(h.Kind()))
		}
	}
	return nil
}

func aeadScheme(h *models.KeyHandle) (constants.Scheme, error) {
	if h == nil {
		return "", custodyerrors.ErrUnsupportedAlgorithm("no key handle")
	}
	switch h.Algorithm() {
	case constants.AlgorithmAESGCM:
		return constants.SchemeAESGCM, nil
	case constants.AlgorithmChaCha20Poly1305:
		return constants.SchemeChaCha20Poly1305, nil
	}
	return "", custodyerrors.ErrUnsupportedAlgorithm(fmt.Sprintf("%s key cannot seal", h.Algorithm()))
}

// maxOAEPPlaintext is k - 2*hLen - 2 for a modulus of bits.
func maxOAEPPlaintext(bits int) int {
	return (bits+7)/8 - 2*sha256.Size - 2
}
