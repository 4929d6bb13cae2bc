package crypto

import (
	"context"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func newTestProvider(t *testing.T) *SoftwareProvider {
	t.Helper()
	return NewSoftwareProvider(logger.NewNoopLogger())
}

func loadPair(t *testing.T, p *SoftwareProvider, bits int) (pub, priv any) {
	t.Helper()
	ctx := context.Background()
	pubMat, privMat, err := p.GenerateKeyPair(ctx, models.KeySpec{Algorithm: constants.AlgorithmRSA, Bits: bits})
	require.NoError(t, err)

	pubKey, rsaPub, err := p.LoadKey(ctx, &models.StoredKey{Kind: constants.KeyKindPublic, Algorithm: constants.AlgorithmRSA, Material: pubMat.Bytes})
	require.NoError(t, err)
	require.IsType(t, &rsa.PublicKey{}, rsaPub)

	privKey, none, err := p.LoadKey(ctx, &models.StoredKey{Kind: constants.KeyKindPrivate, Algorithm: constants.AlgorithmRSA, Material: privMat.Bytes})
	require.NoError(t, err)
	assert.Nil(t, none)
	return pubKey, privKey
}

func TestSoftwareProvider_GenerateKeyPair(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		spec    models.KeySpec
		wantErr error
	}{
		{"RSA 2048", models.KeySpec{Algorithm: constants.AlgorithmRSA, Bits: 2048}, nil},
		{"RSA 1024 is refused", models.KeySpec{Algorithm: constants.AlgorithmRSA, Bits: 1024}, service.ErrUnsupported},
		{"Odd size is refused", models.KeySpec{Algorithm: constants.AlgorithmRSA, Bits: 2047}, service.ErrUnsupported},
		{"Symmetric algorithm is refused", models.KeySpec{Algorithm: constants.AlgorithmAESGCM, Bits: 256}, service.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, priv, err := p.GenerateKeyPair(ctx, tt.spec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ProviderName, pub.Provider)
			assert.Equal(t, tt.spec.Bits, priv.Bits)
			assert.NotEmpty(t, pub.Bytes)
			assert.NotEmpty(t, priv.Bytes)
		})
	}
}

func TestSoftwareProvider_SymmetricKey_EntropyFailure(t *testing.T) {
	p := NewSoftwareProvider(logger.NewNoopLogger(), WithRandom(failingReader{}))
	_, err := p.GenerateSymmetricKey(context.Background(), constants.AlgorithmAESGCM, 256)
	assert.Error(t, err)
}

func TestSoftwareProvider_RSAOAEPRoundTrip(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	pub, priv := loadPair(t, p, 2048)

	ct, err := p.AsymmetricEncrypt(ctx, pub, constants.SchemeRSAOAEPSHA256, []byte("Hello, RSA!"))
	require.NoError(t, err)
	assert.Len(t, ct, 256)

	pt, err := p.AsymmetricDecrypt(ctx, priv, constants.SchemeRSAOAEPSHA256, ct)
	require.NoError(t, err)
	assert.Equal(t, "Hello, RSA!", string(pt))

	// Same input encrypts differently each time.
	ct2, err := p.AsymmetricEncrypt(ctx, pub, constants.SchemeRSAOAEPSHA256, []byte("Hello, RSA!"))
	require.NoError(t, err)
	assert.NotEqual(t, ct, ct2)

	ct[10] ^= 0xff
	_, err = p.AsymmetricDecrypt(ctx, priv, constants.SchemeRSAOAEPSHA256, ct)
	assert.ErrorIs(t, err, service.ErrCryptoFailure)

	_, err = p.AsymmetricDecrypt(ctx, pub, constants.SchemeRSAOAEPSHA256, ct2)
	assert.ErrorIs(t, err, service.ErrKeyTypeMismatch)
}

func TestSoftwareProvider_SignVerify(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	pub, priv := loadPair(t, p, 2048)
	data := []byte("Wassup, world!")

	sig, err := p.Sign(ctx, priv, constants.SchemeRSAPKCS1v15SHA256, data)
	require.NoError(t, err)
	assert.Len(t, sig, 256)

	ok, err := p.Verify(ctx, pub, constants.SchemeRSAPKCS1v15SHA256, data, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Verify(ctx, pub, constants.SchemeRSAPKCS1v15SHA256, []byte("Wassup, world?"), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	flipped := append([]byte(nil), sig...)
	flipped[0] ^= 0x01
	ok, err = p.Verify(ctx, pub, constants.SchemeRSAPKCS1v15SHA256, data, flipped)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Verify(ctx, pub, constants.SchemeRSAPKCS1v15SHA256, data, sig[:100])
	assert.ErrorIs(t, err, service.ErrMalformedSignature)
}

func TestSoftwareProvider_SealOpen(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		alg    constants.Algorithm
		bits   int
		scheme constants.Scheme
	}{
		{"AES-128-GCM", constants.AlgorithmAESGCM, 128, constants.SchemeAESGCM},
		{"AES-256-GCM", constants.AlgorithmAESGCM, 256, constants.SchemeAESGCM},
		{"ChaCha20-Poly1305", constants.AlgorithmChaCha20Poly1305, 256, constants.SchemeChaCha20Poly1305},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mat, err := p.GenerateSymmetricKey(ctx, tt.alg, tt.bits)
			require.NoError(t, err)
			require.Len(t, mat.Bytes, tt.bits/8)

			key, _, err := p.LoadKey(ctx, &models.StoredKey{Kind: constants.KeyKindSymmetric, Algorithm: tt.alg, Material: mat.Bytes})
			require.NoError(t, err)

			plaintext := []byte("Sensitive data")
			blob, err := p.Seal(ctx, key, tt.scheme, plaintext)
			require.NoError(t, err)
			assert.Len(t, blob, constants.AEADNonceSize+len(plaintext)+constants.AEADTagSize)

			out, err := p.Open(ctx, key, tt.scheme, blob)
			require.NoError(t, err)
			assert.Equal(t, plaintext, out)

			blob2, err := p.Seal(ctx, key, tt.scheme, plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, blob[:constants.AEADNonceSize], blob2[:constants.AEADNonceSize])

			tampered := append([]byte(nil), blob...)
			tampered[len(tampered)-1] ^= 0x01
			_, err = p.Open(ctx, key, tt.scheme, tampered)
			assert.ErrorIs(t, err, service.ErrCryptoFailure)

			_, err = p.Open(ctx, key, tt.scheme, blob[:constants.AEADNonceSize+constants.AEADTagSize-1])
			assert.ErrorIs(t, err, service.ErrCryptoFailure)
		})
	}
}

func TestSoftwareProvider_SealSchemeMismatch(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	mat, err := p.GenerateSymmetricKey(ctx, constants.AlgorithmAESGCM, 256)
	require.NoError(t, err)
	key, _, err := p.LoadKey(ctx, &models.StoredKey{Kind: constants.KeyKindSymmetric, Algorithm: constants.AlgorithmAESGCM, Material: mat.Bytes})
	require.NoError(t, err)

	_, err = p.Seal(ctx, key, constants.SchemeChaCha20Poly1305, []byte("x"))
	assert.ErrorIs(t, err, service.ErrUnsupported)

	_, err = p.GenerateSymmetricKey(ctx, constants.AlgorithmChaCha20Poly1305, 128)
	assert.ErrorIs(t, err, service.ErrUnsupported)
}

func TestSoftwareProvider_Hash(t *testing.T) {
	p := newTestProvider(t)

	sum := p.Sum256([]byte("Hello, Crypto!"))
	viaHash, err := p.Hash(constants.HashSHA256, []byte("Hello, Crypto!"))
	require.NoError(t, err)
	assert.Equal(t, sum[:], viaHash)

	empty, err := p.Hash(constants.HashSHA256, nil)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", hex.EncodeToString(empty))

	abc, err := p.Hash(constants.HashSHA256, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hex.EncodeToString(abc))

	s512, err := p.Hash(constants.HashSHA512, []byte("abc"))
	require.NoError(t, err)
	assert.Len(t, s512, 64)

	s3, err := p.Hash(constants.HashSHA3_256, []byte(""))
	require.NoError(t, err)
	assert.Equal(t, "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a", hex.EncodeToString(s3))

	_, err = p.Hash("md5", []byte("abc"))
	assert.ErrorIs(t, err, service.ErrUnsupported)
}
