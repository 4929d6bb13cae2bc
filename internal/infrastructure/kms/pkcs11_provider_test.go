package kms

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

func TestIsSessionError(t *testing.T) {
	assert.True(t, isSessionError(pkcs11.Error(pkcs11.CKR_SESSION_HANDLE_INVALID)))
	assert.True(t, isSessionError(fmt.Errorf("wrapped: %w", pkcs11.Error(pkcs11.CKR_DEVICE_REMOVED))))
	assert.False(t, isSessionError(pkcs11.Error(pkcs11.CKR_ENCRYPTED_DATA_INVALID)))
	assert.False(t, isSessionError(fmt.Errorf("plain")))
}

// newSoftHSMProvider opens a token configured through CUSTODY_PKCS11_LIB, CUSTODY_PKCS11_PIN
// and CUSTODY_PKCS11_SLOT, e.g. an initialised SoftHSM2 slot.
func newSoftHSMProvider(t *testing.T) *PKCS11Provider {
	t.Helper()
	lib := os.Getenv("CUSTODY_PKCS11_LIB")
	if lib == "" {
		t.Skip("CUSTODY_PKCS11_LIB not set; skipping PKCS#11 provider test")
	}
	slot, _ := strconv.Atoi(os.Getenv("CUSTODY_PKCS11_SLOT"))
	p, err := NewPKCS11Provider(lib, os.Getenv("CUSTODY_PKCS11_PIN"), slot, logger.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPKCS11Provider_RoundTrip(t *testing.T) {
	p := newSoftHSMProvider(t)
	ctx := context.Background()

	pubMat, privMat, err := p.GenerateKeyPair(ctx, models.KeySpec{Algorithm: constants.AlgorithmRSA, Bits: 2048})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Discard(ctx, constants.KeyKindPrivate, privMat) })

	pub, _, err := p.LoadKey(ctx, &models.StoredKey{Kind: constants.KeyKindPublic, Provider: PKCS11ProviderName, Material: pubMat.Bytes})
	require.NoError(t, err)
	priv, _, err := p.LoadKey(ctx, &models.StoredKey{Kind: constants.KeyKindPrivate, Provider: PKCS11ProviderName, Material: privMat.Bytes})
	require.NoError(t, err)

	ct, err := p.AsymmetricEncrypt(ctx, pub, constants.SchemeRSAOAEPSHA256, []byte("Hello, RSA!"))
	require.NoError(t, err)
	pt, err := p.AsymmetricDecrypt(ctx, priv, constants.SchemeRSAOAEPSHA256, ct)
	require.NoError(t, err)
	assert.Equal(t, "Hello, RSA!", string(pt))

	sig, err := p.Sign(ctx, priv, constants.SchemeRSAPKCS1v15SHA256, []byte("Wassup, world!"))
	require.NoError(t, err)
	ok, err := p.Verify(ctx, pub, constants.SchemeRSAPKCS1v15SHA256, []byte("Wassup, world!"), sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPKCS11Provider_ClosedSessionIsUnavailable(t *testing.T) {
	p := newSoftHSMProvider(t)
	require.NoError(t, p.Close())

	_, _, err := p.GenerateKeyPair(context.Background(), models.KeySpec{Algorithm: constants.AlgorithmRSA, Bits: 2048})
	assert.ErrorIs(t, err, service.ErrProviderUnavailable)
}
