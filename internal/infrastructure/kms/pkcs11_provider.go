// Package kms provides the hardware-backed primitive provider and the Vault key store.
package kms

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/miekg/pkcs11"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
	infracrypto "github.com/turtacn/custody/internal/infrastructure/crypto"
	"github.com/turtacn/custody/pkg/constants"
	"github.com/turtacn/custody/pkg/logger"
)

// PKCS11ProviderName is recorded on every key produced by PKCS11Provider.
const PKCS11ProviderName = "pkcs11"

// tokenKey references a private key object that lives on the token.
type tokenKey struct {
	id     []byte
	handle pkcs11.ObjectHandle
}

// PKCS11Provider is a PKCS#11-backed implementation of the PrimitiveProvider interface.
// Private keys are generated on the token as sensitive, non-extractable objects; the stored
// private material is only the CKA_ID reference. Public key operations and hashing run in software.
type PKCS11Provider struct {
	p        *pkcs11.Ctx
	session  pkcs11.SessionHandle
	mu       sync.Mutex
	closed   bool
	software *infracrypto.SoftwareProvider
	logger   logger.Logger
}

// NewPKCS11Provider creates a new PKCS11Provider.
func NewPKCS11Provider(libPath, pin string, slotID int, log logger.Logger) (*PKCS11Provider, error) {
	p := pkcs11.New(libPath)
	if p == nil {
		return nil, fmt.Errorf("%w: failed to load PKCS#11 library %s", service.ErrProviderUnavailable, libPath)
	}
	if err := p.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PKCS#11 library: %w", err)
	}

	slots, err := p.GetSlotList(true)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot list: %w", err)
	}
	if slotID < 0 || slotID >= len(slots) {
		return nil, fmt.Errorf("slot ID %d is out of range", slotID)
	}

	session, err := p.OpenSession(slots[slotID], pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	if err := p.Login(session, pkcs11.CKU_USER, pin); err != nil {
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return &PKCS11Provider{
		p:        p,
		session:  session,
		software: infracrypto.NewSoftwareProvider(log),
		logger:   log.WithComponent("PKCS11Provider"),
	}, nil
}

func (p *PKCS11Provider) Name() string { return PKCS11ProviderName }

func (p *PKCS11Provider) SupportedRSABits() []int { return []int{2048, 3072, 4096} }

// SupportedSymmetricBits is empty: symmetric keys are not held on the token.
func (p *PKCS11Provider) SupportedSymmetricBits(constants.Algorithm) []int { return nil }

// GenerateKeyPair creates an RSA key pair on the token.
func (p *PKCS11Provider) GenerateKeyPair(ctx context.Context, spec models.KeySpec) (models.KeyMaterial, models.KeyMaterial, error) {
	var none models.KeyMaterial
	if spec.Algorithm != constants.AlgorithmRSA {
		return none, none, fmt.Errorf("%w: key pair algorithm %q", service.ErrUnsupported, spec.Algorithm)
	}
	if spec.Bits < constants.MinRSABits {
		return none, none, fmt.Errorf("%w: rsa key size %d", service.ErrUnsupported, spec.Bits)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(ctx); err != nil {
		return none, none, err
	}

	idValue := uuid.New()
	id := idValue[:]
	pubTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, []byte{1, 0, 1}),
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS_BITS, spec.Bits),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
	}
	privTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
		pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
	}

	pubHandle, _, err := p.p.GenerateKeyPair(p.session,
		[]*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN, nil)},
		pubTemplate, privTemplate)
	if err != nil {
		return none, none, p.translate(err, "generate key pair")
	}

	attrs, err := p.p.GetAttributeValue(p.session, pubHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return none, none, p.translate(err, "read public key")
	}
	pub := &rsa.PublicKey{}
	for _, a := range attrs {
		switch a.Type {
		case pkcs11.CKA_MODULUS:
			pub.N = new(big.Int).SetBytes(a.Value)
		case pkcs11.CKA_PUBLIC_EXPONENT:
			pub.E = int(new(big.Int).SetBytes(a.Value).Int64())
		}
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return none, none, fmt.Errorf("failed to marshal public key: %w", err)
	}

	p.logger.Info(ctx, "Generated RSA key pair on token", logger.Fields{"bits": spec.Bits, "key_id": idValue.String()})

	return models.KeyMaterial{Algorithm: constants.AlgorithmRSA, Bits: spec.Bits, Provider: PKCS11ProviderName, Bytes: der},
		models.KeyMaterial{Algorithm: constants.AlgorithmRSA, Bits: spec.Bits, Provider: PKCS11ProviderName, Bytes: append([]byte(nil), id...)},
		nil
}

func (p *PKCS11Provider) GenerateSymmetricKey(ctx context.Context, alg constants.Algorithm, bits int) (models.KeyMaterial, error) {
	return models.KeyMaterial{}, fmt.Errorf("%w: symmetric keys on token", service.ErrUnsupported)
}

// LoadKey resolves a stored record. Private records are located on the token by CKA_ID.
func (p *PKCS11Provider) LoadKey(ctx context.Context, rec *models.StoredKey) (any, crypto.PublicKey, error) {
	switch rec.Kind {
	case constants.KeyKindPublic:
		soft := rec.Clone()
		soft.Provider = ""
		return p.software.LoadKey(ctx, soft)
	case constants.KeyKindPrivate:
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.usable(ctx); err != nil {
			return nil, nil, err
		}
		handles, err := p.find(pkcs11.CKO_PRIVATE_KEY, rec.Material)
		if err != nil {
			return nil, nil, err
		}
		if len(handles) == 0 {
			return nil, nil, fmt.Errorf("%w: private key object not on token", service.ErrProviderUnavailable)
		}
		return &tokenKey{id: append([]byte(nil), rec.Material...), handle: handles[0]}, nil, nil
	}
	return nil, nil, fmt.Errorf("%w: key kind %q", service.ErrUnsupported, rec.Kind)
}

func (p *PKCS11Provider) AsymmetricEncrypt(ctx context.Context, key any, scheme constants.Scheme, plaintext []byte) ([]byte, error) {
	return p.software.AsymmetricEncrypt(ctx, key, scheme, plaintext)
}

// AsymmetricDecrypt runs CKM_RSA_PKCS_OAEP with SHA-256 on the token.
func (p *PKCS11Provider) AsymmetricDecrypt(ctx context.Context, key any, scheme constants.Scheme, ciphertext []byte) ([]byte, error) {
	if scheme != constants.SchemeRSAOAEPSHA256 {
		return nil, fmt.Errorf("%w: scheme %q", service.ErrUnsupported, scheme)
	}
	tk, ok := key.(*tokenKey)
	if !ok {
		return nil, service.ErrKeyTypeMismatch
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(ctx); err != nil {
		return nil, err
	}
	params := pkcs11.NewOAEPParams(pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256, pkcs11.CKZ_DATA_SPECIFIED, nil)
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_OAEP, params)}
	if err := p.p.DecryptInit(p.session, mech, tk.handle); err != nil {
		return nil, p.translate(err, "decrypt init")
	}
	out, err := p.p.Decrypt(p.session, ciphertext)
	if err != nil {
		if isSessionError(err) {
			return nil, p.translate(err, "decrypt")
		}
		return nil, service.ErrCryptoFailure
	}
	return out, nil
}

// Sign runs CKM_SHA256_RSA_PKCS on the token.
func (p *PKCS11Provider) Sign(ctx context.Context, key any, scheme constants.Scheme, data []byte) ([]byte, error) {
	if scheme != constants.SchemeRSAPKCS1v15SHA256 {
		return nil, fmt.Errorf("%w: scheme %q", service.ErrUnsupported, scheme)
	}
	tk, ok := key.(*tokenKey)
	if !ok {
		return nil, service.ErrKeyTypeMismatch
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(ctx); err != nil {
		return nil, err
	}
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_SHA256_RSA_PKCS, nil)}
	if err := p.p.SignInit(p.session, mech, tk.handle); err != nil {
		return nil, p.translate(err, "sign init")
	}
	sig, err := p.p.Sign(p.session, data)
	if err != nil {
		return nil, p.translate(err, "sign")
	}
	return sig, nil
}

func (p *PKCS11Provider) Verify(ctx context.Context, key any, scheme constants.Scheme, data, signature []byte) (bool, error) {
	return p.software.Verify(ctx, key, scheme, data, signature)
}

func (p *PKCS11Provider) Seal(ctx context.Context, key any, scheme constants.Scheme, plaintext []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: symmetric seal on token", service.ErrUnsupported)
}

func (p *PKCS11Provider) Open(ctx context.Context, key any, scheme constants.Scheme, blob []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: symmetric open on token", service.ErrUnsupported)
}

func (p *PKCS11Provider) Sum256(data []byte) [sha256.Size]byte {
	return p.software.Sum256(data)
}

func (p *PKCS11Provider) Hash(alg constants.HashAlgorithm, data []byte) ([]byte, error) {
	return p.software.Hash(alg, data)
}

// Discard destroys the token objects behind a private key reference.
func (p *PKCS11Provider) Discard(ctx context.Context, kind constants.KeyKind, material models.KeyMaterial) error {
	if kind != constants.KeyKindPrivate {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(ctx); err != nil {
		return err
	}
	for _, class := range []uint{pkcs11.CKO_PRIVATE_KEY, pkcs11.CKO_PUBLIC_KEY} {
		handles, err := p.find(class, material.Bytes)
		if err != nil {
			return err
		}
		for _, h := range handles {
			if err := p.p.DestroyObject(p.session, h); err != nil {
				return p.translate(err, "destroy object")
			}
		}
	}
	return nil
}

// Close logs out and releases the session and library.
func (p *PKCS11Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.p.Logout(p.session); err != nil {
		p.logger.Warn(context.Background(), "PKCS#11 logout failed", logger.Fields{"error": err.Error()})
	}
	if err := p.p.CloseSession(p.session); err != nil {
		p.logger.Warn(context.Background(), "PKCS#11 close session failed", logger.Fields{"error": err.Error()})
	}
	if err := p.p.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize PKCS#11 library: %w", err)
	}
	p.p.Destroy()
	return nil
}

// find must be called with mu held.
func (p *PKCS11Provider) find(class uint, id []byte) ([]pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
	}
	if err := p.p.FindObjectsInit(p.session, template); err != nil {
		return nil, p.translate(err, "find objects init")
	}
	handles, _, err := p.p.FindObjects(p.session, 4)
	if finalErr := p.p.FindObjectsFinal(p.session); finalErr != nil && err == nil {
		err = finalErr
	}
	if err != nil {
		return nil, p.translate(err, "find objects")
	}
	return handles, nil
}

// usable must be called with mu held.
func (p *PKCS11Provider) usable(ctx context.Context) error {
	if p.closed {
		return fmt.Errorf("%w: session closed", service.ErrProviderUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", service.ErrProviderUnavailable, err)
	}
	return nil
}

func (p *PKCS11Provider) translate(err error, op string) error {
	if isSessionError(err) {
		return fmt.Errorf("%w: %s: %v", service.ErrProviderUnavailable, op, err)
	}
	return fmt.Errorf("pkcs11 %s: %w", op, err)
}

// isSessionError reports whether err means the token or session can no longer be used.
func isSessionError(err error) bool {
	var perr pkcs11.Error
	if !errors.As(err, &perr) {
		return false
	}
	switch uint(perr) {
	case pkcs11.CKR_SESSION_HANDLE_INVALID,
		pkcs11.CKR_SESSION_CLOSED,
		pkcs11.CKR_DEVICE_REMOVED,
		pkcs11.CKR_DEVICE_ERROR,
		pkcs11.CKR_TOKEN_NOT_PRESENT,
		pkcs11.CKR_USER_NOT_LOGGED_IN,
		pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED:
		return true
	}
	return false
}

var (
	_ service.PrimitiveProvider = (*PKCS11Provider)(nil)
	_ service.MaterialDiscarder = (*PKCS11Provider)(nil)
)
