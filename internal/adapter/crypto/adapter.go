// Package cryptoadapter adapts the envelope service to golang-jwt, so tokens are signed
// with custody-held keys that never leave the custody boundary.
package cryptoadapter

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/pkg/constants"
	custodyerrors "github.com/turtacn/custody/pkg/errors"
	"github.com/turtacn/custody/pkg/logger"
)

// Signer is the part of the envelope service used for tokens.
type Signer interface {
	Sign(ctx context.Context, data []byte, priv *models.KeyHandle) ([]byte, error)
	Verify(ctx context.Context, data, sig []byte, pub *models.KeyHandle) (bool, error)
}

// SigningKey binds a key handle to the context of one token operation. It is the key value
// passed to SigningMethod.
type SigningKey struct {
	ctx    context.Context
	handle *models.KeyHandle
}

// NewSigningKey binds handle to ctx.
func NewSigningKey(ctx context.Context, handle *models.KeyHandle) SigningKey {
	return SigningKey{ctx: ctx, handle: handle}
}

// SigningMethod is an RS256 jwt.SigningMethod backed by the envelope service.
type SigningMethod struct {
	signer Signer
}

// NewSigningMethod creates an RS256 signing method on top of signer.
func NewSigningMethod(signer Signer) *SigningMethod {
	return &SigningMethod{signer: signer}
}

func (m *SigningMethod) Alg() string { return jwt.SigningMethodRS256.Alg() }

// Sign signs signingString with the private handle inside key.
func (m *SigningMethod) Sign(signingString string, key interface{}) ([]byte, error) {
	k, ok := key.(SigningKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	return m.signer.Sign(k.ctx, []byte(signingString), k.handle)
}

// Verify checks sig over signingString with the public handle inside key.
func (m *SigningMethod) Verify(signingString string, sig []byte, key interface{}) error {
	k, ok := key.(SigningKey)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	valid, err := m.signer.Verify(k.ctx, []byte(signingString), sig, k.handle)
	if err != nil {
		return fmt.Errorf("%w: %v", jwt.ErrTokenSignatureInvalid, err)
	}
	if !valid {
		return jwt.ErrTokenSignatureInvalid
	}
	return nil
}

var _ jwt.SigningMethod = (*SigningMethod)(nil)

// TokenService issues and verifies RS256 JWTs with custody key handles.
type TokenService struct {
	method *SigningMethod
	log    logger.Logger
}

// NewTokenService creates a token service on top of signer.
func NewTokenService(signer Signer, log logger.Logger) *TokenService {
	return &TokenService{method: NewSigningMethod(signer), log: log.WithComponent("TokenService")}
}

// Issue signs claims with priv. kid, when set, is written to the token header.
func (s *TokenService) Issue(ctx context.Context, kid string, claims jwt.Claims, priv *models.KeyHandle) (string, error) {
	if priv == nil {
		return "", errors.New("no signing key")
	}
	token := jwt.NewWithClaims(s.method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(NewSigningKey(ctx, priv))
	if err != nil {
		s.log.Warn(ctx, "Token signing failed", logger.Fields{"kid": kid, "error": err.Error()})
		return "", err
	}
	return signed, nil
}

// Verify checks the signature of tokenString with pub and validates its registered claims.
func (s *TokenService) Verify(ctx context.Context, tokenString string, pub *models.KeyHandle, opts ...jwt.ParserOption) (jwt.MapClaims, error) {
	if pub == nil {
		return nil, errors.New("no verification key")
	}
	parser := jwt.NewParser(append([]jwt.ParserOption{jwt.WithValidMethods([]string{s.method.Alg()})}, opts...)...)

	claims := jwt.MapClaims{}
	token, parts, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, err
	}
	if token.Method.Alg() != s.method.Alg() {
		return nil, fmt.Errorf("%w: unexpected alg %s", jwt.ErrTokenSignatureInvalid, token.Method.Alg())
	}
	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwt.ErrTokenMalformed, err)
	}
	if err := s.method.Verify(parts[0]+"."+parts[1], sig, NewSigningKey(ctx, pub)); err != nil {
		return nil, err
	}
	if err := jwt.NewValidator(opts...).Validate(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// KeyID returns the kid header of tokenString without verifying it.
func KeyID(tokenString string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", err
	}
	kid, _ := token.Header["kid"].(string)
	return kid, nil
}

// JWK renders the public key of a public handle as a JSON Web Key.
func JWK(kid string, pub *models.KeyHandle) (map[string]interface{}, error) {
	if pub == nil {
		return nil, custodyerrors.ErrNotFound(string(constants.KeyKindPublic), kid)
	}
	rsaPub, ok := pub.Public().(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key %s is not an RSA public key", pub.ID())
	}
	return map[string]interface{}{
		"kty": "RSA",
		"use": "sig",
		"alg": jwt.SigningMethodRS256.Alg(),
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(rsaPub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(rsaPub.E)).Bytes()),
	}, nil
}

// JWKS renders a key set for the given public handles, keyed by kid.
func JWKS(pubs map[string]*models.KeyHandle) (map[string]interface{}, error) {
	kids := make([]string, 0, len(pubs))
	for kid := range pubs {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	keys := make([]interface{}, 0, len(pubs))
	for _, kid := range kids {
		jwk, err := JWK(kid, pubs[kid])
		if err != nil {
			return nil, err
		}
		keys = append(keys, jwk)
	}
	return map[string]interface{}{"keys": keys}, nil
}
