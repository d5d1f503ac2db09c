package crypto

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vaultgate/auth/core"
)

// JWTManager signs and verifies access/ID tokens. It supports RS256
// (default) and ES256 (permitted) keys, dispatching on SigningKey.Alg
// and matching the kid JWT header against JWKS published per tenant.
type JWTManager struct {
	keys      core.SigningKeyStore
	masterKey []byte
}

// NewJWTManager creates a new JWTManager.
func NewJWTManager(keys core.SigningKeyStore, masterKey []byte) *JWTManager {
	return &JWTManager{keys: keys, masterKey: masterKey}
}

// Sign creates a JWT for the given tenant with the specified claims.
func (m *JWTManager) Sign(ctx context.Context, tenantID, issuer string, claims map[string]interface{}, ttl time.Duration) (string, error) {
	key, err := m.keys.GetActive(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("get active key: %w", err)
	}

	now := time.Now()
	tokenClaims := jwt.MapClaims{
		"iss": issuer,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.New().String(),
		"tid": tenantID,
	}
	for k, v := range claims {
		tokenClaims[k] = v
	}

	return m.signWithKey(key, tokenClaims)
}

func (m *JWTManager) signWithKey(key *core.SigningKey, tokenClaims jwt.MapClaims) (string, error) {
	privateKeyBytes, err := DecryptAEAD(key.PrivateKeyEncrypted, m.masterKey)
	if err != nil {
		return "", fmt.Errorf("decrypt private key: %w", err)
	}

	var method jwt.SigningMethod
	var signingKey interface{}

	switch key.Alg {
	case "", "RS256":
		privKey, err := x509.ParsePKCS1PrivateKey(privateKeyBytes)
		if err != nil {
			return "", fmt.Errorf("parse rsa private key: %w", err)
		}
		method = jwt.SigningMethodRS256
		signingKey = privKey
	case "ES256":
		privKey, err := x509.ParseECPrivateKey(privateKeyBytes)
		if err != nil {
			return "", fmt.Errorf("parse ec private key: %w", err)
		}
		method = jwt.SigningMethodES256
		signingKey = privKey
	default:
		return "", fmt.Errorf("unsupported alg: %s", key.Alg)
	}

	token := jwt.NewWithClaims(method, tokenClaims)
	token.Header["kid"] = key.KID

	return token.SignedString(signingKey)
}

// Verify validates a JWT and returns its claims. It extracts kid from
// the header first, looks up the matching key (without touching the
// revocation store), then verifies signature, issuer, audience and
// expiry with a 30s clock-skew allowance before the caller does any
// revocation check. expectedIssuer and expectedAudience must be computed
// by the caller the same way they were at signing time — Verify never
// re-derives them from tenantID itself, since the issuer template isn't
// known at this layer.
func (m *JWTManager) Verify(ctx context.Context, tenantID, tokenString, expectedIssuer, expectedAudience string) (*core.TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid header")
		}

		key, err := m.keys.GetByKID(ctx, tenantID, kid)
		if err != nil {
			return nil, fmt.Errorf("get key: %w", err)
		}

		var jwk map[string]interface{}
		if err := json.Unmarshal(key.PublicJWK, &jwk); err != nil {
			return nil, fmt.Errorf("parse jwk: %w", err)
		}

		kty, _ := jwk["kty"].(string)
		switch kty {
		case "RSA":
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return rsaPublicKeyFromJWK(jwk)
		case "EC":
			if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return ecPublicKeyFromJWK(jwk)
		default:
			return nil, fmt.Errorf("unsupported kty: %s", kty)
		}
	}, jwt.WithIssuer(expectedIssuer), jwt.WithAudience(expectedAudience), jwt.WithLeeway(30*time.Second))

	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}

	return mapClaimsToTokenClaims(claims), nil
}

func mapClaimsToTokenClaims(claims jwt.MapClaims) *core.TokenClaims {
	tc := &core.TokenClaims{}
	if sub, ok := claims["sub"].(string); ok {
		tc.Subject = sub
	}
	if iss, ok := claims["iss"].(string); ok {
		tc.Issuer = iss
	}
	if aud, ok := claims["aud"].(string); ok {
		tc.Audience = aud
	}
	if tid, ok := claims["tid"].(string); ok {
		tc.TenantID = tid
	}
	if sid, ok := claims["sid"].(string); ok {
		tc.SessionID = sid
	}
	if scope, ok := claims["scope"].(string); ok {
		tc.Scope = scope
	}
	if typ, ok := claims["typ"].(string); ok {
		tc.TokenType = typ
	}
	if ev, ok := claims["email_verified"].(bool); ok {
		tc.EmailVerified = ev
	}
	if jti, ok := claims["jti"].(string); ok {
		tc.JWTID = jti
	}
	if iat, ok := claims["iat"].(float64); ok {
		tc.IssuedAt = int64(iat)
	}
	if exp, ok := claims["exp"].(float64); ok {
		tc.ExpiresAt = int64(exp)
	}
	if nbf, ok := claims["nbf"].(float64); ok {
		tc.NotBefore = int64(nbf)
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		tc.Roles = make([]string, len(roles))
		for i, r := range roles {
			tc.Roles[i], _ = r.(string)
		}
	}
	return tc
}

func rsaPublicKeyFromJWK(jwk map[string]interface{}) (*rsa.PublicKey, error) {
	nB64, _ := jwk["n"].(string)
	eB64, _ := jwk["e"].(string)

	nBytes, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func ecPublicKeyFromJWK(jwk map[string]interface{}) (*ecdsa.PublicKey, error) {
	xB64, _ := jwk["x"].(string)
	yB64, _ := jwk["y"].(string)
	crv, _ := jwk["crv"].(string)

	xBytes, err := base64.RawURLEncoding.DecodeString(xB64)
	if err != nil {
		return nil, fmt.Errorf("decode x: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yB64)
	if err != nil {
		return nil, fmt.Errorf("decode y: %w", err)
	}

	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve: %s", crv)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
