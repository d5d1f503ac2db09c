package crypto

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
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

const defaultKeyLifetime = 90 * 24 * time.Hour

// KeyManager handles signing key generation and JWKS publication. The
// default alg is RS256; ES256 is permitted when callers request it
// explicitly (spec allows both, defaults to RS256).
type KeyManager struct {
	keys      core.SigningKeyStore
	masterKey []byte
}

// NewKeyManager creates a new KeyManager.
func NewKeyManager(keys core.SigningKeyStore, masterKey []byte) *KeyManager {
	return &KeyManager{keys: keys, masterKey: masterKey}
}

// GenerateKey generates a new signing key for a tenant using alg
// ("RS256" or "ES256"; empty defaults to RS256).
func (m *KeyManager) GenerateKey(ctx context.Context, tenantID, alg string) (*core.SigningKey, error) {
	if alg == "" {
		alg = "RS256"
	}

	kid := uuid.New().String()

	var jwk map[string]interface{}
	var privateKeyBytes []byte

	switch alg {
	case "RS256":
		privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key: %w", err)
		}
		jwk = map[string]interface{}{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(privateKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.E)).Bytes()),
		}
		privateKeyBytes = x509.MarshalPKCS1PrivateKey(privateKey)
	case "ES256":
		privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ec key: %w", err)
		}
		jwk = map[string]interface{}{
			"kty": "EC",
			"crv": "P-256",
			"kid": kid,
			"use": "sig",
			"x":   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.X.Bytes()),
			"y":   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.Y.Bytes()),
		}
		keyBytes, err := x509.MarshalECPrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("marshal ec private key: %w", err)
		}
		privateKeyBytes = keyBytes
	default:
		return nil, fmt.Errorf("unsupported alg: %s", alg)
	}

	jwkJSON, err := json.Marshal(jwk)
	if err != nil {
		return nil, fmt.Errorf("marshal jwk: %w", err)
	}

	encryptedKey, err := EncryptAEAD(privateKeyBytes, m.masterKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt private key: %w", err)
	}

	now := time.Now()
	key := &core.SigningKey{
		ID:                  uuid.New().String(),
		TenantID:            tenantID,
		KID:                 kid,
		Alg:                 alg,
		PublicJWK:           jwkJSON,
		PrivateKeyEncrypted: encryptedKey,
		Status:              "active",
		CreatedAt:           now,
		NotBefore:           now,
		NotAfter:            now.Add(defaultKeyLifetime),
	}

	if err := m.keys.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}

	return key, nil
}

// GetPublicJWKS returns the JWKS for a tenant.
func (m *KeyManager) GetPublicJWKS(ctx context.Context, tenantID string) (map[string]interface{}, error) {
	keys, err := m.keys.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	jwks := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		var jwk map[string]interface{}
		if err := json.Unmarshal(key.PublicJWK, &jwk); err != nil {
			continue
		}
		jwks = append(jwks, jwk)
	}

	return map[string]interface{}{"keys": jwks}, nil
}

// Sign signs claims with the tenant's active key and returns the token
// plus the kid used, matching core.KeyManager's interface.
func (m *KeyManager) Sign(ctx context.Context, tenantID string, claims map[string]interface{}) (string, string, error) {
	key, err := m.keys.GetActive(ctx, tenantID)
	if err != nil {
		return "", "", fmt.Errorf("get active key: %w", err)
	}

	tokenClaims := jwt.MapClaims{}
	for k, v := range claims {
		tokenClaims[k] = v
	}

	jm := &JWTManager{keys: m.keys, masterKey: m.masterKey}
	tokenString, err := jm.signWithKey(key, tokenClaims)
	if err != nil {
		return "", "", err
	}
	return tokenString, key.KID, nil
}
