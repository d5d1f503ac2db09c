package crypto

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultgate/auth/core"
)

type mockSigningKeyStore struct {
	keys map[string]*core.SigningKey
}

func newMockSigningKeyStore() *mockSigningKeyStore {
	return &mockSigningKeyStore{keys: make(map[string]*core.SigningKey)}
}

func (m *mockSigningKeyStore) Create(ctx context.Context, key *core.SigningKey) error {
	m.keys[key.ID] = key
	return nil
}

func (m *mockSigningKeyStore) GetActive(ctx context.Context, tenantID string) (*core.SigningKey, error) {
	for _, key := range m.keys {
		if key.TenantID == tenantID && key.Status == "active" {
			return key, nil
		}
	}
	return nil, assert.AnError
}

func (m *mockSigningKeyStore) GetByKID(ctx context.Context, tenantID, kid string) (*core.SigningKey, error) {
	for _, key := range m.keys {
		if key.TenantID == tenantID && key.KID == kid {
			return key, nil
		}
	}
	return nil, assert.AnError
}

func (m *mockSigningKeyStore) ListActive(ctx context.Context, tenantID string) ([]*core.SigningKey, error) {
	var result []*core.SigningKey
	for _, key := range m.keys {
		if key.TenantID == tenantID && (key.Status == "active" || key.Status == "inactive") {
			result = append(result, key)
		}
	}
	return result, nil
}

func (m *mockSigningKeyStore) MarkInactive(ctx context.Context, tenantID, id string) error {
	if key, ok := m.keys[id]; ok {
		key.Status = "inactive"
	}
	return nil
}

func (m *mockSigningKeyStore) MarkRetired(ctx context.Context, tenantID, id string) error {
	if key, ok := m.keys[id]; ok {
		key.Status = "retired"
	}
	return nil
}

func TestKeyManager_GenerateKey_RS256Default(t *testing.T) {
	store := newMockSigningKeyStore()
	manager := NewKeyManager(store, nil)

	key, err := manager.GenerateKey(context.Background(), "tenant-123", "")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, "RS256", key.Alg)
	assert.NotEmpty(t, key.KID)
	assert.NotEmpty(t, key.PublicJWK)
	assert.Equal(t, "active", key.Status)
	assert.True(t, key.NotAfter.After(key.NotBefore))
}

func TestKeyManager_GenerateKey_ES256(t *testing.T) {
	store := newMockSigningKeyStore()
	manager := NewKeyManager(store, nil)

	key, err := manager.GenerateKey(context.Background(), "tenant-123", "ES256")
	require.NoError(t, err)
	assert.Equal(t, "ES256", key.Alg)
}

func TestJWTManager_SignVerify_RoundTrip(t *testing.T) {
	for _, alg := range []string{"RS256", "ES256"} {
		t.Run(alg, func(t *testing.T) {
			store := newMockSigningKeyStore()
			km := NewKeyManager(store, nil)
			_, err := km.GenerateKey(context.Background(), "tenant-abc", alg)
			require.NoError(t, err)

			jm := NewJWTManager(store, nil)
			tokenString, err := jm.Sign(context.Background(), "tenant-abc", "https://tenant-abc.vaultgate.example", map[string]interface{}{
				"sub":   "user-1",
				"aud":   "vaultgate-api",
				"typ":   "access",
				"roles": []string{"member"},
			}, time.Hour)
			require.NoError(t, err)
			assert.Len(t, strings.Split(tokenString, "."), 3)

			claims, err := jm.Verify(context.Background(), "tenant-abc", tokenString, "https://tenant-abc.vaultgate.example", "vaultgate-api")
			require.NoError(t, err)
			assert.Equal(t, "user-1", claims.Subject)
			assert.Equal(t, "access", claims.TokenType)
			assert.Equal(t, []string{"member"}, claims.Roles)
		})
	}
}

func TestJWTManager_Verify_UnknownKID(t *testing.T) {
	store := newMockSigningKeyStore()
	km := NewKeyManager(store, nil)
	_, err := km.GenerateKey(context.Background(), "tenant-abc", "RS256")
	require.NoError(t, err)

	jm := NewJWTManager(store, nil)
	tokenString, err := jm.Sign(context.Background(), "tenant-abc", "https://tenant-abc.vaultgate.example", map[string]interface{}{"sub": "user-1"}, time.Hour)
	require.NoError(t, err)

	// a token verified against a different, empty tenant's keystore fails kid lookup.
	_, err = jm.Verify(context.Background(), "tenant-other", tokenString, "https://tenant-abc.vaultgate.example", "vaultgate-api")
	assert.Error(t, err)
}

func TestKeyManager_GetPublicJWKS(t *testing.T) {
	store := newMockSigningKeyStore()
	manager := NewKeyManager(store, nil)

	for i := 0; i < 3; i++ {
		_, err := manager.GenerateKey(context.Background(), "tenant-123", "RS256")
		require.NoError(t, err)
	}

	jwks, err := manager.GetPublicJWKS(context.Background(), "tenant-123")
	require.NoError(t, err)
	keys, ok := jwks["keys"].([]map[string]interface{})
	require.True(t, ok)
	assert.Len(t, keys, 3)
	for _, jwk := range keys {
		assert.Equal(t, "RSA", jwk["kty"])
	}
}

func TestKeyManager_GetPublicJWKS_NoKeys(t *testing.T) {
	store := newMockSigningKeyStore()
	manager := NewKeyManager(store, nil)

	jwks, err := manager.GetPublicJWKS(context.Background(), "tenant-no-keys")
	require.NoError(t, err)
	keys, ok := jwks["keys"].([]map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, keys)
}
