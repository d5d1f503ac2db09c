// Package apikeys implements the C8 long-lived machine-credential
// lifecycle: issuance, verification, and tier-based rate limiting.
package apikeys

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaultgate/auth/core"
	"github.com/vaultgate/auth/crypto"
	"github.com/vaultgate/auth/ratelimit"
)

// defaultTierLimit is used for any tier not present in the Service's
// configured tierLimits map.
const defaultTierLimit = 60

// Service implements core.APIKeyService.
type Service struct {
	keys       core.APIKeyStore
	audit      core.AuditSink
	limiter    *ratelimit.Limiter
	clock      core.Clock
	prefix     string
	tierLimits map[string]int
}

// NewService creates a new API-key service. tierLimits maps a tier name
// ("free", "standard", "premium", ...) to its requests-per-minute
// budget; a tier absent from the map falls back to defaultTierLimit.
func NewService(keys core.APIKeyStore, audit core.AuditSink, limiter *ratelimit.Limiter, clock core.Clock, prefix string, tierLimits map[string]int) *Service {
	return &Service{
		keys:       keys,
		audit:      audit,
		limiter:    limiter,
		clock:      clock,
		prefix:     prefix,
		tierLimits: tierLimits,
	}
}

// Issue mints a new key, returning the cleartext value exactly once;
// only its Argon2id hash is persisted.
func (s *Service) Issue(ctx context.Context, tenantID string, userID *string, name, tier string, ttl *time.Duration) (string, *core.APIKey, error) {
	kid, err := crypto.RandomToken(9)
	if err != nil {
		return "", nil, core.NewError(core.ErrInternal, "generate kid", err)
	}
	// '_' separates the raw key's fields, so the kid must not contain one.
	kid = strings.ReplaceAll(kid, "_", "-")
	secret, err := crypto.RandomToken(32)
	if err != nil {
		return "", nil, core.NewError(core.ErrInternal, "generate secret", err)
	}
	hash, err := crypto.HashSecret(secret)
	if err != nil {
		return "", nil, core.NewError(core.ErrInternal, "hash secret", err)
	}

	now := s.clock.Now()
	var expiresAt *time.Time
	if ttl != nil {
		t := now.Add(*ttl)
		expiresAt = &t
	}

	key := &core.APIKey{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		UserID:     userID,
		Prefix:     s.prefix,
		KID:        kid,
		SecretHash: hash,
		Name:       name,
		Tier:       tier,
		Status:     "active",
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return "", nil, core.NewError(core.ErrInternal, "store api key", err)
	}

	rawKey := fmt.Sprintf("%s_%s_%s", s.prefix, kid, secret)
	return rawKey, key, nil
}

// Verify parses rawKey, checks its secret and status, and enforces the
// tier's rate limit. A successful verify also records LastUsedAt.
func (s *Service) Verify(ctx context.Context, rawKey string) (*core.APIKey, error) {
	parts := strings.SplitN(rawKey, "_", 3)
	if len(parts) != 3 {
		return nil, core.NewError(core.ErrValidation, "malformed api key", nil)
	}
	_, kid, secret := parts[0], parts[1], parts[2]

	key, err := s.keys.GetByKID(ctx, kid)
	if err != nil {
		return nil, core.NewError(core.ErrUnauthenticated, "api key not found", err)
	}
	if key.Status != "active" {
		return nil, core.NewError(core.ErrRevoked, "api key revoked", nil)
	}
	if key.ExpiresAt != nil && s.clock.Now().After(*key.ExpiresAt) {
		return nil, core.NewError(core.ErrValidation, "api key expired", nil)
	}

	ok, err := crypto.VerifySecret(secret, key.SecretHash)
	if err != nil || !ok {
		return nil, core.NewError(core.ErrUnauthenticated, "invalid api key secret", err)
	}

	limit := s.tierLimits[key.Tier]
	if limit == 0 {
		limit = defaultTierLimit
	}
	allowed, err := s.limiter.Allow(ctx, key.ID, limit, time.Minute)
	if err != nil {
		return nil, core.NewError(core.ErrInternal, "rate limit check failed", err)
	}
	if !allowed {
		return nil, core.NewError(core.ErrThrottled, "api key rate limit exceeded", nil)
	}

	now := s.clock.Now()
	key.LastUsedAt = &now
	s.keys.Update(ctx, key)

	s.audit.Log(ctx, &core.AuditEvent{
		TenantID:  key.TenantID,
		ActorType: "api_key",
		ActorID:   &key.ID,
		Type:      "api_key_used",
		CreatedAt: now,
	})

	return key, nil
}

// Revoke disables a key. Verify rejects it on its next use.
func (s *Service) Revoke(ctx context.Context, tenantID, id string) error {
	if err := s.keys.Revoke(ctx, tenantID, id); err != nil {
		return core.NewError(core.ErrInternal, "revoke api key", err)
	}
	return nil
}
