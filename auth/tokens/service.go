// Package tokens implements JWT access-token issuance/validation and
// refresh-token rotation (component C1 of the auth kernel).
package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vaultgate/auth/core"
	"github.com/vaultgate/auth/crypto"
	"github.com/vaultgate/auth/kv"
)

// accessTokenAudience is the "aud" claim every access token is issued
// and verified against. There is one audience for the whole kernel API
// surface; tenants are distinguished by "tid", not by audience.
const accessTokenAudience = "vaultgate-api"

// JWTSigner signs and verifies JWTs (implemented by *crypto.JWTManager and mocks)
type JWTSigner interface {
	Sign(ctx context.Context, tenantID, issuer string, claims map[string]interface{}, ttl time.Duration) (string, error)
	Verify(ctx context.Context, tenantID, tokenString, expectedIssuer, expectedAudience string) (*core.TokenClaims, error)
}

// Service implements core.TokenService
type Service struct {
	refreshTokens core.RefreshTokenStore
	jwtManager    JWTSigner
	clock         core.Clock
	kv            kv.Store
	baseIssuer    string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	reuseWindow   time.Duration
}

// NewService creates a new token service. baseIssuer is combined with the
// tenant id to form the "iss" claim (e.g. "https://%s.vaultgate.example").
// reuseWindow is the grace period within which a refresh token that was
// already rotated can be replayed and still get back the SAME new pair,
// rather than being treated as a stolen-token reuse.
func NewService(refreshTokens core.RefreshTokenStore, jwtManager JWTSigner, clock core.Clock, kvStore kv.Store, baseIssuer string, accessTTL, refreshTTL, reuseWindow time.Duration) *Service {
	return &Service{
		refreshTokens: refreshTokens,
		jwtManager:    jwtManager,
		clock:         clock,
		kv:            kvStore,
		baseIssuer:    baseIssuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		reuseWindow:   reuseWindow,
	}
}

func (s *Service) issuer(tenantID string) string {
	return fmt.Sprintf(s.baseIssuer, tenantID)
}

// IssueAccessToken issues a new signed access token for the given
// session. roles are pre-resolved by the caller (the authz service) so
// the token layer never needs to know how roles are computed.
func (s *Service) IssueAccessToken(ctx context.Context, tenantID, userID, sessionID string, scope string, roles []string, emailVerified bool) (string, error) {
	claims := map[string]interface{}{
		"sub":            userID,
		"aud":            accessTokenAudience,
		"sid":            sessionID,
		"scope":          scope,
		"roles":          roles,
		"typ":            "access",
		"email_verified": emailVerified,
	}

	token, err := s.jwtManager.Sign(ctx, tenantID, s.issuer(tenantID), claims, s.accessTTL)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// IssueRefreshToken issues a new opaque refresh token bound to a session.
func (s *Service) IssueRefreshToken(ctx context.Context, tenantID, userID, sessionID string, scope string) (string, error) {
	tokenValue := uuid.New().String()
	tokenHash := crypto.HashString(tokenValue)

	rt := &core.RefreshToken{
		TokenHash: tokenHash,
		TenantID:  tenantID,
		UserID:    userID,
		SessionID: sessionID,
		Scope:     scope,
		CreatedAt: s.clock.Now(),
		ExpiresAt: s.clock.Now().Add(s.refreshTTL),
	}

	if err := s.refreshTokens.Create(ctx, rt); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}

	return tokenValue, nil
}

// ValidateAccessToken verifies signature, issuer, expiry and clock-skew
// leeway, returning the decoded claims. It does not consult the revoked-
// jti set; callers that need revocation semantics (e.g. the session
// service) check that separately so this stays a pure crypto operation.
func (s *Service) ValidateAccessToken(ctx context.Context, token string) (*core.TokenClaims, error) {
	tenantID, err := tenantIDFromUnverifiedClaims(token)
	if err != nil {
		return nil, core.NewError(core.ErrUnauthenticated, "malformed token", err)
	}

	claims, err := s.jwtManager.Verify(ctx, tenantID, token, s.issuer(tenantID), accessTokenAudience)
	if err != nil {
		return nil, core.NewError(core.ErrUnauthenticated, "invalid token", err)
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return nil, core.NewError(core.ErrUnauthenticated, "not an access token", nil)
	}
	return claims, nil
}

func idempotencyKey(oldHash string) string {
	return "refresh-rotation:" + oldHash
}

// RotateRefreshToken consumes oldToken and issues a fresh access/refresh
// pair bound to the same session. If oldToken was already rotated within
// the reuse window, the SAME pair issued by that earlier rotation is
// returned instead of erroring — this tolerates a client retrying a
// request whose response it never saw, without treating the replay as
// theft. Reuse outside the window fails with ErrRevoked; the session and
// the newer tokens of its lineage are not revoked.
func (s *Service) RotateRefreshToken(ctx context.Context, tenantID, oldToken string) (*core.TokenPair, error) {
	oldHash := crypto.HashString(oldToken)

	if cached, ok, err := s.kv.Get(ctx, idempotencyKey(oldHash)); err == nil && ok {
		return decodeTokenPair(cached)
	}

	rt, err := s.refreshTokens.GetByHash(ctx, tenantID, oldHash)
	if err != nil {
		return nil, core.NewError(core.ErrNotFound, "refresh token not found", err)
	}

	if rt.RevokedAt != nil {
		return nil, core.NewError(core.ErrRevoked, "refresh token already rotated or revoked", nil)
	}
	if s.clock.Now().After(rt.ExpiresAt) {
		return nil, core.NewError(core.ErrRevoked, "refresh token expired", nil)
	}

	if err := s.refreshTokens.Revoke(ctx, tenantID, oldHash); err != nil {
		return nil, fmt.Errorf("revoke old refresh token: %w", err)
	}

	newRefresh := uuid.New().String()
	newHash := crypto.HashString(newRefresh)
	newRT := &core.RefreshToken{
		TokenHash:       newHash,
		TenantID:        rt.TenantID,
		UserID:          rt.UserID,
		SessionID:       rt.SessionID,
		Scope:           rt.Scope,
		CreatedAt:       s.clock.Now(),
		ExpiresAt:       s.clock.Now().Add(s.refreshTTL),
		RotatedFromHash: &oldHash,
	}
	if err := s.refreshTokens.Create(ctx, newRT); err != nil {
		return nil, fmt.Errorf("store rotated refresh token: %w", err)
	}

	access, err := s.IssueAccessToken(ctx, rt.TenantID, rt.UserID, rt.SessionID, rt.Scope, nil, false)
	if err != nil {
		return nil, err
	}

	pair := &core.TokenPair{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
		RefreshToken: newRefresh,
		Scope:        rt.Scope,
	}

	if encoded, err := encodeTokenPair(pair); err == nil {
		_ = s.kv.Set(ctx, idempotencyKey(oldHash), encoded, s.reuseWindow)
	}

	return pair, nil
}
