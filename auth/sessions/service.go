// Package sessions implements session lifecycle management, concurrent-
// session capping, and the revoked-jti hot set (component C2).
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vaultgate/auth/core"
	"github.com/vaultgate/auth/kv"
)

// TokenIssuer mints the access/refresh pair handed back on session
// creation (implemented by *tokens.Service and mocks).
type TokenIssuer interface {
	IssueAccessToken(ctx context.Context, tenantID, userID, sessionID string, scope string, roles []string, emailVerified bool) (string, error)
	IssueRefreshToken(ctx context.Context, tenantID, userID, sessionID string, scope string) (string, error)
}

// RoleResolver looks up the roles a session's tokens should carry
// (implemented by *authz.Service and mocks).
type RoleResolver interface {
	RolesForUser(ctx context.Context, tenantID, userID string) ([]string, error)
}

// Service implements core.SessionService
type Service struct {
	sessions      core.SessionStore
	users         core.UserStore
	tokens        TokenIssuer
	roles         RoleResolver
	clock         core.Clock
	kv            kv.Store
	ttl           time.Duration
	maxConcurrent int
	revokedJTITTL time.Duration
}

// NewService creates a new session service. maxConcurrent is the cap on
// simultaneously active sessions per user (C2 invariant); when a new
// session would exceed it, the oldest active session is revoked to make
// room rather than rejecting the new login.
func NewService(sessions core.SessionStore, users core.UserStore, tokens TokenIssuer, roles RoleResolver, clock core.Clock, kvStore kv.Store, ttl time.Duration, maxConcurrent int, revokedJTITTL time.Duration) *Service {
	return &Service{
		sessions:      sessions,
		users:         users,
		tokens:        tokens,
		roles:         roles,
		clock:         clock,
		kv:            kvStore,
		ttl:           ttl,
		maxConcurrent: maxConcurrent,
		revokedJTITTL: revokedJTITTL,
	}
}

// Create opens a new session for userID, evicting the oldest active
// session first if the user is already at the concurrent-session cap,
// then issues a bound access/refresh pair.
func (s *Service) Create(ctx context.Context, tenantID, userID string, ip, userAgent string) (*core.Session, *core.TokenPair, error) {
	now := s.clock.Now()
	session := &core.Session{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		UserID:     userID,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastSeenAt: now,
	}

	if s.maxConcurrent > 0 {
		active, err := s.sessions.ListActiveForUser(ctx, tenantID, userID)
		if err != nil {
			return nil, nil, fmt.Errorf("list active sessions: %w", err)
		}
		if len(active) >= s.maxConcurrent {
			// evict-and-create run as one transaction so the cap is never
			// observed as either over-full or momentarily empty.
			if err := s.sessions.EvictOldestAndCreate(ctx, tenantID, userID, session); err != nil {
				return nil, nil, fmt.Errorf("evict oldest session and create: %w", err)
			}
			return s.finishCreate(ctx, tenantID, userID, session)
		}
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	return s.finishCreate(ctx, tenantID, userID, session)
}

// finishCreate loads the user, resolves roles, and mints the bound
// access/refresh pair for an already-persisted session.
func (s *Service) finishCreate(ctx context.Context, tenantID, userID string, session *core.Session) (*core.Session, *core.TokenPair, error) {
	user, err := s.users.GetByID(ctx, tenantID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}

	roles, err := s.roles.RolesForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve roles: %w", err)
	}

	const scope = "full"
	access, err := s.tokens.IssueAccessToken(ctx, tenantID, userID, session.ID, scope, roles, user.EmailVerified)
	if err != nil {
		return nil, nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(ctx, tenantID, userID, session.ID, scope)
	if err != nil {
		return nil, nil, fmt.Errorf("issue refresh token: %w", err)
	}

	return session, &core.TokenPair{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: refresh,
		Scope:        scope,
	}, nil
}

// Validate checks a session is live and bumps its last-seen timestamp.
func (s *Service) Validate(ctx context.Context, tenantID, sessionID string) (*core.Session, error) {
	session, err := s.sessions.GetByID(ctx, tenantID, sessionID)
	if err != nil {
		return nil, core.NewError(core.ErrNotFound, "session not found", err)
	}

	if session.RevokedAt != nil {
		return nil, core.NewError(core.ErrRevoked, "session revoked", nil)
	}

	if s.clock.Now().After(session.CreatedAt.Add(s.ttl)) {
		return nil, core.NewError(core.ErrRevoked, "session expired", nil)
	}

	session.LastSeenAt = s.clock.Now()
	if err := s.sessions.Update(ctx, session); err != nil {
		_ = err // best-effort, validation result still stands
	}

	return session, nil
}

// Revoke revokes a session. It does not by itself blacklist any jti
// already issued for it — callers that also need in-flight access
// tokens to die immediately should pair this with RevokeJTI for each
// outstanding jti they know about.
func (s *Service) Revoke(ctx context.Context, tenantID, sessionID string) error {
	return s.sessions.Revoke(ctx, tenantID, sessionID)
}

func revokedJTIKey(jti string) string {
	return "revoked-jti:" + jti
}

// RevokeJTI adds a jti to the revoked hot set for ttl (bounded by the
// token's own remaining lifetime — no need to remember it any longer
// than the access token it denies would have been valid for).
func (s *Service) RevokeJTI(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.revokedJTITTL
	}
	return s.kv.Set(ctx, revokedJTIKey(jti), "1", ttl)
}

// IsJTIRevoked reports whether jti is in the revoked hot set.
func (s *Service) IsJTIRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, revokedJTIKey(jti))
	if err != nil {
		return false, err
	}
	return ok, nil
}
