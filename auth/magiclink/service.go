// Package magiclink implements the C4 passwordless login flow: issue a
// one-shot token bound to an email address, then consume it exactly
// once to mint a session.
package magiclink

import (
	"context"
	"time"

	"github.com/vaultgate/auth/core"
	"github.com/vaultgate/auth/crypto"
	"github.com/vaultgate/auth/ratelimit"
)

// SessionIssuer mirrors sessions.Service.Create so *sessions.Service
// satisfies it directly.
type SessionIssuer interface {
	Create(ctx context.Context, tenantID, userID string, ip, userAgent string) (*core.Session, *core.TokenPair, error)
}

// Notifier delivers the magic link to the user out of band (email,
// SMS). Production wiring plugs in a real transport; tests use a
// capturing fake.
type Notifier interface {
	SendMagicLink(ctx context.Context, tenantID, email, link string) error
}

// Service implements core.MagicLinkService.
type Service struct {
	tokens   core.MagicLinkTokenStore
	users    core.UserStore
	sessions SessionIssuer
	notifier Notifier
	limiter  *ratelimit.Limiter
	clock    core.Clock
	ttl      time.Duration
	ratePerMin int
	linkBaseURL string
}

// NewService creates a new magic-link service. linkBaseURL is the
// public URL prefix the raw token is appended to (e.g.
// "https://app.example/auth/magic?token=").
func NewService(tokens core.MagicLinkTokenStore, users core.UserStore, sessions SessionIssuer, notifier Notifier, limiter *ratelimit.Limiter, clock core.Clock, ttl time.Duration, ratePerMin int, linkBaseURL string) *Service {
	return &Service{
		tokens:      tokens,
		users:       users,
		sessions:    sessions,
		notifier:    notifier,
		limiter:     limiter,
		clock:       clock,
		ttl:         ttl,
		ratePerMin:  ratePerMin,
		linkBaseURL: linkBaseURL,
	}
}

// Issue mints a one-shot token for email and hands it to the notifier.
// Rate limited per IP to blunt enumeration/spam.
func (s *Service) Issue(ctx context.Context, tenantID, email, ip string) error {
	allowed, err := s.limiter.Allow(ctx, ip, s.ratePerMin, time.Minute)
	if err != nil {
		return core.NewError(core.ErrInternal, "rate limit check failed", err)
	}
	if !allowed {
		return core.NewError(core.ErrThrottled, "too many magic-link requests", nil)
	}

	user, err := s.users.GetByEmail(ctx, tenantID, email)
	if err != nil {
		return core.NewError(core.ErrNotFound, "user not found", err)
	}

	rawToken, err := crypto.RandomToken(32)
	if err != nil {
		return core.NewError(core.ErrInternal, "generate token", err)
	}

	now := s.clock.Now()
	token := &core.MagicLinkToken{
		TokenHash: crypto.HashString(rawToken),
		TenantID:  tenantID,
		UserID:    user.ID,
		Email:     email,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return core.NewError(core.ErrInternal, "store magic-link token", err)
	}

	link := s.linkBaseURL + rawToken
	if err := s.notifier.SendMagicLink(ctx, tenantID, email, link); err != nil {
		return core.NewError(core.ErrProvider, "deliver magic-link", err)
	}
	return nil
}

// Consume redeems a raw token exactly once, rejecting expired or
// already-used tokens, and mints a session for the bound user.
func (s *Service) Consume(ctx context.Context, tenantID, token, ip, userAgent string) (*core.User, *core.Session, *core.TokenPair, error) {
	tokenHash := crypto.HashString(token)

	record, err := s.tokens.GetAndConsume(ctx, tenantID, tokenHash)
	if err != nil {
		// GetAndConsume classifies its own failure: ErrValidation for a
		// token that exists but was already redeemed or has expired
		// (replay), ErrNotFound only when the token never existed.
		if core.KindOf(err) == core.ErrValidation {
			return nil, nil, nil, core.NewError(core.ErrValidation, "magic-link token invalid", err)
		}
		return nil, nil, nil, core.NewError(core.ErrNotFound, "magic-link token not found", err)
	}
	if s.clock.Now().After(record.ExpiresAt) {
		return nil, nil, nil, core.NewError(core.ErrValidation, "magic-link token expired", nil)
	}

	user, err := s.users.GetByID(ctx, tenantID, record.UserID)
	if err != nil {
		return nil, nil, nil, core.NewError(core.ErrNotFound, "user not found", err)
	}

	session, pair, err := s.sessions.Create(ctx, tenantID, user.ID, ip, userAgent)
	if err != nil {
		return nil, nil, nil, core.NewError(core.ErrInternal, "create session", err)
	}

	return user, session, pair, nil
}
