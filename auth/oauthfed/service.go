// Package oauthfed implements federated login against external OAuth2/
// OIDC identity providers — the opposite direction from an OAuth
// *provider* flow: this kernel is the client, not the authorization
// server (component C3).
package oauthfed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/vaultgate/auth/core"
	"github.com/vaultgate/auth/crypto"
	"github.com/vaultgate/auth/kv"
	"golang.org/x/oauth2"
)

// exchanger is the subset of *oauth2.Config the service needs; narrowed
// to a local interface so tests can substitute a fake without making
// real network calls.
type exchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// profileFetcher resolves the external account id/email for a token.
type profileFetcher interface {
	FetchProfile(ctx context.Context, provider ProviderConfig, token *oauth2.Token) (accountID, email string, err error)
}

// httpProfileFetcher calls the provider's userinfo REST endpoint.
type httpProfileFetcher struct {
	client *http.Client
}

func (f *httpProfileFetcher) FetchProfile(ctx context.Context, provider ProviderConfig, token *oauth2.Token) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("userinfo request failed: %s", resp.Status)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", fmt.Errorf("decode userinfo: %w", err)
	}

	accountID := fmt.Sprintf("%v", payload[provider.AccountIDKey])
	email, _ := payload[provider.EmailKey].(string)
	if accountID == "" || accountID == "<nil>" {
		return "", "", fmt.Errorf("userinfo missing %s", provider.AccountIDKey)
	}
	return accountID, email, nil
}

// SessionIssuer creates a session+token pair for a freshly-resolved
// user (implemented by *sessions.Service and mocks).
type SessionIssuer interface {
	Create(ctx context.Context, tenantID, userID string, ip, userAgent string) (*core.Session, *core.TokenPair, error)
}

// Service implements core.OAuthFederationService.
type Service struct {
	providers map[string]ProviderConfig
	exchanges map[string]exchanger
	profiles  profileFetcher

	accounts core.OAuthAccountStore
	users    core.UserStore
	sessions SessionIssuer
	kv       kv.Store
	clock    core.Clock

	encryptionKey []byte
	stateTTL      time.Duration
}

// NewService creates a new federation service. encryptionKey encrypts
// provider access/refresh tokens at rest (nil disables encryption, as
// crypto.EncryptAEAD documents).
func NewService(providers []ProviderConfig, accounts core.OAuthAccountStore, users core.UserStore, sessions SessionIssuer, kvStore kv.Store, clock core.Clock, encryptionKey []byte) *Service {
	s := &Service{
		providers:     make(map[string]ProviderConfig, len(providers)),
		exchanges:     make(map[string]exchanger, len(providers)),
		profiles:      &httpProfileFetcher{client: http.DefaultClient},
		accounts:      accounts,
		users:         users,
		sessions:      sessions,
		kv:            kvStore,
		clock:         clock,
		encryptionKey: encryptionKey,
		stateTTL:      10 * time.Minute,
	}
	for _, p := range providers {
		s.providers[p.Name] = p
		cfg := p.OAuth2
		s.exchanges[p.Name] = &cfg
	}
	return s
}

func stateKey(state string) string {
	return "oauthfed-state:" + state
}

// AuthorizationURL mints a one-time state token bound to tenantID and
// provider, and returns the provider's consent-screen URL.
func (s *Service) AuthorizationURL(ctx context.Context, tenantID, provider, redirectURI string) (string, error) {
	cfg, ok := s.exchanges[provider]
	if !ok {
		return "", core.NewError(core.ErrValidation, "unknown oauth provider: "+provider, nil)
	}

	state := uuid.New().String()
	if err := s.kv.Set(ctx, stateKey(state), tenantID+"|"+provider, s.stateTTL); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}

	return cfg.AuthCodeURL(state), nil
}

// HandleCallback validates the state token, exchanges the code, resolves
// the external account's profile, links or creates the local user, and
// issues a session.
func (s *Service) HandleCallback(ctx context.Context, tenantID, provider, code, state string) (*core.User, *core.TokenPair, error) {
	stored, ok, err := s.kv.Get(ctx, stateKey(state))
	if err != nil {
		return nil, nil, fmt.Errorf("lookup oauth state: %w", err)
	}
	if !ok {
		return nil, nil, core.NewError(core.ErrValidation, "invalid or expired oauth state", nil)
	}
	_ = s.kv.Del(ctx, stateKey(state))
	if stored != tenantID+"|"+provider {
		return nil, nil, core.NewError(core.ErrValidation, "oauth state does not match tenant/provider", nil)
	}

	providerCfg, ok := s.providers[provider]
	if !ok {
		return nil, nil, core.NewError(core.ErrValidation, "unknown oauth provider: "+provider, nil)
	}
	exchange := s.exchanges[provider]

	token, err := exchange.Exchange(ctx, code)
	if err != nil {
		return nil, nil, core.NewError(core.ErrProvider, "exchange authorization code", err)
	}

	accountID, email, err := s.profiles.FetchProfile(ctx, providerCfg, token)
	if err != nil {
		return nil, nil, core.NewError(core.ErrProvider, "fetch provider profile", err)
	}

	account, err := s.accounts.GetByProviderAccount(ctx, provider, accountID)
	if err == nil && account != nil {
		if err := s.updateLinkedTokens(ctx, account, token); err != nil {
			return nil, nil, err
		}
		user, err := s.users.GetByID(ctx, account.TenantID, account.UserID)
		if err != nil {
			return nil, nil, core.NewError(core.ErrNotFound, "linked user not found", err)
		}
		return s.finishLogin(ctx, user)
	}

	var user *core.User
	if email != "" {
		if existing, err := s.users.GetByEmail(ctx, tenantID, email); err == nil {
			user = existing
		}
	}
	if user == nil {
		now := s.clock.Now()
		user = &core.User{
			ID:            uuid.New().String(),
			TenantID:      tenantID,
			Email:         email,
			EmailVerified: email != "",
			Status:        "active",
			CreatedAt:     now,
			UpdatedAt:     &now,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("create federated user: %w", err)
		}
	}

	newAccount := &core.OAuthAccount{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		UserID:            user.ID,
		Provider:          provider,
		ProviderAccountID: accountID,
		CreatedAt:         s.clock.Now(),
		UpdatedAt:         s.clock.Now(),
	}
	if email != "" {
		newAccount.Email = &email
	}
	if err := s.encryptTokens(newAccount, token); err != nil {
		return nil, nil, err
	}
	if err := s.accounts.Create(ctx, newAccount); err != nil {
		return nil, nil, fmt.Errorf("link oauth account: %w", err)
	}

	return s.finishLogin(ctx, user)
}

func (s *Service) updateLinkedTokens(ctx context.Context, account *core.OAuthAccount, token *oauth2.Token) error {
	if err := s.encryptTokens(account, token); err != nil {
		return err
	}
	account.UpdatedAt = s.clock.Now()
	return s.accounts.Update(ctx, account)
}

func (s *Service) encryptTokens(account *core.OAuthAccount, token *oauth2.Token) error {
	encAccess, err := crypto.EncryptAEAD([]byte(token.AccessToken), s.encryptionKey)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	account.AccessTokenEnc = encAccess
	if token.RefreshToken != "" {
		encRefresh, err := crypto.EncryptAEAD([]byte(token.RefreshToken), s.encryptionKey)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		account.RefreshTokenEnc = encRefresh
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		account.ExpiresAt = &expiry
	}
	return nil
}

func (s *Service) finishLogin(ctx context.Context, user *core.User) (*core.User, *core.TokenPair, error) {
	_, pair, err := s.sessions.Create(ctx, user.TenantID, user.ID, "", "")
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return user, pair, nil
}
