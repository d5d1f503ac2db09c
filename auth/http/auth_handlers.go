package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/vaultgate/auth/core"
)

// AuthHandlers serves the end-user-facing auth flows (C1-C4, C7, C8):
// password login, magic links, OAuth federation, webhook registration
// and API-key issuance. Unlike AdminHandlers these run under tenant
// resolution rather than admin-key auth.
type AuthHandlers struct {
	core *core.Core
}

// NewAuthHandlers creates a new auth handlers instance.
func NewAuthHandlers(coreInstance *core.Core) *AuthHandlers {
	return &AuthHandlers{core: coreInstance}
}

// JWKSHandler publishes the tenant's public signing keys.
func (h *AuthHandlers) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "Tenant not resolved")
		return
	}

	jwks, err := h.core.KeyManager.GetPublicJWKS(r.Context(), tenant.ID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSONValue(w, http.StatusOK, jwks)
}

// IntrospectHandler reports the claims of the bearer token presented on
// the request, having already run it through the full verify path
// (signature, issuer, audience, expiry, revocation) in withBearerAuth.
// Reaching this handler at all means the token is live.
func (h *AuthHandlers) IntrospectHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetTokenClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Bearer token required")
		return
	}
	writeJSONValue(w, http.StatusOK, map[string]interface{}{
		"active": true,
		"sub":    claims.Subject,
		"tid":    claims.TenantID,
		"sid":    claims.SessionID,
		"scope":  claims.Scope,
		"roles":  claims.Roles,
		"exp":    claims.ExpiresAt,
		"iat":    claims.IssuedAt,
	})
}

func (h *AuthHandlers) setSessionCookie(w http.ResponseWriter, session *core.Session) {
	w.Header().Add("Set-Cookie", (&http.Cookie{
		Name:     h.core.Config.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.core.Config.SessionCookieSecure,
		SameSite: sameSiteFromConfig(h.core.Config.SessionCookieSameSite),
		Expires:  time.Now().Add(h.core.Config.SessionTTL),
	}).String())
}

func sameSiteFromConfig(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// LoginHandler authenticates a user by email/password (ambient login
// path, complementing the passwordless C3/C4 flows) and starts a
// session.
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	user, err := h.core.UserService.Authenticate(r.Context(), tenant.ID, req.Email, req.Password)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	session, pair, err := h.core.SessionService.Create(r.Context(), tenant.ID, user.ID, clientIP(r), r.UserAgent())
	if err != nil {
		writeCoreError(w, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSONValue(w, http.StatusOK, pair)
}

// LogoutHandler revokes the current session.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())
	session, ok := GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "No active session")
		return
	}

	if err := h.core.SessionService.Revoke(r.Context(), tenant.ID, session.ID); err != nil {
		writeCoreError(w, err)
		return
	}

	w.Header().Add("Set-Cookie", (&http.Cookie{
		Name:     h.core.Config.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	}).String())
	w.WriteHeader(http.StatusNoContent)
}

// MagicLinkIssueHandler mints and delivers a magic-link token (C4).
func (h *AuthHandlers) MagicLinkIssueHandler(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	if err := h.core.MagicLinkService.Issue(r.Context(), tenant.ID, req.Email, clientIP(r)); err != nil {
		writeCoreError(w, err)
		return
	}

	// Always 202: never reveal whether the email exists.
	w.WriteHeader(http.StatusAccepted)
}

// MagicLinkConsumeHandler redeems a magic-link token and starts a
// session.
func (h *AuthHandlers) MagicLinkConsumeHandler(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	_, session, pair, err := h.core.MagicLinkService.Consume(r.Context(), tenant.ID, req.Token, clientIP(r), r.UserAgent())
	if err != nil {
		writeCoreError(w, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSONValue(w, http.StatusOK, pair)
}

// OAuthStartHandler redirects the client to the provider's
// authorization URL (C3).
func (h *AuthHandlers) OAuthStartHandler(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())
	provider := providerFromPath(r.URL.Path, "start")
	if provider == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing provider")
		return
	}

	redirectURI := r.URL.Query().Get("redirect_uri")
	url, err := h.core.OAuthFederation.AuthorizationURL(r.Context(), tenant.ID, provider, redirectURI)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// OAuthCallbackHandler exchanges the provider's callback code for a
// federated identity and starts a session (C3).
func (h *AuthHandlers) OAuthCallbackHandler(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())
	provider := providerFromPath(r.URL.Path, "callback")
	if provider == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing provider")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	user, pair, err := h.core.OAuthFederation.HandleCallback(r.Context(), tenant.ID, provider, code, state)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	session, sessionPair, err := h.core.SessionService.Create(r.Context(), tenant.ID, user.ID, clientIP(r), r.UserAgent())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	_ = pair // the federation token pair is discarded in favor of our own session tokens

	h.setSessionCookie(w, session)
	writeJSONValue(w, http.StatusOK, sessionPair)
}

func providerFromPath(path, suffix string) string {
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	// auth/oauth/{provider}/{suffix}
	if len(parts) != 4 || parts[3] != suffix {
		return ""
	}
	return parts[2]
}

// RegisterWebhookEndpointHandler registers a new webhook delivery
// endpoint for the tenant (C7).
func (h *AuthHandlers) RegisterWebhookEndpointHandler(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())

	var req struct {
		URL        string   `json:"url"`
		Secret     string   `json:"secret"`
		EventTypes []string `json:"event_types"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	endpoint, err := h.core.WebhookService.RegisterEndpoint(r.Context(), tenant.ID, req.URL, []byte(req.Secret), req.EventTypes)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	data, _ := json.Marshal(endpoint)
	writeJSON(w, http.StatusCreated, data)
}

// IssueAPIKeyHandler mints a new tenant-scoped API key (C8). The raw
// key is returned exactly once.
func (h *AuthHandlers) IssueAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())
	session, _ := GetSession(r.Context())

	var req struct {
		Name      string `json:"name"`
		Tier      string `json:"tier"`
		TTLHours  *int   `json:"ttl_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON")
		return
	}

	var ttl *time.Duration
	if req.TTLHours != nil {
		d := time.Duration(*req.TTLHours) * time.Hour
		ttl = &d
	}

	var userID *string
	if session != nil {
		userID = &session.UserID
	}

	rawKey, key, err := h.core.APIKeyService.Issue(r.Context(), tenant.ID, userID, req.Name, req.Tier, ttl)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSONValue(w, http.StatusCreated, struct {
		Key     string       `json:"key"`
		APIKey  *core.APIKey `json:"api_key"`
	}{Key: rawKey, APIKey: key})
}

// RevokeAPIKeyHandler revokes an API key by ID.
func (h *AuthHandlers) RevokeAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	tenant, _ := GetTenant(r.Context())

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found")
		return
	}
	id := parts[1]

	if err := h.core.APIKeyService.Revoke(r.Context(), tenant.ID, id); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
