package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vaultgate/auth/core"
)

// Server is the main HTTP server.
type Server struct {
	core             *core.Core
	config           core.Config
	tenantMiddleware *TenantMiddleware
	sessionMiddleware *SessionMiddleware
	apiKeyMiddleware *APIKeyMiddleware
	bearerMiddleware *BearerAuthMiddleware
	adminMiddleware  *AdminAuthMiddleware
	corsMiddleware   *CORSMiddleware
	adminHandlers    *AdminHandlers
	authHandlers     *AuthHandlers
}

// NewServer creates a new HTTP server.
func NewServer(coreInstance *core.Core, config core.Config) *Server {
	s := &Server{
		core:   coreInstance,
		config: config,
	}

	if coreInstance.TenantResolver != nil {
		s.tenantMiddleware = NewTenantMiddleware(coreInstance.TenantResolver)
	}
	if coreInstance.SessionService != nil {
		s.sessionMiddleware = NewSessionMiddleware(coreInstance.SessionService, config.SessionCookieName)
	}
	if coreInstance.TokenService != nil && coreInstance.SessionService != nil {
		s.bearerMiddleware = NewBearerAuthMiddleware(coreInstance.TokenService, coreInstance.SessionService)
	}
	if coreInstance.Store != nil && coreInstance.Store.AdminKeys() != nil {
		s.adminMiddleware = NewAdminAuthMiddleware(coreInstance.Store.AdminKeys(), config.AdminAPIKey)
	}
	s.corsMiddleware = NewCORSMiddleware([]string{"*"})

	s.adminHandlers = NewAdminHandlers(coreInstance.Store, coreInstance.TenantService, coreInstance.KeyManager, coreInstance.AuditSink, coreInstance.Clock)
	s.authHandlers = NewAuthHandlers(coreInstance)

	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware.Handler(http.HandlerFunc(s.handleRequest)).ServeHTTP(w, r)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	method := r.Method

	if strings.HasPrefix(path, "/admin/tenants/") {
		s.routeAdminTenantPath(w, r)
		return
	}

	switch {
	case path == "/healthz":
		s.adminHandlers.HealthHandler(w, r)

	case path == "/admin/tenants" && method == http.MethodGet:
		s.withAdminAuth(s.adminHandlers.ListTenants)(w, r)
	case path == "/admin/tenants" && method == http.MethodPost:
		s.withAdminAuth(s.adminHandlers.CreateTenant)(w, r)

	// JWKS — generalized from the teacher's OIDC-provider issuer
	// endpoint to a tenant-scoped key-publication endpoint any client
	// (including third-party IdPs verifying our own issued tokens) can
	// poll.
	case path == "/.well-known/jwks.json":
		s.withTenant(s.authHandlers.JWKSHandler)(w, r)

	case path == "/auth/login" && method == http.MethodPost:
		s.withTenant(s.authHandlers.LoginHandler)(w, r)
	case path == "/auth/logout" && method == http.MethodPost:
		s.withTenant(s.withSession(s.authHandlers.LogoutHandler))(w, r)

	case path == "/auth/magic-link" && method == http.MethodPost:
		s.withTenant(s.authHandlers.MagicLinkIssueHandler)(w, r)
	case path == "/auth/magic-link/consume" && method == http.MethodPost:
		s.withTenant(s.authHandlers.MagicLinkConsumeHandler)(w, r)

	case strings.HasPrefix(path, "/auth/oauth/") && strings.HasSuffix(path, "/start") && method == http.MethodGet:
		s.withTenant(s.authHandlers.OAuthStartHandler)(w, r)
	case strings.HasPrefix(path, "/auth/oauth/") && strings.HasSuffix(path, "/callback") && method == http.MethodGet:
		s.withTenant(s.authHandlers.OAuthCallbackHandler)(w, r)

	case path == "/webhooks/endpoints" && method == http.MethodPost:
		s.withTenant(s.withSessionAuth(s.authHandlers.RegisterWebhookEndpointHandler))(w, r)

	case path == "/auth/introspect" && method == http.MethodPost:
		s.withTenant(s.withBearerAuth(s.authHandlers.IntrospectHandler))(w, r)

	case path == "/api-keys" && method == http.MethodPost:
		s.withTenant(s.withSessionAuth(s.authHandlers.IssueAPIKeyHandler))(w, r)
	case strings.HasPrefix(path, "/api-keys/") && method == http.MethodDelete:
		s.withTenant(s.withSessionAuth(s.authHandlers.RevokeAPIKeyHandler))(w, r)

	default:
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found")
	}
}

func (s *Server) routeAdminTenantPath(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 4 || parts[0] != "admin" || parts[1] != "tenants" {
		writeError(w, http.StatusNotFound, "not_found", "Endpoint not found")
		return
	}

	tenantID := parts[2]
	r.SetPathValue("tenant_id", tenantID)

	if len(parts) == 4 && parts[3] == "users" {
		switch r.Method {
		case http.MethodGet:
			s.withAdminAuth(s.adminHandlers.ListUsers)(w, r)
		case http.MethodPost:
			s.withAdminAuth(s.adminHandlers.CreateUser)(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
		return
	}

	if len(parts) == 6 && parts[3] == "users" && parts[5] == "password" && r.Method == http.MethodPut {
		r.SetPathValue("user_id", parts[4])
		s.withAdminAuth(s.adminHandlers.SetUserPassword)(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "not_found", "Endpoint not found")
}

func (s *Server) withAdminAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminMiddleware != nil {
			s.adminMiddleware.Handler(http.HandlerFunc(handler)).ServeHTTP(w, r)
		} else {
			handler(w, r)
		}
	}
}

func (s *Server) withTenant(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.tenantMiddleware != nil {
			s.tenantMiddleware.Handler(http.HandlerFunc(handler)).ServeHTTP(w, r)
		} else {
			handler(w, r)
		}
	}
}

func (s *Server) withSession(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.sessionMiddleware != nil {
			s.sessionMiddleware.Handler(http.HandlerFunc(handler)).ServeHTTP(w, r)
		} else {
			handler(w, r)
		}
	}
}

// withBearerAuth authenticates via a bearer access token: a present but
// invalid or revoked token is rejected by the bearer middleware, and a
// request with no usable Authorization header is rejected here with 401,
// as is every request when bearer auth is not configured.
func (s *Server) withBearerAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.bearerMiddleware == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Bearer auth not configured")
			return
		}
		s.bearerMiddleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := GetTokenClaims(r.Context()); !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Bearer token required")
				return
			}
			handler(w, r)
		})).ServeHTTP(w, r)
	}
}

// withSessionAuth additionally rejects the request outright when no
// valid session is present, unlike withSession which just leaves the
// context session unset for the handler to check.
func (s *Server) withSessionAuth(handler http.HandlerFunc) http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetSession(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Session required")
			return
		}
		handler(w, r)
	})
}

func writeJSONValue(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to encode response")
		return
	}
	writeJSON(w, status, data)
}
