package core

import (
	"context"
	"time"
)

// Clock provides time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock is the production clock implementation.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// Config holds the core configuration.
type Config struct {
	DatabaseURL           string
	RedisURL              string
	AdminAPIKey           string
	BaseDomain            string
	SessionCookieName     string
	SessionCookieSecure   bool
	SessionCookieSameSite string
	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
	SessionTTL            time.Duration
	MaxConcurrentSessions int
	RevokedJTITTL         time.Duration
	RefreshReuseWindow    time.Duration
	SigningAlg            string // RS256 or ES256
	MaxLoginAttempts      int
	PasswordMinLength     int
	MagicLinkTTL          time.Duration
	MagicLinkRatePerMin   int
	TenantMaxDepthDefault int
	AuthzL1TTL            time.Duration
	AuthzL2TTL            time.Duration
	WebhookMaxAttempts    int
	WebhookBaseBackoff    time.Duration
	WebhookMaxBackoff     time.Duration
	WebhookWorkerCount    int
	WebhookQueueHighWater int
	StateTokenTTL         time.Duration
	EncryptionKey         []byte // 32 bytes, AES-256-GCM for tokens/secrets at rest
}

// Core is the main entry point for library usage, composing every
// service and store the kernel exposes.
type Core struct {
	Config         Config
	Store          Store
	Authorizer     Authorizer
	AuditSink      AuditSink
	Clock          Clock
	KeyManager     KeyManager
	TenantResolver TenantResolver

	TokenService    TokenService
	SessionService  SessionService
	UserService     UserService
	OAuthFederation OAuthFederationService
	MagicLinkService MagicLinkService
	TenantService   TenantService
	WebhookService  WebhookService
	APIKeyService   APIKeyService
}

// NewCore creates a new Core instance with the always-required
// dependencies; services are attached by the composition root.
func NewCore(cfg Config, store Store, authorizer Authorizer, auditSink AuditSink) (*Core, error) {
	return &Core{
		Config:     cfg,
		Store:      store,
		Authorizer: authorizer,
		AuditSink:  auditSink,
		Clock:      RealClock{},
	}, nil
}

// Store is the main persistence interface.
type Store interface {
	Tenants() TenantStore
	TenantMembers() TenantMemberStore
	Users() UserStore
	Sessions() SessionStore
	Domains() DomainStore
	PermissionGrants() PermissionGrantStore
	RoleDefinitions() RoleDefinitionStore
	Policies() PolicyStore
	SigningKeys() SigningKeyStore
	RefreshTokens() RefreshTokenStore
	OAuthAccounts() OAuthAccountStore
	MagicLinkTokens() MagicLinkTokenStore
	APIKeys() APIKeyStore
	WebhookEndpoints() WebhookEndpointStore
	WebhookDeliveries() WebhookDeliveryStore
	AuditEvents() AuditEventStore
	AdminKeys() AdminKeyStore
}

// TenantStore manages the tenant hierarchy.
type TenantStore interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, parentID *string, slug string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	Move(ctx context.Context, id string, newParentID *string) error
	Archive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Children(ctx context.Context, id string) ([]*Tenant, error)
	Descendants(ctx context.Context, id string) ([]*Tenant, error)
	Ancestors(ctx context.Context, id string) ([]*Tenant, error)
	List(ctx context.Context, limit int, cursor string) ([]*Tenant, string, error)
}

// TenantMemberStore manages tenant membership.
type TenantMemberStore interface {
	Create(ctx context.Context, member *TenantMember) error
	GetByUser(ctx context.Context, tenantID, userID string) (*TenantMember, error)
	Update(ctx context.Context, member *TenantMember) error
	ListByTenant(ctx context.Context, tenantID string, limit int, cursor string) ([]*TenantMember, string, error)
	ListByUser(ctx context.Context, userID string) ([]*TenantMember, error)
}

// UserStore manages user persistence.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, tenantID, id string) (*User, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	List(ctx context.Context, tenantID string, limit int, cursor string) ([]*User, string, error)
	SetPassword(ctx context.Context, userID string, hash string) error
	GetPassword(ctx context.Context, userID string) (string, error)
}

// SessionStore manages session persistence.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, tenantID, id string) (*Session, error)
	Update(ctx context.Context, session *Session) error
	Revoke(ctx context.Context, tenantID, id string) error
	ListActiveForUser(ctx context.Context, tenantID, userID string) ([]*Session, error)
	DeleteExpired(ctx context.Context, before time.Time) error

	// EvictOldestAndCreate revokes the active session for (tenantID,
	// userID) with the oldest LastSeenAt, then creates session, as a
	// single atomic unit — either both happen or neither does, so a cap
	// eviction never frees a slot without persisting the new session, or
	// persists the session without freeing the slot.
	EvictOldestAndCreate(ctx context.Context, tenantID, userID string, session *Session) error
}

// DomainStore manages custom domain persistence.
type DomainStore interface {
	Create(ctx context.Context, domain *TenantDomain) error
	GetByID(ctx context.Context, tenantID, id string) (*TenantDomain, error)
	GetByDomain(ctx context.Context, domain string) (*TenantDomain, error)
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string) ([]*TenantDomain, error)
	MarkVerified(ctx context.Context, tenantID, id string) error
}

// PermissionGrantStore manages direct permission grants.
type PermissionGrantStore interface {
	Create(ctx context.Context, grant *PermissionGrant) error
	Delete(ctx context.Context, id string) error
	ListForUser(ctx context.Context, tenantID, userID string) ([]*PermissionGrant, error)
}

// RoleDefinitionStore manages role definitions.
type RoleDefinitionStore interface {
	Create(ctx context.Context, role *RoleDefinition) error
	GetByName(ctx context.Context, tenantID, name string) (*RoleDefinition, error)
	Update(ctx context.Context, role *RoleDefinition) error
	List(ctx context.Context, tenantID string) ([]*RoleDefinition, error)
}

// PolicyStore manages ABAC policy persistence.
type PolicyStore interface {
	Create(ctx context.Context, policy *Policy) error
	GetByID(ctx context.Context, tenantID, id string) (*Policy, error)
	Update(ctx context.Context, policy *Policy) error
	ListForResource(ctx context.Context, tenantID, resourceType, action string) ([]*Policy, error)
}

// SigningKeyStore manages signing key persistence.
type SigningKeyStore interface {
	Create(ctx context.Context, key *SigningKey) error
	GetActive(ctx context.Context, tenantID string) (*SigningKey, error)
	GetByKID(ctx context.Context, tenantID, kid string) (*SigningKey, error)
	ListActive(ctx context.Context, tenantID string) ([]*SigningKey, error)
	MarkInactive(ctx context.Context, tenantID, id string) error
	MarkRetired(ctx context.Context, tenantID, id string) error
}

// RefreshTokenStore manages refresh token persistence.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByHash(ctx context.Context, tenantID, hash string) (*RefreshToken, error)
	Revoke(ctx context.Context, tenantID, hash string) error
	DeleteExpired(ctx context.Context, before time.Time) error
}

// OAuthAccountStore manages linked federated accounts.
type OAuthAccountStore interface {
	Create(ctx context.Context, account *OAuthAccount) error
	GetByProviderAccount(ctx context.Context, provider, providerAccountID string) (*OAuthAccount, error)
	GetByUser(ctx context.Context, tenantID, userID, provider string) (*OAuthAccount, error)
	Update(ctx context.Context, account *OAuthAccount) error
}

// MagicLinkTokenStore manages magic-link token persistence.
type MagicLinkTokenStore interface {
	Create(ctx context.Context, token *MagicLinkToken) error
	GetAndConsume(ctx context.Context, tenantID, tokenHash string) (*MagicLinkToken, error)
	DeleteExpired(ctx context.Context, before time.Time) error
}

// APIKeyStore manages API key persistence.
type APIKeyStore interface {
	Create(ctx context.Context, key *APIKey) error
	GetByKID(ctx context.Context, kid string) (*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
	Revoke(ctx context.Context, tenantID, id string) error
	ListForTenant(ctx context.Context, tenantID string) ([]*APIKey, error)
}

// WebhookEndpointStore manages registered webhook endpoints.
type WebhookEndpointStore interface {
	Create(ctx context.Context, endpoint *WebhookEndpoint) error
	GetByID(ctx context.Context, tenantID, id string) (*WebhookEndpoint, error)
	ListForEvent(ctx context.Context, tenantID, eventType string) ([]*WebhookEndpoint, error)
	ListActive(ctx context.Context, tenantID string) ([]*WebhookEndpoint, error)
}

// WebhookDeliveryStore manages webhook delivery attempt records.
type WebhookDeliveryStore interface {
	Create(ctx context.Context, delivery *WebhookDelivery) error
	Update(ctx context.Context, delivery *WebhookDelivery) error
	DueForDelivery(ctx context.Context, before time.Time, limit int) ([]*WebhookDelivery, error)
}

// AuditEventStore manages audit event persistence.
type AuditEventStore interface {
	Create(ctx context.Context, event *AuditEvent) error
	List(ctx context.Context, tenantID string, filters AuditFilters, limit int, cursor string) ([]*AuditEvent, string, error)
}

// AdminKeyStore manages admin API key persistence.
type AdminKeyStore interface {
	Create(ctx context.Context, key *AdminKey) error
	GetByHash(ctx context.Context, hash string) (*AdminKey, error)
	List(ctx context.Context) ([]*AdminKey, error)
	Delete(ctx context.Context, id string) error
}

// Authorizer handles RBAC+ABAC enforcement (C6).
type Authorizer interface {
	Authorize(ctx context.Context, tenantID, userID, resourceType, resourceID, action string, attrs map[string]interface{}) (*Decision, error)
	AuthorizeMany(ctx context.Context, tenantID, userID string, checks []PermissionCheck) ([]bool, error)
	PermissionMatrix(ctx context.Context, tenantID, userID string, resourceType string, resourceIDs []string, actions []string) (map[string]map[string]bool, error)
	RolesForUser(ctx context.Context, tenantID, userID string) ([]string, error)
	AddPolicy(ctx context.Context, tenantID string, policy RbacTuple) error
	RemovePolicy(ctx context.Context, tenantID string, policyID string) error
	ListPolicies(ctx context.Context, tenantID string, filters RbacFilters) ([]RbacTuple, string, error)
	InvalidateCache(ctx context.Context, tenantID, userID string)
}

// PermissionCheck is one entry in a batched AuthorizeMany call.
type PermissionCheck struct {
	ResourceType string
	ResourceID   string
	Action       string
	Attrs        map[string]interface{}
}

// AuditSink handles audit logging.
type AuditSink interface {
	Log(ctx context.Context, event *AuditEvent) error
}

// KeyManager handles cryptographic signing keys.
type KeyManager interface {
	GenerateKey(ctx context.Context, tenantID, alg string) (*SigningKey, error)
	Sign(ctx context.Context, tenantID string, claims map[string]interface{}) (string, string, error) // returns token, kid
	GetPublicJWKS(ctx context.Context, tenantID string) (map[string]interface{}, error)
}

// TenantResolver resolves tenants from hostnames.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, host string) (*Tenant, error)
}

// TenantService implements the C5 tenant-hierarchy operations.
type TenantService interface {
	Create(ctx context.Context, parentID *string, slug, name string) (*Tenant, error)
	Move(ctx context.Context, id string, newParentID *string) error
	Archive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Ancestors(ctx context.Context, id string) ([]*Tenant, error)
	Descendants(ctx context.Context, id string) ([]*Tenant, error)
	Children(ctx context.Context, id string) ([]*Tenant, error)
	CommonAncestor(ctx context.Context, idA, idB string) (*Tenant, error)
	Distance(ctx context.Context, idA, idB string) (int, error)
}

// TokenService handles token operations (C1).
type TokenService interface {
	IssueAccessToken(ctx context.Context, tenantID, userID, sessionID string, scope string, roles []string, emailVerified bool) (string, error)
	IssueRefreshToken(ctx context.Context, tenantID, userID, sessionID string, scope string) (string, error)
	ValidateAccessToken(ctx context.Context, token string) (*TokenClaims, error)
	RotateRefreshToken(ctx context.Context, tenantID, oldToken string) (*TokenPair, error)
}

// SessionService handles session operations (C2).
type SessionService interface {
	Create(ctx context.Context, tenantID, userID string, ip, userAgent string) (*Session, *TokenPair, error)
	Validate(ctx context.Context, tenantID, sessionID string) (*Session, error)
	Revoke(ctx context.Context, tenantID, sessionID string) error
	IsJTIRevoked(ctx context.Context, jti string) (bool, error)
	RevokeJTI(ctx context.Context, jti string, ttl time.Duration) error
}

// UserService handles user operations.
type UserService interface {
	Authenticate(ctx context.Context, tenantID, email, password string) (*User, error)
	Create(ctx context.Context, tenantID, email, displayName string) (*User, error)
	SetPassword(ctx context.Context, tenantID, userID, password string) error
}

// OAuthFederationService implements the C3 federation-login flow.
type OAuthFederationService interface {
	AuthorizationURL(ctx context.Context, tenantID, provider, redirectURI string) (string, error)
	HandleCallback(ctx context.Context, tenantID, provider, code, state string) (*User, *TokenPair, error)
}

// MagicLinkService implements the C4 passwordless login flow.
type MagicLinkService interface {
	Issue(ctx context.Context, tenantID, email, ip string) error
	Consume(ctx context.Context, tenantID, token, ip, userAgent string) (*User, *Session, *TokenPair, error)
}

// WebhookService implements the C7 delivery pipeline.
type WebhookService interface {
	Enqueue(ctx context.Context, tenantID, eventType string, payload []byte) error
	RegisterEndpoint(ctx context.Context, tenantID, url string, secret []byte, eventTypes []string) (*WebhookEndpoint, error)
}

// APIKeyService implements the C8 API-key lifecycle.
type APIKeyService interface {
	Issue(ctx context.Context, tenantID string, userID *string, name, tier string, ttl *time.Duration) (string, *APIKey, error)
	Verify(ctx context.Context, rawKey string) (*APIKey, error)
	Revoke(ctx context.Context, tenantID, id string) error
}

// AuditFilters for querying audit events.
type AuditFilters struct {
	Type      *string
	ActorType *string
	ActorID   *string
	Since     *time.Time
	Until     *time.Time
}

// RbacFilters for querying RBAC policies.
type RbacFilters struct {
	TupleType *string
	V0        *string
	V1        *string
	V2        *string
	V3        *string
}
