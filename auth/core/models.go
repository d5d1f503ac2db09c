package core

import "time"

// Tenant represents an organization node in the tenant hierarchy.
type Tenant struct {
	ID        string    `json:"id"`
	ParentID  *string   `json:"parent_id"`
	Path      []string  `json:"path"` // ancestor ids, root-first, self last
	Depth     int       `json:"depth"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // active, suspended, archived
	MaxDepth  int       `json:"max_depth"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantDomain represents a custom domain mapping used to resolve the
// tenant for an incoming request host.
type TenantDomain struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Domain     string     `json:"domain"`
	VerifiedAt *time.Time `json:"verified_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TenantMember links a user to a tenant with a set of assigned roles.
type TenantMember struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Roles     []string  `json:"roles"`
	Status    string    `json:"status"` // active, suspended
	CreatedAt time.Time `json:"created_at"`
}

// User represents an identity.
type User struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	Status        string     `json:"status"` // active, disabled
	DisplayName   *string    `json:"display_name"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at"`
}

// Session represents an authenticated session tied to a refresh-token
// lineage.
type Session struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	IP         string     `json:"ip"`
	UserAgent  string     `json:"user_agent"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
}

// SigningKey represents a JWT signing key. Alg selects the keypair kind
// used when the key was generated (RS256 or ES256).
type SigningKey struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	KID                 string    `json:"kid"`
	Alg                 string    `json:"alg"`
	PublicJWK           []byte    `json:"public_jwk"`
	PrivateKeyEncrypted []byte    `json:"-"`
	Status              string    `json:"status"` // active, inactive, retired
	CreatedAt           time.Time `json:"created_at"`
	NotBefore           time.Time `json:"not_before"`
	NotAfter            time.Time `json:"not_after"`
}

// RefreshToken represents a refresh-token lineage entry.
type RefreshToken struct {
	TokenHash       string     `json:"-"`
	TenantID        string     `json:"tenant_id"`
	UserID          string     `json:"user_id"`
	SessionID       string     `json:"session_id"`
	Scope           string     `json:"scope"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	RevokedAt       *time.Time `json:"revoked_at"`
	RotatedFromHash *string    `json:"-"`
}

// PermissionGrant is a direct (role-less) grant of an action on a
// resource to a user.
type PermissionGrant struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	UserID       string     `json:"user_id"`
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	Action       string     `json:"action"`
	ExpiresAt    *time.Time `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RoleDefinition names a role and the actions it carries.
type RoleDefinition struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Actions   []string  `json:"actions"`
	CreatedAt time.Time `json:"created_at"`
}

// Policy is an ABAC policy document: a named predicate attached to a
// resource type/action pair.
type Policy struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	Name         string                 `json:"name"`
	ResourceType string                 `json:"resource_type"`
	Action       string                 `json:"action"`
	Effect       string                 `json:"effect"` // allow, deny
	Condition    map[string]interface{} `json:"condition"`
	Status       string                 `json:"status"` // active, inactive
	CreatedAt    time.Time              `json:"created_at"`
}

// RbacTuple represents a Casbin policy or grouping row.
type RbacTuple struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	TupleType string    `json:"tuple_type"` // p, g
	V0        string    `json:"v0"`
	V1        string    `json:"v1"`
	V2        string    `json:"v2"`
	V3        *string   `json:"v3"`
	V4        *string   `json:"v4"`
	V5        *string   `json:"v5"`
	CreatedAt time.Time `json:"created_at"`
}

// OAuthAccount links an internal user to an external federated
// identity provider account.
type OAuthAccount struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	UserID            string     `json:"user_id"`
	Provider          string     `json:"provider"`
	ProviderAccountID string     `json:"provider_account_id"`
	Email             *string    `json:"email"`
	AccessTokenEnc    []byte     `json:"-"`
	RefreshTokenEnc   []byte     `json:"-"`
	ExpiresAt         *time.Time `json:"expires_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// MagicLinkToken is a one-shot passwordless login token.
type MagicLinkToken struct {
	TokenHash string     `json:"-"`
	TenantID  string     `json:"tenant_id"`
	UserID    string     `json:"user_id"`
	Email     string     `json:"email"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// APIKey is a long-lived machine credential.
type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UserID     *string    `json:"user_id"`
	Prefix     string     `json:"prefix"`
	KID        string     `json:"kid"`
	SecretHash string     `json:"-"`
	Name       string     `json:"name"`
	Tier       string     `json:"tier"` // free, standard, premium
	Status     string     `json:"status"`
	LastUsedAt *time.Time `json:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// WebhookEndpoint is a tenant-registered delivery target.
type WebhookEndpoint struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	URL        string    `json:"url"`
	SecretEnc  []byte    `json:"-"`
	EventTypes []string  `json:"event_types"`
	Status     string    `json:"status"` // active, disabled
	CreatedAt  time.Time `json:"created_at"`
}

// WebhookDelivery is a single delivery attempt record.
type WebhookDelivery struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	EndpointID    string     `json:"endpoint_id"`
	EventType     string     `json:"event_type"`
	Payload       []byte     `json:"payload"`
	Attempt       int        `json:"attempt"`
	MaxAttempts   int        `json:"max_attempts"`
	Status        string     `json:"status"` // pending, delivered, failed, dead
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	DeliveredAt   *time.Time `json:"delivered_at"`
}

// AuditEvent represents an audit log entry.
type AuditEvent struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	ActorType string                 `json:"actor_type"` // admin, user, system
	ActorID   *string                `json:"actor_id"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"` // info, warning, critical
	IP        *string                `json:"ip"`
	UserAgent *string                `json:"user_agent"`
	CreatedAt time.Time              `json:"created_at"`
	Data      map[string]interface{} `json:"data"`
}

// AdminKey represents a bootstrap admin API key.
type AdminKey struct {
	ID        string    `json:"id"`
	KeyHash   string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy *string   `json:"created_by"`
}

// TokenClaims represents JWT access-token claims.
type TokenClaims struct {
	Issuer        string   `json:"iss"`
	Subject       string   `json:"sub"`
	Audience      string   `json:"aud"`
	TenantID      string   `json:"tid"`
	SessionID     string   `json:"sid,omitempty"`
	Roles         []string `json:"roles"`
	Scope         string   `json:"scope"`
	TokenType     string   `json:"typ"` // access, id
	EmailVerified bool     `json:"email_verified,omitempty"`
	IssuedAt      int64    `json:"iat"`
	ExpiresAt     int64    `json:"exp"`
	NotBefore     int64    `json:"nbf"`
	JWTID         string   `json:"jti"`
}

// TokenPair is what session creation hands back to a caller.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

// FederatedProfile is the normalized profile an OAuth federation
// provider returns after exchanging a code.
type FederatedProfile struct {
	ProviderAccountID string
	Email             string
	EmailVerified     bool
	DisplayName       string
}

// Decision is the outcome of one Authorize call. Beyond the bare
// allow/deny, it carries enough provenance for the caller to explain a
// Forbidden response ({required, source}) and for audit logging: which
// layer granted or denied the request, and through which tenant if the
// grant came from ancestor inheritance.
type Decision struct {
	Allowed bool
	// Reason is a short machine-stable explanation, e.g. "direct_grant",
	// "role", "inherited_role", "abac_allow", "abac_deny", "default_deny".
	Reason string
	// Source names the mechanism that produced Allowed: "grant", "role",
	// "inherited", "abac", or "default".
	Source string
	// AncestorID is set when Source == "inherited": the ancestor tenant
	// whose role binding the grant was inherited from.
	AncestorID string
	// PoliciesEvaluated is how many ABAC policies were matched and
	// applied against the condition evaluator.
	PoliciesEvaluated int
}
