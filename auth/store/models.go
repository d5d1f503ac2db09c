package store

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// StringSlice is a custom type for handling JSONB arrays.
type StringSlice []string

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return nil
	}
}

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Tenant is the GORM model for the tenant hierarchy. Path is the
// materialized ancestor-path (root-first, not including self).
type Tenant struct {
	ID        string      `gorm:"type:uuid;primaryKey"`
	ParentID  *string     `gorm:"type:uuid;index"`
	Path      StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	Depth     int         `gorm:"not null;default:0"`
	Slug      string      `gorm:"not null;uniqueIndex:idx_parent_slug"`
	ParentKey string      `gorm:"column:parent_key;not null;default:'';uniqueIndex:idx_parent_slug"`
	Name      string      `gorm:"not null"`
	Status    string      `gorm:"not null"`
	MaxDepth  int         `gorm:"not null;default:5"`
	CreatedAt time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TenantDomain is the GORM model for custom domain mappings.
type TenantDomain struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TenantID   string `gorm:"type:uuid;not null;index"`
	Domain     string `gorm:"uniqueIndex;not null"`
	VerifiedAt *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TenantMember is the GORM model for tenant membership.
type TenantMember struct {
	ID        string      `gorm:"type:uuid;primaryKey"`
	TenantID  string      `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_member"`
	UserID    string      `gorm:"type:uuid;not null;uniqueIndex:idx_tenant_member"`
	Roles     StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	Status    string      `gorm:"not null"`
	CreatedAt time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// User is the GORM model for users.
type User struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	TenantID      string `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_email"`
	Email         string `gorm:"not null;uniqueIndex:idx_tenant_email"`
	EmailVerified bool   `gorm:"not null;default:false"`
	Status        string `gorm:"not null"`
	DisplayName   *string
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     *time.Time
}

// UserPassword is the GORM model for user password hashes.
type UserPassword struct {
	UserID       string    `gorm:"type:uuid;primaryKey"`
	PasswordHash string    `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Session is the GORM model for sessions.
type Session struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TenantID   string `gorm:"type:uuid;not null;index"`
	UserID     string `gorm:"type:uuid;not null;index"`
	IP         *string
	UserAgent  *string
	CreatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastSeenAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	RevokedAt  *time.Time `gorm:"index"`
}

// SigningKey is the GORM model for JWT signing keys.
type SigningKey struct {
	ID                  string    `gorm:"type:uuid;primaryKey"`
	TenantID            string    `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_kid"`
	KID                 string    `gorm:"not null;uniqueIndex:idx_tenant_kid"`
	Alg                 string    `gorm:"not null;default:'RS256'"`
	PublicJWK           []byte    `gorm:"type:jsonb;not null"`
	PrivateKeyEncrypted []byte    `gorm:"type:bytea;not null"`
	Status              string    `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	NotBefore           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	NotAfter            time.Time `gorm:"not null"`
}

// RefreshToken is the GORM model for refresh tokens.
type RefreshToken struct {
	TokenHash       string     `gorm:"primaryKey"`
	TenantID        string     `gorm:"type:uuid;not null;index"`
	UserID          string     `gorm:"type:uuid;not null"`
	SessionID       string     `gorm:"type:uuid;not null;index"`
	Scope           string     `gorm:"not null"`
	CreatedAt       time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt       time.Time  `gorm:"not null;index"`
	RevokedAt       *time.Time `gorm:"index"`
	RotatedFromHash *string
}

// PermissionGrant is the GORM model for direct permission grants.
type PermissionGrant struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	TenantID     string `gorm:"type:uuid;not null;index;uniqueIndex:idx_grant"`
	UserID       string `gorm:"type:uuid;not null;uniqueIndex:idx_grant"`
	ResourceType string `gorm:"not null;uniqueIndex:idx_grant"`
	ResourceID   string `gorm:"not null;uniqueIndex:idx_grant"`
	Action       string `gorm:"not null;uniqueIndex:idx_grant"`
	ExpiresAt    *time.Time
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// RoleDefinition is the GORM model for named roles.
type RoleDefinition struct {
	ID        string      `gorm:"type:uuid;primaryKey"`
	TenantID  string      `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_role_name"`
	Name      string      `gorm:"not null;uniqueIndex:idx_tenant_role_name"`
	Actions   StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Policy is the GORM model for ABAC policies.
type Policy struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	TenantID     string `gorm:"type:uuid;not null;index"`
	Name         string `gorm:"not null"`
	ResourceType string `gorm:"not null;index"`
	Action       string `gorm:"not null;index"`
	Effect       string `gorm:"not null"`
	Condition    []byte `gorm:"type:jsonb;not null;default:'{}'"`
	Status       string `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// RbacTuple is the GORM model for Casbin policy/grouping rows.
type RbacTuple struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;not null;index"`
	TupleType string `gorm:"not null"`
	V0        string `gorm:"not null"`
	V1        string `gorm:"not null"`
	V2        string `gorm:"not null"`
	V3        *string
	V4        *string
	V5        *string
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (RbacTuple) TableName() string { return "rbac_tuples" }

// OAuthAccount is the GORM model for linked federated identities.
type OAuthAccount struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	TenantID          string `gorm:"type:uuid;not null;index"`
	UserID            string `gorm:"type:uuid;not null;index"`
	Provider          string `gorm:"not null;uniqueIndex:idx_provider_account"`
	ProviderAccountID string `gorm:"not null;uniqueIndex:idx_provider_account"`
	Email             *string
	AccessTokenEnc    []byte `gorm:"type:bytea"`
	RefreshTokenEnc   []byte `gorm:"type:bytea"`
	ExpiresAt         *time.Time
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// MagicLinkToken is the GORM model for passwordless login tokens.
type MagicLinkToken struct {
	TokenHash string     `gorm:"primaryKey"`
	TenantID  string     `gorm:"type:uuid;not null;index"`
	UserID    string     `gorm:"type:uuid;not null"`
	Email     string     `gorm:"not null"`
	ExpiresAt time.Time  `gorm:"not null;index"`
	UsedAt    *time.Time
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// APIKey is the GORM model for API keys.
type APIKey struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TenantID   string `gorm:"type:uuid;not null;index"`
	UserID     *string
	Prefix     string `gorm:"not null"`
	KID        string `gorm:"uniqueIndex;not null"`
	SecretHash string `gorm:"not null"`
	Name       string `gorm:"not null"`
	Tier       string `gorm:"not null;default:'free'"`
	Status     string `gorm:"not null"`
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// WebhookEndpoint is the GORM model for registered delivery targets.
type WebhookEndpoint struct {
	ID         string      `gorm:"type:uuid;primaryKey"`
	TenantID   string      `gorm:"type:uuid;not null;index"`
	URL        string      `gorm:"not null"`
	SecretEnc  []byte      `gorm:"type:bytea;not null"`
	EventTypes StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	Status     string      `gorm:"not null"`
	CreatedAt  time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// WebhookDelivery is the GORM model for a delivery attempt record.
type WebhookDelivery struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	TenantID      string `gorm:"type:uuid;not null;index"`
	EndpointID    string `gorm:"type:uuid;not null;index"`
	EventType     string `gorm:"not null"`
	Payload       []byte `gorm:"type:bytea;not null"`
	Attempt       int    `gorm:"not null;default:0"`
	MaxAttempts   int    `gorm:"not null;default:5"`
	Status        string `gorm:"not null;index"`
	NextAttemptAt time.Time `gorm:"not null;index"`
	LastError     *string
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeliveredAt   *time.Time
}

// AuditEvent is the GORM model for audit events.
type AuditEvent struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;not null;index"`
	ActorType string `gorm:"not null"`
	ActorID   *string
	EventType string `gorm:"not null"`
	Severity  string `gorm:"not null;default:'info'"`
	IP        *string
	UserAgent *string
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	Data      []byte    `gorm:"type:jsonb;not null;default:'{}'"`
}

// AdminKey is the GORM model for bootstrap admin API keys.
type AdminKey struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	KeyHash   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy *string
}
