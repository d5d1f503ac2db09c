package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vaultgate/auth/core"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// GormStore implements core.Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// setUUIDBeforeCreate sets UUID for empty primary key ID fields (so
// SQLite and Postgres both work the same way in tests and production).
func setUUIDBeforeCreate(db *gorm.DB) {
	if db.Statement.Schema == nil {
		return
	}
	for _, field := range db.Statement.Schema.Fields {
		if field.Name == "ID" && field.DBName == "id" && field.PrimaryKey {
			val, zero := field.ValueOf(db.Statement.Context, db.Statement.ReflectValue)
			if zero || val == nil {
				_ = field.Set(db.Statement.Context, db.Statement.ReflectValue, uuid.New().String())
				return
			}
			if s, ok := val.(string); ok && s == "" {
				_ = field.Set(db.Statement.Context, db.Statement.ReflectValue, uuid.New().String())
			}
			return
		}
	}
}

// New creates a new GormStore connected to a Postgres database.
func New(databaseURL string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB creates a new GormStore from an existing GORM DB (used by
// tests against an in-memory SQLite database).
func NewWithDB(db *gorm.DB) *GormStore {
	db.Callback().Create().Before("gorm:before_create").Register("store:set_uuid", func(d *gorm.DB) {
		setUUIDBeforeCreate(d)
	})
	return &GormStore{db: db}
}

// DB returns the underlying GORM DB.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// AutoMigrate runs database migrations for every entity in the schema.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Tenant{},
		&TenantDomain{},
		&TenantMember{},
		&User{},
		&UserPassword{},
		&Session{},
		&SigningKey{},
		&RefreshToken{},
		&PermissionGrant{},
		&RoleDefinition{},
		&Policy{},
		&RbacTuple{},
		&OAuthAccount{},
		&MagicLinkToken{},
		&APIKey{},
		&WebhookEndpoint{},
		&WebhookDelivery{},
		&AuditEvent{},
		&AdminKey{},
	)
}

func (s *GormStore) Tenants() core.TenantStore               { return &tenantStore{db: s.db} }
func (s *GormStore) TenantMembers() core.TenantMemberStore    { return &tenantMemberStore{db: s.db} }
func (s *GormStore) Users() core.UserStore                    { return &userStore{db: s.db} }
func (s *GormStore) Sessions() core.SessionStore              { return &sessionStore{db: s.db} }
func (s *GormStore) Domains() core.DomainStore                { return &domainStore{db: s.db} }
func (s *GormStore) PermissionGrants() core.PermissionGrantStore {
	return &permissionGrantStore{db: s.db}
}
func (s *GormStore) RoleDefinitions() core.RoleDefinitionStore { return &roleDefinitionStore{db: s.db} }
func (s *GormStore) Policies() core.PolicyStore                { return &policyStore{db: s.db} }
func (s *GormStore) SigningKeys() core.SigningKeyStore         { return &signingKeyStore{db: s.db} }
func (s *GormStore) RefreshTokens() core.RefreshTokenStore     { return &refreshTokenStore{db: s.db} }
func (s *GormStore) OAuthAccounts() core.OAuthAccountStore     { return &oauthAccountStore{db: s.db} }
func (s *GormStore) MagicLinkTokens() core.MagicLinkTokenStore {
	return &magicLinkTokenStore{db: s.db}
}
func (s *GormStore) APIKeys() core.APIKeyStore { return &apiKeyStore{db: s.db} }
func (s *GormStore) WebhookEndpoints() core.WebhookEndpointStore {
	return &webhookEndpointStore{db: s.db}
}
func (s *GormStore) WebhookDeliveries() core.WebhookDeliveryStore {
	return &webhookDeliveryStore{db: s.db}
}
func (s *GormStore) AuditEvents() core.AuditEventStore { return &auditEventStore{db: s.db} }
func (s *GormStore) AdminKeys() core.AdminKeyStore     { return &adminKeyStore{db: s.db} }

// CleanupExpired deletes expired/consumed records across every
// time-bounded table.
func (s *GormStore) CleanupExpired(ctx context.Context, before time.Time) error {
	if err := s.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", before).
		Delete(&RefreshToken{}).Error; err != nil {
		return fmt.Errorf("cleanup refresh tokens: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Where("expires_at < ? OR used_at IS NOT NULL", before).
		Delete(&MagicLinkToken{}).Error; err != nil {
		return fmt.Errorf("cleanup magic link tokens: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Where("revoked_at IS NOT NULL OR created_at < ?", before.Add(-30*24*time.Hour)).
		Delete(&Session{}).Error; err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	return nil
}
