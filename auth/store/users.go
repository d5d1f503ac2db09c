package store

import (
	"context"
	"errors"
	"time"

	"github.com/vaultgate/auth/core"
	"gorm.io/gorm"
)

// userStore implements core.UserStore
type userStore struct {
	db *gorm.DB
}

func (s *userStore) Create(ctx context.Context, user *core.User) error {
	model := &User{
		ID:            user.ID,
		TenantID:      user.TenantID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Status:        user.Status,
		DisplayName:   user.DisplayName,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *userStore) GetByID(ctx context.Context, tenantID, id string) (*core.User, error) {
	var model User
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreUser(&model), nil
}

func (s *userStore) GetByEmail(ctx context.Context, tenantID, email string) (*core.User, error) {
	var model User
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND email = ?", tenantID, email).Error; err != nil {
		return nil, err
	}
	return toCoreUser(&model), nil
}

func (s *userStore) Update(ctx context.Context, user *core.User) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"status":         user.Status,
		"display_name":   user.DisplayName,
		"updated_at":     user.UpdatedAt,
	}).Error
}

func (s *userStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.User, string, error) {
	var models []User
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)
	if cursor != "" {
		query = query.Where("created_at < ?", cursor)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].CreatedAt.Format(time.RFC3339)
		models = models[:limit]
	}

	users := make([]*core.User, len(models))
	for i, m := range models {
		users[i] = toCoreUser(&m)
	}
	return users, nextCursor, nil
}

func (s *userStore) SetPassword(ctx context.Context, userID string, hash string) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO user_passwords (user_id, password_hash, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		 password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at`,
		userID, hash, time.Now(),
	).Error
}

func (s *userStore) GetPassword(ctx context.Context, userID string) (string, error) {
	var model UserPassword
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		return "", err
	}
	return model.PasswordHash, nil
}

func toCoreUser(m *User) *core.User {
	return &core.User{
		ID:            m.ID,
		TenantID:      m.TenantID,
		Email:         m.Email,
		EmailVerified: m.EmailVerified,
		Status:        m.Status,
		DisplayName:   m.DisplayName,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// sessionStore implements core.SessionStore
type sessionStore struct {
	db *gorm.DB
}

func (s *sessionStore) Create(ctx context.Context, session *core.Session) error {
	model := &Session{
		ID:         session.ID,
		TenantID:   session.TenantID,
		UserID:     session.UserID,
		IP:         strPtrOrNil(session.IP),
		UserAgent:  strPtrOrNil(session.UserAgent),
		CreatedAt:  session.CreatedAt,
		LastSeenAt: session.LastSeenAt,
		RevokedAt:  session.RevokedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *sessionStore) GetByID(ctx context.Context, tenantID, id string) (*core.Session, error) {
	var model Session
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreSession(&model), nil
}

func (s *sessionStore) Update(ctx context.Context, session *core.Session) error {
	return s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", session.ID).Update("last_seen_at", session.LastSeenAt).Error
}

func (s *sessionStore) Revoke(ctx context.Context, tenantID, id string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&Session{}).Where("tenant_id = ? AND id = ?", tenantID, id).Update("revoked_at", &now).Error
}

// EvictOldestAndCreate revokes the least-recently-seen active session
// for (tenantID, userID), if any, and creates session in the same
// transaction, so a concurrent-session cap eviction can't free a slot
// without filling it (or vice versa).
func (s *sessionStore) EvictOldestAndCreate(ctx context.Context, tenantID, userID string, session *core.Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var oldest Session
		err := tx.Where("tenant_id = ? AND user_id = ? AND revoked_at IS NULL", tenantID, userID).
			Order("last_seen_at ASC").
			First(&oldest).Error
		switch {
		case err == nil:
			now := time.Now()
			if err := tx.Model(&Session{}).Where("id = ?", oldest.ID).Update("revoked_at", &now).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// nothing active to evict
		default:
			return err
		}

		model := &Session{
			ID:         session.ID,
			TenantID:   session.TenantID,
			UserID:     session.UserID,
			IP:         strPtrOrNil(session.IP),
			UserAgent:  strPtrOrNil(session.UserAgent),
			CreatedAt:  session.CreatedAt,
			LastSeenAt: session.LastSeenAt,
			RevokedAt:  session.RevokedAt,
		}
		return tx.Create(model).Error
	})
}

func (s *sessionStore) ListActiveForUser(ctx context.Context, tenantID, userID string) ([]*core.Session, error) {
	var models []Session
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND revoked_at IS NULL", tenantID, userID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Session, len(models))
	for i, m := range models {
		out[i] = toCoreSession(&m)
	}
	return out, nil
}

func (s *sessionStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return s.db.WithContext(ctx).Where("revoked_at IS NOT NULL OR created_at < ?", before).Delete(&Session{}).Error
}

func toCoreSession(m *Session) *core.Session {
	s := &core.Session{
		ID:         m.ID,
		TenantID:   m.TenantID,
		UserID:     m.UserID,
		CreatedAt:  m.CreatedAt,
		LastSeenAt: m.LastSeenAt,
		RevokedAt:  m.RevokedAt,
	}
	if m.IP != nil {
		s.IP = *m.IP
	}
	if m.UserAgent != nil {
		s.UserAgent = *m.UserAgent
	}
	return s
}
