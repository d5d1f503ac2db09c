package store

import (
	"context"
	"time"

	"github.com/vaultgate/auth/core"
	"gorm.io/gorm"
)

// signingKeyStore implements core.SigningKeyStore
type signingKeyStore struct {
	db *gorm.DB
}

func (s *signingKeyStore) Create(ctx context.Context, key *core.SigningKey) error {
	model := &SigningKey{
		ID:                  key.ID,
		TenantID:            key.TenantID,
		KID:                 key.KID,
		Alg:                 key.Alg,
		PublicJWK:           key.PublicJWK,
		PrivateKeyEncrypted: key.PrivateKeyEncrypted,
		Status:              key.Status,
		CreatedAt:           key.CreatedAt,
		NotBefore:           key.NotBefore,
		NotAfter:            key.NotAfter,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *signingKeyStore) GetActive(ctx context.Context, tenantID string) (*core.SigningKey, error) {
	var model SigningKey
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND not_before <= ? AND not_after > ?",
			tenantID, "active", time.Now(), time.Now()).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		return nil, err
	}
	return toCoreSigningKey(&model), nil
}

func (s *signingKeyStore) GetByKID(ctx context.Context, tenantID, kid string) (*core.SigningKey, error) {
	var model SigningKey
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND kid = ?", tenantID, kid).Error; err != nil {
		return nil, err
	}
	return toCoreSigningKey(&model), nil
}

func (s *signingKeyStore) ListActive(ctx context.Context, tenantID string) ([]*core.SigningKey, error) {
	var models []SigningKey
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN (?, ?) AND not_after > ?",
			tenantID, "active", "inactive", time.Now()).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	keys := make([]*core.SigningKey, len(models))
	for i, m := range models {
		keys[i] = toCoreSigningKey(&m)
	}
	return keys, nil
}

func (s *signingKeyStore) MarkInactive(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Model(&SigningKey{}).Where("tenant_id = ? AND id = ?", tenantID, id).Update("status", "inactive").Error
}

func (s *signingKeyStore) MarkRetired(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Model(&SigningKey{}).Where("tenant_id = ? AND id = ?", tenantID, id).Update("status", "retired").Error
}

func toCoreSigningKey(m *SigningKey) *core.SigningKey {
	return &core.SigningKey{
		ID:                  m.ID,
		TenantID:            m.TenantID,
		KID:                 m.KID,
		Alg:                 m.Alg,
		PublicJWK:           m.PublicJWK,
		PrivateKeyEncrypted: m.PrivateKeyEncrypted,
		Status:              m.Status,
		CreatedAt:           m.CreatedAt,
		NotBefore:           m.NotBefore,
		NotAfter:            m.NotAfter,
	}
}

// refreshTokenStore implements core.RefreshTokenStore
type refreshTokenStore struct {
	db *gorm.DB
}

func (s *refreshTokenStore) Create(ctx context.Context, token *core.RefreshToken) error {
	model := &RefreshToken{
		TokenHash:       token.TokenHash,
		TenantID:        token.TenantID,
		UserID:          token.UserID,
		SessionID:       token.SessionID,
		Scope:           token.Scope,
		CreatedAt:       token.CreatedAt,
		ExpiresAt:       token.ExpiresAt,
		RevokedAt:       token.RevokedAt,
		RotatedFromHash: token.RotatedFromHash,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *refreshTokenStore) GetByHash(ctx context.Context, tenantID, hash string) (*core.RefreshToken, error) {
	var model RefreshToken
	if err := s.db.WithContext(ctx).First(&model, "token_hash = ? AND tenant_id = ?", hash, tenantID).Error; err != nil {
		return nil, err
	}
	return toCoreRefreshToken(&model), nil
}

func (s *refreshTokenStore) Revoke(ctx context.Context, tenantID, hash string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("token_hash = ? AND tenant_id = ?", hash, tenantID).Update("revoked_at", &now).Error
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return s.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", before).
		Delete(&RefreshToken{}).Error
}

func toCoreRefreshToken(m *RefreshToken) *core.RefreshToken {
	return &core.RefreshToken{
		TokenHash:       m.TokenHash,
		TenantID:        m.TenantID,
		UserID:          m.UserID,
		SessionID:       m.SessionID,
		Scope:           m.Scope,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       m.ExpiresAt,
		RevokedAt:       m.RevokedAt,
		RotatedFromHash: m.RotatedFromHash,
	}
}

// oauthAccountStore implements core.OAuthAccountStore
type oauthAccountStore struct {
	db *gorm.DB
}

func (s *oauthAccountStore) Create(ctx context.Context, account *core.OAuthAccount) error {
	model := &OAuthAccount{
		ID:                account.ID,
		TenantID:          account.TenantID,
		UserID:            account.UserID,
		Provider:          account.Provider,
		ProviderAccountID: account.ProviderAccountID,
		Email:             account.Email,
		AccessTokenEnc:    account.AccessTokenEnc,
		RefreshTokenEnc:   account.RefreshTokenEnc,
		ExpiresAt:         account.ExpiresAt,
		CreatedAt:         account.CreatedAt,
		UpdatedAt:         account.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *oauthAccountStore) GetByProviderAccount(ctx context.Context, provider, providerAccountID string) (*core.OAuthAccount, error) {
	var model OAuthAccount
	if err := s.db.WithContext(ctx).
		First(&model, "provider = ? AND provider_account_id = ?", provider, providerAccountID).Error; err != nil {
		return nil, err
	}
	return toCoreOAuthAccount(&model), nil
}

func (s *oauthAccountStore) GetByUser(ctx context.Context, tenantID, userID, provider string) (*core.OAuthAccount, error) {
	var model OAuthAccount
	if err := s.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND user_id = ? AND provider = ?", tenantID, userID, provider).Error; err != nil {
		return nil, err
	}
	return toCoreOAuthAccount(&model), nil
}

func (s *oauthAccountStore) Update(ctx context.Context, account *core.OAuthAccount) error {
	return s.db.WithContext(ctx).Model(&OAuthAccount{}).Where("id = ?", account.ID).Updates(map[string]interface{}{
		"email":             account.Email,
		"access_token_enc":  account.AccessTokenEnc,
		"refresh_token_enc": account.RefreshTokenEnc,
		"expires_at":        account.ExpiresAt,
		"updated_at":        account.UpdatedAt,
	}).Error
}

func toCoreOAuthAccount(m *OAuthAccount) *core.OAuthAccount {
	return &core.OAuthAccount{
		ID:                m.ID,
		TenantID:          m.TenantID,
		UserID:            m.UserID,
		Provider:          m.Provider,
		ProviderAccountID: m.ProviderAccountID,
		Email:             m.Email,
		AccessTokenEnc:    m.AccessTokenEnc,
		RefreshTokenEnc:   m.RefreshTokenEnc,
		ExpiresAt:         m.ExpiresAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// magicLinkTokenStore implements core.MagicLinkTokenStore
type magicLinkTokenStore struct {
	db *gorm.DB
}

func (s *magicLinkTokenStore) Create(ctx context.Context, token *core.MagicLinkToken) error {
	model := &MagicLinkToken{
		TokenHash: token.TokenHash,
		TenantID:  token.TenantID,
		UserID:    token.UserID,
		Email:     token.Email,
		ExpiresAt: token.ExpiresAt,
		UsedAt:    token.UsedAt,
		CreatedAt: token.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

// GetAndConsume atomically reads and marks a magic-link token used so
// two concurrent redemptions of the same link cannot both succeed.
func (s *magicLinkTokenStore) GetAndConsume(ctx context.Context, tenantID, tokenHash string) (*core.MagicLinkToken, error) {
	tx := s.db.WithContext(ctx).Begin()
	defer tx.Rollback()

	var model MagicLinkToken
	if err := tx.First(&model, "token_hash = ? AND tenant_id = ?", tokenHash, tenantID).Error; err != nil {
		return nil, core.NewError(core.ErrNotFound, "magic link token not found", err)
	}

	if model.UsedAt != nil {
		return nil, core.NewError(core.ErrValidation, "magic link token already used", nil)
	}
	if time.Now().After(model.ExpiresAt) {
		return nil, core.NewError(core.ErrValidation, "magic link token expired", nil)
	}

	now := time.Now()
	res := tx.Model(&MagicLinkToken{}).Where("token_hash = ? AND used_at IS NULL", tokenHash).Update("used_at", &now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, core.NewError(core.ErrValidation, "magic link token already used", nil)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return toCoreMagicLinkToken(&model), nil
}

func (s *magicLinkTokenStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return s.db.WithContext(ctx).
		Where("expires_at < ? OR used_at IS NOT NULL", before).
		Delete(&MagicLinkToken{}).Error
}

func toCoreMagicLinkToken(m *MagicLinkToken) *core.MagicLinkToken {
	return &core.MagicLinkToken{
		TokenHash: m.TokenHash,
		TenantID:  m.TenantID,
		UserID:    m.UserID,
		Email:     m.Email,
		ExpiresAt: m.ExpiresAt,
		UsedAt:    m.UsedAt,
		CreatedAt: m.CreatedAt,
	}
}
