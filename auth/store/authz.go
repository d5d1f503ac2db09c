package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vaultgate/auth/core"
	"gorm.io/gorm"
)

// permissionGrantStore implements core.PermissionGrantStore
type permissionGrantStore struct {
	db *gorm.DB
}

func (s *permissionGrantStore) Create(ctx context.Context, grant *core.PermissionGrant) error {
	model := &PermissionGrant{
		ID:           grant.ID,
		TenantID:     grant.TenantID,
		UserID:       grant.UserID,
		ResourceType: grant.ResourceType,
		ResourceID:   grant.ResourceID,
		Action:       grant.Action,
		ExpiresAt:    grant.ExpiresAt,
		CreatedAt:    grant.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *permissionGrantStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&PermissionGrant{}).Error
}

func (s *permissionGrantStore) ListForUser(ctx context.Context, tenantID, userID string) ([]*core.PermissionGrant, error) {
	var models []PermissionGrant
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND (expires_at IS NULL OR expires_at > ?)", tenantID, userID, time.Now()).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.PermissionGrant, len(models))
	for i, m := range models {
		out[i] = &core.PermissionGrant{
			ID:           m.ID,
			TenantID:     m.TenantID,
			UserID:       m.UserID,
			ResourceType: m.ResourceType,
			ResourceID:   m.ResourceID,
			Action:       m.Action,
			ExpiresAt:    m.ExpiresAt,
			CreatedAt:    m.CreatedAt,
		}
	}
	return out, nil
}

// roleDefinitionStore implements core.RoleDefinitionStore
type roleDefinitionStore struct {
	db *gorm.DB
}

func (s *roleDefinitionStore) Create(ctx context.Context, role *core.RoleDefinition) error {
	model := &RoleDefinition{
		ID:        role.ID,
		TenantID:  role.TenantID,
		Name:      role.Name,
		Actions:   StringSlice(role.Actions),
		CreatedAt: role.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *roleDefinitionStore) GetByName(ctx context.Context, tenantID, name string) (*core.RoleDefinition, error) {
	var model RoleDefinition
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND name = ?", tenantID, name).Error; err != nil {
		return nil, err
	}
	return toCoreRoleDefinition(&model), nil
}

func (s *roleDefinitionStore) Update(ctx context.Context, role *core.RoleDefinition) error {
	return s.db.WithContext(ctx).Model(&RoleDefinition{}).Where("id = ?", role.ID).
		Update("actions", StringSlice(role.Actions)).Error
}

func (s *roleDefinitionStore) List(ctx context.Context, tenantID string) ([]*core.RoleDefinition, error) {
	var models []RoleDefinition
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.RoleDefinition, len(models))
	for i, m := range models {
		out[i] = toCoreRoleDefinition(&m)
	}
	return out, nil
}

func toCoreRoleDefinition(m *RoleDefinition) *core.RoleDefinition {
	return &core.RoleDefinition{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		Actions:   []string(m.Actions),
		CreatedAt: m.CreatedAt,
	}
}

// policyStore implements core.PolicyStore (ABAC policy documents)
type policyStore struct {
	db *gorm.DB
}

func (s *policyStore) Create(ctx context.Context, policy *core.Policy) error {
	cond, err := json.Marshal(policy.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	model := &Policy{
		ID:           policy.ID,
		TenantID:     policy.TenantID,
		Name:         policy.Name,
		ResourceType: policy.ResourceType,
		Action:       policy.Action,
		Effect:       policy.Effect,
		Condition:    cond,
		Status:       policy.Status,
		CreatedAt:    policy.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *policyStore) GetByID(ctx context.Context, tenantID, id string) (*core.Policy, error) {
	var model Policy
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCorePolicy(&model)
}

func (s *policyStore) Update(ctx context.Context, policy *core.Policy) error {
	cond, err := json.Marshal(policy.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	return s.db.WithContext(ctx).Model(&Policy{}).Where("id = ?", policy.ID).Updates(map[string]interface{}{
		"name":      policy.Name,
		"effect":    policy.Effect,
		"condition": cond,
		"status":    policy.Status,
	}).Error
}

func (s *policyStore) ListForResource(ctx context.Context, tenantID, resourceType, action string) ([]*core.Policy, error) {
	var models []Policy
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND resource_type = ? AND action = ? AND status = ?", tenantID, resourceType, action, "active").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Policy, 0, len(models))
	for _, m := range models {
		p, err := toCorePolicy(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func toCorePolicy(m *Policy) (*core.Policy, error) {
	var cond map[string]interface{}
	if len(m.Condition) > 0 {
		if err := json.Unmarshal(m.Condition, &cond); err != nil {
			return nil, fmt.Errorf("unmarshal condition: %w", err)
		}
	}
	return &core.Policy{
		ID:           m.ID,
		TenantID:     m.TenantID,
		Name:         m.Name,
		ResourceType: m.ResourceType,
		Action:       m.Action,
		Effect:       m.Effect,
		Condition:    cond,
		Status:       m.Status,
		CreatedAt:    m.CreatedAt,
	}, nil
}
