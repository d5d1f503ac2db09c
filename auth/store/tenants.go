package store

import (
	"context"
	"time"

	"github.com/vaultgate/auth/core"
	"gorm.io/gorm"
)

// tenantStore implements core.TenantStore
type tenantStore struct {
	db *gorm.DB
}

func parentKeyOf(parentID *string) string {
	if parentID == nil {
		return ""
	}
	return *parentID
}

func (s *tenantStore) Create(ctx context.Context, tenant *core.Tenant) error {
	model := &Tenant{
		ID:        tenant.ID,
		ParentID:  tenant.ParentID,
		Path:      StringSlice(tenant.Path),
		Depth:     tenant.Depth,
		Slug:      tenant.Slug,
		ParentKey: parentKeyOf(tenant.ParentID),
		Name:      tenant.Name,
		Status:    tenant.Status,
		MaxDepth:  tenant.MaxDepth,
		CreatedAt: tenant.CreatedAt,
		UpdatedAt: tenant.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *tenantStore) GetByID(ctx context.Context, id string) (*core.Tenant, error) {
	var model Tenant
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCoreTenant(&model), nil
}

func (s *tenantStore) GetBySlug(ctx context.Context, parentID *string, slug string) (*core.Tenant, error) {
	var model Tenant
	if err := s.db.WithContext(ctx).
		First(&model, "parent_key = ? AND slug = ?", parentKeyOf(parentID), slug).Error; err != nil {
		return nil, err
	}
	return toCoreTenant(&model), nil
}

func (s *tenantStore) Update(ctx context.Context, tenant *core.Tenant) error {
	return s.db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", tenant.ID).Updates(map[string]interface{}{
		"slug":       tenant.Slug,
		"name":       tenant.Name,
		"status":     tenant.Status,
		"max_depth":  tenant.MaxDepth,
		"updated_at": tenant.UpdatedAt,
	}).Error
}

// Move reparents a tenant and rewrites Path/Depth for the subtree rooted
// at it, since Path is a materialized ancestor list and every descendant
// carries its own copy.
func (s *tenantStore) Move(ctx context.Context, id string, newParentID *string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var node Tenant
		if err := tx.First(&node, "id = ?", id).Error; err != nil {
			return err
		}

		var newPath []string
		newDepth := 0
		if newParentID != nil {
			var parent Tenant
			if err := tx.First(&parent, "id = ?", *newParentID).Error; err != nil {
				return err
			}
			newPath = append([]string{}, []string(parent.Path)...)
			newPath = append(newPath, parent.ID)
			newDepth = parent.Depth + 1
		}

		depthDelta := newDepth - node.Depth
		oldPrefix := append(append([]string{}, []string(node.Path)...), node.ID)

		var descendants []Tenant
		if err := tx.Find(&descendants).Error; err != nil {
			return err
		}

		for _, d := range descendants {
			if !hasPrefix([]string(d.Path), oldPrefix) {
				continue
			}
			rewritten := append([]string{}, newPath...)
			rewritten = append(rewritten, oldPrefix[len(oldPrefix)-1:]...)
			rewritten = append(rewritten, []string(d.Path)[len(oldPrefix):]...)
			if err := tx.Model(&Tenant{}).Where("id = ?", d.ID).Updates(map[string]interface{}{
				"path":  StringSlice(rewritten),
				"depth": d.Depth + depthDelta,
			}).Error; err != nil {
				return err
			}
		}

		return tx.Model(&Tenant{}).Where("id = ?", id).Updates(map[string]interface{}{
			"parent_id":  newParentID,
			"parent_key": parentKeyOf(newParentID),
			"path":       StringSlice(newPath),
			"depth":      newDepth,
			"updated_at": time.Now(),
		}).Error
	})
}

func hasPrefix(path, prefix []string) bool {
	if len(path) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if path[i] != p {
			return false
		}
	}
	return true
}

func (s *tenantStore) Archive(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", id).Update("status", "archived").Error
}

func (s *tenantStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&Tenant{}).Error
}

func (s *tenantStore) Children(ctx context.Context, id string) ([]*core.Tenant, error) {
	var models []Tenant
	if err := s.db.WithContext(ctx).Where("parent_key = ?", id).Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	return toCoreTenants(models), nil
}

func (s *tenantStore) Descendants(ctx context.Context, id string) ([]*core.Tenant, error) {
	var self Tenant
	if err := s.db.WithContext(ctx).First(&self, "id = ?", id).Error; err != nil {
		return nil, err
	}
	var models []Tenant
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	prefix := append(append([]string{}, []string(self.Path)...), self.ID)
	var out []Tenant
	for _, m := range models {
		if hasPrefix([]string(m.Path), prefix) {
			out = append(out, m)
		}
	}
	return toCoreTenants(out), nil
}

func (s *tenantStore) Ancestors(ctx context.Context, id string) ([]*core.Tenant, error) {
	var self Tenant
	if err := s.db.WithContext(ctx).First(&self, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if len(self.Path) == 0 {
		return nil, nil
	}
	var models []Tenant
	if err := s.db.WithContext(ctx).Where("id IN ?", []string(self.Path)).Find(&models).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]Tenant, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	out := make([]Tenant, 0, len(self.Path))
	for _, id := range self.Path {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return toCoreTenants(out), nil
}

func (s *tenantStore) List(ctx context.Context, limit int, cursor string) ([]*core.Tenant, string, error) {
	var models []Tenant
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit + 1)
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
	return toCoreTenants(models), nextCursor, nil
}

func toCoreTenants(models []Tenant) []*core.Tenant {
	out := make([]*core.Tenant, len(models))
	for i, m := range models {
		out[i] = toCoreTenant(&m)
	}
	return out
}

func toCoreTenant(m *Tenant) *core.Tenant {
	return &core.Tenant{
		ID:        m.ID,
		ParentID:  m.ParentID,
		Path:      []string(m.Path),
		Depth:     m.Depth,
		Slug:      m.Slug,
		Name:      m.Name,
		Status:    m.Status,
		MaxDepth:  m.MaxDepth,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// tenantMemberStore implements core.TenantMemberStore
type tenantMemberStore struct {
	db *gorm.DB
}

func (s *tenantMemberStore) Create(ctx context.Context, member *core.TenantMember) error {
	model := &TenantMember{
		ID:        member.ID,
		TenantID:  member.TenantID,
		UserID:    member.UserID,
		Roles:     StringSlice(member.Roles),
		Status:    member.Status,
		CreatedAt: member.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *tenantMemberStore) GetByUser(ctx context.Context, tenantID, userID string) (*core.TenantMember, error) {
	var model TenantMember
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND user_id = ?", tenantID, userID).Error; err != nil {
		return nil, err
	}
	return toCoreTenantMember(&model), nil
}

func (s *tenantMemberStore) Update(ctx context.Context, member *core.TenantMember) error {
	return s.db.WithContext(ctx).Model(&TenantMember{}).Where("id = ?", member.ID).Updates(map[string]interface{}{
		"roles":  StringSlice(member.Roles),
		"status": member.Status,
	}).Error
}

func (s *tenantMemberStore) ListByTenant(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.TenantMember, string, error) {
	var models []TenantMember
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
	out := make([]*core.TenantMember, len(models))
	for i, m := range models {
		out[i] = toCoreTenantMember(&m)
	}
	return out, nextCursor, nil
}

func (s *tenantMemberStore) ListByUser(ctx context.Context, userID string) ([]*core.TenantMember, error) {
	var models []TenantMember
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.TenantMember, len(models))
	for i, m := range models {
		out[i] = toCoreTenantMember(&m)
	}
	return out, nil
}

func toCoreTenantMember(m *TenantMember) *core.TenantMember {
	return &core.TenantMember{
		ID:        m.ID,
		TenantID:  m.TenantID,
		UserID:    m.UserID,
		Roles:     []string(m.Roles),
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}

// domainStore implements core.DomainStore
type domainStore struct {
	db *gorm.DB
}

func (s *domainStore) Create(ctx context.Context, domain *core.TenantDomain) error {
	model := &TenantDomain{
		ID:         domain.ID,
		TenantID:   domain.TenantID,
		Domain:     domain.Domain,
		VerifiedAt: domain.VerifiedAt,
		CreatedAt:  domain.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *domainStore) GetByID(ctx context.Context, tenantID, id string) (*core.TenantDomain, error) {
	var model TenantDomain
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreDomain(&model), nil
}

func (s *domainStore) GetByDomain(ctx context.Context, domain string) (*core.TenantDomain, error) {
	var model TenantDomain
	if err := s.db.WithContext(ctx).First(&model, "domain = ?", domain).Error; err != nil {
		return nil, err
	}
	return toCoreDomain(&model), nil
}

func (s *domainStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&TenantDomain{}).Error
}

func (s *domainStore) List(ctx context.Context, tenantID string) ([]*core.TenantDomain, error) {
	var models []TenantDomain
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.TenantDomain, len(models))
	for i, m := range models {
		out[i] = toCoreDomain(&m)
	}
	return out, nil
}

func (s *domainStore) MarkVerified(ctx context.Context, tenantID, id string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&TenantDomain{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).Update("verified_at", &now).Error
}

func toCoreDomain(m *TenantDomain) *core.TenantDomain {
	return &core.TenantDomain{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Domain:     m.Domain,
		VerifiedAt: m.VerifiedAt,
		CreatedAt:  m.CreatedAt,
	}
}
