package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vaultgate/auth/core"
	"gorm.io/gorm"
)

// apiKeyStore implements core.APIKeyStore
type apiKeyStore struct {
	db *gorm.DB
}

func (s *apiKeyStore) Create(ctx context.Context, key *core.APIKey) error {
	model := &APIKey{
		ID:         key.ID,
		TenantID:   key.TenantID,
		UserID:     key.UserID,
		Prefix:     key.Prefix,
		KID:        key.KID,
		SecretHash: key.SecretHash,
		Name:       key.Name,
		Tier:       key.Tier,
		Status:     key.Status,
		LastUsedAt: key.LastUsedAt,
		ExpiresAt:  key.ExpiresAt,
		CreatedAt:  key.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *apiKeyStore) GetByKID(ctx context.Context, kid string) (*core.APIKey, error) {
	var model APIKey
	if err := s.db.WithContext(ctx).First(&model, "kid = ?", kid).Error; err != nil {
		return nil, err
	}
	return toCoreAPIKey(&model), nil
}

func (s *apiKeyStore) Update(ctx context.Context, key *core.APIKey) error {
	return s.db.WithContext(ctx).Model(&APIKey{}).Where("id = ?", key.ID).Updates(map[string]interface{}{
		"status":       key.Status,
		"last_used_at": key.LastUsedAt,
	}).Error
}

func (s *apiKeyStore) Revoke(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Model(&APIKey{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).Update("status", "revoked").Error
}

func (s *apiKeyStore) ListForTenant(ctx context.Context, tenantID string) ([]*core.APIKey, error) {
	var models []APIKey
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.APIKey, len(models))
	for i, m := range models {
		out[i] = toCoreAPIKey(&m)
	}
	return out, nil
}

func toCoreAPIKey(m *APIKey) *core.APIKey {
	return &core.APIKey{
		ID:         m.ID,
		TenantID:   m.TenantID,
		UserID:     m.UserID,
		Prefix:     m.Prefix,
		KID:        m.KID,
		SecretHash: m.SecretHash,
		Name:       m.Name,
		Tier:       m.Tier,
		Status:     m.Status,
		LastUsedAt: m.LastUsedAt,
		ExpiresAt:  m.ExpiresAt,
		CreatedAt:  m.CreatedAt,
	}
}

// webhookEndpointStore implements core.WebhookEndpointStore
type webhookEndpointStore struct {
	db *gorm.DB
}

func (s *webhookEndpointStore) Create(ctx context.Context, endpoint *core.WebhookEndpoint) error {
	model := &WebhookEndpoint{
		ID:         endpoint.ID,
		TenantID:   endpoint.TenantID,
		URL:        endpoint.URL,
		SecretEnc:  endpoint.SecretEnc,
		EventTypes: StringSlice(endpoint.EventTypes),
		Status:     endpoint.Status,
		CreatedAt:  endpoint.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *webhookEndpointStore) GetByID(ctx context.Context, tenantID, id string) (*core.WebhookEndpoint, error) {
	var model WebhookEndpoint
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreWebhookEndpoint(&model), nil
}

func (s *webhookEndpointStore) ListForEvent(ctx context.Context, tenantID, eventType string) ([]*core.WebhookEndpoint, error) {
	var models []WebhookEndpoint
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, "active").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.WebhookEndpoint, 0, len(models))
	for _, m := range models {
		for _, t := range m.EventTypes {
			if t == eventType || t == "*" {
				out = append(out, toCoreWebhookEndpoint(&m))
				break
			}
		}
	}
	return out, nil
}

func (s *webhookEndpointStore) ListActive(ctx context.Context, tenantID string) ([]*core.WebhookEndpoint, error) {
	var models []WebhookEndpoint
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND status = ?", tenantID, "active").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.WebhookEndpoint, len(models))
	for i, m := range models {
		out[i] = toCoreWebhookEndpoint(&m)
	}
	return out, nil
}

func toCoreWebhookEndpoint(m *WebhookEndpoint) *core.WebhookEndpoint {
	return &core.WebhookEndpoint{
		ID:         m.ID,
		TenantID:   m.TenantID,
		URL:        m.URL,
		SecretEnc:  m.SecretEnc,
		EventTypes: []string(m.EventTypes),
		Status:     m.Status,
		CreatedAt:  m.CreatedAt,
	}
}

// webhookDeliveryStore implements core.WebhookDeliveryStore
type webhookDeliveryStore struct {
	db *gorm.DB
}

func (s *webhookDeliveryStore) Create(ctx context.Context, delivery *core.WebhookDelivery) error {
	model := &WebhookDelivery{
		ID:            delivery.ID,
		TenantID:      delivery.TenantID,
		EndpointID:    delivery.EndpointID,
		EventType:     delivery.EventType,
		Payload:       delivery.Payload,
		Attempt:       delivery.Attempt,
		MaxAttempts:   delivery.MaxAttempts,
		Status:        delivery.Status,
		NextAttemptAt: delivery.NextAttemptAt,
		LastError:     delivery.LastError,
		CreatedAt:     delivery.CreatedAt,
		DeliveredAt:   delivery.DeliveredAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *webhookDeliveryStore) Update(ctx context.Context, delivery *core.WebhookDelivery) error {
	return s.db.WithContext(ctx).Model(&WebhookDelivery{}).Where("id = ?", delivery.ID).Updates(map[string]interface{}{
		"attempt":         delivery.Attempt,
		"status":          delivery.Status,
		"next_attempt_at": delivery.NextAttemptAt,
		"last_error":      delivery.LastError,
		"delivered_at":    delivery.DeliveredAt,
	}).Error
}

// DueForDelivery finds pending deliveries whose next attempt is due,
// used by the webhook worker pool to pull work off the queue.
func (s *webhookDeliveryStore) DueForDelivery(ctx context.Context, before time.Time, limit int) ([]*core.WebhookDelivery, error) {
	var models []WebhookDelivery
	if err := s.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", "pending", before).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*core.WebhookDelivery, len(models))
	for i, m := range models {
		out[i] = toCoreWebhookDelivery(&m)
	}
	return out, nil
}

func toCoreWebhookDelivery(m *WebhookDelivery) *core.WebhookDelivery {
	return &core.WebhookDelivery{
		ID:            m.ID,
		TenantID:      m.TenantID,
		EndpointID:    m.EndpointID,
		EventType:     m.EventType,
		Payload:       m.Payload,
		Attempt:       m.Attempt,
		MaxAttempts:   m.MaxAttempts,
		Status:        m.Status,
		NextAttemptAt: m.NextAttemptAt,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		DeliveredAt:   m.DeliveredAt,
	}
}

// auditEventStore implements core.AuditEventStore
type auditEventStore struct {
	db *gorm.DB
}

func (s *auditEventStore) Create(ctx context.Context, event *core.AuditEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	model := &AuditEvent{
		ID:        event.ID,
		TenantID:  event.TenantID,
		ActorType: event.ActorType,
		ActorID:   event.ActorID,
		EventType: event.Type,
		Severity:  event.Severity,
		IP:        event.IP,
		UserAgent: event.UserAgent,
		CreatedAt: event.CreatedAt,
		Data:      dataJSON,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *auditEventStore) List(ctx context.Context, tenantID string, filters core.AuditFilters, limit int, cursor string) ([]*core.AuditEvent, string, error) {
	var models []AuditEvent
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)

	if filters.Type != nil {
		query = query.Where("event_type = ?", *filters.Type)
	}
	if filters.ActorType != nil {
		query = query.Where("actor_type = ?", *filters.ActorType)
	}
	if filters.ActorID != nil {
		query = query.Where("actor_id = ?", *filters.ActorID)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
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

	events := make([]*core.AuditEvent, len(models))
	for i, m := range models {
		e, err := toCoreAuditEvent(&m)
		if err != nil {
			return nil, "", err
		}
		events[i] = e
	}
	return events, nextCursor, nil
}

func toCoreAuditEvent(m *AuditEvent) (*core.AuditEvent, error) {
	var data map[string]interface{}
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return &core.AuditEvent{
		ID:        m.ID,
		TenantID:  m.TenantID,
		ActorType: m.ActorType,
		ActorID:   m.ActorID,
		Type:      m.EventType,
		Severity:  m.Severity,
		IP:        m.IP,
		UserAgent: m.UserAgent,
		CreatedAt: m.CreatedAt,
		Data:      data,
	}, nil
}

// adminKeyStore implements core.AdminKeyStore
type adminKeyStore struct {
	db *gorm.DB
}

func (s *adminKeyStore) Create(ctx context.Context, key *core.AdminKey) error {
	model := &AdminKey{
		ID:        key.ID,
		KeyHash:   key.KeyHash,
		Name:      key.Name,
		CreatedAt: key.CreatedAt,
		CreatedBy: key.CreatedBy,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *adminKeyStore) GetByHash(ctx context.Context, hash string) (*core.AdminKey, error) {
	var model AdminKey
	if err := s.db.WithContext(ctx).First(&model, "key_hash = ?", hash).Error; err != nil {
		return nil, err
	}
	return toCoreAdminKey(&model), nil
}

func (s *adminKeyStore) List(ctx context.Context) ([]*core.AdminKey, error) {
	var models []AdminKey
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	keys := make([]*core.AdminKey, len(models))
	for i, m := range models {
		keys[i] = toCoreAdminKey(&m)
	}
	return keys, nil
}

func (s *adminKeyStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&AdminKey{}).Error
}

func toCoreAdminKey(m *AdminKey) *core.AdminKey {
	return &core.AdminKey{
		ID:        m.ID,
		KeyHash:   m.KeyHash,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		CreatedBy: m.CreatedBy,
	}
}
