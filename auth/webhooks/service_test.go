package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultgate/auth/core"
)

type mockEndpointStore struct {
	mu        sync.Mutex
	endpoints map[string]*core.WebhookEndpoint
}

func newMockEndpointStore() *mockEndpointStore {
	return &mockEndpointStore{endpoints: make(map[string]*core.WebhookEndpoint)}
}

func (m *mockEndpointStore) Create(ctx context.Context, endpoint *core.WebhookEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[endpoint.ID] = endpoint
	return nil
}

func (m *mockEndpointStore) GetByID(ctx context.Context, tenantID, id string) (*core.WebhookEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.endpoints[id]; ok && e.TenantID == tenantID {
		return e, nil
	}
	return nil, assert.AnError
}

func (m *mockEndpointStore) ListForEvent(ctx context.Context, tenantID, eventType string) ([]*core.WebhookEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.WebhookEndpoint
	for _, e := range m.endpoints {
		if e.TenantID != tenantID || e.Status != "active" {
			continue
		}
		for _, t := range e.EventTypes {
			if t == eventType {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (m *mockEndpointStore) ListActive(ctx context.Context, tenantID string) ([]*core.WebhookEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.WebhookEndpoint
	for _, e := range m.endpoints {
		if e.TenantID == tenantID && e.Status == "active" {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockDeliveryStore struct {
	mu         sync.Mutex
	deliveries map[string]*core.WebhookDelivery
}

func newMockDeliveryStore() *mockDeliveryStore {
	return &mockDeliveryStore{deliveries: make(map[string]*core.WebhookDelivery)}
}

func (m *mockDeliveryStore) Create(ctx context.Context, delivery *core.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[delivery.ID] = delivery
	return nil
}

func (m *mockDeliveryStore) Update(ctx context.Context, delivery *core.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[delivery.ID] = delivery
	return nil
}

func (m *mockDeliveryStore) DueForDelivery(ctx context.Context, before time.Time, limit int) ([]*core.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.WebhookDelivery
	for _, d := range m.deliveries {
		if d.Status == "pending" && !d.NextAttemptAt.After(before) {
			out = append(out, d)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockDeliveryStore) get(id string) *core.WebhookDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliveries[id]
}

type mockAuditSink struct {
	mu     sync.Mutex
	events []*core.AuditEvent
}

func (m *mockAuditSink) Log(ctx context.Context, event *core.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestService_RegisterEndpointAndEnqueue(t *testing.T) {
	var received int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		sig := r.Header.Get("X-Webhook-Signature")
		assert.NotEmpty(t, sig)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoints := newMockEndpointStore()
	deliveries := newMockDeliveryStore()
	audit := &mockAuditSink{}
	clock := fixedClock{now: time.Now()}

	service := NewService(endpoints, deliveries, audit, clock, []byte("0123456789abcdef0123456789abcdef"), Config{WorkerCount: 2, QueueHighWater: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx, 20*time.Millisecond)
	defer service.Stop()

	endpoint, err := service.RegisterEndpoint(ctx, "tenant-1", server.URL, []byte("whsec"), []string{"user.created"})
	require.NoError(t, err)
	require.NotEmpty(t, endpoint.ID)

	require.NoError(t, service.Enqueue(ctx, "tenant-1", "user.created", []byte(`{"id":"1"}`)))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_Enqueue_NoMatchingEndpointsIsNoop(t *testing.T) {
	endpoints := newMockEndpointStore()
	deliveries := newMockDeliveryStore()
	audit := &mockAuditSink{}
	clock := fixedClock{now: time.Now()}
	service := NewService(endpoints, deliveries, audit, clock, nil, Config{})

	err := service.Enqueue(context.Background(), "tenant-1", "user.created", []byte("{}"))
	require.NoError(t, err)
	assert.Empty(t, deliveries.deliveries)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, classDelivered, classifyStatus(200))
	assert.Equal(t, classDelivered, classifyStatus(204))
	assert.Equal(t, classRetryable, classifyStatus(408))
	assert.Equal(t, classRetryable, classifyStatus(429))
	assert.Equal(t, classPermanentFailure, classifyStatus(400))
	assert.Equal(t, classPermanentFailure, classifyStatus(404))
	assert.Equal(t, classRetryable, classifyStatus(500))
	assert.Equal(t, classRetryable, classifyStatus(503))
}

func TestBackoffForAttempt_Exponential(t *testing.T) {
	d1 := backoffForAttempt(1, 2*time.Second, 30*time.Second)
	d2 := backoffForAttempt(2, 2*time.Second, 30*time.Second)
	d3 := backoffForAttempt(10, 2*time.Second, 30*time.Second)

	assert.InDelta(t, float64(2*time.Second), float64(d1), float64(100*time.Millisecond))
	assert.InDelta(t, float64(4*time.Second), float64(d2), float64(100*time.Millisecond))
	assert.LessOrEqual(t, d3, 30*time.Second)
}

func TestService_AttemptDelivery_PermanentFailureMarksDead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	endpoints := newMockEndpointStore()
	deliveries := newMockDeliveryStore()
	audit := &mockAuditSink{}
	clock := fixedClock{now: time.Now()}
	service := NewService(endpoints, deliveries, audit, clock, nil, Config{})

	endpoint, err := service.RegisterEndpoint(context.Background(), "tenant-1", server.URL, []byte("whsec"), []string{"user.created"})
	require.NoError(t, err)

	delivery := &core.WebhookDelivery{ID: "d1", TenantID: "tenant-1", EndpointID: endpoint.ID, EventType: "user.created", Payload: []byte("{}"), MaxAttempts: 5, Status: "pending"}
	require.NoError(t, deliveries.Create(context.Background(), delivery))

	service.attemptDelivery(context.Background(), delivery)

	updated := deliveries.get("d1")
	assert.Equal(t, "dead", updated.Status)
	require.NotNil(t, updated.LastError)
}

func TestService_AttemptDelivery_RetryableSchedulesNextAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	endpoints := newMockEndpointStore()
	deliveries := newMockDeliveryStore()
	audit := &mockAuditSink{}
	now := time.Now()
	clock := fixedClock{now: now}
	service := NewService(endpoints, deliveries, audit, clock, nil, Config{})

	endpoint, err := service.RegisterEndpoint(context.Background(), "tenant-1", server.URL, []byte("whsec"), []string{"user.created"})
	require.NoError(t, err)

	delivery := &core.WebhookDelivery{ID: "d2", TenantID: "tenant-1", EndpointID: endpoint.ID, EventType: "user.created", Payload: []byte("{}"), MaxAttempts: 5, Status: "pending", NextAttemptAt: now}
	require.NoError(t, deliveries.Create(context.Background(), delivery))

	service.attemptDelivery(context.Background(), delivery)

	updated := deliveries.get("d2")
	assert.Equal(t, "pending", updated.Status)
	assert.Equal(t, 1, updated.Attempt)
	assert.True(t, updated.NextAttemptAt.After(now))
}

func TestService_AttemptDelivery_ExhaustsRetriesToDead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	endpoints := newMockEndpointStore()
	deliveries := newMockDeliveryStore()
	audit := &mockAuditSink{}
	clock := fixedClock{now: time.Now()}
	service := NewService(endpoints, deliveries, audit, clock, nil, Config{MaxAttempts: 2})

	endpoint, err := service.RegisterEndpoint(context.Background(), "tenant-1", server.URL, []byte("whsec"), []string{"user.created"})
	require.NoError(t, err)

	delivery := &core.WebhookDelivery{ID: "d3", TenantID: "tenant-1", EndpointID: endpoint.ID, EventType: "user.created", Payload: []byte("{}"), MaxAttempts: 2, Status: "pending"}
	require.NoError(t, deliveries.Create(context.Background(), delivery))

	service.attemptDelivery(context.Background(), delivery)
	service.attemptDelivery(context.Background(), delivery)

	updated := deliveries.get("d3")
	assert.Equal(t, "dead", updated.Status)
	assert.Equal(t, 2, updated.Attempt)
}
