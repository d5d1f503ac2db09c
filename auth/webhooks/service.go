// Package webhooks implements the C7 outbound delivery pipeline: HMAC
// signed POSTs to tenant-registered endpoints, retried on a bounded
// exponential schedule by a worker pool.
package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/vaultgate/auth/core"
	"github.com/vaultgate/auth/crypto"
)

// classification is the outcome of a single delivery attempt.
type classification int

const (
	classDelivered classification = iota
	classRetryable
	classPermanentFailure
)

// Service implements core.WebhookService plus the background dispatcher
// that drains pending deliveries.
type Service struct {
	endpoints   core.WebhookEndpointStore
	deliveries  core.WebhookDeliveryStore
	audit       core.AuditSink
	clock       core.Clock
	httpClient  *http.Client
	masterKey   []byte

	queue       chan *core.WebhookDelivery
	highWater   int
	workerCount int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Config bundles the tunables spec.md §5 leaves as deployment knobs.
type Config struct {
	WorkerCount    int
	QueueHighWater int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	PollInterval   time.Duration
}

// NewService creates a new webhook delivery service. masterKey encrypts
// endpoint secrets at rest via auth/crypto; nil disables encryption.
func NewService(endpoints core.WebhookEndpointStore, deliveries core.WebhookDeliveryStore, audit core.AuditSink, clock core.Clock, masterKey []byte, cfg Config) *Service {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 4
	}
	if cfg.QueueHighWater == 0 {
		cfg.QueueHighWater = 256
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	return &Service{
		endpoints:   endpoints,
		deliveries:  deliveries,
		audit:       audit,
		clock:       clock,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		masterKey:   masterKey,
		queue:       make(chan *core.WebhookDelivery, cfg.QueueHighWater),
		highWater:   cfg.QueueHighWater,
		workerCount: cfg.WorkerCount,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		stopCh:      make(chan struct{}),
	}
}

// RegisterEndpoint stores a new delivery target for tenantID, encrypting
// secret at rest.
func (s *Service) RegisterEndpoint(ctx context.Context, tenantID, url string, secret []byte, eventTypes []string) (*core.WebhookEndpoint, error) {
	secretEnc, err := crypto.EncryptAEAD(secret, s.masterKey)
	if err != nil {
		return nil, core.NewError(core.ErrInternal, "encrypt webhook secret", err)
	}

	endpoint := &core.WebhookEndpoint{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		URL:        url,
		SecretEnc:  secretEnc,
		EventTypes: eventTypes,
		Status:     "active",
		CreatedAt:  s.clock.Now(),
	}
	if err := s.endpoints.Create(ctx, endpoint); err != nil {
		return nil, core.NewError(core.ErrInternal, "store webhook endpoint", err)
	}
	return endpoint, nil
}

// Enqueue fans payload out to every active endpoint subscribed to
// eventType. Each delivery is persisted durably before the in-memory
// queue is notified, so a full queue only delays dispatch — the next
// poll cycle picks up anything dropped here.
func (s *Service) Enqueue(ctx context.Context, tenantID, eventType string, payload []byte) error {
	targets, err := s.endpoints.ListForEvent(ctx, tenantID, eventType)
	if err != nil {
		return core.NewError(core.ErrInternal, "list webhook endpoints", err)
	}

	now := s.clock.Now()
	for _, endpoint := range targets {
		delivery := &core.WebhookDelivery{
			ID:            uuid.New().String(),
			TenantID:      tenantID,
			EndpointID:    endpoint.ID,
			EventType:     eventType,
			Payload:       payload,
			Attempt:       0,
			MaxAttempts:   s.maxAttempts,
			Status:        "pending",
			NextAttemptAt: now,
			CreatedAt:     now,
		}
		if err := s.deliveries.Create(ctx, delivery); err != nil {
			return core.NewError(core.ErrInternal, "store webhook delivery", err)
		}

		select {
		case s.queue <- delivery:
		default:
			s.audit.Log(ctx, &core.AuditEvent{
				TenantID:  tenantID,
				ActorType: "system",
				Type:      "webhook_queue_overflow",
				Severity:  "warn",
				CreatedAt: now,
				Data:      map[string]interface{}{"endpoint_id": endpoint.ID, "queue_depth": s.highWater},
			})
		}
	}
	return nil
}

// Start launches the worker pool. It returns immediately; call Stop to
// drain and shut the workers down.
func (s *Service) Start(ctx context.Context, pollInterval time.Duration) {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(ctx, pollInterval)
	}
}

// Stop signals all workers to exit and waits for them to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) worker(ctx context.Context, pollInterval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case delivery := <-s.queue:
			s.attemptDelivery(ctx, delivery)
		case <-ticker.C:
			s.pollDue(ctx)
		}
	}
}

func (s *Service) pollDue(ctx context.Context) {
	due, err := s.deliveries.DueForDelivery(ctx, s.clock.Now(), s.workerCount*4)
	if err != nil {
		return
	}
	for _, delivery := range due {
		s.attemptDelivery(ctx, delivery)
	}
}

func (s *Service) attemptDelivery(ctx context.Context, delivery *core.WebhookDelivery) {
	endpoint, err := s.endpoints.GetByID(ctx, delivery.TenantID, delivery.EndpointID)
	if err != nil {
		delivery.Status = "dead"
		msg := "endpoint not found"
		delivery.LastError = &msg
		s.deliveries.Update(ctx, delivery)
		return
	}

	delivery.Attempt++
	outcome, deliverErr := s.deliverOnce(ctx, endpoint, delivery)

	switch outcome {
	case classDelivered:
		delivery.Status = "delivered"
		now := s.clock.Now()
		delivery.DeliveredAt = &now
		delivery.LastError = nil
	case classPermanentFailure:
		delivery.Status = "dead"
		setLastError(delivery, deliverErr)
	case classRetryable:
		if delivery.Attempt >= delivery.MaxAttempts {
			delivery.Status = "dead"
		} else {
			delivery.Status = "pending"
			delivery.NextAttemptAt = s.clock.Now().Add(backoffForAttempt(delivery.Attempt, s.baseBackoff, s.maxBackoff))
		}
		setLastError(delivery, deliverErr)
	}

	s.deliveries.Update(ctx, delivery)
}

func setLastError(delivery *core.WebhookDelivery, err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	delivery.LastError = &msg
}

func (s *Service) deliverOnce(ctx context.Context, endpoint *core.WebhookEndpoint, delivery *core.WebhookDelivery) (classification, error) {
	secret, err := crypto.DecryptAEAD(endpoint.SecretEnc, s.masterKey)
	if err != nil {
		return classPermanentFailure, fmt.Errorf("decrypt endpoint secret: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return classPermanentFailure, fmt.Errorf("build request: %w", err)
	}

	timestamp := strconv.FormatInt(s.clock.Now().Unix(), 10)
	signedMessage := timestamp + "." + string(delivery.Payload)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", delivery.EventType)
	req.Header.Set("X-Webhook-Timestamp", timestamp)
	req.Header.Set("X-Webhook-Delivery-Id", delivery.ID)
	req.Header.Set("X-Webhook-Signature", "sha256="+crypto.SignHMACHex(secret, signedMessage))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return classRetryable, err
	}
	defer resp.Body.Close()

	class := classifyStatus(resp.StatusCode)
	if class == classDelivered {
		return class, nil
	}
	return class, fmt.Errorf("endpoint responded %d", resp.StatusCode)
}

// classifyStatus buckets a response status into delivered / retryable /
// permanent-failure. 408 and 429 are treated as transient even though
// they're 4xx — the caller is asking us to slow down or retry, not
// telling us the request is malformed.
func classifyStatus(status int) classification {
	switch {
	case status >= 200 && status < 300:
		return classDelivered
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return classRetryable
	case status >= 400 && status < 500:
		return classPermanentFailure
	default:
		return classRetryable
	}
}

// backoffForAttempt computes the delay before the next attempt using a
// cenkalti/backoff/v4 exponential curve, deterministic (no jitter) so
// retry timing is testable.
func backoffForAttempt(attempt int, base, max time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.MaxInterval = max
	b.RandomizationFactor = 0

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
