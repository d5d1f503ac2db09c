package magiclink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultgate/auth/core"
	"github.com/vaultgate/auth/kv"
	"github.com/vaultgate/auth/ratelimit"
)

type mockTokenStore struct {
	byHash map[string]*core.MagicLinkToken
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{byHash: make(map[string]*core.MagicLinkToken)}
}

func (m *mockTokenStore) Create(ctx context.Context, token *core.MagicLinkToken) error {
	m.byHash[token.TokenHash] = token
	return nil
}

func (m *mockTokenStore) GetAndConsume(ctx context.Context, tenantID, tokenHash string) (*core.MagicLinkToken, error) {
	token, ok := m.byHash[tokenHash]
	if !ok || token.TenantID != tenantID {
		return nil, core.NewError(core.ErrNotFound, "magic link token not found", errors.New("not found"))
	}
	if token.UsedAt != nil {
		return nil, core.NewError(core.ErrValidation, "magic link token already used", nil)
	}
	now := time.Now()
	token.UsedAt = &now
	return token, nil
}

func (m *mockTokenStore) DeleteExpired(ctx context.Context, before time.Time) error { return nil }

type mockUserStore struct {
	byID    map[string]*core.User
	byEmail map[string]*core.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{byID: make(map[string]*core.User), byEmail: make(map[string]*core.User)}
}

func (m *mockUserStore) Create(ctx context.Context, user *core.User) error {
	m.byID[user.ID] = user
	m.byEmail[user.TenantID+"|"+user.Email] = user
	return nil
}
func (m *mockUserStore) GetByID(ctx context.Context, tenantID, id string) (*core.User, error) {
	if u, ok := m.byID[id]; ok && u.TenantID == tenantID {
		return u, nil
	}
	return nil, errors.New("not found")
}
func (m *mockUserStore) GetByEmail(ctx context.Context, tenantID, email string) (*core.User, error) {
	if u, ok := m.byEmail[tenantID+"|"+email]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}
func (m *mockUserStore) Update(ctx context.Context, user *core.User) error { return nil }
func (m *mockUserStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.User, string, error) {
	return nil, "", nil
}
func (m *mockUserStore) SetPassword(ctx context.Context, userID string, hash string) error { return nil }
func (m *mockUserStore) GetPassword(ctx context.Context, userID string) (string, error)    { return "", nil }

type mockSessionIssuer struct{ called bool }

func (m *mockSessionIssuer) Create(ctx context.Context, tenantID, userID string, ip, userAgent string) (*core.Session, *core.TokenPair, error) {
	m.called = true
	return &core.Session{ID: "session-1", TenantID: tenantID, UserID: userID}, &core.TokenPair{AccessToken: "access-token"}, nil
}

type capturingNotifier struct {
	email string
	link  string
	err   error
}

func (n *capturingNotifier) SendMagicLink(ctx context.Context, tenantID, email, link string) error {
	if n.err != nil {
		return n.err
	}
	n.email = email
	n.link = link
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func setup() (*Service, *mockTokenStore, *mockUserStore, *mockSessionIssuer, *capturingNotifier) {
	tokens := newMockTokenStore()
	users := newMockUserStore()
	sessions := &mockSessionIssuer{}
	notifier := &capturingNotifier{}
	limiter := ratelimit.New(kv.NewMemoryStore(), "magiclink-test")
	clock := fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	service := NewService(tokens, users, sessions, notifier, limiter, clock, 15*time.Minute, 5, "https://app.example/auth/magic?token=")
	return service, tokens, users, sessions, notifier
}

func TestService_IssueAndConsume(t *testing.T) {
	service, _, users, sessions, notifier := setup()
	ctx := context.Background()

	require.NoError(t, users.Create(ctx, &core.User{ID: "user-1", TenantID: "tenant-1", Email: "a@example.com"}))

	require.NoError(t, service.Issue(ctx, "tenant-1", "a@example.com", "1.2.3.4"))
	require.NotEmpty(t, notifier.link)
	assert.Equal(t, "a@example.com", notifier.email)

	rawToken := notifier.link[len("https://app.example/auth/magic?token="):]

	user, session, pair, err := service.Consume(ctx, "tenant-1", rawToken, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.NotNil(t, session)
	assert.NotNil(t, pair)
	assert.True(t, sessions.called)
}

func TestService_Issue_UnknownEmail(t *testing.T) {
	service, _, _, _, _ := setup()
	ctx := context.Background()

	err := service.Issue(ctx, "tenant-1", "nobody@example.com", "1.2.3.4")
	assert.Error(t, err)
	assert.Equal(t, core.ErrNotFound, core.KindOf(err))
}

func TestService_Issue_RateLimited(t *testing.T) {
	service, _, users, _, _ := setup()
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &core.User{ID: "user-1", TenantID: "tenant-1", Email: "a@example.com"}))

	for i := 0; i < 5; i++ {
		require.NoError(t, service.Issue(ctx, "tenant-1", "a@example.com", "9.9.9.9"))
	}
	err := service.Issue(ctx, "tenant-1", "a@example.com", "9.9.9.9")
	assert.Error(t, err)
	assert.Equal(t, core.ErrThrottled, core.KindOf(err))
}

func TestService_Consume_RejectsExpiredToken(t *testing.T) {
	tokens := newMockTokenStore()
	users := newMockUserStore()
	sessions := &mockSessionIssuer{}
	notifier := &capturingNotifier{}
	limiter := ratelimit.New(kv.NewMemoryStore(), "magiclink-test-2")
	clock := fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	service := NewService(tokens, users, sessions, notifier, limiter, clock, 15*time.Minute, 5, "https://app.example/auth/magic?token=")
	ctx := context.Background()

	require.NoError(t, users.Create(ctx, &core.User{ID: "user-1", TenantID: "tenant-1", Email: "a@example.com"}))
	require.NoError(t, service.Issue(ctx, "tenant-1", "a@example.com", "1.2.3.4"))
	rawToken := notifier.link[len("https://app.example/auth/magic?token="):]

	clock.now = clock.now.Add(16 * time.Minute)
	service.clock = clock

	_, _, _, err := service.Consume(ctx, "tenant-1", rawToken, "1.2.3.4", "test-agent")
	assert.Error(t, err)
	assert.Equal(t, core.ErrValidation, core.KindOf(err))
}

func TestService_Consume_RejectsReplay(t *testing.T) {
	service, _, users, _, notifier := setup()
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &core.User{ID: "user-1", TenantID: "tenant-1", Email: "a@example.com"}))
	require.NoError(t, service.Issue(ctx, "tenant-1", "a@example.com", "1.2.3.4"))
	rawToken := notifier.link[len("https://app.example/auth/magic?token="):]

	_, _, _, err := service.Consume(ctx, "tenant-1", rawToken, "1.2.3.4", "test-agent")
	require.NoError(t, err)

	_, _, _, err = service.Consume(ctx, "tenant-1", rawToken, "1.2.3.4", "test-agent")
	assert.Error(t, err)
	assert.Equal(t, core.ErrValidation, core.KindOf(err), "a replayed token is invalid, not merely absent")
}

func TestService_Issue_NotifierFailure(t *testing.T) {
	service, _, users, _, notifier := setup()
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &core.User{ID: "user-1", TenantID: "tenant-1", Email: "a@example.com"}))
	notifier.err = errors.New("smtp down")

	err := service.Issue(ctx, "tenant-1", "a@example.com", "1.2.3.4")
	assert.Error(t, err)
	assert.Equal(t, core.ErrProvider, core.KindOf(err))
}
