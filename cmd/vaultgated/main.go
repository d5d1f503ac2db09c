package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/vaultgate/auth/apikeys"
	"github.com/vaultgate/auth/audit"
	"github.com/vaultgate/auth/authz"
	"github.com/vaultgate/auth/core"
	"github.com/vaultgate/auth/crypto"
	authhttp "github.com/vaultgate/auth/http"
	"github.com/vaultgate/auth/kv"
	"github.com/vaultgate/auth/magiclink"
	"github.com/vaultgate/auth/oauthfed"
	"github.com/vaultgate/auth/ratelimit"
	"github.com/vaultgate/auth/sessions"
	"github.com/vaultgate/auth/store"
	"github.com/vaultgate/auth/tenant"
	"github.com/vaultgate/auth/tokens"
	"github.com/vaultgate/auth/users"
	"github.com/vaultgate/auth/webhooks"
)

func main() {
	var (
		databaseURL      = flag.String("database-url", getEnv("DATABASE_URL", "postgres://localhost/vaultgate?sslmode=disable"), "Database URL")
		redisURL         = flag.String("redis-url", getEnv("REDIS_URL", ""), "Redis URL (empty uses an in-memory store, dev only)")
		adminAPIKey      = flag.String("admin-api-key", getEnv("ADMIN_API_KEY", ""), "Admin API key for bootstrap")
		baseDomain       = flag.String("base-domain", getEnv("BASE_DOMAIN", "auth.example.com"), "Base domain for tenant subdomains")
		httpAddr         = flag.String("http-addr", getEnv("HTTP_ADDR", ":8080"), "HTTP server address")
		autoMigrate      = flag.Bool("auto-migrate", getEnvBool("AUTO_MIGRATE", true), "Auto-run database migrations")
		googleClientID   = flag.String("google-client-id", getEnv("GOOGLE_CLIENT_ID", ""), "Google OAuth client ID")
		googleSecret     = flag.String("google-client-secret", getEnv("GOOGLE_CLIENT_SECRET", ""), "Google OAuth client secret")
		githubClientID   = flag.String("github-client-id", getEnv("GITHUB_CLIENT_ID", ""), "GitHub OAuth client ID")
		githubSecret     = flag.String("github-client-secret", getEnv("GITHUB_CLIENT_SECRET", ""), "GitHub OAuth client secret")
	)
	flag.Parse()

	log.Println("Connecting to database...")
	gormStore, err := store.New(*databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if *autoMigrate {
		log.Println("Running database migrations...")
		if err := gormStore.AutoMigrate(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	var kvStore kv.Store
	if *redisURL != "" {
		redisStore, err := kv.NewRedisStoreFromURL(*redisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		kvStore = redisStore
	} else {
		log.Println("No REDIS_URL set, falling back to an in-memory store (single-process only)")
		kvStore = kv.NewMemoryStore()
	}

	cfg := core.Config{
		DatabaseURL:           *databaseURL,
		RedisURL:              *redisURL,
		AdminAPIKey:           *adminAPIKey,
		BaseDomain:            *baseDomain,
		SessionCookieName:     "vaultgate_session",
		SessionCookieSecure:   true,
		SessionCookieSameSite: "Lax",
		AccessTokenTTL:        15 * time.Minute,
		RefreshTokenTTL:       14 * 24 * time.Hour,
		SessionTTL:            30 * 24 * time.Hour,
		MaxConcurrentSessions: 5,
		RevokedJTITTL:         15 * time.Minute,
		RefreshReuseWindow:    10 * time.Second,
		SigningAlg:            "RS256",
		MaxLoginAttempts:      5,
		PasswordMinLength:     8,
		MagicLinkTTL:          15 * time.Minute,
		MagicLinkRatePerMin:   5,
		TenantMaxDepthDefault: 5,
		AuthzL1TTL:            10 * time.Second,
		AuthzL2TTL:            5 * time.Minute,
		WebhookMaxAttempts:    5,
		WebhookBaseBackoff:    2 * time.Second,
		WebhookMaxBackoff:     30 * time.Second,
		WebhookWorkerCount:    4,
		WebhookQueueHighWater: 1024,
		StateTokenTTL:         10 * time.Minute,
		EncryptionKey:         encryptionKeyFromEnv(),
	}

	clock := core.RealClock{}

	jwtManager := crypto.NewJWTManager(gormStore.SigningKeys(), cfg.EncryptionKey)
	keyManager := crypto.NewKeyManager(gormStore.SigningKeys(), cfg.EncryptionKey)

	tenantResolver := tenant.NewHostResolver(gormStore.Domains(), gormStore.Tenants(), *baseDomain)
	tenantService := tenant.NewService(gormStore.Tenants(), clock)

	authzService, err := authz.NewService(gormStore.DB(), gormStore.Tenants(), gormStore.PermissionGrants(), gormStore.RoleDefinitions(), gormStore.Policies(), kvStore, clock)
	if err != nil {
		log.Fatalf("Failed to initialize authorization service: %v", err)
	}

	tokenService := tokens.NewService(
		gormStore.RefreshTokens(),
		jwtManager,
		clock,
		kvStore,
		"https://%s."+*baseDomain,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
		cfg.RefreshReuseWindow,
	)

	sessionService := sessions.NewService(
		gormStore.Sessions(),
		gormStore.Users(),
		tokenService,
		authzService,
		clock,
		kvStore,
		cfg.SessionTTL,
		cfg.MaxConcurrentSessions,
		cfg.RevokedJTITTL,
	)

	auditService := audit.NewService(gormStore.AuditEvents(), clock)

	var providers []oauthfed.ProviderConfig
	if *googleClientID != "" {
		providers = append(providers, oauthfed.GoogleProvider(*googleClientID, *googleSecret, "https://"+*baseDomain+"/auth/oauth/google/callback"))
	}
	if *githubClientID != "" {
		providers = append(providers, oauthfed.GitHubProvider(*githubClientID, *githubSecret, "https://"+*baseDomain+"/auth/oauth/github/callback"))
	}
	oauthFedService := oauthfed.NewService(providers, gormStore.OAuthAccounts(), gormStore.Users(), sessionService, kvStore, clock, cfg.EncryptionKey)

	magicLinkLimiter := ratelimit.New(kvStore, "magiclink")
	magicLinkService := magiclink.NewService(
		gormStore.MagicLinkTokens(),
		gormStore.Users(),
		sessionService,
		logNotifier{},
		magicLinkLimiter,
		clock,
		cfg.MagicLinkTTL,
		cfg.MagicLinkRatePerMin,
		"https://"+*baseDomain+"/auth/magic-link/consume",
	)

	webhookService := webhooks.NewService(gormStore.WebhookEndpoints(), gormStore.WebhookDeliveries(), auditService, clock, cfg.EncryptionKey, webhooks.Config{
		MaxAttempts:    cfg.WebhookMaxAttempts,
		BaseBackoff:    cfg.WebhookBaseBackoff,
		MaxBackoff:     cfg.WebhookMaxBackoff,
		WorkerCount:    cfg.WebhookWorkerCount,
		QueueHighWater: cfg.WebhookQueueHighWater,
	})
	webhookService.Start(context.Background(), 5*time.Second)
	defer webhookService.Stop()

	apiKeyLimiter := ratelimit.New(kvStore, "apikey")
	apiKeyService := apikeys.NewService(gormStore.APIKeys(), auditService, apiKeyLimiter, clock, "vgk", map[string]int{
		"free": 60,
		"pro":  600,
	})

	userService := users.NewService(gormStore.Users(), clock)

	coreInstance, err := core.NewCore(cfg, gormStore, authzService, auditService)
	if err != nil {
		log.Fatalf("Failed to create core: %v", err)
	}

	coreInstance.KeyManager = keyManager
	coreInstance.TenantResolver = tenantResolver
	coreInstance.TenantService = tenantService
	coreInstance.TokenService = tokenService
	coreInstance.SessionService = sessionService
	coreInstance.UserService = userService
	coreInstance.OAuthFederation = oauthFedService
	coreInstance.MagicLinkService = magicLinkService
	coreInstance.WebhookService = webhookService
	coreInstance.APIKeyService = apiKeyService

	if *adminAPIKey != "" {
		log.Println("Admin API key configured")
	}

	log.Printf("Starting HTTP server on %s...", *httpAddr)
	server := authhttp.NewServer(coreInstance, cfg)

	if err := http.ListenAndServe(*httpAddr, server); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func encryptionKeyFromEnv() []byte {
	key := os.Getenv("ENCRYPTION_KEY")
	if len(key) != 32 {
		log.Println("ENCRYPTION_KEY not set to exactly 32 bytes; using an ephemeral dev-only key")
		return []byte("dev-only-32-byte-encryption-key")
	}
	return []byte(key)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
