package app

import (
	"strings"
	"time"

	"github.com/yungbote/inkpress-backend/internal/platform/envutil"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

// Roles decide which halves of the process come up. One binary serves both;
// deploys that want isolation run two pools with ROLE=ingress and ROLE=worker
// against the same Postgres and Redis.
const (
	RoleIngress = "ingress"
	RoleWorker  = "worker"
	RoleAll     = "all"
)

type Config struct {
	Role string
	Port string

	FrontendURL string

	SessionSecret  string
	JWTSecretKey   string
	AccessTokenTTL time.Duration
	SessionTTL     time.Duration
	RememberTTL    time.Duration
	CookieName     string
	SecureCookies  bool

	MaxFileSize        int64
	PendingWatermark   int64
	DisableNewAnalyses bool
	WorkerSlots        int

	MonthlyBudgetUSD float64
	PricingFile      string

	ChatProvider string
	StorageMode  string

	// MetricsAddr serves /metrics on its own listener. Ingress already
	// exposes /metrics on the API port; this is for worker-only pools.
	MetricsAddr string

	StripeSecretKey     string
	StripeWebhookSecret string
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Role: strings.ToLower(envutil.Str("ROLE", RoleAll)),
		Port: envutil.Str("PORT", "8080"),

		FrontendURL: envutil.Str("FRONTEND_URL", ""),

		SessionSecret:  envutil.Str("SESSION_SECRET", ""),
		JWTSecretKey:   envutil.Str("JWT_SECRET_KEY", ""),
		AccessTokenTTL: envutil.Duration("ACCESS_TOKEN_TTL", time.Hour),
		SessionTTL:     envutil.Duration("SESSION_DURATION", 24*time.Hour),
		RememberTTL:    envutil.Duration("SESSION_REMEMBER_DURATION", 30*24*time.Hour),
		CookieName:     envutil.Str("SESSION_COOKIE_NAME", "inkpress_session"),
		SecureCookies:  envutil.Bool("SECURE_COOKIES", false),

		MaxFileSize:        envutil.Int64("MAX_FILE_SIZE", 50<<20),
		PendingWatermark:   envutil.Int64("QUEUE_PENDING_WATERMARK", 100),
		DisableNewAnalyses: envutil.Bool("DISABLE_NEW_ANALYSES", false),
		WorkerSlots:        envutil.Int("WORKER_SLOTS", 4),

		MonthlyBudgetUSD: envutil.Float("COST_MONTHLY_CAP_USD", 0),
		PricingFile:      envutil.Str("MODEL_PRICING_FILE", ""),

		ChatProvider: strings.ToLower(envutil.Str("CHAT_PROVIDER", "anthropic")),
		StorageMode:  strings.ToLower(envutil.Str("STORAGE_MODE", "gcs")),

		MetricsAddr: envutil.Str("METRICS_ADDR", ""),

		StripeSecretKey:     envutil.Str("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: envutil.Str("STRIPE_WEBHOOK_SECRET", ""),
	}

	switch cfg.Role {
	case RoleIngress, RoleWorker, RoleAll:
	default:
		log.Warn("Unknown ROLE, running everything", "role", cfg.Role)
		cfg.Role = RoleAll
	}

	return cfg
}

func (c Config) RunsIngress() bool {
	return c.Role == RoleIngress || c.Role == RoleAll
}

func (c Config) RunsWorker() bool {
	return c.Role == RoleWorker || c.Role == RoleAll
}
