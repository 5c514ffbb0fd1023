package infra

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"adstudio/internal/domain"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string `env:"APP_ENV" envDefault:"development"`
	Port           string `env:"PORT" envDefault:"8080"`
	DatabaseURL    string `env:"DATABASE_URL"`
	JWTSecret      string `env:"JWT_SECRET"`
	StoragePath    string `env:"STORAGE_PATH" envDefault:"./storage"`
	StorageBaseURL string `env:"STORAGE_BASE_URL"`
	GeoIPDBPath    string `env:"GEOIP_DB_PATH"`
	DefaultLocale  string `env:"DEFAULT_LOCALE" envDefault:"en"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	LockBackend   string        `env:"LOCK_BACKEND" envDefault:"local"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"10s"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`

	ReplicateAPIToken string `env:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL  string `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com/v1"`
	ElevenLabsAPIKey  string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsBaseURL string `env:"ELEVENLABS_BASE_URL" envDefault:"https://api.elevenlabs.io/v1"`
	HeyGenAPIKey      string `env:"HEYGEN_API_KEY"`

	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"120s"`
	VideoProviderTimeout time.Duration `env:"VIDEO_PROVIDER_TIMEOUT" envDefault:"300s"`

	StaleJobThreshold  time.Duration `env:"STALE_JOB_THRESHOLD" envDefault:"15m"`
	ReconcileInterval  time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileBatchSize int           `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`
	SettlementLookback time.Duration `env:"SETTLEMENT_LOOKBACK" envDefault:"24h"`
	// EmbeddedReconciler runs the sweeper inside cmd/api for single-process
	// deployments.
	EmbeddedReconciler bool `env:"RECONCILE_EMBEDDED" envDefault:"false"`

	DefaultUserCredits       int64 `env:"DEFAULT_USER_CREDITS" envDefault:"100"`
	CreditsImageGeneration   int64 `env:"CREDITS_IMAGE_GENERATION" envDefault:"5"`
	CreditsBackgroundRemoval int64 `env:"CREDITS_BACKGROUND_REMOVAL" envDefault:"2"`
	CreditsVideoGeneration   int64 `env:"CREDITS_VIDEO_GENERATION" envDefault:"50"`
	CreditsVideoPresenter    int64 `env:"CREDITS_VIDEO_PRESENTER" envDefault:"100"`
	CreditsVoiceover         int64 `env:"CREDITS_VOICEOVER" envDefault:"10"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"330s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RateLimitPerMin  int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(cfg.StorageBaseURL) == "" {
		cfg.StorageBaseURL = fmt.Sprintf("http://localhost:%s/static", cfg.Port)
	}
	cfg.StorageBaseURL = strings.TrimRight(cfg.StorageBaseURL, "/")
	if _, err := url.Parse(cfg.StorageBaseURL); err != nil {
		return nil, fmt.Errorf("STORAGE_BASE_URL is invalid: %w", err)
	}

	switch cfg.LockBackend {
	case "local", "redis":
	default:
		return nil, fmt.Errorf("LOCK_BACKEND must be local or redis, got %q", cfg.LockBackend)
	}
	if cfg.StaleJobThreshold <= cfg.VideoProviderTimeout {
		return nil, fmt.Errorf("STALE_JOB_THRESHOLD (%s) must exceed VIDEO_PROVIDER_TIMEOUT (%s)", cfg.StaleJobThreshold, cfg.VideoProviderTimeout)
	}
	if cfg.ReconcileBatchSize <= 0 {
		cfg.ReconcileBatchSize = 100
	}

	return cfg, nil
}

// RequireJWT validates settings only the HTTP API needs.
func (c *Config) RequireJWT() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

// CostTable builds the kind to credits table from configuration.
func (c *Config) CostTable() domain.CostTable {
	return domain.CostTable{
		domain.JobKindImage:             c.CreditsImageGeneration,
		domain.JobKindBanner:            c.CreditsImageGeneration,
		domain.JobKindLogo:              c.CreditsImageGeneration,
		domain.JobKindBackgroundRemoval: c.CreditsBackgroundRemoval,
		domain.JobKindVideo:             c.CreditsVideoGeneration,
		domain.JobKindPresenterVideo:    c.CreditsVideoPresenter,
		domain.JobKindVoiceover:         c.CreditsVoiceover,
	}
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
