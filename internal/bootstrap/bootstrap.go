// Package bootstrap assembles the shared runtime stack used by cmd/api and
// cmd/worker: the Postgres pool, the ledger with its account locker, the job
// store, metrics and the provider registry.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/infra/credentials"
	"adstudio/internal/jobstore"
	"adstudio/internal/ledger"
	"adstudio/internal/lock"
	"adstudio/internal/metrics"
	"adstudio/internal/orchestrator"
	"adstudio/internal/providers"
	"adstudio/internal/providers/elevenlabs"
	"adstudio/internal/providers/presenter"
	"adstudio/internal/providers/replicate"
	"adstudio/internal/providers/synthetic"
	"adstudio/internal/storage"
)

// Stack holds long-lived dependencies. Close releases them.
type Stack struct {
	Config  *infra.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	SQL     *infra.SQLRunner
	Ledger  *ledger.Service
	Jobs    *jobstore.PostgresStore
	Metrics *metrics.Metrics

	redis *redis.Client
}

// Open connects to Postgres (and Redis when LOCK_BACKEND=redis) and builds
// the ledger and job store on top.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Stack, error) {
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	runner := infra.NewSQLRunner(pool, infra.Component(logger, "sql"))

	locker, client, err := NewLocker(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	return &Stack{
		Config: cfg,
		Logger: logger,
		Pool:   pool,
		SQL:    runner,
		Ledger: ledger.New(ledger.NewPostgresStore(runner), locker,
			ledger.WithLogger(infra.Component(logger, "ledger")),
			ledger.WithMetrics(m),
		),
		Jobs:    jobstore.NewPostgresStore(runner),
		Metrics: m,
		redis:   client,
	}, nil
}

// NewLocker returns the account locker selected by LOCK_BACKEND. The redis
// client is returned so the caller can close it; it is nil for the local
// backend.
func NewLocker(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (lock.Locker, *redis.Client, error) {
	if cfg.LockBackend != "redis" {
		return lock.NewLocalLocker(), nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return lock.NewRedisLocker(client, lock.RedisOptions{
		TTL:    cfg.LockTTL,
		Logger: infra.Component(logger, "lock"),
	}), client, nil
}

// Ready checks the backing services for readiness probes.
func (s *Stack) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// FileStore opens local artifact storage under STORAGE_PATH.
func (s *Stack) FileStore() (*storage.FileStore, error) {
	path := s.Config.StoragePath
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return storage.NewFileStore(path, s.Config.StorageBaseURL)
}

// Providers binds every generation kind to its client. Tokens come from the
// environment first and the integration_tokens table second; with neither,
// clients fall back to synthetic artifacts in store.
func (s *Stack) Providers(ctx context.Context, store *storage.FileStore) *providers.Registry {
	cfg := s.Config
	tokens := credentials.NewStore(s.SQL)
	renderer := synthetic.NewRenderer(store)

	replicateToken := credentials.Resolver(cfg.ReplicateAPIToken, tokens, credentials.ProviderReplicate)
	elevenKey := credentials.Resolver(cfg.ElevenLabsAPIKey, tokens, credentials.ProviderElevenLabs)
	heygenKey := credentials.Resolver(cfg.HeyGenAPIKey, tokens, credentials.ProviderHeyGen)
	s.warnMissing(ctx, credentials.ProviderReplicate, replicateToken)
	s.warnMissing(ctx, credentials.ProviderElevenLabs, elevenKey)
	s.warnMissing(ctx, credentials.ProviderHeyGen, heygenKey)

	httpClient := &http.Client{Timeout: cfg.VideoProviderTimeout}
	registry := providers.NewRegistry(providers.RegistryOptions{
		Timeout:     cfg.ProviderTimeout,
		LongTimeout: cfg.VideoProviderTimeout,
		Logger:      infra.Component(s.Logger, "providers"),
		Metrics:     s.Metrics,
	})

	replicateClient := replicate.NewClient(replicate.Options{
		Token:      replicateToken,
		BaseURL:    cfg.ReplicateBaseURL,
		HTTPClient: httpClient,
		Logger:     infra.Component(s.Logger, "replicate"),
	})
	registry.Register(replicate.NewExecutor(replicateClient, renderer, infra.Component(s.Logger, "replicate")), replicate.Kinds...)

	registry.Register(elevenlabs.NewClient(elevenlabs.Options{
		APIKey:     elevenKey,
		BaseURL:    cfg.ElevenLabsBaseURL,
		HTTPClient: httpClient,
		Store:      store,
		Synthetic:  renderer,
		Logger:     infra.Component(s.Logger, "elevenlabs"),
	}), domain.JobKindVoiceover)

	registry.Register(presenter.New(presenter.Options{
		APIKey:    heygenKey,
		Synthetic: renderer,
		Logger:    infra.Component(s.Logger, "presenter"),
	}), domain.JobKindPresenterVideo)

	return registry
}

func (s *Stack) warnMissing(ctx context.Context, provider string, token credentials.TokenFunc) {
	value, err := token(ctx)
	switch {
	case err != nil:
		s.Logger.Warn().Err(err).Str("provider", provider).Msg("failed to load provider token from store")
	case value == "":
		s.Logger.Warn().Str("provider", provider).Msg("provider token missing, using synthetic artifacts")
	}
}

// Orchestrator builds the generation runner over provider.
func (s *Stack) Orchestrator(provider orchestrator.Provider) *orchestrator.Orchestrator {
	return orchestrator.New(s.Ledger, s.Jobs, provider, orchestrator.Options{
		Costs:   s.Config.CostTable(),
		Logger:  infra.Component(s.Logger, "orchestrator"),
		Metrics: s.Metrics,
	})
}

// Reconciler builds the stale-job sweeper. The settle grace tracks the
// provider budget so an in-flight Run settles its own job first.
func (s *Stack) Reconciler() *orchestrator.Reconciler {
	cfg := s.Config
	return orchestrator.NewReconciler(s.Ledger, s.Jobs, orchestrator.ReconcilerOptions{
		Interval:    cfg.ReconcileInterval,
		StaleAfter:  cfg.StaleJobThreshold,
		Lookback:    cfg.SettlementLookback,
		SettleGrace: time.Minute,
		BatchSize:   cfg.ReconcileBatchSize,
		Logger:      infra.Component(s.Logger, "reconciler"),
		Metrics:     s.Metrics,
	})
}

// Close releases the Redis client and the Postgres pool.
func (s *Stack) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.Logger.Warn().Err(err).Msg("close redis")
		}
	}
	s.Pool.Close()
}
