package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"adstudio/internal/bootstrap"
	"adstudio/internal/http/handlers"
	httpapi "adstudio/internal/http/httpapi"
	"adstudio/internal/infra"
	"adstudio/internal/infra/geoip"
	"adstudio/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireJWT(); err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise runtime")
	}
	defer stack.Close()

	fileStore, err := stack.FileStore()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	var countryLookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		countryLookup = resolver.CountryCode
	}

	app := &handlers.App{
		Generator:       stack.Orchestrator(stack.Providers(ctx, fileStore)),
		Accounts:        stack.Ledger,
		Jobs:            stack.Jobs,
		StartingCredits: cfg.DefaultUserCredits,
		Logger:          infra.Component(logger, "http"),
		Ready:           stack.Ready,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   countryLookup,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       fileStore.BasePath(),
		Metrics:         stack.Metrics.Handler(),
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		return server.Run(gctx)
	})
	if cfg.EmbeddedReconciler {
		reconciler := stack.Reconciler()
		g.Go(func() error {
			err := reconciler.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}
