package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"adstudio/internal/bootstrap"
	"adstudio/internal/infra"
)

func main() {
	var once bool
	flag.BoolVar(&once, "once", false, "run a single reconciliation sweep and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.Component(infra.NewLogger(cfg.AppEnv), "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to initialise runtime")
	}
	defer stack.Close()

	reconciler := stack.Reconciler()
	if once {
		report, err := reconciler.Sweep(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("worker: sweep failed")
			return
		}
		logger.Info().
			Int("stale", report.Stale).
			Int("committed", report.Committed).
			Int("refunded", report.Refunded).
			Int("skipped", report.Skipped).
			Int("faults", report.Faults).
			Msg("worker: sweep finished")
		return
	}

	if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
		return
	}
	logger.Info().Msg("worker: stopped")
}
