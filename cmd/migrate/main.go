package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"adstudio/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var list bool
	flag.BoolVar(&list, "list", false, "print embedded migration versions and exit")
	flag.Parse()

	if list {
		versions, err := infra.MigrationVersions()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, v := range versions {
			fmt.Println(v)
		}
		return
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	logger := infra.NewLogger("cli").With().Str("cmd", "migrate").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := infra.Migrate(ctx, dbURL, logger); err != nil {
		logger.Error().Err(err).Msg("migration failed")
		cancel()
		os.Exit(1)
	}
	logger.Info().Msg("migrations applied")
}
