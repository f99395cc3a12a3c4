// Command spot-import loads spots from a YAML or JSON file into the content
// store and drops the cached spot list so servers pick up the change.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dailyspot/internal/config"
	"github.com/dailyspot/internal/content"
	"github.com/dailyspot/internal/postgres"
	"github.com/dailyspot/internal/redis"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	file := flag.String("file", "-", "Spot document to import (- for stdin)")
	dryRun := flag.Bool("dry-run", false, "Validate the document without writing")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	var in io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			logger.Error("failed to open spot document", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	spots, err := content.DecodeSpots(in)
	if err != nil {
		logger.Error("invalid spot document", "error", err)
		os.Exit(1)
	}
	logger.Info("spot document parsed", "spots", len(spots))
	if len(spots) == 0 || *dryRun {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if err := repo.UpsertSpots(ctx, spots); err != nil {
		logger.Error("failed to import spots", "error", err)
		os.Exit(1)
	}
	logger.Info("spots imported", "spots", len(spots))

	// A stale cache only delays the change by the cache TTL, so a Redis
	// failure is not fatal here.
	store, err := redis.NewStore(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("spot cache not invalidated", "error", err)
		return
	}
	defer store.Close()
	if err := store.InvalidateSpots(ctx); err != nil {
		logger.Warn("spot cache not invalidated", "error", err)
		return
	}
	logger.Info("spot cache invalidated")
}
