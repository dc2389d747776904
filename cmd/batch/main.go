// Command batch periodically summarises archived conversations into
// Postgres.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"line-relay/config"
	"line-relay/services"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const connectAttempts = 3

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a config file")
	once := pflag.Bool("once", false, "run a single batch and exit")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootstrap := zerolog.New(os.Stderr)
		bootstrap.Fatal().Err(err).Msg("failed to load config")
	}
	logger := config.NewLogger(cfg.Log, os.Stdout).With().Str("cmd", "batch").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("batch stopped with error")
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, logger zerolog.Logger) error {
	if cfg.Batch.PostgresDSN == "" {
		return errors.New("batch.postgres_dsn is required")
	}

	db, err := services.NewDynamoDBClient(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	archive := services.NewConversationArchive(db, cfg.Archive.Table, logger)

	store, err := openSummaryStore(ctx, cfg.Batch.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	generator, err := services.NewGenerator(cfg.LLM)
	if err != nil {
		return err
	}
	var embedder services.Embedder
	if cfg.Batch.EmbeddingModel != "" {
		embedder = services.NewOpenAIEmbedder(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.Batch.EmbeddingModel)
	}

	processor := services.NewBatchProcessor(archive, generator, embedder, store, cfg.Batch.Lookback, cfg.Batch.Concurrency, logger)

	logger.Info().Dur("interval", cfg.Batch.Interval).Dur("lookback", cfg.Batch.Lookback).Msg("starting batch processing")
	if _, err := processor.ProcessConversations(ctx); err != nil {
		logger.Error().Err(err).Msg("initial batch failed")
	}
	if once {
		return nil
	}

	ticker := time.NewTicker(cfg.Batch.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("batch processing stopped")
			return nil
		case <-ticker.C:
			if _, err := processor.ProcessConversations(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduled batch failed")
			}
		}
	}
}

func openSummaryStore(ctx context.Context, dsn string, logger zerolog.Logger) (*services.SummaryStore, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		store, err := services.OpenSummaryStore(ctx, dsn)
		if err == nil {
			return store, nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to connect to postgres")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, lastErr
}
