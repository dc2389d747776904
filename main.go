package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"line-relay/config"
	"line-relay/controllers"
	"line-relay/routes"
	"line-relay/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a config file (default: ./config.yaml if present)")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootstrap := zerolog.New(os.Stderr)
		bootstrap.Fatal().Err(err).Msg("failed to load config")
	}
	logger := config.NewLogger(cfg.Log, os.Stdout)
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	generator, err := services.NewGenerator(cfg.LLM)
	if err != nil {
		return err
	}

	store := services.NewConversationStore(cfg.Memory.Window, cfg.Memory.MaxConversations, logger)
	prompt := services.NewPromptBuilder(cfg.Prompt.Language, cfg.Prompt.LatestMarker)
	responder := services.NewResponseGenerator(store, prompt, generator, logger)

	var transcripts controllers.TranscriptReader
	if cfg.Archive.Enabled {
		db, err := services.NewDynamoDBClient(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		archive := services.NewConversationArchive(db, cfg.Archive.Table, logger)
		if err := archive.EnsureTable(ctx); err != nil {
			return err
		}
		responder.WithArchiver(archive)
		transcripts = archive
		logger.Info().Str("table", cfg.Archive.Table).Msg("transcript archive enabled")
	}

	if cfg.Line.AccessToken == "" {
		logger.Warn().Msg("LINE access token is empty, webhook replies will be rejected")
	}
	line := services.NewLineClient(cfg.Line)

	router := routes.SetupRouter(routes.Handlers{
		Webhook: controllers.NewWebhookController(responder, line, logger),
		Chat:    controllers.NewChatController(responder, store, transcripts, logger),
	}, logger)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("provider", cfg.LLM.Provider).
			Str("model", cfg.LLM.Model).
			Int("window", store.Window()).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
