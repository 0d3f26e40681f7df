package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"renderbot/internal/engine"
	"renderbot/internal/http/handlers"
	"renderbot/internal/http/httpapi"
	"renderbot/internal/i18n"
	"renderbot/internal/infra"
	"renderbot/internal/pipeline"
	"renderbot/internal/preset"
	"renderbot/internal/queue"
	"renderbot/internal/storage"
	"renderbot/internal/workflow"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var prefs *storage.PrefsRepo
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("renderbot: db connection failed")
		}
		defer pool.Close()
		prefs = storage.NewPrefsRepo(pool, cfg.DefaultLocale)
		if err := prefs.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("renderbot: prefs schema setup failed")
		}
	} else {
		logger.Warn().Msg("renderbot: DATABASE_URL not set, user preferences are in-memory defaults")
	}

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("renderbot: failed to configure storage")
	}

	client, err := engine.NewClient(engine.Options{
		BaseURL:    cfg.EngineBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.EngineHTTPTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("renderbot: failed to configure engine client")
	}
	if !client.CheckHealth(ctx) {
		logger.Warn().Str("url", cfg.EngineBaseURL).Msg("renderbot: engine not reachable at startup, continuing anyway")
	}

	presets, err := loadPresets(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("renderbot: invalid preset table")
	}

	loader := workflow.NewLoader(cfg.WorkflowsDir, logger)
	if len(loader.Available()) == 0 {
		logger.Warn().Str("dir", cfg.WorkflowsDir).Msg("renderbot: no workflow templates indexed")
	}

	pipe, err := pipeline.New(pipeline.Options{
		Engine:       client,
		Loader:       loader,
		Presets:      presets,
		Store:        store,
		Prefs:        prefs,
		Catalog:      i18n.NewCatalog(cfg.DefaultLocale),
		Logger:       logger,
		Queue:        queue.Config{Concurrency: cfg.QueueConcurrency, Backlog: cfg.QueueBacklog, Retention: cfg.QueueRetention},
		Retries:      cfg.JobRetries,
		ImageTimeout: cfg.ImageTimeout,
		VideoTimeout: cfg.VideoTimeout,
		BackoffBase:  cfg.BackoffBase,
		BackoffMax:   cfg.BackoffMax,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("renderbot: failed to assemble pipeline")
	}
	pipe.Start(ctx)
	defer pipe.Stop()

	app := handlers.NewApp(pipe, client, logger)
	srv := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	logger.Info().Str("port", cfg.Port).Msg("renderbot: api listening")
	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("renderbot: http server stopped")
	}
	logger.Info().Msg("renderbot: shutting down")
}

func loadPresets(cfg *infra.Config, logger infra.Logger) (*preset.Controller, error) {
	if cfg.PresetsPath == "" {
		return preset.NewController(nil)
	}
	ctrl, err := preset.Load(cfg.PresetsPath)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", cfg.PresetsPath).Int("tiers", len(ctrl.Presets())).Msg("renderbot: presets loaded")
	return ctrl, nil
}
