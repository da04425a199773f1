package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/soundhoard/soundhoard/internal/blocklist"
	"github.com/soundhoard/soundhoard/internal/catalog"
	"github.com/soundhoard/soundhoard/internal/config"
	"github.com/soundhoard/soundhoard/internal/dispatch"
	"github.com/soundhoard/soundhoard/internal/download"
	"github.com/soundhoard/soundhoard/internal/http/rest"
	"github.com/soundhoard/soundhoard/internal/library"
	"github.com/soundhoard/soundhoard/internal/logctx"
	"github.com/soundhoard/soundhoard/internal/notifier"
	"github.com/soundhoard/soundhoard/internal/provider"
	"github.com/soundhoard/soundhoard/internal/provider/slskd"
	"github.com/soundhoard/soundhoard/internal/quality"
	"github.com/soundhoard/soundhoard/internal/retry"
	"github.com/soundhoard/soundhoard/internal/storage"
	"github.com/soundhoard/soundhoard/internal/storage/sqlite"
	"github.com/soundhoard/soundhoard/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("soundhoard starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	downloadRepo := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Start Blocklist and Deduplication Index
	bl, err := blocklist.Load(ctx, sqlite.NewBlocklistRepository(database))
	if err != nil {
		return fmt.Errorf("failed to load blocklist: %w", err)
	}

	index := catalog.NewIndex(sqlite.NewDedupRepository(database), cfg.Quality.DedupThreshold)

	// =========================================================================
	// Start Provider Gateway
	gateway, err := buildSearchGateway(cfg)
	if err != nil {
		return fmt.Errorf("failed to build search gateway: %w", err)
	}

	gateway = provider.NewInstrumentedGateway(gateway, tel, cfg.Provider)

	// =========================================================================
	// Start Import Pipeline and Retry Scheduler
	pipeline := library.NewPipeline(
		cfg.LibraryDir,
		cfg.NamingTemplate,
		cfg.Import.SettleDuration,
		cfg.Import.MaxSettleWaits,
		nil,
		nil,
	)

	scheduler := retry.NewScheduler(retry.Options{
		MaxAttempts:         cfg.Retry.MaxAttempts,
		BaseDelay:           cfg.Retry.BaseDelay,
		MaxDelay:            cfg.Retry.MaxDelay,
		NoResultsMultiplier: cfg.Retry.NoResultsMultiplier,
	}, downloadRepo)

	// =========================================================================
	// Start Dispatcher
	policy := quality.NewPolicy(cfg.Quality.MinLossyBitrate, cfg.Quality.MatchThreshold)

	dispatcher := dispatch.NewDispatcher(
		downloadRepo,
		gateway,
		policy,
		index,
		bl,
		pipeline,
		scheduler,
		tel,
		dispatch.Options{
			InstanceID:          dispatch.GenerateInstanceID(),
			MaxParallel:         cfg.MaxParallel,
			ClaimInterval:       cfg.ClaimInterval,
			SearchTimeout:       cfg.SearchTimeout,
			PollInterval:        cfg.PollInterval,
			TransferTimeout:     cfg.TransferTimeout,
			MaxCandidateRetries: cfg.Retry.MaxCandidateRetries,
			BlocklistTTL:        cfg.Blocklist.EntryTTL,
			MaxFileSize:         cfg.Quality.MaxFileSize,
		},
	)
	defer dispatcher.Close()

	go dispatcher.Run(ctx)

	// =========================================================================
	// Start Notification
	setupNotifications(ctx, dispatcher, cfg)

	// =========================================================================
	// Start Blocklist Sweep
	setupBlocklistSweep(ctx, bl, cfg.Blocklist.SweepInterval)

	// =========================================================================
	// Start API Service
	defaultConstraint, err := constraintFromConfig(cfg)
	if err != nil {
		return err
	}

	service := dispatch.NewService(downloadRepo, index, defaultConstraint, cfg.Retry.MaxAttempts, 20)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, service, downloadRepo, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"library_dir", cfg.LibraryDir,
		"provider", cfg.Provider,
		"claim_interval", cfg.ClaimInterval.String(),
	)

	// =========================================================================
	// Start Main Loop
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}

		return nil
	}
}

func setupNotifications(ctx context.Context, dispatcher *dispatch.Dispatcher, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhook != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhook}
	}

	go func() {
		for dl := range dispatcher.OnCompleted {
			logger.Info("download finished",
				"download_id", dl.ID,
				"artist", dl.Track.Artist,
				"title", dl.Track.Title,
				"path", dl.ImportedPath)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(notifier.CompletedMessage(dl)); notifyErr != nil {
				logger.Error("failed to send notification", "download_id", dl.ID, "err", notifyErr)
			}
		}
	}()

	go func() {
		for dl := range dispatcher.OnFailed {
			logger.Error("download failed permanently",
				"download_id", dl.ID,
				"artist", dl.Track.Artist,
				"title", dl.Track.Title)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(notifier.FailedMessage(dl)); notifyErr != nil {
				logger.Error("failed to send notification", "download_id", dl.ID, "err", notifyErr)
			}
		}
	}()
}

// This is an abstract factory for the search gateway.
func buildSearchGateway(cfg *config.Config) (provider.SearchGateway, error) {
	switch cfg.Provider {
	case "slskd":
		return slskd.NewClient(cfg.SlskdBaseURL, cfg.SlskdAPIKey, cfg.StagingDir, cfg.SlskdTimeout), nil
	}

	return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
}

func constraintFromConfig(cfg *config.Config) (quality.Constraint, error) {
	switch level := quality.Level(cfg.Quality.Profile); level {
	case quality.Best, quality.Good, quality.Any:
		return quality.Constraint{Level: level}, nil
	default:
		return quality.Constraint{}, fmt.Errorf("invalid quality profile: %s", cfg.Quality.Profile)
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	service *dispatch.Service,
	repo storage.DownloadRepository,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	queueHandler := rest.NewQueueHandler(cfg.API.Username, cfg.API.Password, service)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/", queueHandler.Routes())
	r.Get("/metrics", tel.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if _, err := repo.ListDownloads(req.Context(), download.Filter{Limit: 1}); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "soundhoard"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupBlocklistSweep(ctx context.Context, bl *blocklist.Blocklist, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("blocklist sweep shutting down.")

				return
			case <-ticker.C:
				if err := bl.Sweep(ctx, time.Now()); err != nil {
					logger.Error("failed to sweep blocklist", "err", err)
				}
			}
		}
	}()
}
