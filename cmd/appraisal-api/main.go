// Package main is the entry point for the appraisal-api server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/parcelpulse/appraisal-api/internal/config"
	"github.com/parcelpulse/appraisal-api/internal/crypto"
	"github.com/parcelpulse/appraisal-api/internal/database"
	"github.com/parcelpulse/appraisal-api/internal/gate"
	"github.com/parcelpulse/appraisal-api/internal/http/handlers"
	"github.com/parcelpulse/appraisal-api/internal/http/mw"
	"github.com/parcelpulse/appraisal-api/internal/llm"
	"github.com/parcelpulse/appraisal-api/internal/logging"
	"github.com/parcelpulse/appraisal-api/internal/metrics"
	"github.com/parcelpulse/appraisal-api/internal/queue"
	"github.com/parcelpulse/appraisal-api/internal/repository"
	"github.com/parcelpulse/appraisal-api/internal/scheduler"
	"github.com/parcelpulse/appraisal-api/internal/service"
	"github.com/parcelpulse/appraisal-api/internal/token"
	"github.com/parcelpulse/appraisal-api/internal/translator"
	"github.com/parcelpulse/appraisal-api/internal/upstream"
	"github.com/parcelpulse/appraisal-api/internal/version"
	"github.com/parcelpulse/appraisal-api/internal/worker"
)

func main() {
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting appraisal-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	repos := repository.NewRepositories(db)
	broker := queue.New(db, cfg.MaxAttempts, cfg.BackoffBase, logger)

	// Token manager: restore the persisted token if one survives decryption,
	// then keep it fresh in the background. Persistence needs an encryption
	// key; without one the token lives in memory only.
	var tokenOpts []token.Option
	if len(cfg.EncryptionKey) > 0 {
		encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			logger.Error("failed to create encryptor", "error", err)
			os.Exit(1)
		}
		tokenOpts = append(tokenOpts, token.WithPersistence(repos.Token, encryptor))
	} else {
		logger.Warn("no encryption key configured, token persistence disabled")
	}
	acquirer := token.NewCredentialsAcquirer(cfg.TokenAuthURL, cfg.TokenUsername, cfg.TokenPassword, cfg.TokenAcquireTimeout)
	tokens := token.NewManager(acquirer, cfg.TokenRefreshInterval, cfg.TokenJitterPct, logger, tokenOpts...)
	if err := tokens.LoadPersisted(context.Background()); err != nil {
		logger.Warn("failed to load persisted token", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tokens.StartAutoRefresh(ctx)

	// Keep the queue depth gauge current.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				counts, err := broker.Counts(ctx)
				if err != nil {
					continue
				}
				for _, state := range []queue.State{queue.StateWaiting, queue.StateActive, queue.StateDelayed, queue.StateCompleted, queue.StateFailed} {
					metrics.QueueDepth.WithLabelValues(string(state)).Set(float64(counts[state]))
				}
			}
		}
	}()

	g := gate.New(cfg.MinSpacing, broker, logger)
	scrapeSvc := service.NewScrapeService(repos.Job, broker, g, cfg.UpstreamYear, logger)

	var llmClient *llm.Client
	if cfg.LLMAPIKey != "" || cfg.LLMProvider == llm.ProviderOllama {
		llmClient = llm.NewClient(llm.Config{
			Provider: cfg.LLMProvider,
			APIKey:   cfg.LLMAPIKey,
			Model:    cfg.LLMModel,
			BaseURL:  cfg.LLMBaseURL,
			Timeout:  cfg.LLMTimeout,
		}, logger)
	} else {
		logger.Warn("no LLM configured, property queries fall back to text search")
	}
	var completer translator.Completer
	if llmClient != nil {
		completer = llmClient
	}
	querySvc := service.NewQueryService(translator.New(completer, logger), repos.Property, logger)
	monitorSvc := service.NewMonitorService(repos.Monitor, logger)

	var exportSvc *service.ExportService
	if cfg.StorageEnabled {
		exportSvc, err = service.NewExportService(ctx, service.StorageConfig{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			Region:    cfg.StorageRegion,
		}, repos.Property, logger)
		if err != nil {
			logger.Error("failed to initialize object storage", "error", err)
			os.Exit(1)
		}
		logger.Info("object storage enabled", "bucket", cfg.StorageBucket)
	}

	fetcher := upstream.NewClient(cfg.UpstreamBaseURL, cfg.PageSizes, cfg.RequestTimeout, logger)
	pool := worker.New(broker, repos.Job, repos.Property, fetcher, tokens,
		cfg.Workers, time.Second, cfg.JobTimeout, logger)
	pool.Start(ctx)

	sched := scheduler.New(repos.Monitor, scrapeSvc, cfg.SchedulerInterval, cfg.UpstreamYear, logger)
	sched.Start(ctx)

	var cleanupSvc *service.CleanupService
	if cfg.CleanupEnabled {
		cleanupSvc = service.NewCleanupService(repos.Job, broker, cfg.CleanupMaxAge, cfg.CleanupInterval, logger)
		cleanupSvc.Start(ctx)
		logger.Info("cleanup service started",
			"max_age", cfg.CleanupMaxAge.String(),
			"interval", cfg.CleanupInterval.String(),
		)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	router.Use(middleware.RequestSize(1 * 1024 * 1024))
	router.Use(httprate.LimitByIP(100, time.Minute))

	systemHandler := handlers.NewSystemHandler(db, broker, tokens)

	// Metrics and probes stay outside auth so Prometheus and orchestration
	// health checks keep working when JWT_SECRET is set.
	router.Handle("/metrics", metrics.Handler())
	probeConfig := huma.DefaultConfig("probes", v.Version)
	probeConfig.OpenAPIPath = ""
	probeConfig.DocsPath = ""
	probeConfig.SchemasPath = ""
	handlers.RegisterProbes(humachi.New(router, probeConfig), systemHandler)

	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(cfg.JWTSecret))

		humaConfig := huma.DefaultConfig("Appraisal API", v.Version)
		humaConfig.Info.Description = "County appraisal roll scraping engine with natural-language property queries."
		api := humachi.New(r, humaConfig)
		handlers.Register(api, handlers.New(scrapeSvc, querySvc, monitorSvc, exportSvc, systemHandler))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		cancel()
		sched.Stop()
		pool.Stop()
		if cleanupSvc != nil {
			cleanupSvc.Stop()
		}
		tokens.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
