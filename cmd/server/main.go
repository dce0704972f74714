package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/api"
	"github.com/owenfields/lectern/internal/circuitbreaker"
	"github.com/owenfields/lectern/internal/config"
	"github.com/owenfields/lectern/internal/db"
	"github.com/owenfields/lectern/internal/dispatch"
	"github.com/owenfields/lectern/internal/metrics"
	"github.com/owenfields/lectern/internal/observ"
	"github.com/owenfields/lectern/internal/redis"
	"github.com/owenfields/lectern/internal/reminder"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting lectern reminder pipeline",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("email_provider", cfg.EmailProvider),
	)

	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs the trigger run lease; the pipeline stays correct
	// without it, so failure to connect only degrades overlap handling.
	var lease reminder.Lease
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, trigger lease disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		lease = redis.NewRunLease(redisClient, logger)
		defer redisClient.Close()
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	provider, err := buildProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(provider.Name()), logger)
	protected := circuitbreaker.NewProtectedProvider(provider, breaker, logger)

	windows := reminder.Windows{
		Imminent: time.Duration(cfg.ImminentWindowMinutes) * time.Minute,
		Location: location,
	}
	selector := reminder.NewSelector(repo, windows, logger)
	ledger := reminder.NewLedger(repo, location, logger)
	runner := reminder.NewRunner(selector, ledger, lease, logger)

	dispatcher := dispatch.New(repo, protected, dispatch.Config{
		BatchSize:    cfg.DispatchBatchSize,
		Concurrency:  cfg.DispatchConcurrency,
		SendTimeout:  time.Duration(cfg.SendTimeoutSeconds) * time.Second,
		ClaimExpiry:  time.Duration(cfg.ClaimExpiryMinutes) * time.Minute,
		PollInterval: time.Duration(cfg.DispatchPollSeconds) * time.Second,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go dispatcher.Start(workerCtx)
	logger.Info("background dispatcher started")

	if cfg.TriggerPollSeconds > 0 {
		go runner.Start(workerCtx, time.Duration(cfg.TriggerPollSeconds)*time.Second)
		logger.Info("internal trigger runner started",
			zap.Int("interval_seconds", cfg.TriggerPollSeconds),
		)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, repo, runner, dispatcher)
	r.Route("/v1", handler.Routes)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		workerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildProvider selects the email provider implementation from config.
func buildProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dispatch.Provider, error) {
	switch cfg.EmailProvider {
	case config.ProviderEmailJS:
		return dispatch.NewEmailJSProvider(dispatch.EmailJSConfig{
			BaseURL:    cfg.EmailJSAPIURL,
			ServiceID:  cfg.EmailJSServiceID,
			TemplateID: cfg.EmailJSTemplateID,
			PublicKey:  cfg.EmailJSPublicKey,
			Timeout:    time.Duration(cfg.SendTimeoutSeconds) * time.Second,
		}, logger), nil
	case config.ProviderSES:
		provider, err := dispatch.NewSESProvider(ctx, dispatch.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return provider, nil
	default:
		return dispatch.NewLogProvider(logger), nil
	}
}
