package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicdesk/queue-service/internal/audit"
	"clinicdesk/queue-service/internal/config"
	"clinicdesk/queue-service/internal/httpapi"
	"clinicdesk/queue-service/internal/queue"
	"clinicdesk/queue-service/internal/settings"
	"clinicdesk/queue-service/internal/store/postgres"
	redisstore "clinicdesk/queue-service/internal/store/redis"
	"clinicdesk/queue-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "queue-service"

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file (overrides QUEUE_CONFIG)")
	port := pflag.String("port", "", "listen port (overrides PORT)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("queue-service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	storeOptions := postgres.Options{StatementTimeout: cfg.StoreTimeout}
	st := postgres.NewStore(pool, storeOptions)
	directory := postgres.NewDirectory(pool, storeOptions)

	sequencer, closeSequencer, err := buildSequencer(ctx, cfg, st)
	if err != nil {
		return err
	}
	defer closeSequencer()

	auditSink, history, closeAudit, err := buildAuditSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	var clinicSettings queue.ClinicSettings = directory
	if cfg.ClinicSettingsFile != "" {
		file, err := settings.Load(cfg.ClinicSettingsFile)
		if err != nil {
			return fmt.Errorf("clinic settings: %w", err)
		}
		clinicSettings = file
	}

	service := queue.NewService(queue.Dependencies{
		Store:        st,
		Sequencer:    sequencer,
		Patients:     directory,
		Appointments: directory,
		Settings:     clinicSettings,
		Audit:        auditSink,
	}, queue.Options{
		DefaultPrefix: cfg.DefaultTicketPrefix,
		Location:      cfg.Location(),
		Logger:        logger,
	})

	handler := httpapi.NewHandler(service, httpapi.Options{Health: st.Ping, History: history, Logger: logger})
	authenticator := httpapi.NewAuthenticator(cfg.JWTSecret)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		ClinicPerMinute: cfg.ClinicRateLimitPerMinute,
		ClinicBurst:     cfg.ClinicRateLimitBurst,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(authenticator.Middleware(handler.Routes()))), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sweeper := queue.NewNoShowSweeper(service, cfg.NoShowGrace, cfg.NoShowBatchSize)
	go sweeper.Run(ctx, cfg.NoShowInterval)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("queue-service listening", "addr", server.Addr, "ticket_sequencer", cfg.TicketSequencer, "audit_sink", cfg.AuditSink)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}

func buildSequencer(ctx context.Context, cfg config.Config, st *postgres.Store) (queue.TicketSequencer, func(), error) {
	switch cfg.TicketSequencer {
	case config.SequencerRedis:
		client, err := redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewSequencer(client, 0), func() { _ = client.Close() }, nil
	case config.SequencerCount:
		return queue.CountSequencer{Counter: st}, func() {}, nil
	default:
		return st, func() {}, nil
	}
}

// buildAuditSink returns a nil history for sinks that do not persist events.
func buildAuditSink(cfg config.Config, logger *slog.Logger) (queue.AuditSink, httpapi.AuditHistory, func(), error) {
	if cfg.AuditSink == config.AuditSinkLog {
		return audit.NewLogSink(logger), nil, func() {}, nil
	}
	db, err := audit.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("audit db: %w", err)
	}
	sink := audit.NewSQLSink(db)
	return sink, sink, func() { closeDB(db, logger) }, nil
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("audit db close", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
