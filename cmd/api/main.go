// Package main is the entry point for the claim service API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/keepsakehq/keepsake/internal/api"
	"github.com/keepsakehq/keepsake/internal/audit"
	"github.com/keepsakehq/keepsake/internal/claim"
	"github.com/keepsakehq/keepsake/internal/config"
	"github.com/keepsakehq/keepsake/internal/db"
	"github.com/keepsakehq/keepsake/internal/health"
	"github.com/keepsakehq/keepsake/internal/idempotency"
	"github.com/keepsakehq/keepsake/internal/jobs"
	"github.com/keepsakehq/keepsake/internal/mail"
	"github.com/keepsakehq/keepsake/internal/memory"
	"github.com/keepsakehq/keepsake/internal/middleware"
	"github.com/keepsakehq/keepsake/internal/session"
	"github.com/keepsakehq/keepsake/internal/sweeper"
	"github.com/keepsakehq/keepsake/internal/tenant"
	"github.com/keepsakehq/keepsake/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Keepsake Claim Service API")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	ctx := context.Background()

	conn, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Tracing
	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "keepsake-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register HTTP metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Revocation list: Redis when configured, in-memory otherwise.
	sessionTTL := time.Duration(cfg.SessionTTLHours) * time.Hour
	var revocations session.RevocationList
	healthCheckers := map[string]health.Checker{
		"database": health.NewDBChecker(conn),
	}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		revocations = session.NewRedisRevocationList(redisClient, sessionTTL)
		healthCheckers["redis"] = health.NewRedisChecker(redisClient)
	} else {
		logger.Warn("REDIS_ADDR not set; using in-memory revocation list")
		revocations = session.NewInMemoryRevocationList()
	}

	// Domain wiring
	auditSink := audit.NewPostgresSink(conn, logger)
	claimStore := claim.NewPostgresStore(conn, logger)
	memories := memory.NewPostgresRepository(conn)
	resolver := tenant.NewResolver(tenant.Config{
		BaseDomain: cfg.BaseDomain,
		Origins:    cfg.TenantOrigins,
	})

	processor := claim.NewProcessor(claim.ProcessorConfig{
		MinClaimKeyLength: cfg.MinClaimKeyLength,
		Logger:            logger,
	}, claimStore, memories, resolver, auditSink)

	inviter := claim.NewInviter(claim.InviterConfig{
		BaseDomain: cfg.BaseDomain,
		Logger:     logger,
	}, claimStore, mail.NewSlogChannel(logger))

	identityIssuer := session.NewJWTIdentityIssuer(cfg.IdentitySecret, 0)
	authority := session.NewAuthority(session.AuthorityConfig{
		Secret:     cfg.JWTSecret,
		SessionTTL: sessionTTL,
		Logger:     logger,
	}, identityIssuer, revocations, auditSink)

	// Expiration sweeper
	location, err := time.LoadLocation(cfg.SweepTimezone)
	if err != nil {
		logger.Error("invalid sweep timezone", "timezone", cfg.SweepTimezone, "error", err)
		os.Exit(1)
	}
	sweep := sweeper.New(sweeper.Config{
		ClaimTTL:   time.Duration(cfg.ClaimTTLHours) * time.Hour,
		RunHour:    cfg.SweepHour,
		Location:   location,
		Logger:     logger,
		JobMetrics: jobMetrics,
	}, claimStore, auditSink)
	if err := sweep.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	// Idempotency keys for invite creation, with periodic cleanup.
	idempotencyRepo := idempotency.NewInMemoryRepository()
	cleanupStop := make(chan struct{})
	go idempotency.RunPeriodicCleanup(idempotencyRepo, time.Hour, idempotency.DefaultExpiry, logger, cleanupStop)

	// Handlers and routes
	claimHandler := api.NewClaimHandler(processor, logger)
	sessionHandler := api.NewSessionHandler(authority, logger)
	inviteHandler := api.NewInviteHandler(inviter, logger)
	auditHandler := api.NewAuditHandler(auditSink, logger)
	healthHandler := api.NewHealthHandler(healthCheckers)

	authRequired := middleware.Auth(authority, httpMetrics)
	idempotent := middleware.Idempotency(idempotencyRepo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /ready", healthHandler.Ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /v1/sessions", sessionHandler.IssueSession)
	mux.HandleFunc("POST /v1/sessions/verify", sessionHandler.VerifySession)
	mux.HandleFunc("DELETE /v1/sessions", sessionHandler.RevokeSession)
	mux.Handle("POST /v1/claims/{id}/process", authRequired(http.HandlerFunc(claimHandler.ProcessClaim)))
	mux.Handle("POST /v1/invites", authRequired(idempotent(http.HandlerFunc(inviteHandler.CreateInvite))))
	mux.Handle("GET /v1/audit/export", authRequired(http.HandlerFunc(auditHandler.Export)))

	// Middleware chain: RequestID -> Tracing -> HTTPMetrics -> Logging
	var handler http.Handler = mux
	handler = middleware.Logging(logger)(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Tracing("keepsake-api")(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sweep.Stop()
	close(cleanupStop)

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracingProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
