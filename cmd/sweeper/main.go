// Package main is a one-shot runner for the claim expiration sweep, intended
// for cron or manual operator use alongside the in-process daily schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/keepsakehq/keepsake/internal/audit"
	"github.com/keepsakehq/keepsake/internal/claim"
	"github.com/keepsakehq/keepsake/internal/config"
	"github.com/keepsakehq/keepsake/internal/db"
	"github.com/keepsakehq/keepsake/internal/middleware"
	"github.com/keepsakehq/keepsake/internal/sweeper"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	timeout := flag.Duration("timeout", sweeper.DefaultSweepTimeout, "maximum sweep duration")
	flag.Parse()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	sweep := sweeper.New(sweeper.Config{
		ClaimTTL: time.Duration(cfg.ClaimTTLHours) * time.Hour,
		Logger:   logger,
	}, claim.NewPostgresStore(conn, logger), audit.NewPostgresSink(conn, logger))

	result, err := sweep.SweepOnce(ctx, time.Now())
	if err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}

	logger.Info("sweep finished",
		"matched", result.Matched,
		"expired", result.Expired,
		"audit_failures", result.AuditFailures)
}
