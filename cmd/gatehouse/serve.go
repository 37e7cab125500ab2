// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/httpapi"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/mail"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/store"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication service",
		Long: `Start the HTTP authentication service. Runs pending database
migrations, then serves the API and the observability endpoints until
interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	// Flag names mirror config keys so they merge through the config loader.
	cmd.Flags().String("listen", ":8080", "HTTP API listen address")
	cmd.Flags().String("metrics_listen", "127.0.0.1:9100", "metrics/health HTTP address")
	cmd.Flags().String("log.level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().String("log.format", "json", "log format (json or text)")
	cmd.Flags().Bool("development", false, "development mode (log-only mail, verbose errors)")
	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.ConfigLoader == nil {
		deps.ConfigLoader = func() (config.Config, error) {
			return config.Load(configPath(), cmd.Flags())
		}
	}
	if deps.PoolFactory == nil {
		deps.PoolFactory = func(ctx context.Context, databaseURL string, logger *slog.Logger) (Pool, error) {
			pool, err := store.Connect(ctx, databaseURL, logger)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string) (SchemaMigrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if deps.MailerFactory == nil {
		deps.MailerFactory = newMailer
	}
	if deps.APIServerFactory == nil {
		deps.APIServerFactory = func(cfg httpapi.Config, authSvc httpapi.AuthService, recovery httpapi.RecoveryService, metrics *observability.Metrics, logger *slog.Logger) APIServer {
			return httpapi.NewServer(cfg, authSvc, recovery, metrics, logger)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}

	cfg, err := deps.ConfigLoader()
	if err != nil {
		return err
	}

	logger := logging.Setup("gatehouse", version, logging.Options{
		Format: cfg.Log.Format,
		Level:  logLevel(cfg.Log.Level),
	})
	slog.SetDefault(logger)

	logger.Info("starting gatehouse",
		"listen", cfg.Listen,
		"metrics_listen", cfg.MetricsListen,
		"development", cfg.Development,
	)

	migrator, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return err
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("error closing migrator", "error", err)
	}
	logger.Info("database schema up to date")

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	accounts := postgres.NewAccountRepository(pool)
	sessions := postgres.NewSessionRepository(pool)
	tokens := postgres.NewResetTokenRepository(pool)

	hasher := auth.NewArgon2idHasher()

	mailer, err := deps.MailerFactory(cfg, logger)
	if err != nil {
		return err
	}

	authSvc := auth.NewService(accounts, sessions, hasher, logger)
	recoverySvc := auth.NewRecoveryService(accounts, tokens, sessions, hasher, mailer, logger)

	sweeper := auth.NewSweeper(sessions, tokens, auth.DefaultSweepInterval, logger)
	sweeper.Start()
	defer sweeper.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obsServer := deps.ObservabilityServerFactory(cfg.MetricsListen, func() bool {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer pingCancel()
		return pool.Ping(pingCtx) == nil
	})
	obsErrChan, err := obsServer.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, obsErrChan, "observability")

	apiServer := deps.APIServerFactory(httpapi.Config{
		Addr:        cfg.Listen,
		Development: cfg.Development,
		General: httpapi.RateLimiterConfig{
			Max:    cfg.RateLimit.Max,
			Window: time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute,
		},
		Login: httpapi.RateLimiterConfig{
			Max:    cfg.RateLimit.LoginMax,
			Window: time.Duration(cfg.RateLimit.LoginWindowMinutes) * time.Minute,
		},
	}, authSvc, recoverySvc, obsServer.Metrics(), logger)

	apiErrChan, err := apiServer.Start()
	if err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if stopErr := obsServer.Stop(stopCtx); stopErr != nil {
			logger.Warn("failed to stop observability server during cleanup", "error", stopErr)
		}
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Gatehouse started")
	logger.Info("gatehouse ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if err := obsServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newMailer builds the configured mailer. Development mode and missing SMTP
// settings both fall back to the log-only mailer.
func newMailer(cfg config.Config, logger *slog.Logger) (auth.Mailer, error) {
	if cfg.Development || !cfg.MailEnabled() {
		return mail.NewLogMailer(logger), nil
	}
	return mail.NewSMTPMailer(mail.Config{
		Addr:         cfg.SMTP.Addr,
		Username:     cfg.SMTP.Username,
		Password:     cfg.SMTP.Password,
		From:         cfg.SMTP.From,
		ResetBaseURL: cfg.SMTP.ResetBaseURL,
	})
}

func logLevel(level string) slog.Leveler {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// monitorServerErrors cancels the run context when a server reports a fatal
// error after startup.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
