// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/httpapi"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values use their default implementations.
type ServeDeps struct {
	// ConfigLoader loads the service configuration.
	// Default: config.Load with the --config file and the command flags.
	ConfigLoader func() (config.Config, error)

	// PoolFactory opens the database connection pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, databaseURL string, logger *slog.Logger) (Pool, error)

	// MigratorFactory creates the schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (SchemaMigrator, error)

	// MailerFactory creates the recovery mailer.
	// Default: mail.NewSMTPMailer, or mail.NewLogMailer without SMTP config.
	MailerFactory func(cfg config.Config, logger *slog.Logger) (auth.Mailer, error)

	// APIServerFactory creates the HTTP API server.
	// Default: httpapi.NewServer
	APIServerFactory func(cfg httpapi.Config, authSvc httpapi.AuthService, recovery httpapi.RecoveryService, metrics *observability.Metrics, logger *slog.Logger) APIServer

	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

// Pool is the database handle the serve command wires into the repositories.
// *pgxpool.Pool satisfies it, as does pgxmock in tests.
type Pool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// SchemaMigrator wraps the store.Migrator methods the CLI uses.
type SchemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// APIServer wraps the httpapi.Server lifecycle.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer wraps the observability.Server lifecycle.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Compile-time checks that the real implementations satisfy the seams.
var (
	_ SchemaMigrator      = (*store.Migrator)(nil)
	_ APIServer           = (*httpapi.Server)(nil)
	_ ObservabilityServer = (*observability.Server)(nil)
)

// shutdownTimeout bounds graceful shutdown of the servers.
const shutdownTimeout = 5 * time.Second
