// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/gatekeep/gatekeep/internal/auth/postgres"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/notify"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the PostgreSQL pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, url string, opts store.ConnectOptions) (Pool, error)

	// MigratorFactory creates the migrator used by auto-migrate.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checker observability.ReadinessChecker) ObservabilityServer

	// RedisFactory creates the client behind the notification queue.
	// Default: redis.NewClient
	RedisFactory func(cfg config.RedisConfig) RedisClient

	// SMTPFactory creates the direct mail sender.
	// Default: notify.NewSMTPSender
	SMTPFactory func(cfg notify.SMTPConfig, recorder notify.Recorder) (notify.Sender, error)

	// ListenerFactory creates the HTTP and gRPC listeners.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// MailerDeps contains injectable dependencies for the mailer command.
type MailerDeps struct {
	// Default: redis.NewClient
	RedisFactory func(cfg config.RedisConfig) RedisClient

	// Default: notify.NewSMTPSender
	SMTPFactory func(cfg notify.SMTPConfig, recorder notify.Recorder) (notify.Sender, error)

	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checker observability.ReadinessChecker) ObservabilityServer
}

// Pool wraps the methods serve uses from *pgxpool.Pool.
type Pool interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the methods used from store.Migrator at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// RedisClient is the queue client surface, satisfied by *redis.Client.
type RedisClient interface {
	redis.Cmdable
	Close() error
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, url string, opts store.ConnectOptions) (Pool, error) {
			return store.Connect(ctx, url, opts)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = defaultObservabilityServer
	}
	if out.RedisFactory == nil {
		out.RedisFactory = defaultRedisClient
	}
	if out.SMTPFactory == nil {
		out.SMTPFactory = defaultSMTPSender
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}

func (d *MailerDeps) withDefaults() *MailerDeps {
	out := MailerDeps{}
	if d != nil {
		out = *d
	}
	if out.RedisFactory == nil {
		out.RedisFactory = defaultRedisClient
	}
	if out.SMTPFactory == nil {
		out.SMTPFactory = defaultSMTPSender
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = defaultObservabilityServer
	}
	return &out
}

func defaultObservabilityServer(addr string, checker observability.ReadinessChecker) ObservabilityServer {
	return observability.NewServer(addr, checker)
}

func defaultRedisClient(cfg config.RedisConfig) RedisClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func defaultSMTPSender(cfg notify.SMTPConfig, recorder notify.Recorder) (notify.Sender, error) {
	return notify.NewSMTPSender(cfg, recorder)
}

// smtpConfig converts the configuration section into the sender's settings.
func smtpConfig(cfg config.SMTPConfig) notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	}
}
