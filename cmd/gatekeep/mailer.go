// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/notify"
)

// mailerOptions are worker tunables that only the mailer command uses.
type mailerOptions struct {
	pollTimeout time.Duration
	maxAttempts uint64
	backoff     time.Duration
}

// NewMailerCmd creates the mailer subcommand.
func NewMailerCmd() *cobra.Command {
	opts := &mailerOptions{}

	cmd := &cobra.Command{
		Use:   "mailer",
		Short: "Deliver queued notifications over SMTP",
		Long: `Consume the Redis notification queue filled by "serve --notify=redis"
and deliver each message through the configured SMTP server. Messages that
keep failing are moved to the dead-letter list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runMailerWithDeps(ctx, cfg, opts, cmd, nil)
		},
	}

	cmd.Flags().DurationVar(&opts.pollTimeout, "poll-timeout", 5*time.Second, "how long each queue poll blocks")
	cmd.Flags().Uint64Var(&opts.maxAttempts, "max-attempts", 5, "delivery tries per message before dead-lettering")
	cmd.Flags().DurationVar(&opts.backoff, "retry-backoff", time.Second, "first delay between delivery tries")

	return cmd
}

func runMailerWithDeps(ctx context.Context, cfg *config.Config, opts *mailerOptions, cmd *cobra.Command, deps *MailerDeps) error {
	deps = deps.withDefaults()

	if err := cfg.ValidateMailer(); err != nil {
		return err
	}
	if err := setupLogging(cmd, cfg.Log); err != nil {
		return err
	}
	logger := slog.Default().With("component", "mailer")

	client := deps.RedisFactory(cfg.Notify.Redis)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("error closing redis client", "error", err)
		}
	}()

	var recorder notify.Recorder
	var obsServer ObservabilityServer
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		recorder = obsServer.Metrics()
		if _, err := obsServer.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := obsServer.Stop(stopCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	sender, err := deps.SMTPFactory(smtpConfig(cfg.Notify.SMTP), recorder)
	if err != nil {
		return err
	}

	worker := notify.NewWorker(client, sender, notify.WorkerConfig{
		Key:         cfg.Notify.Redis.QueueKey,
		PollTimeout: opts.pollTimeout,
		MaxAttempts: opts.maxAttempts,
		Backoff:     opts.backoff,
	}, logger, recorder)

	logger.Info("mailer started", "queue", cfg.Notify.Redis.QueueKey, "smtp_host", cfg.Notify.SMTP.Host)
	cmd.Println("mailer started")

	if err := worker.Run(ctx); err != nil {
		return err
	}
	logger.Info("mailer stopped")
	return nil
}
