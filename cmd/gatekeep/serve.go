// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/memory"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
	"github.com/gatekeep/gatekeep/internal/config"
	gkgrpc "github.com/gatekeep/gatekeep/internal/grpc"
	"github.com/gatekeep/gatekeep/internal/httpapi"
	"github.com/gatekeep/gatekeep/internal/notify"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/session"
	"github.com/gatekeep/gatekeep/internal/store"
	gktls "github.com/gatekeep/gatekeep/internal/tls"
	"github.com/gatekeep/gatekeep/internal/xdg"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and optional gRPC and metrics listeners)",
		Long: `Start the credential service. The HTTP API is always served; the gRPC
listener and the metrics/health listener start when their addresses are set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the service until ctx is cancelled or a listener fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := setupLogging(cmd, cfg.Log); err != nil {
		return err
	}
	logger := slog.Default()

	logger.Info("starting gatekeep",
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"storage", cfg.Storage.Driver,
		"notify", cfg.Notify.Driver,
	)

	var (
		accounts auth.Store
		ready    observability.ReadinessChecker
	)
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; accounts are lost on restart")
		accounts = memory.NewStore()
	default:
		if cfg.Database.AutoMigrate {
			if err := runAutoMigration(cfg.Database.URL, deps.MigratorFactory); err != nil {
				return err
			}
		}
		pool, err := deps.PoolFactory(ctx, cfg.Database.URL, store.ConnectOptions{
			Attempts: cfg.Database.ConnectAttempts,
			Backoff:  cfg.Database.ConnectBackoff,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("connected to database")
		accounts = postgres.NewStore(pool)
		ready = pool.Ping
	}

	hasher, err := buildHasher(cfg.Password)
	if err != nil {
		return err
	}

	signer, err := session.NewSigner(session.Config{
		Secret: []byte(cfg.Session.Secret),
		TTL:    cfg.Session.TTL,
		Issuer: cfg.Session.Issuer,
	})
	if err != nil {
		return err
	}

	grpcTLS, err := buildGRPCTLS(cfg.Server)
	if err != nil {
		return err
	}

	var obsServer ObservabilityServer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, ready)
		metrics = obsServer.Metrics()
	}

	notifier, closeNotifier, err := buildNotifier(cfg.Notify, logger, metrics, deps)
	if err != nil {
		return err
	}
	defer closeNotifier()

	svc, err := auth.NewService(accounts, hasher, signer, notifier,
		auth.WithLogger(logger),
		auth.WithRecorder(metrics),
		auth.WithBaseURL(cfg.Links.BaseURL),
		auth.WithResetTokenTTL(cfg.Reset.TokenTTL),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errChan := make(chan error, 3)

	api := httpapi.New(svc, httpapi.WithLogger(logger), httpapi.WithRequestRecorder(metrics))
	httpServer := httpapi.NewHTTPServer(cfg.Server.HTTPAddr, api.Handler())
	httpListener, err := deps.ListenerFactory("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.Server.HTTPAddr).Wrap(err)
	}
	go func() {
		if serveErr := httpServer.Serve(httpListener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- oops.Code("HTTP_SERVE_FAILED").Wrap(serveErr)
		}
	}()
	logger.Info("http server listening", "addr", httpListener.Addr().String())

	var grpcServer *gkgrpc.Server
	if cfg.Server.GRPCAddr != "" {
		grpcOpts := []gkgrpc.ServerOption{gkgrpc.WithLogger(logger)}
		if grpcTLS != nil {
			grpcOpts = append(grpcOpts, gkgrpc.WithTLS(grpcTLS))
		}
		grpcServer = gkgrpc.NewServer(svc, grpcOpts...)
		grpcListener, listenErr := deps.ListenerFactory("tcp", cfg.Server.GRPCAddr)
		if listenErr != nil {
			shutdownHTTP(httpServer, cfg)
			return oops.Code("GRPC_LISTEN_FAILED").With("addr", cfg.Server.GRPCAddr).Wrap(listenErr)
		}
		go func() {
			if serveErr := grpcServer.Serve(grpcListener); serveErr != nil {
				errChan <- serveErr
			}
		}()
		logger.Info("grpc server listening", "addr", grpcListener.Addr().String(), "tls", cfg.Server.GRPCTLS.Mode)
	}

	if obsServer != nil {
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			shutdownHTTP(httpServer, cfg)
			if grpcServer != nil {
				grpcServer.Stop(context.Background())
			}
			return startErr
		}
		go monitorServerErrors(ctx, errChan, obsErrChan)
	}

	cmd.Println("gatekeep started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errChan:
		logger.Error("listener failed, shutting down", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if grpcServer != nil {
		grpcServer.Stop(shutdownCtx)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// runAutoMigration applies pending migrations before the pool opens.
func runAutoMigration(url string, factory func(string) (AutoMigrator, error)) error {
	migrator, err := factory(url)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
	}()

	slog.Info("running database migrations")
	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	return nil
}

// buildGRPCTLS returns the gRPC transport config, or nil for plaintext.
func buildGRPCTLS(cfg config.ServerConfig) (*cryptotls.Config, error) {
	if cfg.GRPCAddr == "" {
		return nil, nil
	}
	switch cfg.GRPCTLS.Mode {
	case config.GRPCTLSFiles:
		return gktls.LoadServerTLS(cfg.GRPCTLS.CertFile, cfg.GRPCTLS.KeyFile)
	case config.GRPCTLSAuto:
		dir := cfg.GRPCTLS.CertsDir
		if dir == "" {
			dir = xdg.CertsDir()
		}
		slog.Info("using generated grpc certificates", "certs_dir", dir)
		return gktls.EnsureSelfSigned(dir, cfg.GRPCTLS.Hosts)
	default:
		return nil, nil
	}
}

// buildHasher selects the password hashing scheme.
func buildHasher(cfg config.PasswordConfig) (auth.PasswordHasher, error) {
	switch cfg.Algorithm {
	case config.PasswordArgon2id:
		params := auth.DefaultArgon2Params
		params.Time = cfg.Argon2.Time
		params.Memory = cfg.Argon2.Memory
		params.Threads = cfg.Argon2.Threads
		return auth.NewArgon2idHasher(params), nil
	default:
		return auth.NewBcryptHasher(cfg.BcryptCost)
	}
}

// buildNotifier selects the delivery path for verification and reset messages.
// The returned func releases whatever the notifier holds open.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger, recorder notify.Recorder, deps *ServeDeps) (auth.Notifier, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case config.NotifySMTP:
		sender, err := deps.SMTPFactory(smtpConfig(cfg.SMTP), recorder)
		if err != nil {
			return nil, noop, err
		}
		return sender, noop, nil
	case config.NotifyRedis:
		client := deps.RedisFactory(cfg.Redis)
		closeClient := func() {
			if err := client.Close(); err != nil {
				logger.Warn("error closing redis client", "error", err)
			}
		}
		return notify.NewQueue(client, cfg.Redis.QueueKey, recorder), closeClient, nil
	default:
		return notify.NewLogSender(logger), noop, nil
	}
}

func shutdownHTTP(srv *http.Server, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("error stopping http server", "error", err)
	}
}

// monitorServerErrors forwards the first error from a background server.
func monitorServerErrors(ctx context.Context, out chan<- error, in <-chan error) {
	select {
	case <-ctx.Done():
	case err, ok := <-in:
		if ok && err != nil {
			select {
			case out <- err:
			default:
			}
		}
	}
}
