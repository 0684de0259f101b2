// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package grpc hosts the gatekeep gRPC listener: the standard health service
// and the profile service. Every method except the public ones (health by
// default) requires a bearer session credential in the "authorization"
// metadata key; the resolved account is placed in the context.
package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// AuthorizationKey is the metadata key carrying the bearer credential.
const AuthorizationKey = "authorization"

// Authenticator resolves a bearer credential to an account.
type Authenticator interface {
	AuthenticateRequest(ctx context.Context, bearerToken string) (*auth.Account, error)
}

type accountKey struct{}

// AccountFromContext returns the account resolved by the auth interceptor.
func AccountFromContext(ctx context.Context) (*auth.Account, bool) {
	account, ok := ctx.Value(accountKey{}).(*auth.Account)
	return account, ok && account != nil
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTLS serves with the given TLS configuration instead of plaintext.
func WithTLS(cfg *tls.Config) ServerOption {
	return func(s *Server) { s.tlsConfig = cfg }
}

// WithPublicMethods replaces the set of full method names that skip authentication.
func WithPublicMethods(methods ...string) ServerOption {
	return func(s *Server) {
		s.public = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			s.public[m] = struct{}{}
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// Server is a gRPC server with health reporting and bearer authentication.
type Server struct {
	authn     Authenticator
	logger    *slog.Logger
	tlsConfig *tls.Config
	public    map[string]struct{}
	grpc      *grpc.Server
	health    *health.Server
}

// NewServer builds the server. Register additional services on GRPC() before Serve.
func NewServer(authn Authenticator, opts ...ServerOption) *Server {
	s := &Server{
		authn:  authn,
		logger: slog.Default(),
		public: map[string]struct{}{
			healthpb.Health_Check_FullMethodName: {},
			healthpb.Health_Watch_FullMethodName: {},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.unaryAuth),
		grpc.ChainStreamInterceptor(s.streamAuth),
	}
	if s.tlsConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(s.tlsConfig)))
	}

	s.grpc = grpc.NewServer(serverOpts...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.grpc.RegisterService(&profileServiceDesc, profileService{})
	return s
}

// GRPC exposes the underlying server for service registration.
func (s *Server) GRPC() *grpc.Server {
	return s.grpc
}

// SetServing flips the overall health status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// Serve accepts connections on lis until Stop. It reports SERVING while running.
func (s *Server) Serve(lis net.Listener) error {
	s.SetServing(true)
	s.logger.Info("grpc server started", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return oops.Code("GRPC_SERVE_FAILED").With("addr", lis.Addr().String()).Wrap(err)
	}
	return nil
}

// Stop marks the server NOT_SERVING and drains in-flight calls.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
	s.logger.Info("grpc server stopped")
}

func (s *Server) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	if _, ok := s.public[fullMethod]; ok {
		return ctx, nil
	}

	var bearer string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(AuthorizationKey); len(vals) > 0 {
			bearer = vals[0]
		}
	}
	if scheme, rest, found := strings.Cut(strings.TrimSpace(bearer), " "); found && strings.EqualFold(scheme, "Bearer") {
		bearer = rest
	}

	account, err := s.authn.AuthenticateRequest(ctx, bearer)
	if err != nil {
		return nil, toStatus(err)
	}
	return context.WithValue(ctx, accountKey{}, account), nil
}

func (s *Server) unaryAuth(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, err := s.authenticate(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (a *authedStream) Context() context.Context {
	return a.ctx
}

func (s *Server) streamAuth(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := s.authenticate(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
}

// toStatus maps an auth outcome to a gRPC status carrying the user-facing message.
func toStatus(err error) error {
	code := auth.ErrorCode(err)
	var c codes.Code
	switch code {
	case auth.CodeMissingCredential, auth.CodeInvalidCredential, auth.CodeNotFound:
		c = codes.Unauthenticated
	case auth.CodeTokenNotFound:
		c = codes.NotFound
	case auth.CodeDuplicateEmail:
		c = codes.AlreadyExists
	case auth.CodeEmailNotVerified, auth.CodeInvalidCredentials:
		c = codes.PermissionDenied
	case auth.CodeValidation:
		c = codes.InvalidArgument
	default:
		c = codes.Internal
	}
	return status.Error(c, auth.Message(err))
}
