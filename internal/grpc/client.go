// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package grpc

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// BearerCredentials attaches a session credential to every call.
type BearerCredentials struct {
	Token string
	// AllowInsecure permits sending the credential over plaintext connections.
	AllowInsecure bool
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (b BearerCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{AuthorizationKey: "Bearer " + b.Token}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (b BearerCredentials) RequireTransportSecurity() bool {
	return !b.AllowInsecure
}

// ClientConfig holds client connection settings.
type ClientConfig struct {
	Address string
	// TLSConfig enables TLS. Nil dials plaintext.
	TLSConfig *tls.Config
	// Bearer, when set, is sent with every call.
	Bearer string

	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// DialOptions are appended last.
	DialOptions []grpc.DialOption
}

// Client is a connection to a gatekeep gRPC server.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client. The connection is established lazily.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, oops.Code("GRPC_INVALID_CONFIG").Errorf("address is required")
	}
	if cfg.KeepaliveTime == 0 {
		cfg.KeepaliveTime = 10 * time.Second
	}
	if cfg.KeepaliveTimeout == 0 {
		cfg.KeepaliveTimeout = 5 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}
	if cfg.TLSConfig != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(cfg.TLSConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if cfg.Bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(BearerCredentials{
			Token:         cfg.Bearer,
			AllowInsecure: cfg.TLSConfig == nil,
		}))
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, oops.Code("GRPC_DIAL_FAILED").With("address", cfg.Address).Wrap(err)
	}
	return &Client{conn: conn}, nil
}

// Conn returns the underlying connection for service stubs.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// Healthy reports whether the server answers SERVING for the overall status.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, oops.Code("GRPC_HEALTH_FAILED").Wrap(err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return oops.Code("GRPC_CLOSE_FAILED").Wrap(err)
	}
	return nil
}
