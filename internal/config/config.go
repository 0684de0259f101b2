// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package config loads gatekeep settings from defaults, an optional YAML file,
// environment fallbacks and command-line flags, in that order of precedence
// (flags win).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// Drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	NotifyLog   = "log"
	NotifySMTP  = "smtp"
	NotifyRedis = "redis"

	PasswordBcrypt   = "bcrypt"
	PasswordArgon2id = "argon2id"

	GRPCTLSOff   = "off"
	GRPCTLSAuto  = "auto"
	GRPCTLSFiles = "files"
)

// Environment fallbacks for settings that should not live in files or flags.
const (
	EnvDatabaseURL   = "DATABASE_URL"
	EnvSessionSecret = "GATEKEEP_SESSION_SECRET"
)

// Config is the complete gatekeep configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server" json:"server,omitempty"`
	Storage  StorageConfig  `koanf:"storage" json:"storage,omitempty"`
	Database DatabaseConfig `koanf:"database" json:"database,omitempty"`
	Session  SessionConfig  `koanf:"session" json:"session,omitempty"`
	Password PasswordConfig `koanf:"password" json:"password,omitempty"`
	Reset    ResetConfig    `koanf:"reset" json:"reset,omitempty"`
	Links    LinksConfig    `koanf:"links" json:"links,omitempty"`
	Notify   NotifyConfig   `koanf:"notify" json:"notify,omitempty"`
	Log      LogConfig      `koanf:"log" json:"log,omitempty"`
}

// ServerConfig holds listen addresses. An empty gRPC or metrics address disables that listener.
type ServerConfig struct {
	HTTPAddr        string        `koanf:"http_addr" json:"http_addr,omitempty" validate:"required,hostname_port"`
	GRPCAddr        string        `koanf:"grpc_addr" json:"grpc_addr,omitempty" validate:"omitempty,hostname_port"`
	MetricsAddr     string        `koanf:"metrics_addr" json:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout,omitempty" validate:"gt=0"`
	GRPCTLS         GRPCTLSConfig `koanf:"grpc_tls" json:"grpc_tls,omitempty"`
}

// GRPCTLSConfig secures the gRPC listener. In auto mode a local CA and server
// certificate are generated under CertsDir on first start and reused after.
type GRPCTLSConfig struct {
	Mode     string   `koanf:"mode" json:"mode,omitempty" jsonschema:"enum=off,enum=auto,enum=files" validate:"oneof=off auto files"`
	CertFile string   `koanf:"cert_file" json:"cert_file,omitempty"`
	KeyFile  string   `koanf:"key_file" json:"key_file,omitempty"`
	CertsDir string   `koanf:"certs_dir" json:"certs_dir,omitempty"`
	Hosts    []string `koanf:"hosts" json:"hosts,omitempty"`
}

// StorageConfig selects the account store.
type StorageConfig struct {
	Driver string `koanf:"driver" json:"driver,omitempty" jsonschema:"enum=postgres,enum=memory" validate:"oneof=postgres memory"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL             string        `koanf:"url" json:"url,omitempty"`
	ConnectAttempts uint64        `koanf:"connect_attempts" json:"connect_attempts,omitempty" validate:"gte=1"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff" json:"connect_backoff,omitempty" validate:"gt=0"`
	MaxConns        int32         `koanf:"max_conns" json:"max_conns,omitempty" validate:"gte=0"`
	AutoMigrate     bool          `koanf:"auto_migrate" json:"auto_migrate,omitempty"`
}

// SessionConfig configures session credentials. A zero TTL issues credentials without expiry.
type SessionConfig struct {
	Secret string        `koanf:"secret" json:"secret,omitempty"`
	TTL    time.Duration `koanf:"ttl" json:"ttl,omitempty" validate:"gte=0"`
	Issuer string        `koanf:"issuer" json:"issuer,omitempty"`
}

// PasswordConfig selects the password hashing scheme.
type PasswordConfig struct {
	Algorithm  string       `koanf:"algorithm" json:"algorithm,omitempty" jsonschema:"enum=bcrypt,enum=argon2id" validate:"oneof=bcrypt argon2id"`
	BcryptCost int          `koanf:"bcrypt_cost" json:"bcrypt_cost,omitempty" validate:"min=4,max=31"`
	Argon2     Argon2Config `koanf:"argon2" json:"argon2,omitempty"`
}

// Argon2Config holds argon2id cost parameters.
type Argon2Config struct {
	Time    uint32 `koanf:"time" json:"time,omitempty" validate:"gte=1"`
	Memory  uint32 `koanf:"memory" json:"memory,omitempty" validate:"gte=8"`
	Threads uint8  `koanf:"threads" json:"threads,omitempty" validate:"gte=1"`
}

// ResetConfig configures password reset tokens. A zero TokenTTL means tokens never expire.
type ResetConfig struct {
	TokenTTL time.Duration `koanf:"token_ttl" json:"token_ttl,omitempty" validate:"gte=0"`
}

// LinksConfig configures links placed in notification bodies.
type LinksConfig struct {
	BaseURL string `koanf:"base_url" json:"base_url,omitempty" validate:"required,url"`
}

// NotifyConfig selects how notifications are delivered.
type NotifyConfig struct {
	Driver string      `koanf:"driver" json:"driver,omitempty" jsonschema:"enum=log,enum=smtp,enum=redis" validate:"oneof=log smtp redis"`
	SMTP   SMTPConfig  `koanf:"smtp" json:"smtp,omitempty"`
	Redis  RedisConfig `koanf:"redis" json:"redis,omitempty"`
}

// SMTPConfig configures the outgoing mail server.
type SMTPConfig struct {
	Host     string `koanf:"host" json:"host,omitempty"`
	Port     int    `koanf:"port" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Username string `koanf:"username" json:"username,omitempty"`
	Password string `koanf:"password" json:"password,omitempty"`
	From     string `koanf:"from" json:"from,omitempty" validate:"omitempty,email"`
}

// RedisConfig configures the notification queue.
type RedisConfig struct {
	Addr     string `koanf:"addr" json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Password string `koanf:"password" json:"password,omitempty"`
	DB       int    `koanf:"db" json:"db,omitempty" validate:"gte=0"`
	QueueKey string `koanf:"queue_key" json:"queue_key,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text" validate:"oneof=json text"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error" validate:"oneof=debug info warn error"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// minSecretLen matches session.MinSecretLen.
const minSecretLen = 32

// check enforces the per-field rules declared in struct tags.
func (c *Config) check() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fieldPath(fe.Namespace()), fe.Tag()))
	}
	return oops.Code("CONFIG_INVALID").
		With("fields", fields).
		Errorf("invalid configuration: %s", strings.Join(fields, ", "))
}

// Validate checks everything the serve command needs.
func (c *Config) Validate() error {
	if err := c.check(); err != nil {
		return err
	}
	if c.Session.Secret == "" {
		return invalid("session.secret", "session secret is required (set %s)", EnvSessionSecret)
	}
	if len(c.Session.Secret) < minSecretLen {
		return invalid("session.secret", "session secret must be at least %d bytes", minSecretLen)
	}
	if c.Storage.Driver == StoragePostgres && c.Database.URL == "" {
		return invalid("database.url", "database url is required for postgres storage (set %s)", EnvDatabaseURL)
	}
	if c.Server.GRPCAddr != "" && c.Server.GRPCTLS.Mode == GRPCTLSFiles &&
		(c.Server.GRPCTLS.CertFile == "" || c.Server.GRPCTLS.KeyFile == "") {
		return invalid("server.grpc_tls", "grpc tls files mode needs cert_file and key_file")
	}
	switch c.Notify.Driver {
	case NotifySMTP:
		return c.requireSMTP()
	case NotifyRedis:
		return c.requireRedis()
	}
	return nil
}

// ValidateMigrate checks what the migrate command needs.
func (c *Config) ValidateMigrate() error {
	if err := c.check(); err != nil {
		return err
	}
	if c.Database.URL == "" {
		return invalid("database.url", "database url is required (set %s)", EnvDatabaseURL)
	}
	return nil
}

// ValidateMailer checks what the mailer command needs: a queue to read and a server to send through.
func (c *Config) ValidateMailer() error {
	if err := c.check(); err != nil {
		return err
	}
	if err := c.requireRedis(); err != nil {
		return err
	}
	return c.requireSMTP()
}

func (c *Config) requireSMTP() error {
	if c.Notify.SMTP.Host == "" || c.Notify.SMTP.Port == 0 || c.Notify.SMTP.From == "" {
		return invalid("notify.smtp", "smtp delivery needs host, port and from")
	}
	return nil
}

func (c *Config) requireRedis() error {
	if c.Notify.Redis.Addr == "" {
		return invalid("notify.redis.addr", "redis queue needs an address")
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
}

// fieldPath turns "Config.Session.TTL" into "Session.TTL".
func fieldPath(ns string) string {
	_, rest, found := strings.Cut(ns, ".")
	if !found {
		return ns
	}
	return rest
}
