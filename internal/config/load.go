// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// defaults is the baseline every other source overrides.
var defaults = map[string]any{
	"server.http_addr":          "localhost:8080",
	"server.grpc_addr":          "",
	"server.metrics_addr":       "127.0.0.1:9100",
	"server.shutdown_timeout":   "15s",
	"server.grpc_tls.mode":      GRPCTLSOff,
	"server.grpc_tls.hosts":     []string{"localhost", "127.0.0.1"},
	"storage.driver":            StoragePostgres,
	"database.connect_attempts": 10,
	"database.connect_backoff":  "500ms",
	"database.max_conns":        0,
	"database.auto_migrate":     false,
	"session.ttl":               "0s",
	"session.issuer":            "gatekeep",
	"password.algorithm":        PasswordBcrypt,
	"password.bcrypt_cost":      10,
	"password.argon2.time":      1,
	"password.argon2.memory":    64 * 1024,
	"password.argon2.threads":   4,
	"reset.token_ttl":           "0s",
	"links.base_url":            "http://localhost:8080",
	"notify.driver":             NotifyLog,
	"notify.smtp.port":          587,
	"notify.redis.db":           0,
	"notify.redis.queue_key":    "gatekeep:notifications",
	"log.format":                "json",
	"log.level":                 "info",
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":        "server.http_addr",
	"grpc-addr":        "server.grpc_addr",
	"metrics-addr":     "server.metrics_addr",
	"shutdown-timeout": "server.shutdown_timeout",
	"grpc-tls":         "server.grpc_tls.mode",
	"storage":          "storage.driver",
	"database-url":     "database.url",
	"auto-migrate":     "database.auto_migrate",
	"session-ttl":      "session.ttl",
	"password-algo":    "password.algorithm",
	"bcrypt-cost":      "password.bcrypt_cost",
	"reset-token-ttl":  "reset.token_ttl",
	"base-url":         "links.base_url",
	"notify":           "notify.driver",
	"redis-addr":       "notify.redis.addr",
	"log-format":       "log.format",
	"log-level":        "log.level",
}

// RegisterFlags declares the configuration flags on fs. Flag defaults are
// informational; unset flags never override the file or built-in defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML configuration file")
	fs.String("http-addr", "localhost:8080", "HTTP API listen address")
	fs.String("grpc-addr", "", "gRPC listen address (empty = disabled)")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	fs.Duration("shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	fs.String("grpc-tls", GRPCTLSOff, "gRPC transport security (off, auto or files)")
	fs.String("storage", StoragePostgres, "account storage driver (postgres or memory)")
	fs.String("database-url", "", "PostgreSQL URL (default: $"+EnvDatabaseURL+")")
	fs.Bool("auto-migrate", false, "apply pending migrations on startup")
	fs.Duration("session-ttl", 0, "session credential lifetime (0 = no expiry)")
	fs.String("password-algo", PasswordBcrypt, "password hashing algorithm (bcrypt or argon2id)")
	fs.Int("bcrypt-cost", 10, "bcrypt work factor")
	fs.Duration("reset-token-ttl", 0, "password reset token lifetime (0 = no expiry)")
	fs.String("base-url", "http://localhost:8080", "public base URL for links in notifications")
	fs.String("notify", NotifyLog, "notification driver (log, smtp or redis)")
	fs.String("redis-addr", "", "redis address for the notification queue")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

// Load builds a Config and checks per-field rules. Cross-section rules are
// left to Validate and friends, since each command needs a different subset.
// path may be empty. fs may be nil. getenv defaults to os.Getenv.
func Load(path string, fs *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	for key, env := range map[string]string{"database.url": EnvDatabaseURL, "session.secret": EnvSessionSecret} {
		if k.String(key) == "" {
			if v := getenv(env); v != "" {
				if err := k.Set(key, v); err != nil {
					return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
				}
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
