// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/pkg/errutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func env(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil, env(map[string]string{
		EnvDatabaseURL:   "postgres://localhost/gatekeep",
		EnvSessionSecret: testSecret,
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/gatekeep", cfg.Database.URL)
	assert.Equal(t, testSecret, cfg.Session.Secret)
	assert.Zero(t, cfg.Session.TTL)
	assert.Equal(t, PasswordBcrypt, cfg.Password.Algorithm)
	assert.Equal(t, 10, cfg.Password.BcryptCost)
	assert.Equal(t, uint8(4), cfg.Password.Argon2.Threads)
	assert.Zero(t, cfg.Reset.TokenTTL)
	assert.Equal(t, NotifyLog, cfg.Notify.Driver)
	assert.Equal(t, GRPCTLSOff, cfg.Server.GRPCTLS.Mode)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.Server.GRPCTLS.Hosts)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, `
server:
  http_addr: "0.0.0.0:9090"
storage:
  driver: memory
session:
  secret: "from-file-secret-0123456789abcdef"
  ttl: 1h
password:
  bcrypt_cost: 12
log:
  level: debug
`)
	fs := newFlags(t, "--bcrypt-cost=11", "--reset-token-ttl=30m")

	cfg, err := Load(path, fs, env(map[string]string{EnvSessionSecret: "ignored-because-file-sets-it-0000"}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr, "file overrides default")
	assert.Equal(t, "from-file-secret-0123456789abcdef", cfg.Session.Secret, "env only fills empty values")
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 11, cfg.Password.BcryptCost, "flag overrides file")
	assert.Equal(t, 30*time.Minute, cfg.Reset.TokenTTL)
	assert.Equal(t, "debug", cfg.Log.Level, "unset flag keeps file value")
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	fs := newFlags(t, "--database-url=postgres://flag/db")
	cfg, err := Load("", fs, env(map[string]string{
		EnvDatabaseURL:   "postgres://env/db",
		EnvSessionSecret: testSecret,
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/db", cfg.Database.URL)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		args     []string
		env      map[string]string
		wantCode string
	}{
		{
			name:     "missing session secret",
			args:     []string{"--storage=memory"},
			wantCode: "CONFIG_INVALID",
		},
		{
			name:     "short session secret",
			args:     []string{"--storage=memory"},
			env:      map[string]string{EnvSessionSecret: "short"},
			wantCode: "CONFIG_INVALID",
		},
		{
			name:     "postgres without url",
			env:      map[string]string{EnvSessionSecret: testSecret},
			wantCode: "CONFIG_INVALID",
		},
		{
			name:     "bcrypt cost too high",
			args:     []string{"--storage=memory", "--bcrypt-cost=32"},
			env:      map[string]string{EnvSessionSecret: testSecret},
			wantCode: "CONFIG_INVALID",
		},
		{
			name:     "unknown notify driver",
			args:     []string{"--storage=memory", "--notify=pigeon"},
			env:      map[string]string{EnvSessionSecret: testSecret},
			wantCode: "CONFIG_INVALID",
		},
		{
			name:     "smtp without host",
			args:     []string{"--storage=memory", "--notify=smtp"},
			env:      map[string]string{EnvSessionSecret: testSecret},
			wantCode: "CONFIG_INVALID",
		},
		{
			name:     "redis without addr",
			args:     []string{"--storage=memory", "--notify=redis"},
			env:      map[string]string{EnvSessionSecret: testSecret},
			wantCode: "CONFIG_INVALID",
		},
		{
			name:     "grpc tls files without cert",
			args:     []string{"--storage=memory", "--grpc-addr=127.0.0.1:9000", "--grpc-tls=files"},
			env:      map[string]string{EnvSessionSecret: testSecret},
			wantCode: "CONFIG_INVALID",
		},
		{
			name:     "unknown grpc tls mode",
			args:     []string{"--storage=memory", "--grpc-tls=mutual"},
			env:      map[string]string{EnvSessionSecret: testSecret},
			wantCode: "CONFIG_INVALID",
		},
		{
			name:     "unknown key in file",
			file:     "server:\n  htp_addr: \":80\"\n",
			env:      map[string]string{EnvSessionSecret: testSecret},
			wantCode: "CONFIG_SCHEMA_INVALID",
		},
		{
			name:     "wrong type in file",
			file:     "password:\n  bcrypt_cost: high\n",
			env:      map[string]string{EnvSessionSecret: testSecret},
			wantCode: "CONFIG_SCHEMA_INVALID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			cfg, err := Load(path, newFlags(t, tt.args...), env(tt.env))
			if err == nil {
				err = cfg.Validate()
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestValidateMigrateAndMailer(t *testing.T) {
	cfg, err := Load("", nil, env(nil))
	require.NoError(t, err, "Load alone does not demand secrets")

	errutil.AssertErrorCode(t, cfg.ValidateMigrate(), "CONFIG_INVALID")
	cfg.Database.URL = "postgres://localhost/gatekeep"
	require.NoError(t, cfg.ValidateMigrate())

	errutil.AssertErrorContext(t, cfg.ValidateMailer(), "field", "notify.redis.addr")
	cfg.Notify.Redis.Addr = "localhost:6379"
	errutil.AssertErrorContext(t, cfg.ValidateMailer(), "field", "notify.smtp")
	cfg.Notify.SMTP = SMTPConfig{Host: "mail", Port: 25, From: "noreply@gatekeep.dev"}
	require.NoError(t, cfg.ValidateMailer())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil, env(nil))
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestValidate_ReportsFieldPath(t *testing.T) {
	cfg, err := Load("", newFlags(t, "--storage=memory"), env(map[string]string{EnvSessionSecret: testSecret}))
	require.NoError(t, err)

	cfg.Log.Format = "xml"
	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Log.Format"), err.Error())
}

func TestGenerateSchema(t *testing.T) {
	raw, err := GenerateSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, SchemaID, doc["$id"])
	assert.Equal(t, "Gatekeep Configuration", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, section := range []string{"server", "storage", "database", "session", "password", "reset", "links", "notify", "log"} {
		assert.Contains(t, props, section)
	}
}

func TestValidateYAML(t *testing.T) {
	require.NoError(t, ValidateYAML([]byte("")))
	require.NoError(t, ValidateYAML([]byte("reset:\n  token_ttl: 24h\n")))

	errutil.AssertErrorCode(t, ValidateYAML([]byte("reset:\n  token_ttl: forever\n")), "CONFIG_SCHEMA_INVALID")
	errutil.AssertErrorCode(t, ValidateYAML([]byte("log: [")), "CONFIG_YAML_INVALID")
	errutil.AssertErrorCode(t, ValidateYAML([]byte("notify:\n  driver: fax\n")), "CONFIG_SCHEMA_INVALID")
}
