// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/notify"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

type capturingSender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (s *capturingSender) Send(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, notify.Message{To: to, Subject: subject, Body: body})
	return nil
}

func (s *capturingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func mailerConfig(t *testing.T, redisAddr string) *config.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.Notify.Redis = config.RedisConfig{Addr: redisAddr, QueueKey: "test:mail"}
	cfg.Notify.SMTP = config.SMTPConfig{Host: "mail.example.com", Port: 587, From: "noreply@example.com"}
	return cfg
}

func TestMailer_DeliversQueuedNotifications(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := mailerConfig(t, mr.Addr())
	cfg.Server.MetricsAddr = "127.0.0.1:19101"

	// Producer side, as serve --notify=redis would enqueue.
	producer := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = producer.Close() }()
	queue := notify.NewQueue(producer, "test:mail", nil)
	require.NoError(t, queue.Send(context.Background(), "ada@example.com", "Email Verification", "verify me"))

	sender := &capturingSender{}
	obs := newMockObservabilityServer()
	var gotSMTP notify.SMTPConfig
	deps := &MailerDeps{
		SMTPFactory: func(cfg notify.SMTPConfig, _ notify.Recorder) (notify.Sender, error) {
			gotSMTP = cfg
			return sender, nil
		},
		ObservabilityServerFactory: func(_ string, checker observability.ReadinessChecker) ObservabilityServer {
			obs.checker = checker
			return obs
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd, out := testCmd()
	opts := &mailerOptions{pollTimeout: 100 * time.Millisecond, maxAttempts: 2, backoff: time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- runMailerWithDeps(ctx, cfg, opts, cmd, deps) }()

	require.Eventually(t, func() bool { return sender.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NotNil(t, obs.checker)
	assert.NoError(t, obs.checker(context.Background()), "readiness pings redis")
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("mailer did not stop")
	}

	assert.Equal(t, "mail.example.com", gotSMTP.Host)
	assert.Equal(t, "ada@example.com", sender.sent[0].To)
	assert.True(t, obs.started)
	assert.True(t, obs.stopped)
	assert.Contains(t, out.String(), "mailer started")
}

func TestMailer_RequiresQueueAndSMTP(t *testing.T) {
	cfg := testConfig(t)
	cmd, _ := testCmd()

	err := runMailerWithDeps(context.Background(), cfg, &mailerOptions{}, cmd, nil)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "field", "notify.redis.addr")
}

func TestMailer_SMTPFactoryError(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := mailerConfig(t, mr.Addr())
	deps := &MailerDeps{
		SMTPFactory: func(notify.SMTPConfig, notify.Recorder) (notify.Sender, error) {
			return notify.NewSMTPSender(notify.SMTPConfig{}, nil)
		},
	}
	cmd, _ := testCmd()

	err := runMailerWithDeps(context.Background(), cfg, &mailerOptions{}, cmd, deps)
	errutil.AssertErrorCode(t, err, "SMTP_INVALID_CONFIG")
}
