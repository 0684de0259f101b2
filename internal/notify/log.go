// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package notify

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to a logger instead of sending them.
// Bodies contain live tokens, so it must not be used outside development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the message at info level.
func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "notification",
		"transport", "log",
		"to", to,
		"subject", subject,
		"body", body,
	)
	return nil
}
