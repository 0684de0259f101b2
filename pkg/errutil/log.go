// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package errutil bridges oops errors to slog and to tests.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level under ctx, so trace-aware handlers attach
// the active span. oops errors also contribute their code, public message and
// context attributes.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if err == nil {
		return
	}
	attrs := []slog.Attr{slog.String("error", err.Error())}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, slog.Any("code", code))
		}
		if public := oops.GetPublic(err, ""); public != "" {
			attrs = append(attrs, slog.String("public", public))
		}
		if kv := oopsErr.Context(); len(kv) > 0 {
			attrs = append(attrs, slog.Any("context", kv))
		}
	}
	logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}
