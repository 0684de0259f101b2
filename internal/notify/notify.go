// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package notify delivers account notifications by email.
//
// Senders satisfy auth.Notifier. LogSender writes messages to the log for
// development, SMTPSender delivers directly, and Queue hands messages to Redis
// for a Worker to deliver out of band.
package notify

import (
	"context"
	"time"
)

// Sender delivers a single message. It has the same shape as auth.Notifier.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Message is a queued notification.
type Message struct {
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queuedAt"`
	Attempts int       `json:"attempts,omitempty"`
}

// Recorder counts delivery outcomes per transport.
type Recorder interface {
	RecordNotification(transport, outcome string)
}

// Delivery outcomes reported to a Recorder.
const (
	OutcomeSent     = "sent"
	OutcomeQueued   = "queued"
	OutcomeRequeued = "requeued"
	OutcomeFailed   = "failed"
	OutcomeDead     = "dead_letter"
)

type noopRecorder struct{}

func (noopRecorder) RecordNotification(string, string) {}

func recorderOrNoop(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}
