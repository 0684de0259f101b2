// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultQueueKey is the Redis list notifications are pushed to.
const DefaultQueueKey = "gatekeep:notifications"

// DeadLetterKey returns the list holding messages that exhausted their retries.
func DeadLetterKey(queueKey string) string {
	return queueKey + ":dead"
}

// Queue pushes notifications onto a Redis list. It satisfies auth.Notifier.
type Queue struct {
	client   redis.Cmdable
	key      string
	recorder Recorder
	now      func() time.Time
}

// NewQueue creates a Queue on key. An empty key uses DefaultQueueKey.
func NewQueue(client redis.Cmdable, key string, recorder Recorder) *Queue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{client: client, key: key, recorder: recorderOrNoop(recorder), now: time.Now}
}

// Send enqueues the message. Delivery happens later in a Worker.
func (q *Queue) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(Message{To: to, Subject: subject, Body: body, QueuedAt: q.now().UTC()})
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").Wrap(err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		q.recorder.RecordNotification("queue", OutcomeFailed)
		return oops.Code("NOTIFY_ENQUEUE_FAILED").With("key", q.key).Wrap(err)
	}
	q.recorder.RecordNotification("queue", OutcomeQueued)
	return nil
}

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	Key string
	// PollTimeout bounds each BRPOP. Redis rounds it up to whole seconds.
	PollTimeout time.Duration
	// MaxAttempts is the number of delivery tries per message before it is dead-lettered.
	MaxAttempts uint64
	// Backoff is the first delay between delivery tries.
	Backoff time.Duration
}

// Worker pops queued notifications and delivers them through a Sender.
type Worker struct {
	client   redis.Cmdable
	sender   Sender
	cfg      WorkerConfig
	logger   *slog.Logger
	recorder Recorder
}

// NewWorker creates a Worker. Zero config fields get defaults.
func NewWorker(client redis.Cmdable, sender Sender, cfg WorkerConfig, logger *slog.Logger, recorder Recorder) *Worker {
	if cfg.Key == "" {
		cfg.Key = DefaultQueueKey
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{client: client, sender: sender, cfg: cfg, logger: logger, recorder: recorderOrNoop(recorder)}
}

// Run processes messages until ctx is cancelled. It returns nil on cancellation
// and an error only when Redis itself fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "notification worker started", "key", w.cfg.Key)
	defer w.logger.Info("notification worker stopped", "key", w.cfg.Key)

	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := w.client.BRPop(ctx, w.cfg.PollTimeout, w.cfg.Key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return oops.Code("NOTIFY_DEQUEUE_FAILED").With("key", w.cfg.Key).Wrap(err)
		}

		// BRPOP replies with [key, value].
		w.process(ctx, res[1])
	}
}

func (w *Worker) process(ctx context.Context, raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		w.logger.ErrorContext(ctx, "dropping malformed notification", "error", err)
		w.deadLetter(ctx, raw)
		return
	}

	b := retry.WithMaxRetries(w.cfg.MaxAttempts-1, retry.NewExponential(w.cfg.Backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		msg.Attempts++
		if err := w.sender.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
			w.logger.WarnContext(ctx, "notification delivery failed",
				"subject", msg.Subject, "attempt", msg.Attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Shutting down: hand the message back untouched for the next worker.
		w.logger.InfoContext(ctx, "notification requeued on shutdown", "subject", msg.Subject)
		w.requeue(ctx, raw)
		return
	}

	payload, encErr := json.Marshal(msg)
	if encErr != nil {
		payload = []byte(raw)
	}
	w.logger.ErrorContext(ctx, "notification dead-lettered", "subject", msg.Subject, "attempts", msg.Attempts, "error", err)
	w.deadLetter(ctx, string(payload))
}

func (w *Worker) deadLetter(ctx context.Context, payload string) {
	pushCtx, cancel := detached(ctx)
	defer cancel()
	if err := w.client.LPush(pushCtx, DeadLetterKey(w.cfg.Key), payload).Err(); err != nil {
		w.logger.ErrorContext(ctx, "dead-letter push failed", "error", err)
		return
	}
	w.recorder.RecordNotification("queue", OutcomeDead)
}

// requeue puts payload back at the consuming end of the queue so it is the
// next message popped.
func (w *Worker) requeue(ctx context.Context, payload string) {
	pushCtx, cancel := detached(ctx)
	defer cancel()
	if err := w.client.RPush(pushCtx, w.cfg.Key, payload).Err(); err != nil {
		w.logger.ErrorContext(ctx, "requeue failed", "key", w.cfg.Key, "error", err)
		return
	}
	w.recorder.RecordNotification("queue", OutcomeRequeued)
}

// detached outlives ctx's cancellation so a shutdown does not lose the message.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
