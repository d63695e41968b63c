// Package outbox drains the durable publish queue. Local writes land in the
// cache's outbox table first; this worker publishes them to the relay
// network and reschedules failures with exponential backoff. Because the
// queue is a table, pending work survives process restarts.
package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"tillsync/internal/cache"
	"tillsync/internal/event"
	"tillsync/internal/platform/metrics"
	"tillsync/internal/record"
)

// Queue is the slice of the cache the worker needs.
type Queue interface {
	DueOutbox(ctx context.Context, now time.Time, limit int) ([]cache.OutboxEntry, error)
	RetryOutbox(ctx context.Context, id string, lastError string, nextAt time.Time) error
	AckOutbox(ctx context.Context, id string) error
	MarkSynced(ctx context.Context, kind, id string) error
}

// Publisher is the slice of the event fabric the worker needs. Entries are
// stored unsigned and signed per attempt, so a signer that appears after
// enqueue (remote signer reconnects) still gets used.
type Publisher interface {
	PublishRecord(ctx context.Context, kind int, recordID string, payload any, encrypt bool, extraTags [][]string) (*event.Event, error)
}

// Config tunes the worker. Zero values get sensible defaults.
type Config struct {
	Interval  time.Duration // drain cadence, default 10s
	BatchSize int           // max entries per drain, default 50
	BaseDelay time.Duration // first retry delay, default 5s
	MaxDelay  time.Duration // backoff cap, default 10m
}

type Worker struct {
	queue   Queue
	pub     Publisher
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewWorker(queue Queue, pub Publisher, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Minute
	}
	return &Worker{queue: queue, pub: pub, cfg: cfg, logger: logger, metrics: m, now: time.Now}
}

// Run drains the queue on an interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain publishes every due entry once. Exported so a local write can
// trigger an immediate attempt without waiting for the ticker.
func (w *Worker) Drain(ctx context.Context) {
	due, err := w.queue.DueOutbox(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("list due outbox entries", "error", err)
		return
	}
	for _, entry := range due {
		if ctx.Err() != nil {
			return
		}
		w.attempt(ctx, entry)
	}
}

func (w *Worker) attempt(ctx context.Context, entry cache.OutboxEntry) {
	kind, ok := record.KindByName(entry.Kind)
	if !ok {
		// A row from a kind this build no longer knows. Drop it rather
		// than retry forever.
		w.logger.Warn("dropping outbox entry of unknown kind", "kind", entry.Kind, "record_id", entry.RecordID)
		_ = w.queue.AckOutbox(ctx, entry.ID)
		return
	}

	_, err := w.pub.PublishRecord(ctx, kind.EventKind, entry.RecordID,
		json.RawMessage(entry.Payload), entry.Encrypted, nil)
	if err != nil {
		next := w.now().Add(w.backoff(entry.Attempts))
		if w.metrics != nil {
			w.metrics.OutboxRetries.Inc()
		}
		w.logger.Warn("outbox publish failed",
			"kind", entry.Kind, "record_id", entry.RecordID,
			"attempts", entry.Attempts+1, "next_attempt", next, "error", err)
		if rerr := w.queue.RetryOutbox(ctx, entry.ID, err.Error(), next); rerr != nil {
			w.logger.Error("reschedule outbox entry", "id", entry.ID, "error", rerr)
		}
		return
	}

	if err := w.queue.AckOutbox(ctx, entry.ID); err != nil {
		w.logger.Error("ack outbox entry", "id", entry.ID, "error", err)
		return
	}
	if err := w.queue.MarkSynced(ctx, entry.Kind, entry.RecordID); err != nil {
		w.logger.Error("mark record synced", "kind", entry.Kind, "record_id", entry.RecordID, "error", err)
	}
}

// backoff doubles per attempt from BaseDelay up to MaxDelay.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.cfg.BaseDelay
	for i := 0; i < attempts && d < w.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > w.cfg.MaxDelay {
		d = w.cfg.MaxDelay
	}
	return d
}
