package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"telemetry-agent/internal/metrics"
)

// BatchWriter drains the snapshot queue and commits one transaction per
// flush. A flush is all-or-nothing: on any row failure the transaction rolls
// back and the buffer is cleared anyway. The window's data is dropped, not
// retried; forward progress matters more than completeness for a telemetry
// log. The bounded queue is the only channel between writer and collector.
type BatchWriter struct {
	store  *Store
	logger *zap.Logger

	queue         chan *metrics.ResourceSnapshot
	flushInterval time.Duration
	buffer        []*metrics.ResourceSnapshot
}

// NewBatchWriter creates a writer with the given queue capacity and flush
// cadence.
func NewBatchWriter(store *Store, queueCapacity int, flushInterval time.Duration, logger *zap.Logger) *BatchWriter {
	return &BatchWriter{
		store:         store,
		logger:        logger,
		queue:         make(chan *metrics.ResourceSnapshot, queueCapacity),
		flushInterval: flushInterval,
		buffer:        make([]*metrics.ResourceSnapshot, 0, queueCapacity),
	}
}

// Queue returns the bounded input channel the collector enqueues into.
func (w *BatchWriter) Queue() chan<- *metrics.ResourceSnapshot {
	return w.queue
}

// Run buffers incoming snapshots and flushes on its own timer until the
// context is cancelled. A final flush runs on shutdown.
func (w *BatchWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush()
			w.logger.Info("batch writer stopped")
			return
		case snapshot := <-w.queue:
			w.buffer = append(w.buffer, snapshot)
		case <-ticker.C:
			w.flush()
		}
	}
}

// flush writes every metric of every buffered snapshot as one row keyed by
// (timestamp, metric_type), in a single transaction.
func (w *BatchWriter) flush() {
	if len(w.buffer) == 0 {
		return
	}
	// The buffer is cleared whether or not the transaction commits.
	buffered := w.buffer
	w.buffer = w.buffer[:0]

	tx, err := w.store.db.Begin()
	if err != nil {
		w.logger.Error("flush transaction begin failed", zap.Error(err), zap.Int("snapshots_dropped", len(buffered)))
		return
	}

	stmt, err := tx.Prepare(`INSERT INTO resource_logs (timestamp, metric_type, value) VALUES (?, ?, ?)`)
	if err != nil {
		w.logger.Error("flush statement prepare failed", zap.Error(err))
		tx.Rollback()
		return
	}
	defer stmt.Close()

	var rowCount int
	for _, snapshot := range buffered {
		for _, metric := range snapshot.Metrics {
			if _, err := stmt.Exec(snapshot.Timestamp, metric.Type, metric.Value); err != nil {
				w.logger.Error("flush insert failed, rolling back window",
					zap.Error(err),
					zap.String("metric_type", metric.Type),
					zap.Int("snapshots_dropped", len(buffered)))
				tx.Rollback()
				return
			}
			rowCount++
		}
	}

	if err := tx.Commit(); err != nil {
		w.logger.Error("flush commit failed", zap.Error(err), zap.Int("snapshots_dropped", len(buffered)))
		return
	}
	w.logger.Debug("flushed metric batch", zap.Int("snapshots", len(buffered)), zap.Int("rows", rowCount))
}
