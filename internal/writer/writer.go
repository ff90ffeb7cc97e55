package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jwpark-dev/vi-monitor/internal/model"
)

// Writer batches tick and session rows into Postgres. It implements the
// subscription manager's sink.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	db *pgxpool.Pool

	// Batching
	batchMu     sync.Mutex
	ticks       []model.TickRow
	sessions    []model.SessionRow
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewWriter creates a batch writer.
func NewWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}

	return &Writer{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		ticks:    make([]model.TickRow, 0, cfg.BatchSize),
		sessions: make([]model.SessionRow, 0, cfg.BatchSize),
	}
}

// Start begins the periodic flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer and flushes whatever is pending.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out")
	}

	// Final flush on the stop context, the run context is gone.
	w.flush(ctx)

	w.logger.Info("writer stopped")
	return nil
}

// RecordTick queues one tick row.
func (w *Writer) RecordTick(row model.TickRow) {
	w.batchMu.Lock()
	w.ticks = append(w.ticks, row)
	shouldFlush := len(w.ticks) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// RecordSession queues one session row.
func (w *Writer) RecordSession(row model.SessionRow) {
	w.batchMu.Lock()
	w.sessions = append(w.sessions, row)
	shouldFlush := len(w.sessions) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// flushLoop periodically flushes the batches.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// flush writes both pending batches.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	ticks := w.ticks
	sessions := w.sessions
	w.ticks = make([]model.TickRow, 0, w.cfg.BatchSize)
	w.sessions = make([]model.SessionRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if len(ticks) == 0 && len(sessions) == 0 {
		return
	}
	if w.db == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()

	tickConflicts, err := w.insertTicks(ctx, ticks)
	if err != nil {
		w.logger.Error("tick batch insert failed", "error", err, "count", len(ticks))
		w.bumpErrors()
		return
	}

	sessionConflicts, err := w.insertSessions(ctx, sessions)
	if err != nil {
		w.logger.Error("session batch insert failed", "error", err, "count", len(sessions))
		w.bumpErrors()
		return
	}

	w.batchMu.Lock()
	w.metrics.TickInserts += int64(len(ticks) - tickConflicts)
	w.metrics.SessionInserts += int64(len(sessions) - sessionConflicts)
	w.metrics.Conflicts += int64(tickConflicts + sessionConflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed batches",
		"ticks", len(ticks),
		"sessions", len(sessions),
		"conflicts", tickConflicts+sessionConflicts,
		"duration", time.Since(start),
	)
}

func (w *Writer) bumpErrors() {
	w.batchMu.Lock()
	w.metrics.Errors++
	w.batchMu.Unlock()
}

// insertTicks inserts tick rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) insertTicks(ctx context.Context, rows []model.TickRow) (conflicts int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO vi_ticks (id, code, name, market, price, volume, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.Code, r.Name, string(r.Market), r.Price, r.Volume, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// insertSessions inserts session rows using pgx.Batch with ON CONFLICT DO
// NOTHING.
func (w *Writer) insertSessions(ctx context.Context, rows []model.SessionRow) (conflicts int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO vi_sessions (id, code, activated_at, deactivated_at, reason)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.Code, r.ActivatedAt, r.DeactivatedAt, r.Reason)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
