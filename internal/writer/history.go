package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/studio-console/internal/model"
	"github.com/rickgao/studio-console/internal/protocol"
	"github.com/rickgao/studio-console/internal/router"
)

const insertEventSQL = `
	INSERT INTO console_events (connection_id, event_type, task_id, level, message, payload, event_time, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Config holds batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Initial queue capacity
	MaxBuffer     int // Queue limit; pushes beyond it are dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     200,
		FlushInterval: 2 * time.Second,
		BufferSize:    1000,
		MaxBuffer:     100000,
	}
}

// Subscriber registers push handlers. session.Service satisfies it.
type Subscriber interface {
	Subscribe(eventType string, fn func(protocol.Envelope)) router.Subscription
}

// BatchSender executes a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// HistoryStats contains writer statistics.
type HistoryStats struct {
	Recorded int64 // Entries accepted into the queue
	Dropped  int64 // Entries rejected by a full or closed queue
	Skipped  int64 // Pushes that could not be decoded
	Inserts  int64
	Flushes  int64
	Errors   int64
	Queued   int
}

// HistoryWriter journals pushed events to console_events.
type HistoryWriter struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	db     BatchSender
	connID func() string

	queue *Queue[model.HistoryEntry]
	subs  []router.Subscription

	// Batching
	batch   []model.HistoryEntry
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics HistoryStats
}

// NewHistoryWriter creates a writer. connID reports the session's current
// connection id and may be nil.
func NewHistoryWriter(cfg Config, db BatchSender, connID func() string, logger *slog.Logger) *HistoryWriter {
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxBuffer < cfg.BufferSize {
		cfg.MaxBuffer = cfg.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if connID == nil {
		connID = func() string { return "" }
	}

	return &HistoryWriter{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		db:     db,
		connID: connID,
		queue:  NewQueue[model.HistoryEntry](cfg.BufferSize, cfg.MaxBuffer),
		batch:  make([]model.HistoryEntry, 0, cfg.BatchSize),
	}
}

// Attach subscribes the writer to every journaled push type.
func (w *HistoryWriter) Attach(s Subscriber) {
	for _, t := range []protocol.MessageType{protocol.TypeTaskUpdate, protocol.TypeLogMessage, protocol.TypeGlobalLog} {
		w.subs = append(w.subs, s.Subscribe(string(t), w.Record))
	}
}

// Record converts a push and queues it. It never blocks.
func (w *HistoryWriter) Record(env protocol.Envelope) {
	entry, err := toEntry(env, w.now())
	if err != nil {
		w.batchMu.Lock()
		w.metrics.Skipped++
		w.batchMu.Unlock()
		w.logger.Debug("skipping history entry", "type", env.Type, "error", err)
		return
	}
	entry.ConnectionID = w.connID()

	ok := w.queue.Push(entry)

	w.batchMu.Lock()
	if ok {
		w.metrics.Recorded++
	} else {
		w.metrics.Dropped++
	}
	w.batchMu.Unlock()
}

// Start begins draining the queue into the database.
func (w *HistoryWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("history writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, drains what is queued and performs a final flush
// bounded by ctx.
func (w *HistoryWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping history writer")

	for _, sub := range w.subs {
		sub.Unsubscribe()
	}
	w.queue.Close()

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("history writer stop timed out")
		return ctx.Err()
	}

	w.collect()
	for w.pending() > 0 {
		if err := w.flush(ctx); err != nil {
			return fmt.Errorf("final flush: %w", err)
		}
	}

	w.logger.Info("history writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (w *HistoryWriter) Stats() HistoryStats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	s := w.metrics
	s.Queued = w.queue.Len() + len(w.batch)
	return s
}

func (w *HistoryWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.queue.Ready():
			for w.collect() {
				if err := w.flush(w.ctx); err != nil {
					break
				}
			}
		}
	}
}

func (w *HistoryWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.collect()
			w.flush(w.ctx)
		}
	}
}

// collect moves queued entries into the batch and reports whether the
// batch reached BatchSize.
func (w *HistoryWriter) collect() bool {
	entries := w.queue.DrainTo(0)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, entries...)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *HistoryWriter) pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.batch)
}

// flush writes up to BatchSize entries. A failed batch is dropped and
// counted.
func (w *HistoryWriter) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	n := min(len(w.batch), w.cfg.BatchSize)
	rows := w.batch[:n:n]
	w.batch = append(make([]model.HistoryEntry, 0, w.cfg.BatchSize), w.batch[n:]...)
	w.batchMu.Unlock()

	start := time.Now()
	if err := w.batchInsert(ctx, rows); err != nil {
		w.logger.Error("history insert failed", "error", err, "count", len(rows))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(rows))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed history", "count", len(rows), "duration", time.Since(start))
	return nil
}

func (w *HistoryWriter) batchInsert(ctx context.Context, rows []model.HistoryEntry) error {
	if w.db == nil {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range rows {
		batch.Queue(insertEventSQL,
			e.ConnectionID, e.EventType, nullable(e.TaskID), nullable(e.Level), nullable(e.Message),
			[]byte(e.Payload), nullableTime(e.EventTime), e.ReceivedAt,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// toEntry converts a journaled push into a row.
func toEntry(env protocol.Envelope, receivedAt time.Time) (model.HistoryEntry, error) {
	e := model.HistoryEntry{
		EventType:  string(env.Type),
		Payload:    env.Bytes(),
		ReceivedAt: receivedAt,
	}

	switch env.Type {
	case protocol.TypeTaskUpdate:
		u, err := model.DecodeTaskUpdate(env, receivedAt)
		if err != nil {
			return e, err
		}
		e.TaskID = u.TaskID
		e.Level = "info"
		e.Message = u.Message
		if u.Status == model.StatusFailed {
			e.Level = "error"
			if u.Error != "" {
				e.Message = u.Error
			}
		}
		e.EventTime = u.At
	case protocol.TypeLogMessage:
		m, err := model.DecodeLogMessage(env, receivedAt)
		if err != nil {
			return e, err
		}
		e.TaskID, e.Level, e.Message, e.EventTime = m.TaskID, m.Level, m.Message, m.At
	case protocol.TypeGlobalLog:
		g, err := model.DecodeGlobalLog(env, receivedAt)
		if err != nil {
			return e, err
		}
		e.Level, e.Message, e.EventTime = g.Level, g.Message, g.At
	default:
		return e, fmt.Errorf("%w: %s", model.ErrWrongType, env.Type)
	}
	return e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
