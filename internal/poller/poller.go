package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/studio-console/internal/model"
)

// TaskSource provides the jobs to refresh and accepts fetched ones.
// tasks.Tracker satisfies it.
type TaskSource interface {
	Active() []model.Task
	Track(task model.Task)
}

// Session requests pushes over the realtime connection. session.Service
// satisfies it.
type Session interface {
	IsWebSocketConnected() bool
	RequestTaskUpdate(taskID string) bool
	RequestSystemStatus() bool
}

// Fetcher reads one job over HTTP. api.Client satisfies it.
type Fetcher interface {
	GetTask(ctx context.Context, id string) (*model.Task, error)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 30s)
	Concurrency int           // Max concurrent HTTP requests (default: 8)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Concurrency: 8,
		Timeout:     10 * time.Second,
	}
}

// Stats contains poller counters.
type Stats struct {
	Cycles        int64
	PushRequests  int64
	HTTPFetches   int64
	HTTPErrors    int64
	LastCycleMode string // "push" or "http"
}

// Poller periodically refreshes job status.
type Poller struct {
	cfg     Config
	session Session
	fetcher Fetcher
	tasks   TaskSource
	logger  *slog.Logger

	cycles       atomic.Int64
	pushRequests atomic.Int64
	httpFetches  atomic.Int64
	httpErrors   atomic.Int64
	lastMode     atomic.Value

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. fetcher may be nil, in which case nothing is
// refreshed while the session is down.
func New(cfg Config, session Session, fetcher Fetcher, tasks TaskSource, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:     cfg,
		session: session,
		fetcher: fetcher,
		tasks:   tasks,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("status poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	mode, _ := p.lastMode.Load().(string)
	return Stats{
		Cycles:        p.cycles.Load(),
		PushRequests:  p.pushRequests.Load(),
		HTTPFetches:   p.httpFetches.Load(),
		HTTPErrors:    p.httpErrors.Load(),
		LastCycleMode: mode,
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(p.ctx)
		}
	}
}

// PollOnce runs one refresh cycle.
func (p *Poller) PollOnce(ctx context.Context) {
	p.cycles.Add(1)
	active := p.tasks.Active()

	if p.session.IsWebSocketConnected() {
		p.lastMode.Store("push")
		p.requestPushes(active)
		return
	}

	p.lastMode.Store("http")
	p.fetchAll(ctx, active)
}

// requestPushes asks the server to push current state. Stops at the first
// refused request, since the session just went down.
func (p *Poller) requestPushes(active []model.Task) {
	if !p.session.RequestSystemStatus() {
		return
	}
	p.pushRequests.Add(1)

	for _, task := range active {
		if !p.session.RequestTaskUpdate(task.ID) {
			p.logger.Debug("session went down mid-cycle", "remaining", len(active))
			return
		}
		p.pushRequests.Add(1)
	}

	p.logger.Debug("push requests sent", "tasks", len(active))
}

// fetchAll fetches active jobs over HTTP concurrently.
func (p *Poller) fetchAll(ctx context.Context, active []model.Task) {
	if p.fetcher == nil || len(active) == 0 {
		return
	}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	var fetched, failed atomic.Int64
	for _, task := range active {
		id := task.ID
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := p.fetchTask(gctx, id); err != nil {
				p.logger.Warn("failed to fetch task", "task_id", id, "error", err)
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}
	g.Wait()

	p.httpFetches.Add(fetched.Load())
	p.httpErrors.Add(failed.Load())

	p.logger.Info("http poll cycle complete",
		"tasks", len(active),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// fetchTask fetches one job and hands it to the tracker.
func (p *Poller) fetchTask(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	task, err := p.fetcher.GetTask(ctx, id)
	if err != nil {
		return err
	}

	p.tasks.Track(*task)
	return nil
}
