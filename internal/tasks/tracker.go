package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/studio-console/internal/api"
	"github.com/rickgao/studio-console/internal/model"
	"github.com/rickgao/studio-console/internal/protocol"
	"github.com/rickgao/studio-console/internal/router"
)

// ErrClosed is returned by Wait after Close.
var ErrClosed = errors.New("tracker closed")

// Change event types.
const (
	EventCreated      = "created"
	EventStatusChange = "status_change"
	EventProgress     = "progress"
)

// TaskChange describes one observed change to a job.
type TaskChange struct {
	TaskID    string
	EventType string
	OldStatus model.TaskStatus
	NewStatus model.TaskStatus
	Task      model.Task
}

// Config holds Tracker configuration.
type Config struct {
	ChangeBuffer int // Capacity of the Changes channel
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{ChangeBuffer: 256}
}

// Subscriber registers push handlers. session.Service satisfies it.
type Subscriber interface {
	Subscribe(eventType string, fn func(protocol.Envelope)) router.Subscription
}

// Lister fetches jobs over HTTP. api.Client satisfies it.
type Lister interface {
	ListTasks(ctx context.Context, opts api.ListTasksOptions) ([]model.Task, error)
}

// Tracker caches known jobs and their latest status.
type Tracker struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	tasks      map[string]*model.Task
	waiters    map[string][]chan model.Task
	subs       []router.Subscription
	closed     bool
	lastSyncAt time.Time

	changes        chan TaskChange
	droppedChanges atomic.Int64
	decodeErrors   atomic.Int64
	staleUpdates   atomic.Int64
}

// NewTracker creates an empty Tracker.
func NewTracker(cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChangeBuffer < 1 {
		cfg.ChangeBuffer = DefaultConfig().ChangeBuffer
	}

	return &Tracker{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		tasks:   make(map[string]*model.Task),
		waiters: make(map[string][]chan model.Task),
		changes: make(chan TaskChange, cfg.ChangeBuffer),
	}
}

// Attach subscribes the tracker to task_update pushes.
func (t *Tracker) Attach(s Subscriber) {
	sub := s.Subscribe(protocol.TypeTaskUpdate, t.handleTaskUpdate)

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
}

func (t *Tracker) handleTaskUpdate(env protocol.Envelope) {
	u, err := model.DecodeTaskUpdate(env, t.now())
	if err != nil {
		t.decodeErrors.Add(1)
		t.logger.Debug("ignoring task update", "error", err)
		return
	}
	t.Apply(u)
}

// Track adds or replaces a job, typically one just created over HTTP.
func (t *Tracker) Track(task model.Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upsertLocked(task)
}

// Apply merges a pushed update. Updates for unknown jobs create an entry.
func (t *Tracker) Apply(u model.TaskUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.tasks[u.TaskID]
	if !ok {
		task := model.Task{ID: u.TaskID, Status: model.StatusPending, CreatedAt: u.At}
		task.Apply(u)
		t.upsertLocked(task)
		return
	}

	next := *existing
	next.Apply(u)
	t.upsertLocked(next)
}

// upsertLocked stores task and emits the change it represents.
func (t *Tracker) upsertLocked(task model.Task) {
	if task.ID == "" {
		return
	}

	old, ok := t.tasks[task.ID]
	if ok && old.Status.IsTerminal() && !task.Status.IsTerminal() {
		// A snapshot fetched before the final push must not revive the job.
		t.staleUpdates.Add(1)
		t.logger.Debug("ignoring stale task state",
			"task_id", task.ID,
			"status", old.Status,
			"stale_status", task.Status,
		)
		return
	}
	stored := task
	t.tasks[task.ID] = &stored

	switch {
	case !ok:
		t.notifyLocked(TaskChange{TaskID: task.ID, EventType: EventCreated, NewStatus: task.Status, Task: task})
	case old.Status != task.Status:
		t.notifyLocked(TaskChange{TaskID: task.ID, EventType: EventStatusChange, OldStatus: old.Status, NewStatus: task.Status, Task: task})
	case old.Progress != task.Progress:
		t.notifyLocked(TaskChange{TaskID: task.ID, EventType: EventProgress, OldStatus: old.Status, NewStatus: task.Status, Task: task})
	default:
		return
	}

	if task.Status.IsTerminal() {
		for _, ch := range t.waiters[task.ID] {
			ch <- task
		}
		delete(t.waiters, task.ID)
	}
}

// notifyLocked emits a change without blocking; changes are dropped when
// nobody keeps up with the channel.
func (t *Tracker) notifyLocked(c TaskChange) {
	if t.closed {
		return
	}
	select {
	case t.changes <- c:
	default:
		if t.droppedChanges.Add(1)%100 == 1 {
			t.logger.Warn("task change channel full, dropping", "task_id", c.TaskID, "dropped", t.droppedChanges.Load())
		}
	}
}

// Get returns a job by ID.
func (t *Tracker) Get(id string) (model.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return *task, true
}

// Active returns jobs that are not in a terminal status, oldest first.
func (t *Tracker) Active() []model.Task {
	return t.filter(func(task *model.Task) bool { return !task.Status.IsTerminal() })
}

// All returns every known job, oldest first.
func (t *Tracker) All() []model.Task {
	return t.filter(func(*model.Task) bool { return true })
}

func (t *Tracker) filter(keep func(*model.Task) bool) []model.Task {
	t.mu.Lock()
	out := make([]model.Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		if keep(task) {
			out = append(out, *task)
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Changes returns the channel of job changes. It is closed by Close.
func (t *Tracker) Changes() <-chan TaskChange {
	return t.changes
}

// Wait blocks until the job reaches a terminal status and returns it.
// A job already finished returns immediately.
func (t *Tracker) Wait(ctx context.Context, id string) (model.Task, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return model.Task{}, ErrClosed
	}
	if task, ok := t.tasks[id]; ok && task.Status.IsTerminal() {
		t.mu.Unlock()
		return *task, nil
	}
	ch := make(chan model.Task, 1)
	t.waiters[id] = append(t.waiters[id], ch)
	t.mu.Unlock()

	select {
	case task, ok := <-ch:
		if !ok {
			return model.Task{}, ErrClosed
		}
		return task, nil
	case <-ctx.Done():
		t.removeWaiter(id, ch)
		return model.Task{}, ctx.Err()
	}
}

func (t *Tracker) removeWaiter(id string, ch chan model.Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.waiters[id]
	for i, w := range list {
		if w == ch {
			t.waiters[id] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(t.waiters[id]) == 0 {
		delete(t.waiters, id)
	}
}

// Stats returns tracker counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Known:          len(t.tasks),
		DroppedChanges: t.droppedChanges.Load(),
		DecodeErrors:   t.decodeErrors.Load(),
		StaleUpdates:   t.staleUpdates.Load(),
		LastSyncAt:     t.lastSyncAt,
	}
	for _, task := range t.tasks {
		if !task.Status.IsTerminal() {
			s.Active++
		}
	}
	for _, list := range t.waiters {
		s.Waiters += len(list)
	}
	return s
}

// Stats contains tracker counters.
type Stats struct {
	Known          int
	Active         int
	Waiters        int
	DroppedChanges int64
	DecodeErrors   int64
	StaleUpdates   int64
	LastSyncAt     time.Time
}

// Close releases push subscriptions, fails pending waiters and closes
// the Changes channel.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	subs := t.subs
	t.subs = nil
	for id, list := range t.waiters {
		for _, ch := range list {
			close(ch)
		}
		delete(t.waiters, id)
	}
	close(t.changes)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
