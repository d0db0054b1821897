package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rickgao/studio-console/internal/api"
	"github.com/rickgao/studio-console/internal/model"
)

// Sync fetches pending and running jobs over HTTP and merges them,
// catching up on status changes whose pushes were missed while the
// session was down. Jobs the server no longer lists as active are left
// as they are; their final update arrives as a push or through the poller.
func (t *Tracker) Sync(ctx context.Context, l Lister) error {
	start := time.Now()

	var fetched []model.Task
	for _, status := range []model.TaskStatus{model.StatusPending, model.StatusRunning} {
		list, err := l.ListTasks(ctx, api.ListTasksOptions{Status: string(status)})
		if err != nil {
			return fmt.Errorf("sync %s tasks: %w", status, err)
		}
		fetched = append(fetched, list...)
	}

	var created, changed int

	t.mu.Lock()
	for _, task := range fetched {
		existing, ok := t.tasks[task.ID]
		switch {
		case !ok:
			created++
		case existing.Status != task.Status || existing.Progress != task.Progress:
			changed++
		default:
			continue
		}
		t.upsertLocked(task)
	}
	t.lastSyncAt = time.Now()
	t.mu.Unlock()

	if created > 0 || changed > 0 {
		t.logger.Info("task sync found changes",
			"created", created,
			"changed", changed,
			"duration", time.Since(start),
		)
	} else {
		t.logger.Debug("task sync complete",
			"total_tasks", len(fetched),
			"duration", time.Since(start),
		)
	}

	return nil
}
