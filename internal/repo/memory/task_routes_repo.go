package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
)

// TaskRoutesRepo keeps routing entries in process memory. Used by tests and
// single-process local runs.
type TaskRoutesRepo struct {
	mu    sync.RWMutex
	items map[string]task.RoutingEntry
}

func NewTaskRoutesRepo() *TaskRoutesRepo {
	return &TaskRoutesRepo{
		items: make(map[string]task.RoutingEntry),
	}
}

func (r *TaskRoutesRepo) Put(_ context.Context, e task.RoutingEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	if _, exists := r.items[e.WorkItemID]; !exists {
		r.items[e.WorkItemID] = e
	}
	r.mu.Unlock()

	return nil
}

func (r *TaskRoutesRepo) Get(_ context.Context, workItemID string) (task.RoutingEntry, error) {
	r.mu.RLock()
	e, ok := r.items[workItemID]
	r.mu.RUnlock()

	if !ok {
		return task.RoutingEntry{}, task.ErrRouteNotFound
	}
	return e, nil
}

func (r *TaskRoutesRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
