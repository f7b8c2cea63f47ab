package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/geocoder89/taskintegrator/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TaskRoutesRepo struct {
	observer
	pool *pgxpool.Pool
}

func NewTaskRoutesRepo(pool *pgxpool.Pool, prom *observability.Prom) *TaskRoutesRepo {
	return &TaskRoutesRepo{observer: observer{prom: prom}, pool: pool}
}

// Put writes the route once. A second write for the same work item keeps
// the original entry.
func (r *TaskRoutesRepo) Put(ctx context.Context, e task.RoutingEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	return r.observe("task_routes.put", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO task_routes (work_item_id, task_name, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (work_item_id) DO NOTHING
		`, e.WorkItemID, e.TaskName, e.CreatedAt)
		return err
	})
}

func (r *TaskRoutesRepo) Get(ctx context.Context, workItemID string) (task.RoutingEntry, error) {
	var e task.RoutingEntry

	err := r.observe("task_routes.get", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT work_item_id, task_name, created_at
			FROM task_routes
			WHERE work_item_id = $1
		`, workItemID).Scan(&e.WorkItemID, &e.TaskName, &e.CreatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.RoutingEntry{}, task.ErrRouteNotFound
		}
		return task.RoutingEntry{}, err
	}
	return e, nil
}
