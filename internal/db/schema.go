package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS config_entries (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS task_routes (
	work_item_id TEXT PRIMARY KEY,
	task_name    TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS task_routes_task_name_idx ON task_routes (task_name);
`

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

// SeedConfig loads a JSON object of key -> value from path into the
// namespace. Existing keys are left untouched so operators can edit them
// in place after the first boot.
func SeedConfig(ctx context.Context, pool *pgxpool.Pool, namespace, path string) (int, error) {
	if path == "" {
		return 0, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read config seed: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("decode config seed: %w", err)
	}

	batch := &pgx.Batch{}
	for k, v := range entries {
		batch.Queue(`
			INSERT INTO config_entries (namespace, key, value, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (namespace, key) DO NOTHING
		`, namespace, k, []byte(v))
	}

	br := pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range entries {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("seed config: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
