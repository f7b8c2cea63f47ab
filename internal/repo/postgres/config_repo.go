package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/geocoder89/taskintegrator/internal/observability"
	"github.com/geocoder89/taskintegrator/internal/utils"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultConfigPageSize = 100

type ConfigItem struct {
	Key   string
	Value any
}

// ConfigRepo reads the key/value runtime configuration.
type ConfigRepo struct {
	observer
	pool     *pgxpool.Pool
	pageSize int
}

func NewConfigRepo(pool *pgxpool.Pool, prom *observability.Prom) *ConfigRepo {
	return &ConfigRepo{observer: observer{prom: prom}, pool: pool, pageSize: defaultConfigPageSize}
}

// ScanPage returns up to limit items after the continuation token. An empty
// next token means the scan is complete.
func (r *ConfigRepo) ScanPage(ctx context.Context, namespace, token string, limit int) (items []ConfigItem, next string, err error) {
	if limit <= 0 {
		limit = r.pageSize
	}

	after := ""
	if token != "" {
		c, derr := utils.DecodeConfigCursor(token)
		if derr != nil {
			return nil, "", fmt.Errorf("config scan %s: %w", namespace, derr)
		}
		if c.Namespace != namespace {
			return nil, "", fmt.Errorf("config scan %s: cursor belongs to %s", namespace, c.Namespace)
		}
		after = c.AfterKey
	}

	type row struct {
		key   string
		value []byte
	}
	var rows []row

	err = r.observe("config.scan_page", func() error {
		q, qerr := r.pool.Query(ctx, `
			SELECT key, value
			FROM config_entries
			WHERE namespace = $1 AND key > $2
			ORDER BY key ASC
			LIMIT $3
		`, namespace, after, limit+1)
		if qerr != nil {
			return qerr
		}
		defer q.Close()

		for q.Next() {
			var rr row
			if serr := q.Scan(&rr.key, &rr.value); serr != nil {
				return serr
			}
			rows = append(rows, rr)
		}
		return q.Err()
	})
	if err != nil {
		return nil, "", err
	}

	if len(rows) > limit {
		rows = rows[:limit]
		next, err = utils.EncodeConfigCursor(namespace, rows[len(rows)-1].key)
		if err != nil {
			return nil, "", err
		}
	}

	items = make([]ConfigItem, 0, len(rows))
	for _, rr := range rows {
		var v any
		if err := json.Unmarshal(rr.value, &v); err != nil {
			return nil, "", fmt.Errorf("config key %s: %w", rr.key, err)
		}
		items = append(items, ConfigItem{Key: rr.key, Value: v})
	}

	return items, next, nil
}

// LoadAll pages through the namespace until no continuation token remains.
// Any failing page fails the whole load.
func (r *ConfigRepo) LoadAll(ctx context.Context, namespace string) (map[string]any, error) {
	out := make(map[string]any)
	token := ""

	for {
		items, next, err := r.ScanPage(ctx, namespace, token, r.pageSize)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			out[it.Key] = it.Value
		}
		if next == "" {
			return out, nil
		}
		token = next
	}
}
