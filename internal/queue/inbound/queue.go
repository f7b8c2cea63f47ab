// Package inbound is the best-effort delivery queue the marketplace's
// completion notifications land on. It is a Redis stream read through a
// consumer group: a received message stays pending until Delete acks it, and
// pending messages idle for longer than the visibility timeout are handed
// out again by a later Receive.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/geocoder89/taskintegrator/internal/observability"
	"github.com/redis/go-redis/v9"
)

const bodyField = "body"

type Config struct {
	Stream            string
	Group             string
	Consumer          string
	VisibilityTimeout time.Duration
	WaitTime          time.Duration

	// StaleConsumerAfter is how long a consumer with nothing pending may sit
	// idle before Setup removes it from the group.
	StaleConsumerAfter time.Duration
}

type Queue struct {
	rdb  redis.UniversalClient
	cfg  Config
	prom *observability.Prom

	claimMu   sync.Mutex
	claimFrom string
}

func New(rdb redis.UniversalClient, cfg Config, prom *observability.Prom) *Queue {
	if cfg.Group == "" {
		cfg.Group = "collector"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "collector-1"
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = time.Second
	}
	if cfg.StaleConsumerAfter <= 0 {
		cfg.StaleConsumerAfter = 24 * time.Hour
	}
	return &Queue{rdb: rdb, cfg: cfg, prom: prom, claimFrom: "0-0"}
}

func (q *Queue) observe(op string, fn func() error) error {
	if q.prom != nil {
		return q.prom.ObserveStore(op, fn)
	}
	return fn()
}

// Setup creates the stream and consumer group if they do not exist, then
// drops consumers left behind by earlier processes.
func (q *Queue) Setup(ctx context.Context) error {
	err := q.observe("inbound.setup", func() error {
		return q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	})
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group %s on %s: %w", q.cfg.Group, q.cfg.Stream, err)
	}
	return q.pruneConsumers(ctx)
}

func (q *Queue) pruneConsumers(ctx context.Context) error {
	var consumers []redis.XInfoConsumer
	err := q.observe("inbound.consumers", func() error {
		var err error
		consumers, err = q.rdb.XInfoConsumers(ctx, q.cfg.Stream, q.cfg.Group).Result()
		return err
	})
	if err != nil {
		return fmt.Errorf("list consumers of %s: %w", q.cfg.Group, err)
	}

	for _, name := range staleConsumers(consumers, q.cfg.Consumer, q.cfg.StaleConsumerAfter) {
		err := q.observe("inbound.del_consumer", func() error {
			return q.rdb.XGroupDelConsumer(ctx, q.cfg.Stream, q.cfg.Group, name).Err()
		})
		if err != nil {
			return fmt.Errorf("delete consumer %s: %w", name, err)
		}
	}
	return nil
}

// staleConsumers picks consumers that own no pending messages and have been
// idle for at least after. Deleting a consumer discards its pending list, so
// only empty ones qualify.
func staleConsumers(consumers []redis.XInfoConsumer, self string, after time.Duration) []string {
	var out []string
	for _, c := range consumers {
		if c.Name == self || c.Pending > 0 || c.Idle < after {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

// Enqueue appends a raw notification body. The marketplace bridge uses it;
// so do tests and local tooling.
func (q *Queue) Enqueue(ctx context.Context, body []byte) (string, error) {
	var id string
	err := q.observe("inbound.enqueue", func() error {
		var err error
		id, err = q.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: q.cfg.Stream,
			Values: map[string]any{bodyField: body},
		}).Result()
		return err
	})
	return id, err
}

// Receive returns up to max messages: new ones first, then the rest of the
// budget from messages delivered before and never deleted. Messages that
// keep failing therefore never crowd out new ones. Reclaiming resumes where
// the previous call stopped, so a long tail of pending messages is cycled
// through rather than the oldest being retried every time.
func (q *Queue) Receive(ctx context.Context, max int) ([]task.InboundMessage, error) {
	if max <= 0 {
		return nil, nil
	}

	var out []task.InboundMessage

	err := q.observe("inbound.read", func() error {
		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    int64(max),
			Block:    q.cfg.WaitTime,
		}).Result()
		if err != nil {
			return err
		}
		for _, s := range streams {
			out = appendMessages(out, s.Messages)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read group: %w", err)
	}

	remaining := max - len(out)
	if remaining <= 0 {
		return out, nil
	}

	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	err = q.observe("inbound.reclaim", func() error {
		msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			MinIdle:  q.cfg.VisibilityTimeout,
			Start:    q.claimFrom,
			Count:    int64(remaining),
		}).Result()
		if err != nil {
			return err
		}
		// "0-0" means the scan wrapped
		q.claimFrom = next
		out = appendMessages(out, msgs)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return out, fmt.Errorf("reclaim pending: %w", err)
	}

	return out, nil
}

// Delete acknowledges and removes the message so it is never redelivered.
func (q *Queue) Delete(ctx context.Context, msg task.InboundMessage) error {
	return q.observe("inbound.delete", func() error {
		_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID)
			pipe.XDel(ctx, q.cfg.Stream, msg.ID)
			return nil
		})
		return err
	})
}

func appendMessages(out []task.InboundMessage, msgs []redis.XMessage) []task.InboundMessage {
	for _, m := range msgs {
		out = append(out, task.InboundMessage{ID: m.ID, Body: bodyOf(m)})
	}
	return out
}

func bodyOf(m redis.XMessage) []byte {
	switch v := m.Values[bodyField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
