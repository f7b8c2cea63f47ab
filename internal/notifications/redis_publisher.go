package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/geocoder89/taskintegrator/internal/observability"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRegistryKey = "taskintegrator:channels"
	defaultMaxLen      = 100_000
)

// RedisPublisher keeps a name -> id registry in a hash and publishes each
// channel's messages onto its own stream. Subscribers read the stream with
// their own consumer groups; live listeners also get a pub/sub copy.
type RedisPublisher struct {
	rdb         redis.UniversalClient
	registryKey string
	maxLen      int64
	prom        *observability.Prom
}

func NewRedisPublisher(rdb redis.UniversalClient, prom *observability.Prom) *RedisPublisher {
	return &RedisPublisher{
		rdb:         rdb,
		registryKey: defaultRegistryKey,
		maxLen:      defaultMaxLen,
		prom:        prom,
	}
}

func (p *RedisPublisher) observe(op string, fn func() error) error {
	if p.prom != nil {
		return p.prom.ObserveStore(op, fn)
	}
	return fn()
}

// ChannelStream is the stream key a channel's messages are written to.
func ChannelStream(channelID string) string {
	return "taskintegrator:channel:" + channelID
}

func (p *RedisPublisher) EnsureChannel(ctx context.Context, name string) (string, error) {
	var id string

	err := p.observe("channels.ensure", func() error {
		// HSETNX makes concurrent creators converge on the first id written
		if err := p.rdb.HSetNX(ctx, p.registryKey, name, uuid.NewString()).Err(); err != nil {
			return err
		}
		var err error
		id, err = p.rdb.HGet(ctx, p.registryKey, name).Result()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("ensure channel %s: %w", name, err)
	}
	return id, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, channelID string, message []byte) (string, error) {
	var msgID string

	err := p.observe("channels.publish", func() error {
		var err error
		msgID, err = p.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: ChannelStream(channelID),
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]any{
				"message":      message,
				"published_at": time.Now().UTC().Format(time.RFC3339Nano),
			},
		}).Result()
		if err != nil {
			return err
		}
		return p.rdb.Publish(ctx, ChannelStream(channelID), message).Err()
	})
	if err != nil {
		return "", fmt.Errorf("publish to channel %s: %w", channelID, err)
	}
	return msgID, nil
}
