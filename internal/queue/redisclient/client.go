// Package redisclient owns the one Redis connection pool a process shares
// between the inbound queue and the channel publisher.
package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// ClientName shows up in CLIENT LIST, e.g. "taskintegrator-collector".
	ClientName string
}

type Client struct {
	rdb *redis.Client
}

func New(cfg Config) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   cfg.ClientName,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Second,
		// blocking XREADGROUP calls carry their own deadline
		ContextTimeoutEnabled: true,
	})}
}

// Ping backs the readiness checks of both processes.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Raw exposes the pool to the queue and publisher adapters.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}
