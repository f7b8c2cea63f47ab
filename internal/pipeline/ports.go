package pipeline

import (
	"context"
	"time"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/geocoder89/taskintegrator/internal/marketplace"
	"github.com/shopspring/decimal"
)

type ConfigStore interface {
	LoadAll(ctx context.Context, namespace string) (map[string]any, error)
}

type Marketplace interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	CreateWorkItem(ctx context.Context, req task.CreateRequest) (task.WorkItem, error)
	GetWorkItem(ctx context.Context, id string) (task.WorkItem, error)
	GetAssignment(ctx context.Context, assignmentID string) (task.Assignment, error)
	SetNotification(ctx context.Context, typeID, destination string, eventTypes []string) error
}

// MarketplaceDialer builds a client from the credentials found in runtime
// configuration.
type MarketplaceDialer func(ctx context.Context, cfg marketplace.Config) (Marketplace, error)

// DialMarketplace is the production dialer.
func DialMarketplace(ctx context.Context, cfg marketplace.Config) (Marketplace, error) {
	return marketplace.New(ctx, cfg)
}

type RoutingStore interface {
	Put(ctx context.Context, e task.RoutingEntry) error
	Get(ctx context.Context, workItemID string) (task.RoutingEntry, error)
}

type InboundQueue interface {
	Receive(ctx context.Context, max int) ([]task.InboundMessage, error)
	Delete(ctx context.Context, msg task.InboundMessage) error
}

type ChannelPublisher interface {
	EnsureChannel(ctx context.Context, name string) (string, error)
	Publish(ctx context.Context, channelID string, message []byte) (string, error)
}

// MetricsSink is fire-and-forget.
type MetricsSink interface {
	Record(name string, value float64, ts time.Time)
}

type discardMetrics struct{}

func (discardMetrics) Record(string, float64, time.Time) {}
