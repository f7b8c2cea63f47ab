package pipeline

import (
	"context"

	"github.com/geocoder89/taskintegrator/internal/cache"
	"golang.org/x/sync/singleflight"
)

// ChannelName is the deterministic channel name of a task within a stack.
func ChannelName(stack, taskName string) string {
	return stack + "-" + taskName
}

// ChannelResolver maps task names to channel ids, creating channels on
// first use. Entries live as long as the resolver.
type ChannelResolver struct {
	stack     string
	publisher ChannelPublisher
	ids       *cache.Cache[string]
	inflight  singleflight.Group
}

func NewChannelResolver(stack string, publisher ChannelPublisher) *ChannelResolver {
	return &ChannelResolver{
		stack:     stack,
		publisher: publisher,
		ids:       cache.New[string](0),
	}
}

func (r *ChannelResolver) Resolve(ctx context.Context, taskName string) (string, error) {
	if id, ok := r.ids.Get(taskName); ok {
		return id, nil
	}

	// the shared call must outlive any one waiter; each waiter still honours
	// its own ctx below
	shared := context.WithoutCancel(ctx)
	ch := r.inflight.DoChan(taskName, func() (any, error) {
		if id, ok := r.ids.Get(taskName); ok {
			return id, nil
		}

		id, err := r.publisher.EnsureChannel(shared, ChannelName(r.stack, taskName))
		if err != nil {
			return "", wrap(ErrPublishFailed, "ensure channel for task %s: %v", taskName, err)
		}
		// creation is idempotent, so whichever id lands first is the id
		return r.ids.SetIfAbsent(taskName, id), nil
	})

	select {
	case <-ctx.Done():
		return "", wrap(ErrPublishFailed, "resolve channel for task %s: %v", taskName, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Known reports how many tasks have a cached channel.
func (r *ChannelResolver) Known() int {
	return r.ids.Len()
}
