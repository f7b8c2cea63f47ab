package pipeline

import (
	"context"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
)

// NotificationRegistrar routes a work-item type's submission notifications
// to the inbound queue. The marketplace call overwrites the subscription,
// so registering again with the same destination changes nothing.
type NotificationRegistrar struct{}

// Register looks up the type of workItemID and subscribes it. It returns
// the type id.
func (NotificationRegistrar) Register(ctx context.Context, mk Marketplace, workItemID, destination string) (string, error) {
	if destination == "" {
		return "", wrap(ErrConfigUnavailable, "no notification destination configured")
	}

	item, err := mk.GetWorkItem(ctx, workItemID)
	if err != nil {
		return "", wrap(ErrMarketplaceCallFailed, "get work item %s: %v", workItemID, err)
	}

	if err := mk.SetNotification(ctx, item.TypeID, destination, []string{task.EventAssignmentSubmitted}); err != nil {
		return item.TypeID, wrap(ErrMarketplaceCallFailed, "set notification for type %s: %v", item.TypeID, err)
	}
	return item.TypeID, nil
}
