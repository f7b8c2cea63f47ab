package notifications

import "context"

// Publisher is a per-task notification channel sink.
type Publisher interface {
	// EnsureChannel creates the named channel, or returns the id of the
	// existing one.
	EnsureChannel(ctx context.Context, name string) (string, error)
	Publish(ctx context.Context, channelID string, message []byte) (string, error)
}
