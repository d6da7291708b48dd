package providers

import (
	"context"

	"github.com/smartqrhealth/backend/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to AI job events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.AIJobEvent) error

	// Subscribe delivers events on channel until ctx is cancelled, then closes the returned channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.AIJobEvent, error)

	// Close closes the event bus and all subscriptions
	Close() error
}
