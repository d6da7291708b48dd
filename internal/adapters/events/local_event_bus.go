package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/smartqrhealth/backend/internal/domain/entities"
	"github.com/smartqrhealth/backend/internal/domain/providers"
)

// LocalEventBus is an in-process EventBus used when Redis is disabled
type LocalEventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.AIJobEvent]struct{}
	closed      bool
}

// NewLocalEventBus creates an in-process event bus
func NewLocalEventBus() *LocalEventBus {
	return &LocalEventBus{
		subscribers: make(map[string]map[chan *entities.AIJobEvent]struct{}),
	}
}

var _ providers.EventBus = (*LocalEventBus)(nil)

// Publish delivers the event to current subscribers without blocking
func (b *LocalEventBus) Publish(ctx context.Context, channel string, event *entities.AIJobEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subscriber := range b.subscribers[channel] {
		select {
		case subscriber <- event:
		default:
			log.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("Subscriber buffer full, dropping event")
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is cancelled
func (b *LocalEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.AIJobEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[chan *entities.AIJobEvent]struct{})
	}
	ch := make(chan *entities.AIJobEvent, subscriberBuffer)
	b.subscribers[channel][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.remove(channel, ch)
	}()
	return ch, nil
}

func (b *LocalEventBus) remove(channel string, ch chan *entities.AIJobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[channel]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, channel)
	}
}

// Close closes every subscriber channel
func (b *LocalEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for channel, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(b.subscribers, channel)
	}
	return nil
}
