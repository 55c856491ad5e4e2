package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/aescanero/grantflow/pkg/ports"
	"go.uber.org/zap"
)

// ErrClosed is returned by a closed bus.
var ErrClosed = errors.New("event bus closed")

const queueSize = 256

// EventBus implements ports.EventBus in process. Each subscription receives
// events in publish order on its own goroutine.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[uint64]*subscription
	nextID      uint64
	closed      bool
	logger      *zap.Logger
}

type subscription struct {
	queue   chan domain.Event
	handler ports.EventHandler
	stop    context.CancelFunc
	done    chan struct{}
}

// NewEventBus creates an in-memory event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string]map[uint64]*subscription),
		logger:      logger.Named("memory-bus"),
	}
}

// Publish queues event for every subscriber of topic. Publishing blocks while
// a subscriber's queue is full.
func (b *EventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.subscribers[topic] {
		select {
		case sub.queue <- event:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe delivers events of topic to handler until ctx is done.
func (b *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		queue:   make(chan domain.Event, queueSize),
		handler: handler,
		stop:    cancel,
		done:    make(chan struct{}),
	}
	id := b.nextID
	b.nextID++
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[uint64]*subscription)
	}
	b.subscribers[topic][id] = sub

	go b.deliver(subCtx, topic, id, sub)
	return nil
}

func (b *EventBus) deliver(ctx context.Context, topic string, id uint64, sub *subscription) {
	defer func() {
		close(sub.done)
		b.mu.Lock()
		delete(b.subscribers[topic], id)
		b.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub.queue:
			if err := sub.handler(ctx, event); err != nil {
				b.logger.Warn("event handler failed",
					zap.String("topic", topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}
}

// Unsubscribe stops every subscription of topic.
func (b *EventBus) Unsubscribe(_ context.Context, topic string) error {
	b.mu.RLock()
	for _, sub := range b.subscribers[topic] {
		sub.stop()
	}
	b.mu.RUnlock()
	return nil
}

// Close stops all subscriptions. Further calls fail with ErrClosed.
func (b *EventBus) Close() error {
	b.mu.Lock()
	b.closed = true
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.mu.Unlock()
	return nil
}
