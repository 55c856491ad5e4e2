package ports

import (
	"context"

	"github.com/aescanero/grantflow/pkg/domain"
)

// EventHandler consumes events delivered by an EventBus.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and delivers thread events and commands.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}
