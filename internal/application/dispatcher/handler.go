package dispatcher

import (
	"context"

	"github.com/garyjia/spend-approval/internal/domain/event"
)

// Handler processes domain events. A handler error returned from a
// synchronous Dispatch vetoes the operation that published the event.
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// AnyType subscribes a handler to every event type
const AnyType event.Type = "*"
