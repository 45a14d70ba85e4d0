package bus

import (
	"context"

	"github.com/edforge/edforge-backend/internal/sse"
)

// Bus carries SSE messages between instances so a client connected to one
// replica still sees events from a pipeline running on another.
type Bus interface {
	Publish(ctx context.Context, msg sse.Message) error
	StartForwarder(ctx context.Context, onMsg func(m sse.Message)) error
	Close() error
}
