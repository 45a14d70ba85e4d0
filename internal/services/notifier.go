package services

import (
	"context"
	"time"

	"github.com/edforge/edforge-backend/internal/pipeline"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/realtime/bus"
	"github.com/edforge/edforge-backend/internal/sse"
)

// eventNotifier fans pipeline events out to SSE subscribers. With a bus
// configured, events go through redis so every instance's hub sees them;
// without one, they broadcast to the local hub directly. Events with a kind
// outside the closed set are dropped with a warning, never forwarded.
type eventNotifier struct {
	log *logger.Logger
	hub *sse.Hub
	bus bus.Bus
}

func NewEventNotifier(log *logger.Logger, hub *sse.Hub, b bus.Bus) pipeline.Notifier {
	return &eventNotifier{
		log: log.With("service", "EventNotifier"),
		hub: hub,
		bus: b,
	}
}

func (n *eventNotifier) Emit(_ context.Context, ev pipeline.Event) {
	if !pipeline.KnownEventKind(ev.Kind) {
		n.log.Warn("rejecting unknown event kind",
			"kind", string(ev.Kind), "generation_id", ev.GenerationID.String())
		return
	}

	msg := sse.Message{
		Channel: sse.GenerationChannel(ev.GenerationID),
		Event:   ev,
	}

	if n.bus != nil {
		// Detached context: the run context may already be canceled when
		// terminal events are emitted.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := n.bus.Publish(ctx, msg); err == nil {
			return
		} else {
			n.log.Warn("bus publish failed, falling back to local broadcast",
				"error", err, "kind", string(ev.Kind))
		}
	}
	if n.hub != nil {
		n.hub.Broadcast(msg)
	}
}
