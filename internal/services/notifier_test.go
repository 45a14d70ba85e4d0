package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/edforge/edforge-backend/internal/pipeline"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/sse"
)

type recordingBus struct {
	published []sse.Message
	err       error
}

func (b *recordingBus) Publish(_ context.Context, msg sse.Message) error {
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *recordingBus) StartForwarder(context.Context, func(sse.Message)) error { return nil }
func (b *recordingBus) Close() error                                            { return nil }

func subscribe(t *testing.T, hub *sse.Hub, genID uuid.UUID) *sse.Client {
	t.Helper()
	client := hub.NewClient(uuid.New())
	hub.AddChannel(client, sse.GenerationChannel(genID))
	return client
}

func TestEmitBroadcastsLocallyWithoutBus(t *testing.T) {
	hub := sse.NewHub(logger.NewNop())
	genID := uuid.New()
	client := subscribe(t, hub, genID)

	n := NewEventNotifier(logger.NewNop(), hub, nil)
	n.Emit(context.Background(), pipeline.Event{
		Kind:         pipeline.EventStep,
		GenerationID: genID,
		Message:      "draft complete",
	})

	select {
	case msg := <-client.Outbound:
		if msg.Event.Kind != pipeline.EventStep {
			t.Fatalf("kind = %s, want step", msg.Event.Kind)
		}
	default:
		t.Fatal("subscriber must receive the event via the local hub")
	}
}

func TestEmitPrefersBusOverLocalBroadcast(t *testing.T) {
	hub := sse.NewHub(logger.NewNop())
	genID := uuid.New()
	client := subscribe(t, hub, genID)

	b := &recordingBus{}
	n := NewEventNotifier(logger.NewNop(), hub, b)
	n.Emit(context.Background(), pipeline.Event{
		Kind:         pipeline.EventComplete,
		GenerationID: genID,
	})

	if len(b.published) != 1 {
		t.Fatalf("published = %d, want 1", len(b.published))
	}
	if b.published[0].Channel != sse.GenerationChannel(genID) {
		t.Fatalf("channel = %q", b.published[0].Channel)
	}
	// The forwarder replays bus messages into hubs; a direct local broadcast
	// on top of that would double-deliver.
	if len(client.Outbound) != 0 {
		t.Fatal("healthy bus publish must not also broadcast locally")
	}
}

func TestEmitFallsBackToHubWhenBusFails(t *testing.T) {
	hub := sse.NewHub(logger.NewNop())
	genID := uuid.New()
	client := subscribe(t, hub, genID)

	b := &recordingBus{err: errors.New("redis down")}
	n := NewEventNotifier(logger.NewNop(), hub, b)
	n.Emit(context.Background(), pipeline.Event{
		Kind:         pipeline.EventError,
		GenerationID: genID,
		Message:      "something broke",
	})

	if len(client.Outbound) != 1 {
		t.Fatalf("buffered = %d, want local fallback delivery", len(client.Outbound))
	}
}

func TestEmitRejectsUnknownEventKind(t *testing.T) {
	hub := sse.NewHub(logger.NewNop())
	genID := uuid.New()
	client := subscribe(t, hub, genID)

	b := &recordingBus{}
	n := NewEventNotifier(logger.NewNop(), hub, b)
	n.Emit(context.Background(), pipeline.Event{
		Kind:         pipeline.EventKind("telemetry"),
		GenerationID: genID,
	})

	if len(b.published) != 0 || len(client.Outbound) != 0 {
		t.Fatal("events outside the closed kind set must be dropped")
	}
}
