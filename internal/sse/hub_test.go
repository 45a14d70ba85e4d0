package sse

import (
	"testing"

	"github.com/google/uuid"

	"github.com/edforge/edforge-backend/internal/pipeline"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
)

func testMessage(channel string) Message {
	return Message{
		Channel: channel,
		Event:   pipeline.Event{Kind: pipeline.EventStep, Message: "stage done"},
	}
}

func TestBroadcastReachesOnlySubscribers(t *testing.T) {
	h := NewHub(logger.NewNop())
	genID := uuid.New()
	channel := GenerationChannel(genID)

	subscribed := h.NewClient(uuid.New())
	other := h.NewClient(uuid.New())
	h.AddChannel(subscribed, channel)
	h.AddChannel(other, GenerationChannel(uuid.New()))

	h.Broadcast(testMessage(channel))

	select {
	case msg := <-subscribed.Outbound:
		if msg.Channel != channel {
			t.Fatalf("channel = %q, want %q", msg.Channel, channel)
		}
	default:
		t.Fatal("subscribed client must receive the broadcast")
	}
	select {
	case msg := <-other.Outbound:
		t.Fatalf("unsubscribed client received %+v", msg)
	default:
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	h := NewHub(logger.NewNop())
	channel := GenerationChannel(uuid.New())
	client := h.NewClient(uuid.New())
	h.AddChannel(client, channel)

	// One more than the outbound buffer; the extra message is dropped, the
	// broadcast never blocks.
	for i := 0; i < cap(client.Outbound)+1; i++ {
		h.Broadcast(testMessage(channel))
	}
	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("buffered = %d, want full buffer %d", got, cap(client.Outbound))
	}
}

func TestRemoveChannelStopsDelivery(t *testing.T) {
	h := NewHub(logger.NewNop())
	channel := GenerationChannel(uuid.New())
	client := h.NewClient(uuid.New())

	h.AddChannel(client, channel)
	if h.Subscribers(channel) != 1 {
		t.Fatalf("subscribers = %d, want 1", h.Subscribers(channel))
	}

	h.RemoveChannel(client, channel)
	if h.Subscribers(channel) != 0 {
		t.Fatalf("subscribers = %d, want 0 after unsubscribe", h.Subscribers(channel))
	}

	h.Broadcast(testMessage(channel))
	if len(client.Outbound) != 0 {
		t.Fatal("unsubscribed client must not receive broadcasts")
	}
}

func TestRemoveClientClearsAllChannels(t *testing.T) {
	h := NewHub(logger.NewNop())
	client := h.NewClient(uuid.New())
	chA := GenerationChannel(uuid.New())
	chB := GenerationChannel(uuid.New())
	h.AddChannel(client, chA)
	h.AddChannel(client, chB)

	h.RemoveClient(client)

	if h.Subscribers(chA) != 0 || h.Subscribers(chB) != 0 {
		t.Fatal("removed client must be gone from every channel")
	}
	if len(client.Channels) != 0 {
		t.Fatalf("client channels = %v, want cleared", client.Channels)
	}
}

func TestCloseClientIsIdempotent(t *testing.T) {
	h := NewHub(logger.NewNop())
	client := h.NewClient(uuid.New())
	h.AddChannel(client, GenerationChannel(uuid.New()))

	h.CloseClient(client)
	h.CloseClient(client) // second close must not panic
}

func TestGenerationChannelNaming(t *testing.T) {
	id := uuid.New()
	want := "generation:" + id.String()
	if got := GenerationChannel(id); got != want {
		t.Fatalf("channel = %q, want %q", got, want)
	}
}
