package pipeline

import (
	"context"

	"github.com/google/uuid"
)

// EventKind is the closed set of pipeline event variants. Consumers must
// reject unknown kinds rather than silently ignoring them.
type EventKind string

const (
	EventStep           EventKind = "step"
	EventChunk          EventKind = "chunk"
	EventReplace        EventKind = "replace"
	EventGapAnalysis    EventKind = "gap_analysis"
	EventCourseDetected EventKind = "course_detected"
	EventFormatted      EventKind = "formatted"
	EventComplete       EventKind = "complete"
	EventMismatchStop   EventKind = "mismatch_stop"
	EventError          EventKind = "error"
)

// KnownEventKind reports whether k is part of the closed event set.
func KnownEventKind(k EventKind) bool {
	switch k {
	case EventStep, EventChunk, EventReplace, EventGapAnalysis,
		EventCourseDetected, EventFormatted, EventComplete,
		EventMismatchStop, EventError:
		return true
	}
	return false
}

// Event is one pipeline observation. Chunk events are append-only text
// increments; Replace events overwrite accumulated content entirely.
type Event struct {
	Kind         EventKind      `json:"kind"`
	GenerationID uuid.UUID      `json:"generation_id"`
	UserID       uuid.UUID      `json:"user_id"`
	Stage        string         `json:"stage,omitempty"`
	Agent        string         `json:"agent,omitempty"`
	Message      string         `json:"message,omitempty"`
	Chunk        string         `json:"chunk,omitempty"`
	Content      string         `json:"content,omitempty"`
	Progress     int            `json:"progress"`
	CostUSD      float64        `json:"cost_usd,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Notifier receives pipeline events; the services layer fans them out over
// SSE and the redis bus. Emit must not block the pipeline.
type Notifier interface {
	Emit(ctx context.Context, ev Event)
}

// NopNotifier discards events. Used by tests.
type NopNotifier struct{}

func (NopNotifier) Emit(context.Context, Event) {}
