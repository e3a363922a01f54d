package chat

import (
	"github.com/relaychat/pkg/models"
)

// EventKind tags one streamed generation event
type EventKind string

const (
	EventTextDelta      EventKind = "text-delta"
	EventReasoningDelta EventKind = "reasoning-delta"
	EventToolCall       EventKind = "tool-call"
	EventToolResult     EventKind = "tool-result"
	EventStepStart      EventKind = "step-start"
	EventError          EventKind = "error"
	EventFinish         EventKind = "finish"
)

// Event is one transient stream event relayed to the client. Events arrive
// in generation order; a tool-call precedes its tool-result; exactly one
// finish or error terminates the stream.
type Event struct {
	Type      EventKind              `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ToolCall  *models.ToolInvocation `json:"tool_call,omitempty"`
	Error     string                 `json:"error,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	Usage     *TurnUsage             `json:"usage,omitempty"`
}

// TurnUsage reports what one completed turn consumed, attached to the
// finish event and recorded by the usage meter.
type TurnUsage struct {
	CompletionTokens int64 `json:"completion_tokens"`
	Steps            int   `json:"steps"`
}

// Sink receives stream events in order. A Sink error aborts the turn
// (the client is gone; there is nobody left to stream to).
type Sink func(Event) error
