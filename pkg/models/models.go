package models

import (
	"time"
)

// User represents a registered chat user
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // Never expose password hash in JSON
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Thread represents one persisted conversation
type Thread struct {
	ID        string    `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PlaceholderTitle is assigned when a thread is created implicitly by the
// first message; the title job replaces it asynchronously.
const PlaceholderTitle = "New Chat"

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a thread. Messages are append-only: corrections
// are new messages, never in-place edits.
type Message struct {
	ID        string        `json:"id" db:"id"`
	ThreadID  string        `json:"thread_id" db:"thread_id"`
	Role      Role          `json:"role" db:"role"`
	Model     string        `json:"model,omitempty" db:"model"`
	Content   string        `json:"content" db:"content"`
	Parts     []MessagePart `json:"parts,omitempty" db:"parts"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// PartType distinguishes the ordered content parts of a message
type PartType string

const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartFile           PartType = "file"
	PartToolInvocation PartType = "tool-invocation"
	PartStepStart      PartType = "step-start"
)

// MessagePart is one ordered content part of a message. Only the fields
// relevant to the part's type are populated.
type MessagePart struct {
	Type           PartType        `json:"type"`
	Text           string          `json:"text,omitempty"`
	FileURL        string          `json:"file_url,omitempty"`
	FileName       string          `json:"file_name,omitempty"`
	ContentType    string          `json:"content_type,omitempty"`
	ToolInvocation *ToolInvocation `json:"tool_invocation,omitempty"`
}

// ToolState tracks a tool invocation. Transitions only pending -> result | error.
type ToolState string

const (
	ToolStatePending ToolState = "pending"
	ToolStateResult  ToolState = "result"
	ToolStateError   ToolState = "error"
)

// ToolInvocation records one model-initiated tool call and its outcome.
// The call id is unique within its message.
type ToolInvocation struct {
	ToolCallID string    `json:"tool_call_id"`
	ToolName   string    `json:"tool_name"`
	Args       string    `json:"args"`
	State      ToolState `json:"state"`
	Result     string    `json:"result,omitempty"`
}

// Attachment is a file/image reference uploaded alongside a user message.
// Object storage itself is an external collaborator; only the reference is
// carried here.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// UsageRecord is the per-user consumption counter gating the free tier.
type UsageRecord struct {
	UserID      int64     `json:"user_id" db:"user_id"`
	TotalTokens int64     `json:"total_tokens" db:"total_tokens"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
