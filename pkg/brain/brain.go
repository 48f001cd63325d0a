// Package brain defines the pluggable text-generation backend contract used
// by the voice pipeline, along with the process-wide backend registry.
package brain

import (
	"context"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the ordered conversation sent to a backend.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// SessionInfo is the correlation identity attached to every backend call so
// the backend can maintain cross-turn memory. Any subset of the room and
// participant fields may be empty depending on what the transport exposed.
type SessionInfo struct {
	SessionID           string `json:"session_id"`
	RoomSID             string `json:"room_sid,omitempty"`
	RoomName            string `json:"room_name,omitempty"`
	ParticipantIdentity string `json:"participant_identity,omitempty"`
	ParticipantSID      string `json:"participant_sid,omitempty"`
}

// ChatOptions describes one streamed chat invocation.
type ChatOptions struct {
	Messages []Message
	Tools    []Tool

	// Session, when set, overrides the backend's bound default session.
	Session *SessionInfo

	// Handle identifies the in-flight call for CancelPending. The caller
	// assigns it; backends generate one when it is empty.
	Handle string

	MaxTokens   int
	Temperature float64
}

// ToolCallDelta is an incremental fragment of a tool invocation. Fragments
// for the same invocation share an Index so callers can reassemble the
// argument JSON across deltas.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// FinishReason is carried on the terminal chunk of a stream.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishCanceled  FinishReason = "canceled"
)

// ChatChunk is one incremental delta from a streamed chat call.
type ChatChunk struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason FinishReason
}

// Stream is a cancellable sequence of chat chunks. Recv returns io.EOF after
// the terminal chunk has been delivered. After the owning call is canceled,
// Recv stops yielding within one read.
type Stream interface {
	Recv() (ChatChunk, error)
	Close() error
}

// Brain is the capability set every backend implements. Variants are
// distinguished by Kind, not by type hierarchy; callers interact only
// through this interface so backends are interchangeable by configuration.
type Brain interface {
	// Kind identifies the backend variant for diagnostics and metric tags.
	Kind() string

	// Label is a human-readable name for logs and UI surfaces.
	Label() string

	// Model describes the underlying model identifier.
	Model() string

	// SetDefaultSession binds a fallback session used when a call's
	// ChatOptions omits one.
	SetDefaultSession(info SessionInfo)

	// StreamChat starts a streamed chat completion.
	StreamChat(ctx context.Context, opts ChatOptions) (Stream, error)

	// CancelPending aborts the in-flight call identified by handle. After
	// it returns, the call's stream stops yielding within one read.
	CancelPending(ctx context.Context, handle string) error
}
