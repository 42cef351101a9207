// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleBot:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status tracks the delivery lifecycle of a message.
//
// A user message starts as StatusSending the moment it is shown locally,
// becomes StatusSent once the server acknowledges it, and becomes
// StatusFailed if submission fails. Failed messages are kept visible so the
// user can inspect and resend them; they are never silently deleted.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// =============================================================================
// TOOL DATA
// =============================================================================

// ToolDataEntry is one structured side-payload produced by a single
// assistant capability invocation during a streamed reply.
//
// The payload in Data is opaque to the engine: it is aggregated in arrival
// order and never interpreted. Rendering is the caller's concern.
type ToolDataEntry struct {
	ToolName     string          `json:"tool_name"`
	ToolCategory string          `json:"tool_category,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Attachment is a file attached to a user message.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// The ID is client-generated while the message is provisional and may be
// replaced by a server-assigned ID once the server confirms the message.
// ConversationID is empty while the owning conversation is still being
// created server-side; such messages are migrated in one step when the
// server assigns the conversation its identity.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Role           Role   `json:"role"`

	// Content
	Content     string          `json:"content"`
	ToolData    []ToolDataEntry `json:"tool_data,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	ImageData   string          `json:"image_data,omitempty"`

	// ImagePending marks the provisional image placeholder while the
	// server reports an image-generation phase.
	ImagePending bool `json:"image_pending,omitempty"`

	// Lifecycle
	Status    Status    `json:"status"`
	Loading   bool      `json:"loading,omitempty"` // bot messages still streaming
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Streaming statistics, set when a bot message is finalized.
	Stats *StreamStats `json:"stats,omitempty"`
}

// StreamStats holds timing information collected while a bot message
// streamed in.
type StreamStats struct {
	FirstChunkMs int64 `json:"first_chunk_ms,omitempty"`
	TotalMs      int64 `json:"total_ms,omitempty"`
	ChunkCount   int   `json:"chunk_count,omitempty"`
}

// NewUserMessage creates a provisional user message with a generated ID.
func NewUserMessage(conversationID, content string) *Message {
	now := time.Now()
	return &Message{
		ID:             generateMessageID(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		Status:         StatusSending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewBotMessage creates an empty bot message in the loading state.
// The streaming session controller fills it in chunk by chunk.
func NewBotMessage(conversationID string) *Message {
	now := time.Now()
	return &Message{
		ID:             generateMessageID(),
		ConversationID: conversationID,
		Role:           RoleBot,
		Status:         StatusSent,
		Loading:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Clone creates a deep copy of the message.
//
// Streaming applies each patch to a copy of the previous snapshot, so
// subscribers holding an earlier snapshot never see it mutate underneath
// them.
func (m *Message) Clone() *Message {
	clone := *m
	if m.ToolData != nil {
		clone.ToolData = make([]ToolDataEntry, len(m.ToolData))
		copy(clone.ToolData, m.ToolData)
	}
	if m.Attachments != nil {
		clone.Attachments = make([]Attachment, len(m.Attachments))
		copy(clone.Attachments, m.Attachments)
	}
	if m.Stats != nil {
		stats := *m.Stats
		clone.Stats = &stats
	}
	return &clone
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	return Truncate(m.Content, maxLen)
}

// IsEmpty returns true if the message has no content and no tool data.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && len(m.ToolData) == 0
}

// IsProvisional returns true while the message awaits server confirmation.
func (m *Message) IsProvisional() bool {
	return m.Status == StatusSending
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateMessageID creates a unique client-side message ID.
func generateMessageID() string {
	return "msg_" + uuid.NewString()
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
