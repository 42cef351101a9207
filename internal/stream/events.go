// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// OUTBOUND REQUEST
// =============================================================================

// PriorMessage is one prior conversation turn included in a chat request.
type PriorMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FileData is an attachment payload submitted with a chat request.
type FileData struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// Request is the outbound payload opening one streamed reply.
type Request struct {
	Content          string         `json:"content"`
	PriorMessages    []PriorMessage `json:"prior_messages,omitempty"`
	ConversationID   string         `json:"conversation_id,omitempty"`
	FileData         []FileData     `json:"file_data,omitempty"`
	SelectedTool     string         `json:"selected_tool,omitempty"`
	ToolCategory     string         `json:"tool_category,omitempty"`
	SelectedWorkflow string         `json:"selected_workflow,omitempty"`
}

// NewRequest builds a chat request from a user message and its history.
func NewRequest(msg *model.Message, history []*model.Message) Request {
	req := Request{
		Content:        msg.Content,
		ConversationID: msg.ConversationID,
	}
	for _, prior := range history {
		if prior.ID == msg.ID || prior.Loading {
			continue
		}
		req.PriorMessages = append(req.PriorMessages, PriorMessage{
			Role:    prior.Role.String(),
			Content: prior.Content,
		})
	}
	for _, att := range msg.Attachments {
		req.FileData = append(req.FileData, FileData{
			Name:      att.Name,
			MediaType: att.MediaType,
			Data:      att.Data,
		})
	}
	return req
}

// =============================================================================
// INBOUND EVENTS
// =============================================================================

// StatusGeneratingImage is the phase marker for image generation.
const StatusGeneratingImage = "generating_image"

// Progress is transient status metadata attached to an inbound event.
// The wire form is either a bare string or a structured object.
type Progress struct {
	Message      string `json:"message"`
	ToolName     string `json:"tool_name,omitempty"`
	ToolCategory string `json:"tool_category,omitempty"`
}

// UnmarshalJSON accepts both the string and the object wire forms.
func (p *Progress) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &p.Message)
	}
	type alias Progress
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Progress(a)
	return nil
}

// Event is one discrete inbound payload from the reply stream.
//
// A zero Event carries nothing: every field is optional on the wire and an
// absent field must never be mistaken for a present-but-empty one, so all
// recognized fields use pointer or sentinel-safe types.
type Event struct {
	// Incremental text of the bot reply.
	Response string `json:"response,omitempty"`

	// A user-visible error. The stream does not necessarily close after
	// an error payload.
	Error string `json:"error,omitempty"`

	// Transient progress metadata, not persisted.
	Progress *Progress `json:"progress,omitempty"`

	// New-conversation bootstrap, applied once at session close.
	ConversationID          string `json:"conversation_id,omitempty"`
	ConversationDescription string `json:"conversation_description,omitempty"`

	// Image generation.
	ImageData string `json:"image_data,omitempty"`
	Status    string `json:"status,omitempty"`

	// Tool payload envelope.
	ToolName     string          `json:"tool_name,omitempty"`
	ToolCategory string          `json:"tool_category,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`

	// Done marks the end sentinel. Not a wire field.
	Done bool `json:"-"`

	// Err carries a transport-level failure into the event channel.
	Err error `json:"-"`

	// raw holds every top-level field of the payload so allow-listed
	// tool-result keys can be extracted without reflection.
	raw map[string]json.RawMessage
}

// UnmarshalJSON decodes the typed fields and keeps the raw field set for
// allow-list lookups.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event(a)
	e.raw = raw
	return nil
}

// Field returns the raw JSON value of a top-level payload field, if present.
func (e *Event) Field(name string) (json.RawMessage, bool) {
	v, ok := e.raw[name]
	return v, ok
}

// HasError reports whether the event carries a transport failure.
func (e *Event) HasError() bool {
	return e.Err != nil
}

// =============================================================================
// STREAM ERROR
// =============================================================================

// StreamError is a mid-stream failure that preserves the partial content
// received before the error, so accumulated text is never discarded.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}
