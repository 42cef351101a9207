// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the metadata of one chat conversation.
//
// The ID is assigned by the server: a brand-new conversation has no ID
// until the first streamed reply reports one, and messages written in the
// meantime carry an empty ConversationID until migration.
type Conversation struct {
	// Identity
	ID          string `json:"id"`
	Description string `json:"description"`

	// Flags
	SystemGenerated bool   `json:"system_generated,omitempty"`
	Purpose         string `json:"purpose,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates a conversation record for a server-assigned ID.
func NewConversation(id, description string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:          id,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// =============================================================================
// CONVERSATION METHODS
// =============================================================================

// GetDescription returns the description or a default.
func (c *Conversation) GetDescription() string {
	if c.Description != "" {
		return c.Description
	}
	return "New conversation"
}

// =============================================================================
// CONVERSATION METADATA
// =============================================================================

// ConversationMeta holds lightweight metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Preview      string    `json:"preview"`
}

// DescribeMessages derives a conversation description from the first user
// message, truncated to 50 runes with newlines collapsed.
func DescribeMessages(messages []*Message) string {
	for _, msg := range messages {
		if msg.Role == RoleUser && msg.Content != "" {
			content := Truncate(msg.Content, 50)
			content = strings.ReplaceAll(content, "\n", " ")
			content = strings.ReplaceAll(content, "\r", "")
			return content
		}
	}
	return "New conversation"
}
