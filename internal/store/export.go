// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// CONVERSATION EXPORT
// =============================================================================

// ExportMarkdown renders a conversation and its messages as Markdown,
// including metadata, timestamps, and role labels.
func ExportMarkdown(conv *model.Conversation, messages []*model.Message) string {
	var sb strings.Builder
	sb.WriteString("# " + conv.GetDescription() + "\n\n")
	sb.WriteString("Created: " + conv.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range messages {
		sb.WriteString("**" + msg.Role.DisplayName() + "** (" + msg.CreatedAt.Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		if msg.Status == model.StatusFailed {
			sb.WriteString("\n\n_(send failed)_")
		}
		for _, entry := range msg.ToolData {
			sb.WriteString("\n\n> tool: " + entry.ToolName)
			if entry.ToolCategory != "" {
				sb.WriteString(" (" + entry.ToolCategory + ")")
			}
		}
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// exportEnvelope is the JSON export shape.
type exportEnvelope struct {
	Conversation *model.Conversation `json:"conversation"`
	Messages     []*model.Message    `json:"messages"`
}

// ExportJSON renders a conversation and its messages as pretty-printed JSON.
func ExportJSON(conv *model.Conversation, messages []*model.Message) ([]byte, error) {
	return json.MarshalIndent(exportEnvelope{Conversation: conv, Messages: messages}, "", "  ")
}
