// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the persistence,
// streaming, and send layers: conversations, messages, tool data entries,
// and the message delivery status enum.
//
// # Key Types
//
//   - Conversation: Metadata for one chat conversation (server-assigned ID)
//   - Message: Single message with role, content, tool data, and status
//   - ToolDataEntry: Opaque per-invocation tool payload, aggregated in order
//   - Status: Delivery lifecycle enumeration (sending, sent, failed)
//
// # Usage
//
// Create a provisional user message:
//
//	msg := model.NewUserMessage(conversationID, "What's on my calendar today?")
//	// msg.Status == model.StatusSending until the server acknowledges it
//
// Create an empty bot message for a streaming reply:
//
//	bot := model.NewBotMessage(conversationID)
//	// bot.Loading == true until the stream closes
package model
