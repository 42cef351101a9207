// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides local persistence for conversations and messages.
//
// The store is a SQLite-backed cache (pure Go driver, modernc.org/sqlite)
// that makes full conversation history readable without a network round
// trip. It holds two record tables, conversations and messages, each
// upsertable by primary id, with a secondary index answering "messages by
// conversation id".
//
// The store is not the source of truth: any persistence failure is
// reported to the caller, who logs it and carries on with the in-memory
// state.
//
// # Key Operations
//
//   - PutConversation / PutConversationsBulk / GetAllConversations
//   - PutMessage / PutMessagesBulk / GetMessagesForConversation
//   - ReplaceMessage: atomic provisional-to-confirmed swap
//   - AssignConversation: one-statement migration of pre-creation messages
//   - DeleteConversationAndMessages
package store
