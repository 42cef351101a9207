// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the lifecycle of one streamed reply.
//
// A session runs from channel open to close or abort. The controller is an
// explicit state machine (idle, open, receiving, closing, closed, error):
// it creates the empty bot message, folds each inbound event into the next
// message snapshot through the merge package, publishes every snapshot to
// the reactive conversation state, and persists the final message exactly
// once at close. Chunk N's patch is always computed against the snapshot
// produced by chunk N-1.
//
// New-conversation identity reported by the stream is captured during the
// session and applied once at close: the in-memory pending messages are
// migrated, the store rows are reassigned, and the creation callback fires
// for navigation.
//
// Only one session is active at a time. Starting a new session cancels the
// running one and waits for its terminal state; an external abort behaves
// like a transport error, keeping whatever content was accumulated.
package session
