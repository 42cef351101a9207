// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package send orchestrates the optimistic message send path.
//
// A submission becomes a provisional message with a client-generated ID,
// visible in the reactive state and persisted locally before any network
// round trip. Server confirmation then replaces the provisional record in
// place, preserving list position; a failure marks the record failed and
// keeps it, content intact, for user-initiated resending. Only a confirmed
// (or implicitly acknowledged) submission starts a streaming session for
// the reply.
//
// There is no automatic retry. Resend is the explicit path for failed
// messages, throttled by a rate limiter.
package send
