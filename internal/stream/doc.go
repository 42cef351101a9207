// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the network boundary of the conversation
// engine.
//
// It owns the outbound request shape, the inbound event payloads, and the
// Server-Sent Events channel carrying a streamed bot reply. Nothing here
// interprets tool payloads or mutates conversation state; higher layers
// consume the event channel.
//
// # Key Types
//
//   - Client: HTTP client for message submission and the reply stream
//   - Request: Outbound chat request (content, history, attachments, tool)
//   - Event: One discrete inbound payload from the server push channel
//   - SSEReader: Low-level Server-Sent Events parser
//
// # Usage
//
// Submit a message, then open the reply channel:
//
//	confirmed, err := client.SubmitMessage(ctx, provisional)
//	events, err := client.OpenStream(ctx, stream.NewRequest(confirmed, history))
//	for ev := range events {
//	    // feed into the session controller
//	}
package stream
