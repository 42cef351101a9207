// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"io"
	"strings"
	"testing"
)

// =============================================================================
// SSE PARSING
// =============================================================================

func TestSSEReader_BasicEvents(t *testing.T) {
	input := "data: {\"response\":\"hello\"}\n\n" +
		"event: message\ndata: {\"response\":\"world\"}\n\n"
	reader := NewSSEReader(strings.NewReader(input))

	eventType, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if eventType != "" {
		t.Errorf("Event type = %q, want empty", eventType)
	}
	if string(data) != `{"response":"hello"}` {
		t.Errorf("Data = %s", data)
	}

	eventType, data, err = reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if eventType != "message" {
		t.Errorf("Event type = %q, want message", eventType)
	}
	if string(data) != `{"response":"world"}` {
		t.Errorf("Data = %s", data)
	}

	if _, _, err := reader.ReadEvent(); err != io.EOF {
		t.Errorf("Error = %v, want io.EOF", err)
	}
}

func TestSSEReader_MultilineData(t *testing.T) {
	input := "data: line one\ndata: line two\n\n"
	reader := NewSSEReader(strings.NewReader(input))

	_, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "line one\nline two" {
		t.Errorf("Data = %q, want joined lines", data)
	}
}

func TestSSEReader_FlushesPendingDataAtEOF(t *testing.T) {
	// No trailing blank line before the stream ends.
	reader := NewSSEReader(strings.NewReader("data: tail"))

	_, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "tail" {
		t.Errorf("Data = %q, want tail", data)
	}
}

func TestSSEReader_IgnoresCommentsAndCR(t *testing.T) {
	input := ": keepalive\r\nid: 7\r\ndata: payload\r\n\r\n"
	reader := NewSSEReader(strings.NewReader(input))

	_, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Data = %q, want payload", data)
	}
}

func TestSSEReader_OversizeEventRejected(t *testing.T) {
	input := "data: " + strings.Repeat("x", MaxChunkSize+1) + "\n\n"
	reader := NewSSEReader(strings.NewReader(input))

	if _, _, err := reader.ReadEvent(); err == nil {
		t.Error("Expected error for oversize event")
	}
}
