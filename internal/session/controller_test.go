// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/convstate"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/stream"
)

// =============================================================================
// FAKES
// =============================================================================

// fakePersister records store writes so tests can count them.
type fakePersister struct {
	mu            sync.Mutex
	messages      []*model.Message
	conversations []*model.Conversation
	assigned      []string
	touched       []string
	putErr        error
}

func (f *fakePersister) PutMessage(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.messages = append(f.messages, msg.Clone())
	return nil
}

func (f *fakePersister) PutConversation(_ context.Context, conv *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, conv)
	return nil
}

func (f *fakePersister) AssignConversation(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = append(f.assigned, conversationID)
	return nil
}

func (f *fakePersister) TouchConversation(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, conversationID)
	return nil
}

func (f *fakePersister) messageWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// eventChan feeds a fixed sequence of wire payloads, then the sentinel.
func eventChan(t *testing.T, payloads []string, done bool) <-chan stream.Event {
	t.Helper()
	ch := make(chan stream.Event, len(payloads)+1)
	for _, p := range payloads {
		var ev stream.Event
		if err := json.Unmarshal([]byte(p), &ev); err != nil {
			t.Fatalf("Failed to encode test event: %v", err)
		}
		ch <- ev
	}
	if done {
		ch <- stream.Event{Done: true}
	}
	close(ch)
	return ch
}

// =============================================================================
// STREAMING SESSIONS
// =============================================================================

func TestRun_ChunksAccumulateWithOneStoreWrite(t *testing.T) {
	persister := &fakePersister{}
	state := convstate.NewStore()
	c := New(Config{Store: persister, State: state})

	frames := 0
	state.Subscribe("conv1", func([]*model.Message) { frames++ })

	events := eventChan(t, []string{
		`{"response":"Hel"}`,
		`{"response":"lo "}`,
		`{"response":"world"}`,
	}, true)

	result, err := c.Run(context.Background(), "conv1", events)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Message.Content != "Hello world" {
		t.Errorf("Content = %q, want Hello world", result.Message.Content)
	}
	if result.Message.Loading {
		t.Error("Final message still marked loading")
	}
	if result.Message.Stats == nil || result.Message.Stats.ChunkCount != 3 {
		t.Errorf("Stats = %+v, want 3 chunks", result.Message.Stats)
	}

	// One frame for the empty bot message, one per chunk, one at close.
	if frames != 5 {
		t.Errorf("Reactive frames = %d, want 5", frames)
	}

	// Store is written exactly once per session, at close.
	if got := persister.messageWrites(); got != 1 {
		t.Errorf("Store message writes = %d, want 1", got)
	}
	if c.State() != StateClosed {
		t.Errorf("State = %v, want closed", c.State())
	}
}

func TestRun_ToolPayloadsAccumulateAcrossChunks(t *testing.T) {
	persister := &fakePersister{}
	state := convstate.NewStore()
	c := New(Config{Store: persister, State: state})

	events := eventChan(t, []string{
		`{"response":"Checking your calendar"}`,
		`{"calendar_options":{"slots":["mon"]}}`,
		`{"calendar_options":{"slots":["tue"]}}`,
	}, true)

	result, err := c.Run(context.Background(), "conv1", events)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Message.ToolData) != 2 {
		t.Fatalf("ToolData length = %d, want 2 (second payload appends)", len(result.Message.ToolData))
	}
	if result.Message.Content != "Checking your calendar" {
		t.Errorf("Content = %q, tool chunks must not disturb text", result.Message.Content)
	}
}

func TestRun_ErrorPayloadDoesNotEndSession(t *testing.T) {
	persister := &fakePersister{}
	state := convstate.NewStore()
	var notices []string
	c := New(Config{
		Store:    persister,
		State:    state,
		OnNotify: func(text string) { notices = append(notices, text) },
	})

	events := eventChan(t, []string{
		`{"response":"part one "}`,
		`{"error":"tool lookup failed"}`,
		`{"response":"part two"}`,
	}, true)

	result, err := c.Run(context.Background(), "conv1", events)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Message.Content != "part one part two" {
		t.Errorf("Content = %q, want both parts", result.Message.Content)
	}
	if len(notices) != 1 || notices[0] != "tool lookup failed" {
		t.Errorf("Notices = %v, want the error payload surfaced once", notices)
	}
}

func TestRun_TransportErrorKeepsPartial(t *testing.T) {
	persister := &fakePersister{}
	state := convstate.NewStore()
	c := New(Config{Store: persister, State: state})

	ch := make(chan stream.Event, 3)
	var ev stream.Event
	json.Unmarshal([]byte(`{"response":"partial "}`), &ev)
	ch <- ev
	ch <- stream.Event{Err: errors.New("connection reset")}
	close(ch)

	result, err := c.Run(context.Background(), "conv1", ch)
	if err == nil {
		t.Fatal("Run should fail on a transport error")
	}

	var streamErr *stream.StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("Error type = %T, want *stream.StreamError", err)
	}
	if streamErr.Partial != "partial " {
		t.Errorf("Partial = %q, want the accumulated prefix", streamErr.Partial)
	}

	// The partial content is persisted, not discarded.
	if got := persister.messageWrites(); got != 1 {
		t.Fatalf("Store message writes = %d, want 1", got)
	}
	if result.Message.Content != "partial " {
		t.Errorf("Persisted content = %q, want partial text", result.Message.Content)
	}
	if c.State() != StateError {
		t.Errorf("State = %v, want error", c.State())
	}
}

func TestRun_AbortKeepsPartial(t *testing.T) {
	persister := &fakePersister{}
	state := convstate.NewStore()
	c := New(Config{Store: persister, State: state})

	ch := make(chan stream.Event)
	go func() {
		var ev stream.Event
		json.Unmarshal([]byte(`{"response":"before abort"}`), &ev)
		ch <- ev
		// Leave the channel open; abort must not depend on it closing.
	}()

	done := make(chan struct{})
	var result *Result
	var err error
	go func() {
		result, err = c.Run(context.Background(), "conv1", ch)
		close(done)
	}()

	// Wait for the first chunk to land before aborting.
	for c.State() != StateReceiving {
		time.Sleep(time.Millisecond)
	}
	c.Abort()
	<-done

	if err == nil {
		t.Fatal("Run should fail after Abort")
	}
	if result.Message.Content != "before abort" {
		t.Errorf("Content = %q, want partial kept", result.Message.Content)
	}
}

// =============================================================================
// NEW-CONVERSATION BOOTSTRAP
// =============================================================================

func TestRun_CapturesConversationIdentityAtClose(t *testing.T) {
	persister := &fakePersister{}
	state := convstate.NewStore()
	var created []string
	c := New(Config{
		Store:                 persister,
		State:                 state,
		OnConversationCreated: func(id string) { created = append(created, id) },
	})

	// A pending user message is already in state, as the coordinator
	// leaves it before opening the stream.
	pending := model.NewUserMessage(convstate.PendingKey, "first message")
	state.AddOrUpdate(convstate.PendingKey, pending)

	events := eventChan(t, []string{
		`{"conversation_id":"conv_new","conversation_description":"Trip planning"}`,
		`{"response":"Sure, "}`,
		`{"response":"let's plan."}`,
	}, true)

	result, err := c.Run(context.Background(), convstate.PendingKey, events)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ConversationID != "conv_new" {
		t.Errorf("ConversationID = %q, want conv_new", result.ConversationID)
	}

	// Memory migrated: pending key empty, everything under the new ID.
	if got := state.Messages(convstate.PendingKey); len(got) != 0 {
		t.Errorf("Pending messages = %d, want 0 after migration", len(got))
	}
	migrated := state.Messages("conv_new")
	if len(migrated) != 2 {
		t.Fatalf("Migrated messages = %d, want user + bot", len(migrated))
	}
	for _, msg := range migrated {
		if msg.ConversationID != "conv_new" {
			t.Errorf("Message %s ConversationID = %q, want conv_new", msg.ID, msg.ConversationID)
		}
	}

	// Store mirrored the migration and recorded the conversation row.
	if len(persister.assigned) != 1 || persister.assigned[0] != "conv_new" {
		t.Errorf("AssignConversation calls = %v, want [conv_new]", persister.assigned)
	}
	if len(persister.conversations) != 1 || persister.conversations[0].Description != "Trip planning" {
		t.Errorf("Conversations = %+v, want one row with the captured description", persister.conversations)
	}
	if len(created) != 1 || created[0] != "conv_new" {
		t.Errorf("OnConversationCreated calls = %v, want [conv_new]", created)
	}
}

func TestRun_IdentityAppliedOnceNotPerChunk(t *testing.T) {
	persister := &fakePersister{}
	state := convstate.NewStore()
	c := New(Config{Store: persister, State: state})

	// The identity fields repeat on several chunks; migration still
	// happens exactly once.
	events := eventChan(t, []string{
		`{"conversation_id":"conv_new","response":"a"}`,
		`{"conversation_id":"conv_new","response":"b"}`,
		`{"conversation_id":"conv_new","response":"c"}`,
	}, true)

	if _, err := c.Run(context.Background(), convstate.PendingKey, events); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(persister.assigned) != 1 {
		t.Errorf("AssignConversation calls = %d, want 1", len(persister.assigned))
	}
}

func TestRun_ExistingConversationBumpsRecency(t *testing.T) {
	persister := &fakePersister{}
	state := convstate.NewStore()
	c := New(Config{Store: persister, State: state})

	// A reply into an already-known conversation carries no identity
	// fields; the session must still refresh the conversation's recency.
	events := eventChan(t, []string{
		`{"response":"Good "}`,
		`{"response":"question."}`,
	}, true)

	if _, err := c.Run(context.Background(), "conv1", events); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(persister.touched) != 1 || persister.touched[0] != "conv1" {
		t.Errorf("TouchConversation calls = %v, want [conv1]", persister.touched)
	}
	// No identity was captured, so no conversation row is rewritten.
	if len(persister.conversations) != 0 {
		t.Errorf("Conversations written = %d, want 0", len(persister.conversations))
	}
}

// =============================================================================
// PROGRESS PROJECTION
// =============================================================================

func TestRun_ProgressProjectionClearsAtClose(t *testing.T) {
	persister := &fakePersister{}
	state := convstate.NewStore()
	var statuses []*Status
	c := New(Config{
		Store:    persister,
		State:    state,
		OnStatus: func(s *Status) { statuses = append(statuses, s) },
	})

	events := eventChan(t, []string{
		`{"progress":"Searching your files"}`,
		`{"progress":{"message":"Drafting","tool_name":"email_draft","tool_category":"email"}}`,
		`{"response":"Done."}`,
	}, true)

	if _, err := c.Run(context.Background(), "conv1", events); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(statuses) != 3 {
		t.Fatalf("Status updates = %d, want 2 + final clear", len(statuses))
	}
	if statuses[0] == nil || statuses[0].Text != "Searching your files" {
		t.Errorf("First status = %+v, want the bare-string form", statuses[0])
	}
	if statuses[1] == nil || statuses[1].ToolName != "email_draft" {
		t.Errorf("Second status = %+v, want the object form with tool name", statuses[1])
	}
	if statuses[2] != nil {
		t.Errorf("Final status = %+v, want nil (cleared)", statuses[2])
	}
}

// =============================================================================
// STORE FAILURE TOLERANCE
// =============================================================================

func TestRun_StoreFailureDoesNotFailSession(t *testing.T) {
	persister := &fakePersister{putErr: errors.New("disk full")}
	state := convstate.NewStore()
	c := New(Config{Store: persister, State: state})

	events := eventChan(t, []string{`{"response":"hello"}`}, true)

	result, err := c.Run(context.Background(), "conv1", events)
	if err != nil {
		t.Fatalf("Run failed: %v (store errors are logged, not surfaced)", err)
	}
	if result.Message.Content != "hello" {
		t.Errorf("Content = %q, want hello", result.Message.Content)
	}

	// In-memory state still holds the finished message.
	got := state.Get("conv1", result.Message.ID)
	if got == nil || got.Loading {
		t.Error("Reactive state missing the finished message")
	}
}
