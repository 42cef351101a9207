// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package convstate

import (
	"sync"

	"github.com/jeranaias/parley/internal/model"
)

// PendingKey is the state key for messages of a conversation that does not
// yet have a server-assigned identity.
const PendingKey = ""

// Subscriber receives the full ordered message list of one conversation
// after every change. Notification is synchronous within the mutating
// call so intermediate streaming frames are observable.
type Subscriber func(messages []*model.Message)

// =============================================================================
// STATE STORE
// =============================================================================

// Store is a keyed projection from conversation ID to its ordered message
// list. It is the only representation UI layers read; the persistent store
// is a cache behind it.
type Store struct {
	mu       sync.Mutex
	messages map[string][]*model.Message
	subs     map[string]map[int]Subscriber
	nextSub  int
}

// NewStore creates an empty conversation state store.
func NewStore() *Store {
	return &Store{
		messages: make(map[string][]*model.Message),
		subs:     make(map[string]map[int]Subscriber),
	}
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Messages returns a copy of the ordered message list for a conversation.
func (s *Store) Messages(conversationID string) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[conversationID]
	out := make([]*model.Message, len(list))
	copy(out, list)
	return out
}

// Get returns the message with the given ID, or nil.
func (s *Store) Get(conversationID, messageID string) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages[conversationID] {
		if msg.ID == messageID {
			return msg
		}
	}
	return nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// SetMessages replaces the full message list for a conversation.
func (s *Store) SetMessages(conversationID string, messages []*model.Message) {
	s.mu.Lock()
	list := make([]*model.Message, len(messages))
	copy(list, messages)
	s.messages[conversationID] = list
	notify := s.snapshotLocked(conversationID)
	s.mu.Unlock()
	notify()
}

// AddOrUpdate upserts a message by ID: an existing message is replaced in
// place, a new one is appended. Position is never disturbed by an update.
func (s *Store) AddOrUpdate(conversationID string, msg *model.Message) {
	s.mu.Lock()
	list := s.messages[conversationID]
	replaced := false
	for i, existing := range list {
		if existing.ID == msg.ID {
			list[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, msg)
	}
	s.messages[conversationID] = list
	notify := s.snapshotLocked(conversationID)
	s.mu.Unlock()
	notify()
}

// Replace swaps the message with oldID for a record with a different ID at
// the same position. This is the optimistic-send reconciliation: the list
// keeps its length and order, and the old record can never be observed
// alongside the new one.
func (s *Store) Replace(conversationID, oldID string, msg *model.Message) bool {
	s.mu.Lock()
	list := s.messages[conversationID]
	replaced := false
	for i, existing := range list {
		if existing.ID == oldID {
			list[i] = msg
			replaced = true
			break
		}
	}
	var notify func()
	if replaced {
		notify = s.snapshotLocked(conversationID)
	}
	s.mu.Unlock()
	if replaced {
		notify()
	}
	return replaced
}

// RemoveConversation drops a conversation's messages and notifies its
// subscribers with an empty list.
func (s *Store) RemoveConversation(conversationID string) {
	s.mu.Lock()
	delete(s.messages, conversationID)
	notify := s.snapshotLocked(conversationID)
	s.mu.Unlock()
	notify()
}

// Migrate atomically moves the pending message list onto a server-assigned
// conversation ID, rewriting each message's ConversationID. Messages
// already present under the target key keep their position; pending
// messages are appended in submission order.
func (s *Store) Migrate(newConversationID string) {
	s.mu.Lock()
	pending := s.messages[PendingKey]
	if len(pending) == 0 {
		s.mu.Unlock()
		return
	}
	for _, msg := range pending {
		msg.ConversationID = newConversationID
	}
	s.messages[newConversationID] = append(s.messages[newConversationID], pending...)
	delete(s.messages, PendingKey)
	notify := s.snapshotLocked(newConversationID)
	s.mu.Unlock()
	notify()
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers a subscriber for one conversation's message list and
// returns an unsubscribe function. The subscriber is invoked synchronously
// on every change, including each intermediate streaming frame.
func (s *Store) Subscribe(conversationID string, fn Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[conversationID] == nil {
		s.subs[conversationID] = make(map[int]Subscriber)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[conversationID][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[conversationID], id)
	}
}

// snapshotLocked captures the current list and subscribers for a key and
// returns a closure that notifies them. Callbacks run outside the lock so
// a subscriber may read the store without deadlocking, but still within
// the same mutating call.
func (s *Store) snapshotLocked(conversationID string) func() {
	subs := make([]Subscriber, 0, len(s.subs[conversationID]))
	for _, fn := range s.subs[conversationID] {
		subs = append(subs, fn)
	}
	list := s.messages[conversationID]
	snapshot := make([]*model.Message, len(list))
	copy(snapshot, list)

	return func() {
		for _, fn := range subs {
			fn(snapshot)
		}
	}
}
