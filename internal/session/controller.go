// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/parley/internal/convstate"
	"github.com/jeranaias/parley/internal/merge"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/stream"
)

// =============================================================================
// SESSION STATE
// =============================================================================

// State is the position of a session in its lifecycle.
//
// Transitions: idle -> open -> receiving -> closing -> closed, with error
// as a terminal reachable from open and receiving.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateReceiving
	StateClosing
	StateClosed
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateReceiving:
		return "receiving"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// =============================================================================
// PROGRESS PROJECTION
// =============================================================================

// Status is the transient loading/progress projection consumed by UI
// layers during a session. It is never persisted and is cleared (nil) at
// session close.
type Status struct {
	Text         string
	ToolName     string
	ToolCategory string
}

// =============================================================================
// PERSISTER INTERFACE
// =============================================================================

// Persister is the slice of the local store the controller writes to.
// *store.Store satisfies it.
type Persister interface {
	PutMessage(ctx context.Context, msg *model.Message) error
	PutConversation(ctx context.Context, conv *model.Conversation) error
	AssignConversation(ctx context.Context, conversationID string) error
	TouchConversation(ctx context.Context, conversationID string) error
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Config wires the controller's collaborators.
type Config struct {
	// Store is the local persistent cache. Write failures are logged,
	// never surfaced: the in-memory state stays correct regardless.
	Store Persister

	// State is the reactive conversation state updated on every chunk.
	State *convstate.Store

	// OnNotify surfaces a transient user-visible notification.
	OnNotify func(text string)

	// OnStatus publishes the progress projection; nil clears it.
	OnStatus func(status *Status)

	// OnConversationCreated fires once when a session established a new
	// conversation identity, after the local migration completed. UI
	// layers use it to refresh the conversation list and navigate.
	OnConversationCreated func(conversationID string)
}

// Controller runs streaming sessions. At most one session is active at a
// time; starting a new one forces the previous session to close first.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	state  State
	active *activeSession
}

// activeSession is the handle used to force a running session closed.
type activeSession struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a session controller.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, state: StateIdle}
}

// State returns the controller's current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result is the terminal outcome of one session.
type Result struct {
	// Message is the finalized bot message (or the partially accumulated
	// one after an abort; partial content is never discarded).
	Message *model.Message

	// ConversationID is the conversation the message landed in, including
	// a server identity newly established by this session.
	ConversationID string
}

// =============================================================================
// SESSION RUN
// =============================================================================

// Run consumes one reply stream to its terminal state. It creates the
// empty bot message, folds every inbound event into it through the merger,
// publishes each snapshot into the reactive state, and persists the final
// message exactly once when the stream closes.
//
// conversationID may be empty for the first message of a brand-new
// conversation; the server-assigned identity is captured from the stream
// and applied at close.
func (c *Controller) Run(ctx context.Context, conversationID string, events <-chan stream.Event) (*Result, error) {
	ctx, handle := c.begin(ctx)
	defer c.finish(handle)

	bot := model.NewBotMessage(conversationID)
	c.cfg.State.AddOrUpdate(conversationID, bot)

	var (
		acc          strings.Builder
		snapshot     = bot
		started      = time.Now()
		firstChunk   time.Time
		chunkCount   int
		capturedID   string
		capturedDesc string
	)

	for {
		select {
		case <-ctx.Done():
			return c.fail(ctx, conversationID, snapshot, &acc, ctx.Err())

		case ev, ok := <-events:
			if !ok {
				// Channel closed without a sentinel: treat as done.
				return c.close(ctx, conversationID, snapshot, &acc,
					capturedID, capturedDesc, sessionStats(started, firstChunk, chunkCount))
			}
			if ev.Err != nil {
				return c.fail(ctx, conversationID, snapshot, &acc, ev.Err)
			}
			c.setState(StateReceiving)

			if ev.Done {
				return c.close(ctx, conversationID, snapshot, &acc,
					capturedID, capturedDesc, sessionStats(started, firstChunk, chunkCount))
			}

			// An error payload is user-visible but does not close the
			// channel; the server may continue the reply.
			if ev.Error != "" && c.cfg.OnNotify != nil {
				c.cfg.OnNotify(ev.Error)
			}

			if ev.Progress != nil && c.cfg.OnStatus != nil {
				c.cfg.OnStatus(&Status{
					Text:         ev.Progress.Message,
					ToolName:     ev.Progress.ToolName,
					ToolCategory: ev.Progress.ToolCategory,
				})
			}

			if ev.Response != "" {
				if firstChunk.IsZero() {
					firstChunk = time.Now()
				}
				acc.WriteString(ev.Response)
			}

			// New-conversation bootstrap fields are captured now and
			// applied once at close to bound write amplification.
			if ev.ConversationID != "" {
				capturedID = ev.ConversationID
			}
			if ev.ConversationDescription != "" {
				capturedDesc = ev.ConversationDescription
			}

			chunkCount++
			snapshot = c.applyEvent(conversationID, &ev, snapshot, &acc)
		}
	}
}

// applyEvent folds one event into the next bot-message snapshot and
// publishes it. Chunk application is strictly sequential: each patch is
// computed against the snapshot produced by the previous event.
func (c *Controller) applyEvent(conversationID string, ev *stream.Event, snapshot *model.Message, acc *strings.Builder) *model.Message {
	patch := merge.Merge(ev, snapshot)
	next := snapshot.Clone()
	patch.Apply(next)
	next.Content = acc.String()
	next.UpdatedAt = time.Now()
	c.cfg.State.AddOrUpdate(conversationID, next)
	return next
}

// =============================================================================
// TERMINAL STATES
// =============================================================================

// close finalizes a successful session: marks the bot message done,
// persists it exactly once, and applies any captured conversation
// identity.
func (c *Controller) close(ctx context.Context, conversationID string, snapshot *model.Message, acc *strings.Builder, capturedID, capturedDesc string, stats *model.StreamStats) (*Result, error) {
	c.setState(StateClosing)
	defer c.setState(StateClosed)

	final := snapshot.Clone()
	final.Loading = false
	final.ImagePending = false
	final.Content = acc.String()
	final.Stats = stats
	final.UpdatedAt = time.Now()
	c.cfg.State.AddOrUpdate(conversationID, final)

	targetID := conversationID
	isNew := conversationID == convstate.PendingKey && capturedID != ""
	if isNew {
		targetID = capturedID
		// Atomic in-memory migration first; the store mirrors it.
		c.cfg.State.Migrate(capturedID)
	}

	if targetID != "" && (isNew || capturedDesc != "") {
		desc := capturedDesc
		if desc == "" {
			desc = model.DescribeMessages(c.cfg.State.Messages(targetID))
		}
		if err := c.cfg.Store.PutConversation(ctx, model.NewConversation(targetID, desc)); err != nil {
			log.Printf("SESSION: failed to persist conversation %s: %v", targetID, err)
		}
	} else if targetID != "" {
		// A reply landing in an existing conversation is activity: bump
		// its recency so most-recently-updated ordering stays truthful.
		if err := c.cfg.Store.TouchConversation(ctx, targetID); err != nil {
			log.Printf("SESSION: failed to touch conversation %s: %v", targetID, err)
		}
	}
	if isNew {
		if err := c.cfg.Store.AssignConversation(ctx, capturedID); err != nil {
			log.Printf("SESSION: failed to migrate messages to %s: %v", capturedID, err)
		}
	}

	// The single store write of the final bot message for this session.
	if err := c.cfg.Store.PutMessage(ctx, final); err != nil {
		log.Printf("SESSION: failed to persist bot message %s: %v", final.ID, err)
	}

	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(nil)
	}
	if isNew && c.cfg.OnConversationCreated != nil {
		c.cfg.OnConversationCreated(capturedID)
	}

	return &Result{Message: final, ConversationID: targetID}, nil
}

// fail terminates a session on transport failure or external abort.
// Whatever was accumulated is kept, in memory and best-effort on disk, so
// partial content is not lost.
func (c *Controller) fail(ctx context.Context, conversationID string, snapshot *model.Message, acc *strings.Builder, cause error) (*Result, error) {
	c.setState(StateError)

	final := snapshot.Clone()
	final.Loading = false
	final.ImagePending = false
	final.Content = acc.String()
	final.UpdatedAt = time.Now()
	c.cfg.State.AddOrUpdate(conversationID, final)

	// Persist under a background context: the session context may already
	// be canceled, and losing the accumulated content would be worse.
	if err := c.cfg.Store.PutMessage(context.WithoutCancel(ctx), final); err != nil {
		log.Printf("SESSION: failed to persist partial bot message %s: %v", final.ID, err)
	}

	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(nil)
	}
	if c.cfg.OnNotify != nil {
		c.cfg.OnNotify("The reply was interrupted. Partial content has been kept.")
	}

	return &Result{Message: final, ConversationID: conversationID},
		&stream.StreamError{Partial: acc.String(), Err: cause}
}

// =============================================================================
// ACTIVE-SESSION TRACKING
// =============================================================================

// begin registers a new active session, forcing any previous session to
// its terminal state first.
func (c *Controller) begin(ctx context.Context) (context.Context, *activeSession) {
	c.mu.Lock()
	previous := c.active
	c.mu.Unlock()

	if previous != nil {
		previous.cancel()
		<-previous.done
	}

	ctx, cancel := context.WithCancel(ctx)
	handle := &activeSession{
		id:     "sess_" + uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.active = handle
	c.state = StateOpen
	c.mu.Unlock()
	return ctx, handle
}

// finish clears the active session handle.
func (c *Controller) finish(handle *activeSession) {
	c.mu.Lock()
	if c.active == handle {
		c.active = nil
	}
	c.mu.Unlock()
	handle.cancel()
	close(handle.done)
}

// Abort force-closes the active session, if any. Used when the surrounding
// application shuts down mid-stream.
func (c *Controller) Abort() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active != nil {
		active.cancel()
		<-active.done
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// sessionStats summarizes timing for a finished session.
func sessionStats(started, firstChunk time.Time, chunkCount int) *model.StreamStats {
	stats := &model.StreamStats{
		TotalMs:    time.Since(started).Milliseconds(),
		ChunkCount: chunkCount,
	}
	if !firstChunk.IsZero() {
		stats.FirstChunkMs = firstChunk.Sub(started).Milliseconds()
	}
	return stats
}
