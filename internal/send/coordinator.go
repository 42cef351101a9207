// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package send

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/convstate"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/stream"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMessageNotFound is returned by Resend for an unknown message ID.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotFailed is returned by Resend for a message that is not in the
	// failed state; only failed messages may be resubmitted.
	ErrNotFailed = errors.New("message is not in the failed state")

	// ErrResendThrottled is returned when manual resubmissions arrive
	// faster than the configured rate.
	ErrResendThrottled = errors.New("resend throttled, try again shortly")
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Server is the network boundary the coordinator submits to.
// *stream.Client satisfies it.
type Server interface {
	SubmitMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	OpenStream(ctx context.Context, req stream.Request) (<-chan stream.Event, error)
}

// Persister is the slice of the local store the coordinator writes to.
// *store.Store satisfies it.
type Persister interface {
	PutMessage(ctx context.Context, msg *model.Message) error
	ReplaceMessage(ctx context.Context, oldID string, msg *model.Message) error
}

// Streamer consumes one reply stream to its terminal state.
// *session.Controller satisfies it.
type Streamer interface {
	Run(ctx context.Context, conversationID string, events <-chan stream.Event) (*session.Result, error)
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Config wires the coordinator's collaborators.
type Config struct {
	Server     Server
	Store      Persister
	State      *convstate.Store
	Controller Streamer

	// OnNotify surfaces a transient user-visible notification.
	OnNotify func(text string)

	// ResendPerMinute caps manual resubmissions of failed messages.
	// There is no automatic retry; a failed message stays visible until
	// the user resends it. Zero means the default of 6 per minute.
	ResendPerMinute int
}

// Coordinator owns the user-facing send path: provisional message first,
// local persistence and reactive state immediately, server confirmation
// and the streamed reply after.
type Coordinator struct {
	server     Server
	store      Persister
	state      *convstate.Store
	controller Streamer
	onNotify   func(string)
	resendGate *rate.Limiter
}

// New creates a send coordinator.
func New(cfg Config) *Coordinator {
	perMinute := cfg.ResendPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	return &Coordinator{
		server:     cfg.Server,
		store:      cfg.Store,
		state:      cfg.State,
		controller: cfg.Controller,
		onNotify:   cfg.OnNotify,
		resendGate: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

// Input is one user submission from the composer.
type Input struct {
	Content          string
	Attachments      []model.Attachment
	SelectedTool     string
	ToolCategory     string
	SelectedWorkflow string

	// ConversationID is empty for the first message of a brand-new
	// conversation; the server assigns the identity via the reply stream.
	ConversationID string
}

// =============================================================================
// SEND
// =============================================================================

// Send runs the optimistic send path for one user submission.
//
// Empty content (after trimming) is a silent no-op. Otherwise the
// provisional message is visible in the reactive state before any network
// activity, and a network failure leaves exactly one message behind,
// marked failed with its content intact. The returned error reports the
// terminal outcome; every failure has already been converted into message
// status and a notification by the time Send returns.
func (c *Coordinator) Send(ctx context.Context, in Input) error {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil
	}

	msg := model.NewUserMessage(in.ConversationID, content)
	msg.Attachments = in.Attachments

	// Optimistic apply: memory first, then best-effort disk.
	c.state.AddOrUpdate(in.ConversationID, msg)
	if err := c.store.PutMessage(ctx, msg); err != nil {
		log.Printf("SEND: failed to persist provisional message %s: %v", msg.ID, err)
	}

	return c.submitAndStream(ctx, msg, in)
}

// Resend resubmits a failed message. There is no automatic retry: this is
// the explicit user-initiated path, throttled by the resend limiter.
func (c *Coordinator) Resend(ctx context.Context, conversationID, messageID string) error {
	msg := c.state.Get(conversationID, messageID)
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.Status != model.StatusFailed {
		return ErrNotFailed
	}
	if !c.resendGate.Allow() {
		c.notify("Please wait a moment before resending.")
		return ErrResendThrottled
	}

	retry := msg.Clone()
	retry.Status = model.StatusSending
	retry.UpdatedAt = time.Now()
	c.state.AddOrUpdate(conversationID, retry)
	if err := c.store.PutMessage(ctx, retry); err != nil {
		log.Printf("SEND: failed to persist resend of %s: %v", retry.ID, err)
	}

	return c.submitAndStream(ctx, retry, Input{ConversationID: conversationID})
}

// =============================================================================
// SUBMISSION PIPELINE
// =============================================================================

// submitAndStream confirms the message with the server (when a
// conversation exists) and consumes the streamed reply.
func (c *Coordinator) submitAndStream(ctx context.Context, msg *model.Message, in Input) error {
	confirmed := msg

	// The first message of a brand-new conversation skips confirmation:
	// the conversation, and the message within it, are created server-side
	// as a side effect of the streamed reply.
	if in.ConversationID != "" {
		ack, err := c.server.SubmitMessage(ctx, msg)
		if err != nil {
			c.markFailed(ctx, in.ConversationID, msg)
			c.notify("Message could not be sent. It is kept for resending.")
			return err
		}

		// Reconcile: same position, no duplication, in memory and on disk.
		c.state.Replace(in.ConversationID, msg.ID, ack)
		if err := c.store.ReplaceMessage(ctx, msg.ID, ack); err != nil {
			log.Printf("SEND: failed to replace provisional message %s: %v", msg.ID, err)
		}
		confirmed = ack
	}

	req := stream.NewRequest(confirmed, c.state.Messages(in.ConversationID))
	req.SelectedTool = in.SelectedTool
	req.ToolCategory = in.ToolCategory
	req.SelectedWorkflow = in.SelectedWorkflow

	// RELIABILITY: One context governs the reply channel and the session
	// consuming it. However the session ends, abort included, the transport
	// is torn down with it and the stream reader exits.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	events, err := c.server.OpenStream(streamCtx, req)
	if err != nil {
		if in.ConversationID == "" {
			// Without a reply channel a brand-new conversation cannot be
			// created; the submission itself failed.
			c.markFailed(ctx, in.ConversationID, confirmed)
		}
		c.notify("Could not reach the assistant. Please try again.")
		return err
	}

	if in.ConversationID == "" {
		// Channel established: treat as the implicit acknowledgment for a
		// message that will never get an explicit one.
		c.markSent(ctx, in.ConversationID, confirmed)
	}

	_, err = c.controller.Run(streamCtx, in.ConversationID, events)
	return err
}

// markFailed flags a message failed in memory and best-effort on disk.
// The message and its content stay visible; nothing is rolled back.
func (c *Coordinator) markFailed(ctx context.Context, conversationID string, msg *model.Message) {
	failed := msg.Clone()
	failed.Status = model.StatusFailed
	failed.UpdatedAt = time.Now()
	c.state.AddOrUpdate(conversationID, failed)
	if err := c.store.PutMessage(ctx, failed); err != nil {
		log.Printf("SEND: failed to persist failure of %s: %v", failed.ID, err)
	}
}

// markSent flags a message sent in memory and best-effort on disk.
func (c *Coordinator) markSent(ctx context.Context, conversationID string, msg *model.Message) {
	sent := msg.Clone()
	sent.Status = model.StatusSent
	sent.UpdatedAt = time.Now()
	c.state.AddOrUpdate(conversationID, sent)
	if err := c.store.PutMessage(ctx, sent); err != nil {
		log.Printf("SEND: failed to persist message %s: %v", sent.ID, err)
	}
}

func (c *Coordinator) notify(text string) {
	if c.onNotify != nil {
		c.onNotify(text)
	}
}
