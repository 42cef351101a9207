// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

// Configuration constants for the chat backend.
const (
	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// eventChanBuffer is the reply channel capacity; enough to absorb
	// bursts without blocking the reader goroutine on a slow consumer.
	eventChanBuffer = 64
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client with connection pooling for all submit requests.
	// Deadlines are applied per request from the configured timeout.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}

	// sharedStreamingClient is used for streaming requests
	// (no timeout, context-controlled).
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		// No timeout for streaming - controlled via context
	}
)

// Error variables for common backend errors.
var (
	// ErrNotConfigured indicates the server base URL is not set.
	ErrNotConfigured = errors.New("chat server URL not configured")

	// ErrServerRejected indicates the server rejected a submitted message.
	ErrServerRejected = errors.New("server rejected message")
)

// ServerError represents an error response from the chat backend.
type ServerError struct {
	Message string
	Status  int
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat backend: it submits user messages for
// confirmation and opens the server-push channel for streamed replies.
type Client struct {
	mu      sync.RWMutex
	baseURL string
	timeout time.Duration
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, timeout: DefaultTimeout}
}

// SetBaseURL updates the backend URL, e.g. after a config reload.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// IsConfigured returns true if a base URL has been set.
func (c *Client) IsConfigured() bool {
	return c.BaseURL() != ""
}

// SetRequestTimeout updates the per-request deadline for message
// submission. Values <= 0 keep the previous timeout. The reply stream is
// not affected; its lifetime is governed by the caller's context.
func (c *Client) SetRequestTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// RequestTimeout returns the per-request deadline for message submission.
func (c *Client) RequestTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeout
}

// =============================================================================
// MESSAGE SUBMISSION
// =============================================================================

// submitResponse is the server acknowledgment of a submitted message.
type submitResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// SubmitMessage submits a provisional user message to the server and
// returns the server-confirmed record. The confirmed record keeps the
// original content and attachments; only identity and status change.
func (c *Client) SubmitMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.RequestTimeout())
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	url := c.BaseURL() + "/api/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, handleErrorResponse(resp)
	}

	var ack submitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to decode acknowledgment: %w", err)
	}
	if ack.ID == "" {
		return nil, ErrServerRejected
	}

	confirmed := msg.Clone()
	confirmed.ID = ack.ID
	if ack.ConversationID != "" {
		confirmed.ConversationID = ack.ConversationID
	}
	confirmed.Status = model.StatusSent
	confirmed.UpdatedAt = time.Now()
	return confirmed, nil
}

// =============================================================================
// REPLY STREAM
// =============================================================================

// OpenStream opens the server-push channel for one chat request and
// returns a channel of inbound events. The channel is closed after the
// end sentinel, a transport failure (delivered as Event.Err), or context
// cancellation. Exactly one terminal condition is delivered.
func (c *Client) OpenStream(ctx context.Context, req Request) (<-chan Event, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.BaseURL() + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("Connection", "keep-alive")

	resp, err := sharedStreamingClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, handleErrorResponse(resp)
	}

	events := make(chan Event, eventChanBuffer)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		c.readEvents(ctx, resp.Body, events)
	}()
	return events, nil
}

// readEvents parses the SSE stream into events until the end sentinel,
// EOF, or cancellation.
func (c *Client) readEvents(ctx context.Context, body io.Reader, events chan<- Event) {
	reader := NewSSEReader(body)

	for {
		select {
		case <-ctx.Done():
			c.emit(ctx, events, Event{Err: ctx.Err()})
			return
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				c.emit(ctx, events, Event{Done: true})
				return
			}
			c.emit(ctx, events, Event{Err: fmt.Errorf("read error: %w", err)})
			return
		}

		// End sentinel
		if bytes.Equal(data, []byte("[DONE]")) {
			c.emit(ctx, events, Event{Done: true})
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			// Skip malformed payloads rather than aborting the stream
			continue
		}

		if !c.emit(ctx, events, ev) {
			return
		}
	}
}

// RELIABILITY: A full buffer with no remaining consumer must never pin the
// reader goroutine. Terminal events may be dropped once the context is
// canceled; the consumer observes the same cancellation itself.
func (c *Client) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// handleErrorResponse converts an HTTP error response into a ServerError.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		msg = payload.Error
		if msg == "" {
			msg = payload.Message
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ServerError{Message: msg, Status: resp.StatusCode}
}
