// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned when a message doesn't exist.
	ErrMessageNotFound = errors.New("message not found")
)

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed local cache of conversations and messages.
//
// It is pure storage: no business logic, all writes idempotent upserts
// keyed by record id. The store is a best-effort cache, not the source of
// truth; callers log persistence failures and carry on with the in-memory
// state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("missing database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows a reader to proceed while the single writer commits.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	// Single local writer assumption
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// =============================================================================
// CONVERSATION OPERATIONS
// =============================================================================

const upsertConversationSQL = `
INSERT INTO conversations (id, description, system_generated, purpose, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    description = excluded.description,
    system_generated = excluded.system_generated,
    purpose = excluded.purpose,
    updated_at = excluded.updated_at;
`

// PutConversation upserts a single conversation record.
func (s *Store) PutConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := s.db.ExecContext(ctx, upsertConversationSQL,
		conv.ID, conv.Description, boolToInt(conv.SystemGenerated), conv.Purpose,
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to put conversation: %w", err)
	}
	return nil
}

// PutConversationsBulk upserts a batch of conversations in one transaction,
// e.g. after a server-side refetch of the conversation list.
func (s *Store) PutConversationsBulk(ctx context.Context, convs []*model.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertConversationSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, conv := range convs {
		if _, err := stmt.ExecContext(ctx,
			conv.ID, conv.Description, boolToInt(conv.SystemGenerated), conv.Purpose,
			conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to put conversation %s: %w", conv.ID, err)
		}
	}
	return tx.Commit()
}

// GetConversation retrieves one conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, description, system_generated, purpose, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	return conv, err
}

// GetAllConversations returns every conversation, most recently updated
// first. This is the offline-readable conversation list.
func (s *Store) GetAllConversations(ctx context.Context) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, system_generated, purpose, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// TouchConversation bumps a conversation's modification time so the
// most-recently-updated ordering reflects new replies, not just creation.
// Touching an unknown conversation is a no-op.
func (s *Store) TouchConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UnixNano(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// DeleteConversationAndMessages removes a conversation and all of its
// messages in one transaction.
func (s *Store) DeleteConversationAndMessages(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return tx.Commit()
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

const upsertMessageSQL = `
INSERT INTO messages (id, conversation_id, role, content, tool_data, attachments,
                      image_data, status, loading, stats, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    conversation_id = excluded.conversation_id,
    role = excluded.role,
    content = excluded.content,
    tool_data = excluded.tool_data,
    attachments = excluded.attachments,
    image_data = excluded.image_data,
    status = excluded.status,
    loading = excluded.loading,
    stats = excluded.stats,
    updated_at = excluded.updated_at;
`

// PutMessage upserts a single message record.
func (s *Store) PutMessage(ctx context.Context, msg *model.Message) error {
	args, err := messageArgs(msg)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertMessageSQL, args...); err != nil {
		return fmt.Errorf("failed to put message: %w", err)
	}
	return nil
}

// PutMessagesBulk upserts a batch of messages in one transaction.
func (s *Store) PutMessagesBulk(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertMessageSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		args, err := messageArgs(msg)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to put message %s: %w", msg.ID, err)
		}
	}
	return tx.Commit()
}

// GetMessagesForConversation returns a conversation's messages in
// insertion order. Uses the secondary index; no full-table scan.
func (s *Store) GetMessagesForConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_data, attachments,
		        image_data, status, loading, stats, created_at, updated_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ReplaceMessage atomically swaps the record with oldID for a new record,
// typically a provisional message replaced by its server-confirmed
// counterpart. A reader never observes both records: the delete and the
// upsert commit together. The new record keeps the old record's created_at
// so list order is preserved.
func (s *Store) ReplaceMessage(ctx context.Context, oldID string, msg *model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var createdAt int64
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM messages WHERE id = ?`, oldID).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt = msg.CreatedAt.UnixNano()
	case err != nil:
		return fmt.Errorf("failed to read old record: %w", err)
	}

	if oldID != msg.ID {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, oldID); err != nil {
			return fmt.Errorf("failed to delete old record: %w", err)
		}
	}

	replacement := msg.Clone()
	replacement.CreatedAt = time.Unix(0, createdAt)
	args, err := messageArgs(replacement)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertMessageSQL, args...); err != nil {
		return fmt.Errorf("failed to insert replacement: %w", err)
	}
	return tx.Commit()
}

// AssignConversation migrates every message still in the ephemeral
// pre-creation state (empty conversation_id) onto a server-assigned
// conversation, in one statement.
func (s *Store) AssignConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("empty conversation id")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET conversation_id = ? WHERE conversation_id = ''`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to assign conversation: %w", err)
	}
	return nil
}

// =============================================================================
// LIST & SEARCH
// =============================================================================

// ListConversationMetas returns listing metadata for every conversation,
// most recently updated first, including message count and a preview of
// the first user message.
func (s *Store) ListConversationMetas(ctx context.Context) ([]model.ConversationMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.description, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
		       COALESCE((SELECT m.content FROM messages m
		                 WHERE m.conversation_id = c.id AND m.role = 'user'
		                 ORDER BY m.created_at, m.id LIMIT 1), '')
		FROM conversations c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation metas: %w", err)
	}
	defer rows.Close()

	var metas []model.ConversationMeta
	for rows.Next() {
		var meta model.ConversationMeta
		var createdAt, updatedAt int64
		var preview string
		if err := rows.Scan(&meta.ID, &meta.Description, &createdAt, &updatedAt,
			&meta.MessageCount, &preview); err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		meta.CreatedAt = time.Unix(0, createdAt)
		meta.UpdatedAt = time.Unix(0, updatedAt)
		meta.Preview = model.Truncate(preview, 80)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// SearchMessages returns metadata for conversations where any message
// content contains the query string (case-insensitive). MessageCount on
// the returned metas carries the number of matching messages, not the
// conversation total.
func (s *Store) SearchMessages(ctx context.Context, query string) ([]model.ConversationMeta, error) {
	if strings.TrimSpace(query) == "" {
		return s.ListConversationMetas(ctx)
	}

	// PERFORMANCE: One aggregate pass over messages, not a count query per
	// conversation.
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, COUNT(*) FROM messages
		 WHERE conversation_id != '' AND lower(content) LIKE ? ESCAPE '\'
		 GROUP BY conversation_id`, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	matches := make(map[string]int)
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		matches[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	all, err := s.ListConversationMetas(ctx)
	if err != nil {
		return nil, err
	}
	var results []model.ConversationMeta
	for _, meta := range all {
		if count, ok := matches[meta.ID]; ok {
			meta.MessageCount = count
			results = append(results, meta)
		}
	}
	return results, nil
}

// =============================================================================
// ROW SCANNING
// =============================================================================

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var conv model.Conversation
	var systemGenerated int
	var createdAt, updatedAt int64
	if err := row.Scan(&conv.ID, &conv.Description, &systemGenerated, &conv.Purpose,
		&createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	conv.SystemGenerated = systemGenerated != 0
	conv.CreatedAt = time.Unix(0, createdAt)
	conv.UpdatedAt = time.Unix(0, updatedAt)
	return &conv, nil
}

func scanMessage(row scanner) (*model.Message, error) {
	var msg model.Message
	var toolData, attachments, stats sql.NullString
	var loading int
	var createdAt, updatedAt int64
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&toolData, &attachments, &msg.ImageData, &msg.Status, &loading, &stats,
		&createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Loading = loading != 0
	msg.CreatedAt = time.Unix(0, createdAt)
	msg.UpdatedAt = time.Unix(0, updatedAt)

	if toolData.Valid && toolData.String != "" {
		if err := json.Unmarshal([]byte(toolData.String), &msg.ToolData); err != nil {
			return nil, fmt.Errorf("failed to decode tool data: %w", err)
		}
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments: %w", err)
		}
	}
	if stats.Valid && stats.String != "" {
		if err := json.Unmarshal([]byte(stats.String), &msg.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode stats: %w", err)
		}
	}
	return &msg, nil
}

// messageArgs builds the argument list for the message upsert.
func messageArgs(msg *model.Message) ([]any, error) {
	toolData, err := encodeJSON(msg.ToolData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool data: %w", err)
	}
	attachments, err := encodeJSON(msg.Attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}
	stats, err := encodeJSON(msg.Stats)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stats: %w", err)
	}
	return []any{
		msg.ID, msg.ConversationID, msg.Role.String(), msg.Content,
		toolData, attachments, msg.ImageData, msg.Status.String(),
		boolToInt(msg.Loading), stats,
		msg.CreatedAt.UnixNano(), msg.UpdatedAt.UnixNano(),
	}, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// encodeJSON marshals v, mapping nil-ish values to SQL NULL.
func encodeJSON(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case []model.ToolDataEntry:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case []model.Attachment:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case *model.StreamStats:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike escapes SQL LIKE wildcards in a user-supplied query.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
