package store

import (
	"fmt"
	"time"
)

const upsertMessageSQL = `
	INSERT INTO messages (chat_id, msg_id, sender_id, sender_name, body, message_type, file_name, from_me, is_at, status, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_id, msg_id) DO UPDATE SET
		sender_name = excluded.sender_name,
		body = excluded.body,
		status = excluded.status`

const bumpChatSQL = `
	INSERT INTO chats (chat_id, name, is_group, last_message_at, last_message_preview, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET
		name = COALESCE(NULLIF(excluded.name, ''), chats.name),
		last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
		last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
		updated_at = excluded.updated_at`

// UpsertMessage inserts or updates a message (idempotent on chat_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL, m.args(time.Now().UnixMilli())...)
	return err
}

func (m *Message) args(now int64) []any {
	return []any{m.ChatID, m.MsgID, m.SenderID, m.SenderName, m.Body, m.Type, m.FileName, m.FromMe, m.IsAt, m.Status, m.Timestamp, now}
}

// ArchiveItem is one message plus the chat metadata it updates.
type ArchiveItem struct {
	Message  Message
	ChatName string
	IsGroup  bool
}

// Archive upserts messages and bumps their chats in one transaction.
func (db *DB) Archive(items []ArchiveItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, it := range items {
		m := it.Message
		if _, err := tx.Exec(bumpChatSQL, m.ChatID, it.ChatName, it.IsGroup, m.Timestamp, truncate(m.Body, 100), now); err != nil {
			return fmt.Errorf("upsert chat in batch: %w", err)
		}
		if _, err := tx.Exec(upsertMessageSQL, m.args(now)...); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// ListMessages returns messages for a chat using keyset pagination by timestamp.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_id, msg_id, sender_id, sender_name, body, message_type, file_name, from_me, is_at, status, timestamp
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &m.SenderName, &m.Body, &m.Type, &m.FileName, &m.FromMe, &m.IsAt, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
