package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const messageColumns = "id, chat_id, body, from_me, author, timestamp, type, has_media, has_quoted_msg"

// UpsertMessage inserts or updates a message keyed by its id. All other
// fields are overwritten on conflict.
func (db *DB) UpsertMessage(ctx context.Context, m *Message) error {
	q := db.upsertSQL("messages", "id",
		"chat_id", "body", "from_me", "author", "timestamp", "type", "has_media", "has_quoted_msg")
	_, err := db.ExecContext(ctx, q,
		m.ID, m.ChatID, m.Body, m.FromMe, m.Author, m.Timestamp, m.Type, m.HasMedia, m.HasQuotedMsg)
	if err != nil {
		return fmt.Errorf("upsert message %q: %w", m.ID, classify(err))
	}
	return nil
}

// MessagesByChat returns at most limit messages of a chat, newest first.
func (db *DB) MessagesByChat(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages by chat %q: %w", chatID, classify(err))
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MessageByID returns a single message, or nil if it does not exist.
func (db *DB) MessageByID(ctx context.Context, id string) (*Message, error) {
	row := db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("message %q: %w", id, classify(err))
	}
	return m, nil
}

// DeleteMessage removes a message; its media row goes with it through the
// foreign key cascade. The media file on disk is left alone.
func (db *DB) DeleteMessage(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message %q: %w", id, classify(err))
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var m Message
	if err := s.Scan(&m.ID, &m.ChatID, &m.Body, &m.FromMe, &m.Author, &m.Timestamp, &m.Type, &m.HasMedia, &m.HasQuotedMsg); err != nil {
		return nil, err
	}
	return &m, nil
}
