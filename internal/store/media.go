package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertMedia inserts or updates the media row of a message. The message must
// already exist; otherwise the call fails with ErrForeignKeyViolation and
// nothing is written.
func (db *DB) UpsertMedia(ctx context.Context, messageID string, meta *MediaMeta, path string) error {
	q := db.upsertSQL("media", "message_id", "mime_type", "filename", "file_size", "caption", "file_path")
	_, err := db.ExecContext(ctx, q, messageID, meta.MimeType, meta.Filename, meta.FileSize, meta.Caption, path)
	if err != nil {
		return fmt.Errorf("upsert media %q: %w", messageID, classify(err))
	}
	return nil
}

// MediaByMessage returns the media row of a message, or nil if none was saved.
func (db *DB) MediaByMessage(ctx context.Context, messageID string) (*Media, error) {
	var m Media
	err := db.QueryRowContext(ctx, `
		SELECT message_id, mime_type, filename, file_size, caption, file_path
		FROM media WHERE message_id = ?`, messageID).
		Scan(&m.MessageID, &m.MimeType, &m.Filename, &m.FileSize, &m.Caption, &m.FilePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("media %q: %w", messageID, classify(err))
	}
	return &m, nil
}

// MediaByChat returns every media row of a chat with its message timestamp,
// oldest first.
func (db *DB) MediaByChat(ctx context.Context, chatID string) ([]ChatMedia, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT md.message_id, md.mime_type, md.filename, md.file_size, md.caption, md.file_path, m.timestamp
		FROM media md
		JOIN messages m ON m.id = md.message_id
		WHERE m.chat_id = ?
		ORDER BY m.timestamp ASC, m.id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("media by chat %q: %w", chatID, classify(err))
	}
	defer func() { _ = rows.Close() }()

	var out []ChatMedia
	for rows.Next() {
		var cm ChatMedia
		if err := rows.Scan(&cm.MessageID, &cm.MimeType, &cm.Filename, &cm.FileSize, &cm.Caption, &cm.FilePath, &cm.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, cm)
	}
	return out, rows.Err()
}
