package ingest

import (
	"strings"
	"time"

	"github.com/matheus3301/wptrack/internal/store"
)

// UnknownType tags messages whose type the session layer did not report.
const UnknownType = "unknown"

// Normalize maps a raw message to a Message row. Missing id or chat id is a
// *ValidationError. A missing body becomes "", a missing timestamp becomes
// now, a missing type becomes UnknownType. Author is kept only for incoming
// group messages.
func Normalize(raw RawMessage, now time.Time) (store.Message, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return store.Message{}, &ValidationError{Field: "id", Reason: "is empty"}
	}
	chatID := strings.TrimSpace(raw.ChatID)
	if chatID == "" {
		return store.Message{}, &ValidationError{Field: "chat_id", Reason: "is empty"}
	}

	msg := store.Message{
		ID:           id,
		ChatID:       chatID,
		Body:         raw.Body,
		FromMe:       raw.FromMe,
		Timestamp:    raw.Timestamp,
		Type:         raw.Type,
		HasMedia:     raw.HasMedia,
		HasQuotedMsg: raw.HasQuotedMsg,
	}
	if msg.Timestamp <= 0 {
		msg.Timestamp = now.UnixMilli()
	}
	if msg.Type == "" {
		msg.Type = UnknownType
	}
	if !raw.FromMe && raw.IsGroup {
		msg.Author = raw.Author
	}
	return msg, nil
}
