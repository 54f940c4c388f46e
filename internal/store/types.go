package store

// Message is a recorded chat message. ID is the session layer's serialized
// message id and is globally unique.
type Message struct {
	ID           string `json:"id"`
	ChatID       string `json:"chat_id"`
	Body         string `json:"body"`
	FromMe       bool   `json:"from_me"`
	Author       string `json:"author,omitempty"`
	Timestamp    int64  `json:"timestamp"` // epoch millis
	Type         string `json:"type"`
	HasMedia     bool   `json:"has_media"`
	HasQuotedMsg bool   `json:"has_quoted_msg"`
}

// Contact is the last known state of a chat (individual or group).
type Contact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Number      string `json:"number"`
	PushName    string `json:"push_name"`
	IsGroup     bool   `json:"is_group"`
	LastUpdated int64  `json:"last_updated"` // epoch millis
}

// MediaMeta describes an attachment payload as delivered by the session layer.
type MediaMeta struct {
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	Caption  string `json:"caption,omitempty"`
}

// Media is a persisted attachment record.
type Media struct {
	MessageID string `json:"message_id"`
	MediaMeta
	FilePath string `json:"file_path"`
}

// ChatMedia pairs a media row with its message timestamp, for export.
type ChatMedia struct {
	Media
	Timestamp int64 `json:"timestamp"`
}

// Counts holds row totals per table.
type Counts struct {
	Messages int64 `json:"messages"`
	Contacts int64 `json:"contacts"`
	Media    int64 `json:"media"`
}
