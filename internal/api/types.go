package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/wptrack/internal/archive"
	"github.com/matheus3301/wptrack/internal/store"
)

type ContactsRequest struct{}

type ContactsResponse struct {
	Contacts []store.Contact `json:"contacts"`
}

type HistoryRequest struct {
	ChatID string `json:"chat_id"`
	Limit  int    `json:"limit"`
}

type HistoryResponse struct {
	Messages []store.Message `json:"messages"`
}

type MediaInfoRequest struct {
	MessageID string `json:"message_id"`
}

type MediaInfoResponse struct {
	Media archive.MediaInfo `json:"media"`
}

type ExportRequest struct {
	ChatID string `json:"chat_id"`
	// Dir is resolved by the daemon, so the CLI sends an absolute path.
	Dir string `json:"dir"`
}

type ExportResponse struct {
	Result archive.ExportResult `json:"result"`
}

type SendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type SendResponse struct {
	Result archive.SendResult `json:"result"`
}

type LogoutRequest struct{}

type LogoutResponse struct{}

type StatusRequest struct{}

type StatusResponse struct {
	Status  archive.StatusReport `json:"status"`
	Profile string               `json:"profile"`
	PID     int                  `json:"pid"`
	Uptime  time.Duration        `json:"uptime_ns"`
}

// WatchRequest filters the stream by event kind prefix; empty means all.
type WatchRequest struct {
	Namespace string `json:"namespace"`
}

// WatchEvent is one bus notification.
type WatchEvent struct {
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
