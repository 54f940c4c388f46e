package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates session events the pipeline consumes.
type Kind string

const (
	KindQR            Kind = "qr"
	KindAuthenticated Kind = "authenticated"
	KindAuthFailure   Kind = "auth_failure"
	KindReady         Kind = "ready"
	KindMessage       Kind = "message"
	KindDisconnected  Kind = "disconnected"
)

// Event is one item of the session event stream.
type Event struct {
	ID         uuid.UUID
	Kind       Kind
	QR         string
	Reason     string
	Message    Inbound
	ReceivedAt time.Time
}

// RawMessage is a message as reported by the session layer. Zero values mean
// the field was absent.
type RawMessage struct {
	ID           string
	ChatID       string
	Body         string
	FromMe       bool
	Author       string
	IsGroup      bool
	Timestamp    int64
	Type         string
	HasMedia     bool
	HasQuotedMsg bool
}

// MediaPayload is a downloaded attachment.
type MediaPayload struct {
	MimeType string
	Filename string
	Caption  string
	Data     []byte
}

// ChatInfo describes the chat a message belongs to.
type ChatInfo struct {
	ID       string
	Name     string
	Number   string
	PushName string
	IsGroup  bool
}

// Inbound is a received message together with the session calls that resolve
// its attachment and owning chat.
type Inbound interface {
	Raw() RawMessage
	DownloadMedia(ctx context.Context) (*MediaPayload, error)
	Chat(ctx context.Context) (*ChatInfo, error)
}

func newEvent(kind Kind) Event {
	return Event{ID: uuid.New(), Kind: kind, ReceivedAt: time.Now()}
}

// QREvent reports a new pairing code.
func QREvent(code string) Event {
	evt := newEvent(KindQR)
	evt.QR = code
	return evt
}

// AuthenticatedEvent reports a successful pairing.
func AuthenticatedEvent() Event {
	return newEvent(KindAuthenticated)
}

// AuthFailureEvent reports a rejected or expired session.
func AuthFailureEvent(reason string) Event {
	evt := newEvent(KindAuthFailure)
	evt.Reason = reason
	return evt
}

// ReadyEvent reports that the session is connected and usable.
func ReadyEvent() Event {
	return newEvent(KindReady)
}

// DisconnectedEvent reports a lost connection.
func DisconnectedEvent(reason string) Event {
	evt := newEvent(KindDisconnected)
	evt.Reason = reason
	return evt
}

// MessageEvent wraps a received or sent message.
func MessageEvent(in Inbound) Event {
	evt := newEvent(KindMessage)
	evt.Message = in
	return evt
}

// ValidationError rejects a raw message that cannot become a Message row.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s %s", e.Field, e.Reason)
}

// DownloadError reports a failed attachment fetch. The message itself is kept.
type DownloadError struct {
	MessageID string
	Err       error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download media for %s: %v", e.MessageID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }
