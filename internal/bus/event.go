package bus

import "time"

// Event kinds published by the daemon.
const (
	KindMessageUpserted = "message.upserted"
	KindQR              = "session.qr"
	KindAuthenticated   = "session.authenticated"
	KindAuthFailed      = "session.auth_failed"
	KindStatusChanged   = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
