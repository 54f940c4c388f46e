package wa

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wptrack/internal/ingest"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"
)

// Sink receives session events in arrival order.
type Sink interface {
	Submit(ctx context.Context, evt ingest.Event) error
}

// Start registers the event handler and connects. Without stored credentials
// it starts the QR pairing flow; pairing codes are delivered to sink as qr
// events.
func (a *Adapter) Start(sink Sink) error {
	h := NewEventHandler(a, sink, a.logger)
	a.client.AddEventHandler(h.Handle)

	if !a.IsLoggedIn() {
		return a.pair(sink)
	}
	a.logger.Info("connecting to WhatsApp")
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("%w: connect: %w", ErrTransport, err)
	}
	return nil
}

func (a *Adapter) pair(sink Sink) error {
	qrChan, err := a.client.GetQRChannel(a.ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}

	// Connect must be called after GetQRChannel.
	a.logger.Info("connecting to WhatsApp for pairing")
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("%w: connect: %w", ErrTransport, err)
	}

	go func() {
		retry := false
		for item := range qrChan {
			retry = retryPairing(item)
			evt, ok := qrEvent(item)
			if !ok {
				continue
			}
			if err := sink.Submit(a.ctx, evt); err != nil {
				a.logger.Debug("pairing event not delivered", zap.Error(err))
				return
			}
		}
		if !retry {
			return
		}
		select {
		case <-a.ctx.Done():
		case <-time.After(pairingRetryDelay):
			a.logger.Info("QR codes expired, restarting pairing")
			a.repair(sink)
		}
	}()
	return nil
}

// pairingRetryDelay separates an expired pairing attempt from the next one.
const pairingRetryDelay = 5 * time.Second

// retryPairing reports whether the pairing flow ending with item should be
// started again. Only expiry is retried; other failures need the user.
func retryPairing(item whatsmeow.QRChannelItem) bool {
	return item.Event == "timeout"
}

// repair restarts pairing after the server revoked the session or the
// previous codes expired.
func (a *Adapter) repair(sink Sink) {
	if a.ctx.Err() != nil {
		return
	}
	a.client.Disconnect()
	if err := a.pair(sink); err != nil {
		a.logger.Error("failed to restart pairing", zap.Error(err))
	}
}

// qrEvent maps a QR channel item to a pipeline event.
func qrEvent(item whatsmeow.QRChannelItem) (ingest.Event, bool) {
	switch item.Event {
	case "code":
		return ingest.QREvent(item.Code), true
	case "success":
		return ingest.AuthenticatedEvent(), true
	case "timeout":
		return ingest.AuthFailureEvent("QR code timeout"), true
	case "error":
		if item.Error != nil {
			return ingest.AuthFailureEvent(item.Error.Error()), true
		}
		return ingest.AuthFailureEvent("pairing error"), true
	default:
		if item.Event == "" {
			return ingest.Event{}, false
		}
		// err-client-outdated, err-scanned-without-multidevice, ...
		return ingest.AuthFailureEvent(item.Event), true
	}
}
