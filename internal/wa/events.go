package wa

import (
	"context"

	"github.com/matheus3301/wptrack/internal/ingest"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// EventHandler translates whatsmeow events into pipeline events. It keeps no
// state of its own: the pipeline owns lifecycle and persistence.
type EventHandler struct {
	adapter *Adapter
	sink    Sink
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(adapter *Adapter, sink Sink, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		adapter: adapter,
		sink:    sink,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function. It blocks while the
// pipeline queue is full.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.submit(ingest.MessageEvent(h.inbound(evt)))
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.submit(ingest.ReadyEvent())
	case *events.Disconnected:
		h.submit(ingest.DisconnectedEvent("connection closed"))
	case *events.StreamReplaced:
		h.submit(ingest.DisconnectedEvent("stream replaced by another client"))
	case *events.ConnectFailure:
		h.submit(ingest.DisconnectedEvent("connect failure: " + evt.Reason.String()))
	case *events.TemporaryBan:
		h.submit(ingest.AuthFailureEvent(evt.String()))
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.submit(ingest.AuthFailureEvent("logged out: " + evt.Reason.String()))
		if h.adapter != nil && h.adapter.client != nil {
			go h.adapter.repair(h.sink)
		}
	}
}

func (h *EventHandler) submit(evt ingest.Event) {
	if err := h.sink.Submit(h.ctx(), evt); err != nil {
		h.logger.Debug("event not delivered", zap.String("kind", string(evt.Kind)), zap.Error(err))
	}
}

func (h *EventHandler) inbound(evt *events.Message) *liveMessage {
	chat := evt.Info.Chat
	if h.adapter != nil {
		chat = h.adapter.ResolveLID(h.ctx(), chat)
	}
	return &liveMessage{
		adapter: h.adapter,
		evt:     evt,
		chat:    chat.ToNonAD(),
		raw:     ParseLiveMessage(evt, chat),
	}
}

func (h *EventHandler) ctx() context.Context {
	if h.adapter != nil && h.adapter.ctx != nil {
		return h.adapter.ctx
	}
	return context.Background()
}

// liveMessage is a received message bound to the client that can fetch its
// attachment and chat details.
type liveMessage struct {
	adapter *Adapter
	evt     *events.Message
	chat    types.JID
	raw     ingest.RawMessage
}

func (m *liveMessage) Raw() ingest.RawMessage {
	return m.raw
}

func (m *liveMessage) DownloadMedia(ctx context.Context) (*ingest.MediaPayload, error) {
	if m.adapter == nil || m.adapter.client == nil {
		return nil, ErrTransport
	}
	mimeType, filename, caption := mediaDetails(m.evt.Message)
	data, err := m.adapter.client.DownloadAny(ctx, m.evt.Message)
	if err != nil {
		return nil, err
	}
	return &ingest.MediaPayload{
		MimeType: mimeType,
		Filename: filename,
		Caption:  caption,
		Data:     data,
	}, nil
}

func (m *liveMessage) Chat(ctx context.Context) (*ingest.ChatInfo, error) {
	if m.adapter == nil {
		return nil, ErrTransport
	}
	chat, err := m.adapter.chatInfo(ctx, m.chat)
	if err != nil {
		return nil, err
	}
	// The sender of an incoming direct message is the chat's contact.
	if chat.PushName == "" && !m.evt.Info.IsGroup && !m.evt.Info.IsFromMe {
		chat.PushName = m.evt.Info.PushName
		if chat.Name == "" {
			chat.Name = m.evt.Info.PushName
		}
	}
	return chat, nil
}
