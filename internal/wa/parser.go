package wa

import (
	"fmt"
	"strings"

	"github.com/matheus3301/wptrack/internal/ingest"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// MessageID serializes a message key as fromMe_chat_id, which is unique
// across chats where the bare protocol id is not.
func MessageID(fromMe bool, chat types.JID, id string) string {
	return fmt.Sprintf("%t_%s_%s", fromMe, chat.String(), id)
}

// ParseChatID accepts a full JID, a bare phone number, or the legacy
// number@c.us form, and returns the canonical non-device JID.
func ParseChatID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.EmptyJID, fmt.Errorf("empty chat id")
	}
	if user, ok := strings.CutSuffix(s, "@"+types.LegacyUserServer); ok {
		s = user + "@" + types.DefaultUserServer
	}
	if !strings.Contains(s, "@") {
		s = strings.TrimPrefix(s, "+")
		return types.NewJID(s, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("parse chat id %q: %w", s, err)
	}
	return jid.ToNonAD(), nil
}

// ParseLiveMessage maps a live message to the pipeline's raw form. chat is the
// resolved chat JID, which may differ from evt.Info.Chat for LID chats.
func ParseLiveMessage(evt *events.Message, chat types.JID) ingest.RawMessage {
	chat = chat.ToNonAD()
	raw := ingest.RawMessage{
		ID:           MessageID(evt.Info.IsFromMe, chat, evt.Info.ID),
		ChatID:       chat.String(),
		Body:         extractTextBody(evt.Message),
		FromMe:       evt.Info.IsFromMe,
		IsGroup:      evt.Info.IsGroup,
		Type:         detectMessageType(evt.Message),
		HasMedia:     hasMedia(evt.Message),
		HasQuotedMsg: hasQuotedMessage(evt.Message),
	}
	if !evt.Info.Sender.IsEmpty() {
		raw.Author = evt.Info.Sender.ToNonAD().String()
	}
	if !evt.Info.Timestamp.IsZero() {
		raw.Timestamp = evt.Info.Timestamp.UnixMilli()
	}
	return raw
}

// extractTextBody returns the text of a message, or the caption of media.
func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return ingest.UnknownType
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		if msg.GetAudioMessage().GetPTT() {
			return "ptt"
		}
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return ingest.UnknownType
	}
}

func hasMedia(msg *waE2E.Message) bool {
	if msg == nil {
		return false
	}
	return msg.GetImageMessage() != nil ||
		msg.GetVideoMessage() != nil ||
		msg.GetAudioMessage() != nil ||
		msg.GetDocumentMessage() != nil ||
		msg.GetStickerMessage() != nil
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg == nil:
		return nil
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetContextInfo()
	}
	return nil
}

func hasQuotedMessage(msg *waE2E.Message) bool {
	return contextInfo(msg).GetQuotedMessage() != nil
}

// mediaDetails returns the MIME type, original file name and caption of the
// attachment in msg.
func mediaDetails(msg *waE2E.Message) (mimeType, filename, caption string) {
	switch {
	case msg.GetImageMessage() != nil:
		m := msg.GetImageMessage()
		return m.GetMimetype(), "", m.GetCaption()
	case msg.GetVideoMessage() != nil:
		m := msg.GetVideoMessage()
		return m.GetMimetype(), "", m.GetCaption()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetMimetype(), "", ""
	case msg.GetDocumentMessage() != nil:
		m := msg.GetDocumentMessage()
		return m.GetMimetype(), m.GetFileName(), m.GetCaption()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetMimetype(), "", ""
	}
	return "", "", ""
}
