package wa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matheus3301/wptrack/internal/ingest"
	"github.com/matheus3301/wptrack/internal/logging"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// ErrTransport reports that the WhatsApp connection is unavailable.
var ErrTransport = errors.New("whatsapp transport unavailable")

// Options configures the adapter.
type Options struct {
	// SessionDB is the whatsmeow device store file.
	SessionDB string
	// DeviceName is shown in the phone's linked devices list.
	DeviceName string
}

// SentMessage identifies a message accepted by the server.
type SentMessage struct {
	ID        string
	ChatID    string
	Timestamp time.Time
}

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
// It is created once per process and shared by every component.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger

	// ctx outlives individual RPCs and fx hooks; Destroy cancels it.
	ctx     context.Context
	cancel  context.CancelFunc
	destroy sync.Once
}

// NewAdapter opens the device store and creates the client. It does not connect.
func NewAdapter(ctx context.Context, opts Options, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DeviceName == "" {
		opts.DeviceName = "wptrack"
	}
	// Set device name shown on the phone's linked devices list.
	wastore.SetOSInfo(opts.DeviceName, [3]uint32{0, 1, 0})

	if err := os.MkdirAll(filepath.Dir(opts.SessionDB), 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", opts.SessionDB),
		logging.WhatsApp(logger, "whatsmeow.store"),
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, logging.WhatsApp(logger, "whatsmeow"))

	actx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		client:    client,
		container: container,
		logger:    logger.Named("wa"),
		ctx:       actx,
		cancel:    cancel,
	}, nil
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client != nil && a.client.Store.ID != nil
}

// IsConnected reports whether the websocket is up.
func (a *Adapter) IsConnected() bool {
	return a.client != nil && a.client.IsConnected()
}

// Logout invalidates the session on the server and removes local credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	if !a.IsLoggedIn() {
		return fmt.Errorf("%w: not logged in", ErrTransport)
	}
	if err := a.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Destroy disconnects and releases the device store. Safe to call twice.
func (a *Adapter) Destroy() error {
	var err error
	a.destroy.Do(func() {
		a.cancel()
		if a.client != nil {
			a.logger.Info("disconnecting from WhatsApp")
			a.client.Disconnect()
		}
		if a.container != nil {
			err = a.container.Close()
		}
	})
	return err
}

// SendText sends a text message to chatID.
func (a *Adapter) SendText(ctx context.Context, chatID, text string) (SentMessage, error) {
	to, err := ParseChatID(chatID)
	if err != nil {
		return SentMessage{}, err
	}
	if !a.IsConnected() {
		return SentMessage{}, ErrTransport
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return SentMessage{}, fmt.Errorf("send message: %w", err)
	}
	return SentMessage{
		ID:        MessageID(true, to, resp.ID),
		ChatID:    to.String(),
		Timestamp: resp.Timestamp,
	}, nil
}

// ChatInfo resolves display details of a chat from group metadata or the
// device's contact store.
func (a *Adapter) ChatInfo(ctx context.Context, chatID string) (*ingest.ChatInfo, error) {
	jid, err := ParseChatID(chatID)
	if err != nil {
		return nil, err
	}
	return a.chatInfo(ctx, jid)
}

func (a *Adapter) chatInfo(ctx context.Context, jid types.JID) (*ingest.ChatInfo, error) {
	if a.client == nil {
		return nil, ErrTransport
	}
	if jid.Server == types.GroupServer {
		info, err := a.client.GetGroupInfo(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("%w: group info: %w", ErrTransport, err)
		}
		return &ingest.ChatInfo{ID: jid.String(), Name: info.Name, IsGroup: true}, nil
	}

	chat := &ingest.ChatInfo{ID: jid.String()}
	if jid.Server == types.DefaultUserServer {
		chat.Number = jid.User
	}
	contact, err := a.client.Store.Contacts.GetContact(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("contact lookup: %w", err)
	}
	chat.PushName = contact.PushName
	switch {
	case contact.FullName != "":
		chat.Name = contact.FullName
	case contact.BusinessName != "":
		chat.Name = contact.BusinessName
	default:
		chat.Name = contact.PushName
	}
	return chat, nil
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if !a.IsLoggedIn() {
		return ""
	}
	return a.client.Store.ID.User
}

// ResolveLID resolves a LID JID to its phone number JID using the device store mapping.
// Returns the original JID if it's not a LID or if resolution fails.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
