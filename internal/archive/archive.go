// Package archive is the read side of the tracker plus the two session
// commands a user can issue: send and logout. It never writes Message, Media
// or Contact rows itself; sent messages are handed to the ingestion pipeline.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matheus3301/wptrack/internal/ingest"
	"github.com/matheus3301/wptrack/internal/media"
	"github.com/matheus3301/wptrack/internal/status"
	"github.com/matheus3301/wptrack/internal/store"
	"github.com/matheus3301/wptrack/internal/wa"
	"go.uber.org/zap"
)

const (
	// DefaultHistoryLimit applies when History is called with limit <= 0.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit caps a single History call.
	MaxHistoryLimit = 1000
)

// ErrNotFound is returned when the requested message is unknown or carries
// no attachment.
var ErrNotFound = errors.New("not found")

// Reader is the query side of the metadata store.
type Reader interface {
	AllContacts(ctx context.Context) ([]store.Contact, error)
	MessageByID(ctx context.Context, id string) (*store.Message, error)
	MessagesByChat(ctx context.Context, chatID string, limit int) ([]store.Message, error)
	MediaByMessage(ctx context.Context, messageID string) (*store.Media, error)
	MediaByChat(ctx context.Context, chatID string) ([]store.ChatMedia, error)
	Counts(ctx context.Context) (store.Counts, error)
}

// Gateway is the part of the WhatsApp session the facade drives.
type Gateway interface {
	SendText(ctx context.Context, chatID, text string) (wa.SentMessage, error)
	ChatInfo(ctx context.Context, chatID string) (*ingest.ChatInfo, error)
	Logout(ctx context.Context) error
}

// Sink accepts events for the ingestion pipeline.
type Sink interface {
	Submit(ctx context.Context, evt ingest.Event) error
}

// QRSource exposes the most recent pairing code.
type QRSource interface {
	LastQR() (ingest.QRCode, bool)
}

// FileStatus describes the on-disk state of an attachment.
type FileStatus string

const (
	FileExists   FileStatus = "exists"
	FileMissing  FileStatus = "missing"
	FileNotSaved FileStatus = "not_saved"
)

// MediaInfo is a media row together with the state of its file.
type MediaInfo struct {
	store.Media
	Status FileStatus `json:"status"`
}

// ExportResult summarizes an export run.
type ExportResult struct {
	Dir      string   `json:"dir"`
	Found    int      `json:"found"`
	Exported int      `json:"exported"`
	Files    []string `json:"files"`
}

// SendResult reports the outcome of Send.
type SendResult struct {
	Sent      bool   `json:"sent"`
	MessageID string `json:"message_id,omitempty"`
}

// StatusReport is a snapshot of the daemon.
type StatusReport struct {
	State   status.State   `json:"state"`
	Since   time.Time      `json:"since"`
	QR      *ingest.QRCode `json:"qr,omitempty"`
	Counts  store.Counts   `json:"counts"`
	Dropped int64          `json:"dropped_events"`
}

// Config wires a Service. Reader is required.
type Config struct {
	Reader  Reader
	Gateway Gateway
	Sink    Sink
	Machine *status.Machine
	QR      QRSource
	// Dropped reports events the pipeline abandoned at shutdown.
	Dropped func() int64
	Logger  *zap.Logger
}

// Service implements the user-facing operations.
type Service struct {
	reader  Reader
	gateway Gateway
	sink    Sink
	machine *status.Machine
	qr      QRSource
	dropped func() int64
	logger  *zap.Logger
	now     func() time.Time
}

func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		reader:  cfg.Reader,
		gateway: cfg.Gateway,
		sink:    cfg.Sink,
		machine: cfg.Machine,
		qr:      cfg.QR,
		dropped: cfg.Dropped,
		logger:  cfg.Logger.Named("archive"),
		now:     time.Now,
	}
}

// Contacts lists every known chat, most recently updated first.
func (s *Service) Contacts(ctx context.Context) ([]store.Contact, error) {
	return s.reader.AllContacts(ctx)
}

// History returns the newest messages of a chat.
func (s *Service) History(ctx context.Context, chatID string, limit int) ([]store.Message, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	return s.reader.MessagesByChat(ctx, chatID, limit)
}

// MediaInfo returns the media row of a message and checks its file. A message
// flagged with media whose attachment was never stored reports FileNotSaved.
func (s *Service) MediaInfo(ctx context.Context, messageID string) (*MediaInfo, error) {
	m, err := s.reader.MediaByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return &MediaInfo{Media: *m, Status: fileStatus(m.FilePath)}, nil
	}

	msg, err := s.reader.MessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil || !msg.HasMedia {
		return nil, fmt.Errorf("media for %s: %w", messageID, ErrNotFound)
	}
	return &MediaInfo{Media: store.Media{MessageID: messageID}, Status: FileNotSaved}, nil
}

func fileStatus(path string) FileStatus {
	switch {
	case path == "":
		return FileNotSaved
	case media.Exists(path):
		return FileExists
	default:
		return FileMissing
	}
}

// Export copies every resolvable attachment of a chat into dir. Rows whose
// file is gone are skipped.
func (s *Service) Export(ctx context.Context, chatID, dir string) (*ExportResult, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("export: empty target directory")
	}
	rows, err := s.reader.MediaByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	res := &ExportResult{Dir: dir, Found: len(rows), Files: []string{}}
	log := s.logger.With(zap.String("chat_id", chatID), zap.String("dir", dir))
	taken := make(map[string]bool, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if row.FilePath == "" || !media.Exists(row.FilePath) {
			continue
		}
		name := ExportName(row.Timestamp, row.Filename, row.FilePath)
		if taken[name] {
			name = disambiguate(name, row.FilePath)
		}
		taken[name] = true
		if _, err := media.Copy(row.FilePath, filepath.Join(dir, name)); err != nil {
			log.Warn("export copy failed", zap.String("message_id", row.MessageID), zap.Error(err))
			continue
		}
		res.Exported++
		res.Files = append(res.Files, name)
	}
	log.Info("export complete", zap.Int("found", res.Found), zap.Int("exported", res.Exported))
	return res, nil
}

// ExportName builds the target filename of an exported attachment: the UTC
// ISO-8601 time of the message with ':' and '.' replaced by '-', an
// underscore, and the original filename. Attachments delivered without a
// name (photos, voice notes) use the stored file's base name instead.
func ExportName(timestampMillis int64, original, storedPath string) string {
	ts := time.UnixMilli(timestampMillis).UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	name := filepath.Base(strings.TrimSpace(original))
	if name == "." || name == "/" || name == ".." {
		name = filepath.Base(storedPath)
	}
	return ts + "_" + name
}

// disambiguate inserts the stored file's stem after the timestamp, so two
// attachments sharing a name and a millisecond land in distinct files.
func disambiguate(name, storedPath string) string {
	stem := strings.TrimSuffix(filepath.Base(storedPath), filepath.Ext(storedPath))
	ts, rest, _ := strings.Cut(name, "_")
	return ts + "_" + stem + "_" + rest
}

// Send delivers a text message and queues it for recording.
func (s *Service) Send(ctx context.Context, chatID, text string) (SendResult, error) {
	if s.gateway == nil {
		return SendResult{}, wa.ErrTransport
	}
	if strings.TrimSpace(text) == "" {
		return SendResult{}, errors.New("send: empty message")
	}
	sent, err := s.gateway.SendText(ctx, chatID, text)
	if err != nil {
		s.logger.Warn("send failed", zap.String("chat_id", chatID), zap.Error(err))
		return SendResult{}, err
	}

	if s.sink != nil {
		ts := sent.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		out := &outgoing{
			raw: ingest.RawMessage{
				ID:        sent.ID,
				ChatID:    sent.ChatID,
				Body:      text,
				FromMe:    true,
				IsGroup:   strings.HasSuffix(sent.ChatID, "@g.us"),
				Timestamp: ts.UnixMilli(),
				Type:      "text",
			},
			gateway: s.gateway,
		}
		// The message is already delivered; a failed hand-off only loses the record.
		if err := s.sink.Submit(ctx, ingest.MessageEvent(out)); err != nil {
			s.logger.Warn("sent message not recorded", zap.String("message_id", sent.ID), zap.Error(err))
		}
	}
	return SendResult{Sent: true, MessageID: sent.ID}, nil
}

// Logout ends the WhatsApp session.
func (s *Service) Logout(ctx context.Context) error {
	if s.gateway == nil {
		return wa.ErrTransport
	}
	if err := s.gateway.Logout(ctx); err != nil {
		return err
	}
	s.logger.Info("logged out")
	return nil
}

// Status reports lifecycle state, the pending QR code and row totals.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	rep := &StatusReport{State: status.Booting}
	if s.machine != nil {
		rep.State, rep.Since = s.machine.Snapshot()
	}
	if s.qr != nil {
		if code, ok := s.qr.LastQR(); ok {
			rep.QR = &code
		}
	}
	if s.dropped != nil {
		rep.Dropped = s.dropped()
	}
	counts, err := s.reader.Counts(ctx)
	if err != nil {
		return nil, err
	}
	rep.Counts = counts
	return rep, nil
}

// outgoing is a message this process sent, replayed through the pipeline.
type outgoing struct {
	raw     ingest.RawMessage
	gateway Gateway
}

func (o *outgoing) Raw() ingest.RawMessage { return o.raw }

func (o *outgoing) DownloadMedia(context.Context) (*ingest.MediaPayload, error) {
	return nil, errors.New("outgoing text message has no media")
}

func (o *outgoing) Chat(ctx context.Context) (*ingest.ChatInfo, error) {
	return o.gateway.ChatInfo(ctx, o.raw.ChatID)
}
