// Package ingest turns the session event stream into durable rows and files.
//
// Events are queued and handled by a single worker in arrival order. For a
// message the worker commits the Message row first, then the attachment bytes,
// then the Media row pointing at them, then the Contact of the chat. A failure
// in any step after the first is logged and does not undo earlier steps.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/wptrack/internal/bus"
	"github.com/matheus3301/wptrack/internal/metrics"
	"github.com/matheus3301/wptrack/internal/qr"
	"github.com/matheus3301/wptrack/internal/status"
	"github.com/matheus3301/wptrack/internal/store"
	"go.uber.org/zap"
)

const (
	// DefaultQueueSize bounds the number of events waiting for the worker.
	DefaultQueueSize = 256
	// DefaultMediaTimeout bounds a single attachment download.
	DefaultMediaTimeout = 60 * time.Second
)

// ErrStopped is returned by Submit once Stop has been called.
var ErrStopped = errors.New("pipeline stopped")

// Metadata is the subset of the metadata store the pipeline writes to.
type Metadata interface {
	UpsertMessage(ctx context.Context, m *store.Message) error
	UpsertMedia(ctx context.Context, messageID string, meta *store.MediaMeta, path string) error
	UpsertContact(ctx context.Context, c *store.Contact) error
}

// Blobs persists attachment bytes and returns where they landed.
type Blobs interface {
	Store(messageID, mimeType string, data []byte) (string, error)
}

// Config wires a Pipeline. Metadata and Media are required.
type Config struct {
	Metadata Metadata
	Media    Blobs
	QRFile   *qr.File
	Machine  *status.Machine
	Bus      *bus.Bus
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// Terminal receives a rendering of every new QR code. Nil in headless mode.
	Terminal io.Writer

	QueueSize    int
	MediaTimeout time.Duration
}

// QRCode is the most recent pairing code.
type QRCode struct {
	Payload  string    `json:"payload"`
	IssuedAt time.Time `json:"issued_at"`
}

// MessageUpserted is the bus payload published after a message is processed.
type MessageUpserted struct {
	ID          string `json:"id"`
	ChatID      string `json:"chat_id"`
	FromMe      bool   `json:"from_me"`
	HasMedia    bool   `json:"has_media"`
	MediaStored bool   `json:"media_stored"`
}

// Pipeline is the single-writer ingestion worker.
type Pipeline struct {
	meta         Metadata
	blobs        Blobs
	qrFile       *qr.File
	machine      *status.Machine
	bus          *bus.Bus
	metrics      *metrics.Metrics
	logger       *zap.Logger
	terminal     io.Writer
	mediaTimeout time.Duration

	queue chan Event
	done  chan struct{}

	mu       sync.RWMutex
	started  bool
	stopped  bool
	abandon  atomic.Bool
	dropped  atomic.Int64
	stopOnce sync.Once

	qrMu   sync.RWMutex
	lastQR *QRCode
}

// New creates a pipeline. Call Start before submitting events.
func New(cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = DefaultMediaTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Pipeline{
		meta:         cfg.Metadata,
		blobs:        cfg.Media,
		qrFile:       cfg.QRFile,
		machine:      cfg.Machine,
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.Named("ingest"),
		terminal:     cfg.Terminal,
		mediaTimeout: cfg.MediaTimeout,
		queue:        make(chan Event, cfg.QueueSize),
		done:         make(chan struct{}),
	}
}

// Start launches the worker. Calling it more than once has no effect.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	go p.run()
}

// Submit enqueues an event, blocking while the queue is full. It fails with
// ErrStopped after Stop, or with ctx's error if ctx ends first.
func (p *Pipeline) Submit(ctx context.Context, evt Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- evt:
		p.metrics.QueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes intake and waits for queued events to be processed. When ctx
// ends first, the worker completes the step it is in and drops whatever is
// still queued. The QR file is removed once the worker has exited.
func (p *Pipeline) Stop(ctx context.Context) error {
	var started bool
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		started = p.started
		close(p.queue)
		p.mu.Unlock()
		if !started {
			close(p.done)
		}
	})

	var err error
	select {
	case <-p.done:
	case <-ctx.Done():
		p.abandon.Store(true)
		<-p.done
		err = fmt.Errorf("pipeline drain: %w", ctx.Err())
	}

	if n := p.dropped.Load(); n > 0 {
		p.logger.Warn("dropped queued events at shutdown", zap.Int64("count", n))
	}
	if p.qrFile != nil {
		if rmErr := p.qrFile.Remove(); rmErr != nil {
			p.logger.Warn("failed to remove QR file", zap.Error(rmErr))
		}
	}
	return err
}

// Dropped returns how many queued events were abandoned at shutdown.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

// LastQR returns the cached pairing code, if one is outstanding.
func (p *Pipeline) LastQR() (QRCode, bool) {
	p.qrMu.RLock()
	defer p.qrMu.RUnlock()
	if p.lastQR == nil {
		return QRCode{}, false
	}
	return *p.lastQR, true
}

func (p *Pipeline) run() {
	defer close(p.done)
	for evt := range p.queue {
		p.metrics.QueueDepth.Dec()
		if p.abandon.Load() {
			p.dropped.Add(1)
			p.metrics.Abandoned.Inc()
			p.logger.Debug("event abandoned", zap.Stringer("event_id", evt.ID), zap.String("kind", string(evt.Kind)))
			continue
		}
		p.metrics.Events.WithLabelValues(string(evt.Kind)).Inc()
		p.handle(evt)
	}
}

func (p *Pipeline) handle(evt Event) {
	switch evt.Kind {
	case KindMessage:
		p.handleMessage(evt)
	case KindQR:
		p.handleQR(evt)
	case KindAuthenticated:
		p.handleAuthenticated(evt)
	case KindAuthFailure:
		p.logger.Error("authentication failed", zap.String("reason", evt.Reason))
		p.clearQR()
		p.transition(status.AuthFailed)
		p.publish(bus.KindAuthFailed, evt.Reason)
	case KindReady:
		p.logger.Info("session ready")
		p.transition(status.Ready)
	case KindDisconnected:
		// Reconnection belongs to the session layer.
		p.logger.Warn("session disconnected", zap.String("reason", evt.Reason))
		p.transition(status.Disconnected)
	default:
		p.logger.Warn("unknown event kind", zap.String("kind", string(evt.Kind)))
	}
}

func (p *Pipeline) handleQR(evt Event) {
	code := &QRCode{Payload: evt.QR, IssuedAt: evt.ReceivedAt}
	p.qrMu.Lock()
	p.lastQR = code
	p.qrMu.Unlock()

	if p.qrFile != nil {
		if err := p.qrFile.Write(code.Payload, code.IssuedAt); err != nil {
			p.logger.Warn("failed to write QR file", zap.Error(err))
		} else {
			p.logger.Info("QR code saved", zap.String("path", p.qrFile.Path()))
		}
	}
	if p.terminal != nil {
		_, _ = fmt.Fprintf(p.terminal, "\nScan this QR code with WhatsApp > Settings > Linked Devices:\n\n%s\n", qr.Render(code.Payload))
	}
	p.transition(status.AwaitingQR)
	p.publish(bus.KindQR, *code)
}

func (p *Pipeline) handleAuthenticated(Event) {
	p.clearQR()
	p.logger.Info("authentication successful")
	p.transition(status.Authenticated)
	p.publish(bus.KindAuthenticated, nil)
}

// clearQR forgets the outstanding pairing code. A code is single use: it is
// spent on success and expired on failure.
func (p *Pipeline) clearQR() {
	p.qrMu.Lock()
	p.lastQR = nil
	p.qrMu.Unlock()

	if p.qrFile != nil {
		if err := p.qrFile.Remove(); err != nil {
			p.logger.Warn("failed to remove QR file", zap.Error(err))
		}
	}
}

func (p *Pipeline) handleMessage(evt Event) {
	if evt.Message == nil {
		p.logger.Warn("message event without payload", zap.Stringer("event_id", evt.ID))
		return
	}
	// Steps are not interrupted by shutdown; only the gaps between them are.
	ctx := context.Background()

	msg, err := Normalize(evt.Message.Raw(), evt.ReceivedAt)
	if err != nil {
		p.logger.Warn("rejected message", zap.Stringer("event_id", evt.ID), zap.Error(err))
		return
	}
	log := p.logger.With(
		zap.Stringer("event_id", evt.ID),
		zap.String("msg_id", msg.ID),
		zap.String("chat_id", msg.ChatID),
	)

	msgErr := p.step("message", func() error {
		return p.meta.UpsertMessage(ctx, &msg)
	})
	if msgErr != nil {
		log.Error("failed to upsert message", zap.Error(msgErr))
	} else {
		p.metrics.Messages.Inc()
	}

	mediaStored := false
	if msg.HasMedia && msgErr == nil && !p.abandon.Load() {
		mediaStored = p.ingestMedia(ctx, log, evt.Message, msg.ID)
	}

	if !p.abandon.Load() {
		p.refreshContact(ctx, log, evt.Message, msg.ChatID)
	}

	if msgErr == nil {
		p.publish(bus.KindMessageUpserted, MessageUpserted{
			ID:          msg.ID,
			ChatID:      msg.ChatID,
			FromMe:      msg.FromMe,
			HasMedia:    msg.HasMedia,
			MediaStored: mediaStored,
		})
	}
}

// ingestMedia downloads and stores the attachment, then records it. The Media
// row is only written once the file write has returned successfully.
func (p *Pipeline) ingestMedia(ctx context.Context, log *zap.Logger, in Inbound, messageID string) bool {
	var payload *MediaPayload
	err := p.step("download", func() error {
		dctx, cancel := context.WithTimeout(ctx, p.mediaTimeout)
		defer cancel()
		var err error
		payload, err = in.DownloadMedia(dctx)
		if err == nil && (payload == nil || len(payload.Data) == 0) {
			err = errors.New("empty payload")
		}
		return err
	})
	if err != nil {
		p.metrics.MediaFailures.WithLabelValues("download").Inc()
		log.Warn("media not saved", zap.Error(&DownloadError{MessageID: messageID, Err: err}))
		return false
	}
	// Past the drain deadline no new file is written.
	if p.abandon.Load() {
		return false
	}

	var path string
	if err := p.step("store", func() error {
		var err error
		path, err = p.blobs.Store(messageID, payload.MimeType, payload.Data)
		return err
	}); err != nil {
		p.metrics.MediaFailures.WithLabelValues("store").Inc()
		log.Warn("media not saved", zap.Error(err))
		return false
	}

	if p.abandon.Load() {
		return false
	}

	meta := &store.MediaMeta{
		MimeType: payload.MimeType,
		Filename: payload.Filename,
		FileSize: int64(len(payload.Data)),
		Caption:  payload.Caption,
	}
	err = p.step("media", func() error {
		return p.meta.UpsertMedia(ctx, messageID, meta, path)
	})
	switch {
	case errors.Is(err, store.ErrForeignKeyViolation):
		p.metrics.OrderingViolations.Inc()
		log.Error("ordering violation: media row rejected, message row missing", zap.String("path", path), zap.Error(err))
		return false
	case err != nil:
		p.metrics.MediaFailures.WithLabelValues("metadata").Inc()
		log.Error("failed to upsert media", zap.String("path", path), zap.Error(err))
		return false
	}
	p.metrics.MediaStored.Inc()
	log.Debug("media saved", zap.String("path", path), zap.Int("bytes", len(payload.Data)))
	return true
}

func (p *Pipeline) refreshContact(ctx context.Context, log *zap.Logger, in Inbound, chatID string) {
	err := p.step("contact", func() error {
		chat, err := in.Chat(ctx)
		if err != nil {
			return fmt.Errorf("resolve chat: %w", err)
		}
		c := &store.Contact{
			ID:       chat.ID,
			Name:     chat.Name,
			Number:   chat.Number,
			PushName: chat.PushName,
			IsGroup:  chat.IsGroup,
		}
		if c.ID == "" {
			c.ID = chatID
		}
		return p.meta.UpsertContact(ctx, c)
	})
	if err != nil {
		p.metrics.ContactFailures.Inc()
		log.Warn("failed to refresh contact", zap.Error(err))
	}
}

func (p *Pipeline) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.StepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

func (p *Pipeline) transition(to status.State) {
	if p.machine == nil {
		return
	}
	if err := p.machine.Transition(to); err != nil {
		p.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func (p *Pipeline) publish(kind string, payload any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
