package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wptrack/internal/bus"
	"github.com/matheus3301/wptrack/internal/media"
	"github.com/matheus3301/wptrack/internal/metrics"
	"github.com/matheus3301/wptrack/internal/qr"
	"github.com/matheus3301/wptrack/internal/status"
	"github.com/matheus3301/wptrack/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeInbound struct {
	raw         RawMessage
	payload     *MediaPayload
	downloadErr error
	chat        *ChatInfo
	chatErr     error

	// When set, DownloadMedia signals entered and waits for release.
	entered chan struct{}
	release chan struct{}

	mu        sync.Mutex
	downloads int
}

func (f *fakeInbound) Raw() RawMessage { return f.raw }

func (f *fakeInbound) DownloadMedia(ctx context.Context) (*MediaPayload, error) {
	f.mu.Lock()
	f.downloads++
	f.mu.Unlock()
	if f.entered != nil {
		close(f.entered)
		<-f.release
	}
	return f.payload, f.downloadErr
}

func (f *fakeInbound) Chat(ctx context.Context) (*ChatInfo, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if f.chat != nil {
		return f.chat, nil
	}
	return &ChatInfo{ID: f.raw.ChatID, Name: "Chat " + f.raw.ChatID}, nil
}

type harness struct {
	db       *store.DB
	media    *media.Store
	qrFile   *qr.File
	machine  *status.Machine
	bus      *bus.Bus
	metrics  *metrics.Metrics
	pipeline *Pipeline
}

func newHarness(t *testing.T, mod func(*Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(store.Options{Dialect: store.SQLite, Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		db:      db,
		media:   media.NewStore(filepath.Join(dir, "media")),
		qrFile:  qr.NewFile(filepath.Join(dir, qr.FileName)),
		bus:     bus.New(),
		metrics: metrics.New(),
	}
	h.machine = status.NewMachine(h.bus)
	cfg := Config{
		Metadata: db,
		Media:    h.media,
		QRFile:   h.qrFile,
		Machine:  h.machine,
		Bus:      h.bus,
		Metrics:  h.metrics,
	}
	if mod != nil {
		mod(&cfg)
	}
	h.pipeline = New(cfg)
	h.pipeline.Start()
	return h
}

// run submits events and waits for the worker to finish them.
func (h *harness) run(t *testing.T, events ...Event) {
	t.Helper()
	for _, evt := range events {
		if err := h.pipeline.Submit(context.Background(), evt); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.pipeline.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestMessageThenMediaScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	png := []byte("0123456789")

	h.run(t,
		MessageEvent(&fakeInbound{raw: RawMessage{ID: "m1", ChatID: "c1", Body: "hi", Timestamp: 1000, Type: "chat"}}),
		MessageEvent(&fakeInbound{
			raw:     RawMessage{ID: "m2", ChatID: "c1", Timestamp: 2000, Type: "image", HasMedia: true},
			payload: &MediaPayload{MimeType: "image/png", Filename: "pic.png", Data: png},
		}),
	)

	msgs, err := h.db.MessagesByChat(ctx, "c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	m1 := msgs[1]
	if m1.ID != "m1" || m1.Body != "hi" || m1.HasMedia {
		t.Errorf("m1 = %+v", m1)
	}
	if md, _ := h.db.MediaByMessage(ctx, "m1"); md != nil {
		t.Errorf("m1 has a media row: %+v", md)
	}

	md, err := h.db.MediaByMessage(ctx, "m2")
	if err != nil {
		t.Fatal(err)
	}
	if md == nil {
		t.Fatal("m2 has no media row")
	}
	if md.MimeType != "image/png" || md.FileSize != 10 {
		t.Errorf("media = %+v", md)
	}
	if !strings.HasSuffix(md.FilePath, ".png") {
		t.Errorf("file path %q does not end in .png", md.FilePath)
	}
	got, err := os.ReadFile(md.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, png) {
		t.Errorf("file content = %q, want %q", got, png)
	}

	contacts, err := h.db.AllContacts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].ID != "c1" || contacts[0].Name != "Chat c1" {
		t.Errorf("contacts = %+v", contacts)
	}

	if got := testutil.ToFloat64(h.metrics.Messages); got != 2 {
		t.Errorf("messages metric = %v, want 2", got)
	}
	if got := testutil.ToFloat64(h.metrics.MediaStored); got != 1 {
		t.Errorf("media metric = %v, want 1", got)
	}
}

func TestReingestOverwrites(t *testing.T) {
	h := newHarness(t, nil)

	h.run(t,
		MessageEvent(&fakeInbound{raw: RawMessage{ID: "m1", ChatID: "c1", Body: "first", Timestamp: 1000}}),
		MessageEvent(&fakeInbound{raw: RawMessage{ID: "m1", ChatID: "c1", Body: "second", Timestamp: 1000, Type: "chat"}}),
	)

	msgs, err := h.db.MessagesByChat(context.Background(), "c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1", len(msgs))
	}
	if msgs[0].Body != "second" || msgs[0].Type != "chat" {
		t.Errorf("row = %+v, want second ingestion's values", msgs[0])
	}
}

func TestDownloadFailureKeepsMessage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.run(t,
		MessageEvent(&fakeInbound{
			raw:         RawMessage{ID: "m1", ChatID: "c1", HasMedia: true},
			downloadErr: errors.New("media expired"),
		}),
		MessageEvent(&fakeInbound{
			raw:     RawMessage{ID: "m2", ChatID: "c1", HasMedia: true},
			payload: &MediaPayload{MimeType: "image/jpeg"},
		}),
	)

	for _, id := range []string{"m1", "m2"} {
		msg, err := h.db.MessageByID(ctx, id)
		if err != nil || msg == nil {
			t.Fatalf("%s missing: %v", id, err)
		}
		if !msg.HasMedia {
			t.Errorf("%s lost its has-media flag", id)
		}
		if md, _ := h.db.MediaByMessage(ctx, id); md != nil {
			t.Errorf("%s has a media row after failed download", id)
		}
	}
	if got := testutil.ToFloat64(h.metrics.MediaFailures.WithLabelValues("download")); got != 2 {
		t.Errorf("download failures = %v, want 2", got)
	}
	// Contact is refreshed regardless of media outcome.
	contacts, _ := h.db.AllContacts(ctx)
	if len(contacts) != 1 {
		t.Errorf("got %d contacts, want 1", len(contacts))
	}
}

func TestStorageFailureSkipsMediaRow(t *testing.T) {
	var blocked string
	h := newHarness(t, func(cfg *Config) {
		blocked = filepath.Join(t.TempDir(), "not-a-dir")
		if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		cfg.Media = media.NewStore(blocked)
	})
	ctx := context.Background()

	h.run(t, MessageEvent(&fakeInbound{
		raw:     RawMessage{ID: "m1", ChatID: "c1", Body: "see attachment", HasMedia: true},
		payload: &MediaPayload{MimeType: "image/png", Data: []byte("data")},
	}))

	msg, err := h.db.MessageByID(ctx, "m1")
	if err != nil || msg == nil {
		t.Fatalf("message missing: %v", err)
	}
	if msg.Body != "see attachment" {
		t.Errorf("body = %q", msg.Body)
	}
	if md, _ := h.db.MediaByMessage(ctx, "m1"); md != nil {
		t.Errorf("media row written despite failed write: %+v", md)
	}
	if got := testutil.ToFloat64(h.metrics.MediaFailures.WithLabelValues("store")); got != 1 {
		t.Errorf("store failures = %v, want 1", got)
	}
}

// fkMetadata accepts every write except media rows, which it rejects as an
// unknown message would be.
type fkMetadata struct {
	mu       sync.Mutex
	messages []string
	contacts []string
}

func (f *fkMetadata) UpsertMessage(_ context.Context, m *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m.ID)
	return nil
}

func (f *fkMetadata) UpsertMedia(context.Context, string, *store.MediaMeta, string) error {
	return store.ErrForeignKeyViolation
}

func (f *fkMetadata) UpsertContact(_ context.Context, c *store.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, c.ID)
	return nil
}

func TestOrderingViolationIsCounted(t *testing.T) {
	fake := &fkMetadata{}
	h := newHarness(t, func(cfg *Config) { cfg.Metadata = fake })

	h.run(t, MessageEvent(&fakeInbound{
		raw:     RawMessage{ID: "m1", ChatID: "c1", HasMedia: true},
		payload: &MediaPayload{MimeType: "image/png", Data: []byte("data")},
	}))

	if got := testutil.ToFloat64(h.metrics.OrderingViolations); got != 1 {
		t.Errorf("ordering violations = %v, want 1", got)
	}
	if len(fake.contacts) != 1 {
		t.Errorf("contact not refreshed after media failure: %v", fake.contacts)
	}
}

func TestContactFailureKeepsMessage(t *testing.T) {
	h := newHarness(t, nil)

	h.run(t, MessageEvent(&fakeInbound{
		raw:     RawMessage{ID: "m1", ChatID: "c1"},
		chatErr: errors.New("not connected"),
	}))

	if msg, _ := h.db.MessageByID(context.Background(), "m1"); msg == nil {
		t.Fatal("message missing after contact failure")
	}
	if got := testutil.ToFloat64(h.metrics.ContactFailures); got != 1 {
		t.Errorf("contact failures = %v, want 1", got)
	}
}

func TestInvalidMessageIsSkipped(t *testing.T) {
	h := newHarness(t, nil)

	h.run(t,
		MessageEvent(&fakeInbound{raw: RawMessage{ChatID: "c1", Body: "no id"}}),
		MessageEvent(&fakeInbound{raw: RawMessage{ID: "m2", ChatID: "c1"}}),
	)

	counts, err := h.db.Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts.Messages != 1 {
		t.Errorf("messages = %d, want 1", counts.Messages)
	}
}

func TestPublishesMessageUpserted(t *testing.T) {
	h := newHarness(t, nil)
	ch, unsub := h.bus.Subscribe("message.", 10)
	defer unsub()

	h.run(t, MessageEvent(&fakeInbound{raw: RawMessage{ID: "m1", ChatID: "c1", FromMe: true}}))

	select {
	case evt := <-ch:
		up, ok := evt.Payload.(MessageUpserted)
		if !ok {
			t.Fatalf("payload = %T", evt.Payload)
		}
		if up.ID != "m1" || up.ChatID != "c1" || !up.FromMe {
			t.Errorf("payload = %+v", up)
		}
	case <-time.After(time.Second):
		t.Fatal("no message.upserted event")
	}
}

func TestQRLifecycle(t *testing.T) {
	var term bytes.Buffer
	h := newHarness(t, func(cfg *Config) { cfg.Terminal = &term })
	ctx := context.Background()
	code := "2@abc+/=,def=,1"

	if err := h.pipeline.Submit(ctx, QREvent(code)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.machine.Current() == status.AwaitingQR })

	cached, _ := h.pipeline.LastQR()
	if cached.Payload != code || cached.IssuedAt.IsZero() {
		t.Errorf("LastQR() = %+v", cached)
	}
	if got, err := h.qrFile.Read(); err != nil || got != code {
		t.Errorf("QR file = %q, %v", got, err)
	}
	if !strings.Contains(term.String(), "Linked Devices") {
		t.Error("QR not rendered to terminal")
	}

	h.run(t, AuthenticatedEvent(), ReadyEvent())

	if _, ok := h.pipeline.LastQR(); ok {
		t.Error("QR still cached after authentication")
	}
	if _, err := os.Stat(h.qrFile.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("QR file still present: %v", err)
	}
	if h.machine.Current() != status.Ready {
		t.Errorf("state = %s, want READY", h.machine.Current())
	}
}

func TestAuthFailureExpiresQR(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.pipeline.Submit(ctx, QREvent("2@abc+/=,def=,1")); err != nil {
		t.Fatal(err)
	}
	if err := h.pipeline.Submit(ctx, AuthFailureEvent("QR code timeout")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.machine.Current() == status.AuthFailed })

	if code, ok := h.pipeline.LastQR(); ok {
		t.Errorf("expired QR still cached: %+v", code)
	}
	if _, err := os.Stat(h.qrFile.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("QR file still present after auth failure: %v", err)
	}

	// A fresh pairing attempt issues a new code.
	h.run(t, QREvent("2@next,1"))
	if h.machine.Current() != status.AwaitingQR {
		t.Errorf("state = %s, want AWAITING_QR", h.machine.Current())
	}
}

func TestStopRemovesStaleQRFile(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, QREvent("2@abc,1"))

	if _, err := os.Stat(h.qrFile.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("QR file left behind after Stop: %v", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.pipeline.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := h.pipeline.Submit(context.Background(), ReadyEvent())
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Submit() after Stop = %v, want ErrStopped", err)
	}
	// Stop is idempotent.
	if err := h.pipeline.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	p := New(Config{Metadata: &fkMetadata{}, Media: media.NewStore(t.TempDir())})
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestSubmitBlocksWhileQueueIsFull(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.QueueSize = 1 })
	ctx := context.Background()

	slow := &fakeInbound{
		raw:     RawMessage{ID: "m1", ChatID: "c1", HasMedia: true},
		payload: &MediaPayload{MimeType: "image/png", Data: []byte("img")},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	if err := h.pipeline.Submit(ctx, MessageEvent(slow)); err != nil {
		t.Fatal(err)
	}
	<-slow.entered
	// The worker is busy; this fills the only slot.
	if err := h.pipeline.Submit(ctx, MessageEvent(&fakeInbound{raw: RawMessage{ID: "m2", ChatID: "c1"}})); err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := h.pipeline.Submit(short, MessageEvent(&fakeInbound{raw: RawMessage{ID: "m3", ChatID: "c1"}}))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit() on full queue = %v, want context.DeadlineExceeded", err)
	}

	submitted := make(chan error, 1)
	go func() {
		submitted <- h.pipeline.Submit(ctx, MessageEvent(&fakeInbound{raw: RawMessage{ID: "m4", ChatID: "c1"}}))
	}()
	select {
	case err := <-submitted:
		t.Fatalf("Submit() returned while the queue was full: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(slow.release)
	if err := <-submitted; err != nil {
		t.Fatalf("blocked Submit() = %v", err)
	}
	if err := h.pipeline.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"m1", "m2", "m4"} {
		if msg, _ := h.db.MessageByID(ctx, id); msg == nil {
			t.Errorf("%s not recorded", id)
		}
	}
	if msg, _ := h.db.MessageByID(ctx, "m3"); msg != nil {
		t.Error("timed-out submission was recorded")
	}
	if md, _ := h.db.MediaByMessage(ctx, "m1"); md == nil {
		t.Error("m1 media row missing")
	}
	if got := h.pipeline.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}

func TestStopDeadlineFinishesStepAndDropsRest(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	slow := &fakeInbound{
		raw:     RawMessage{ID: "m1", ChatID: "c1", HasMedia: true},
		payload: &MediaPayload{MimeType: "image/png", Data: []byte("late")},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	if err := h.pipeline.Submit(ctx, MessageEvent(slow)); err != nil {
		t.Fatal(err)
	}
	<-slow.entered
	for _, id := range []string{"m2", "m3", "m4"} {
		if err := h.pipeline.Submit(ctx, MessageEvent(&fakeInbound{raw: RawMessage{ID: id, ChatID: "c1"}})); err != nil {
			t.Fatal(err)
		}
	}

	expired, cancel := context.WithCancel(ctx)
	cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- h.pipeline.Stop(expired) }()

	waitFor(t, h.pipeline.abandon.Load)
	// Stop must wait for the in-flight step.
	select {
	case err := <-stopped:
		t.Fatalf("Stop returned before the in-flight step finished: %v", err)
	default:
	}
	close(slow.release)

	if err := <-stopped; !errors.Is(err, context.Canceled) {
		t.Errorf("Stop() = %v, want context.Canceled", err)
	}
	if got := h.pipeline.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
	if msg, _ := h.db.MessageByID(ctx, "m1"); msg == nil {
		t.Error("in-flight message row missing")
	}
	if md, _ := h.db.MediaByMessage(ctx, "m1"); md != nil {
		t.Error("media row written after shutdown deadline")
	}
	if media.Exists(h.media.Path("m1", "image/png")) {
		t.Error("attachment file written after shutdown deadline")
	}
	if msg, _ := h.db.MessageByID(ctx, "m2"); msg != nil {
		t.Error("queued message processed after deadline")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
