package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(Options{Dialect: SQLite, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestMigrateCreatesIndexes(t *testing.T) {
	db := testDB(t)

	for _, name := range []string{
		"idx_messages_chat_ts",
		"idx_contacts_name",
		"idx_contacts_number",
	} {
		var got string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&got)
		if err != nil {
			t.Errorf("index %s missing: %v", name, err)
		}
	}
}

func TestOpenUnsupportedDialect(t *testing.T) {
	if _, err := Open(Options{Dialect: "postgres"}); err == nil {
		t.Fatal("Open() expected error for unsupported dialect")
	}
}

func TestOpenUnreachableIsUnavailable(t *testing.T) {
	// A directory that does not exist cannot hold the database file.
	_, err := Open(Options{Dialect: SQLite, Path: filepath.Join(t.TempDir(), "missing", "dir", "x.db")})
	if err == nil {
		t.Fatal("Open() expected error")
	}
	if !errors.Is(err, ErrDatabaseUnavailable) {
		t.Errorf("err = %v, want ErrDatabaseUnavailable", err)
	}
}

func TestUpsertSQLDialects(t *testing.T) {
	lite := &DB{dialect: SQLite}
	got := lite.upsertSQL("t", "id", "a", "b")
	want := "INSERT INTO t (id, a, b) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET a = excluded.a, b = excluded.b"
	if got != want {
		t.Errorf("sqlite upsert =\n%s\nwant\n%s", got, want)
	}

	my := &DB{dialect: MySQL}
	got = my.upsertSQL("t", "id", "a")
	want = "INSERT INTO t (id, a) VALUES (?, ?) ON DUPLICATE KEY UPDATE a = VALUES(a)"
	if got != want {
		t.Errorf("mysql upsert =\n%s\nwant\n%s", got, want)
	}
}

func TestMessageUpsertLastWriteWins(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first := &Message{ID: "m1", ChatID: "c1", Body: "hello", Timestamp: 1000, Type: "chat", HasQuotedMsg: true}
	if err := db.UpsertMessage(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &Message{ID: "m1", ChatID: "c1", Body: "edited", Timestamp: 2000, Type: "image", HasMedia: true}
	if err := db.UpsertMessage(ctx, second); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.MessagesByChat(ctx, "c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (upsert must not duplicate)", len(msgs))
	}
	if msgs[0] != *second {
		t.Errorf("got %+v, want %+v", msgs[0], *second)
	}
}

func TestMessagesByChatOrderAndLimit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i, ts := range []int64{3000, 1000, 5000, 2000, 4000} {
		m := &Message{ID: string(rune('a' + i)), ChatID: "c1", Timestamp: ts, Type: "chat"}
		if err := db.UpsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpsertMessage(ctx, &Message{ID: "other", ChatID: "c2", Timestamp: 9000, Type: "chat"}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.MessagesByChat(ctx, "c1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []int64{5000, 4000, 3000} {
		if msgs[i].Timestamp != want {
			t.Errorf("msgs[%d].Timestamp = %d, want %d", i, msgs[i].Timestamp, want)
		}
	}

	none, err := db.MessagesByChat(ctx, "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("limit 0 returned %d rows", len(none))
	}
}

func TestMessageByIDMissing(t *testing.T) {
	db := testDB(t)
	m, err := db.MessageByID(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("expected nil for missing message, got %+v", m)
	}
}

func TestContactUpsertRefreshesLastUpdated(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	clock := time.UnixMilli(1_000)
	db.now = func() time.Time { return clock }

	if err := db.UpsertContact(ctx, &Contact{ID: "a@s.whatsapp.net", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	clock = time.UnixMilli(2_000)
	if err := db.UpsertContact(ctx, &Contact{ID: "g@g.us", Name: "Group", IsGroup: true}); err != nil {
		t.Fatal(err)
	}
	clock = time.UnixMilli(3_000)
	if err := db.UpsertContact(ctx, &Contact{ID: "a@s.whatsapp.net", Name: "Alice B", PushName: "ali"}); err != nil {
		t.Fatal(err)
	}

	contacts, err := db.AllContacts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 {
		t.Fatalf("got %d contacts, want 2", len(contacts))
	}
	if contacts[0].ID != "a@s.whatsapp.net" || contacts[0].LastUpdated != 3000 {
		t.Errorf("first contact = %+v, want refreshed Alice at 3000", contacts[0])
	}
	if contacts[0].Name != "Alice B" || contacts[0].PushName != "ali" {
		t.Errorf("contact fields not overwritten: %+v", contacts[0])
	}
	if !contacts[1].IsGroup {
		t.Errorf("second contact should be the group: %+v", contacts[1])
	}
}

func TestUpsertMediaRequiresMessage(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.UpsertMedia(ctx, "ghost", &MediaMeta{MimeType: "image/png"}, "/tmp/x.png")
	if !errors.Is(err, ErrForeignKeyViolation) {
		t.Fatalf("err = %v, want ErrForeignKeyViolation", err)
	}

	counts, err := db.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts != (Counts{}) {
		t.Errorf("store changed after failed upsert: %+v", counts)
	}
}

func TestMediaUpsertAndLookup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertMessage(ctx, &Message{ID: "m2", ChatID: "c1", Timestamp: 10, Type: "image", HasMedia: true}); err != nil {
		t.Fatal(err)
	}
	meta := &MediaMeta{MimeType: "image/png", Filename: "a.png", FileSize: 10, Caption: "look"}
	if err := db.UpsertMedia(ctx, "m2", meta, "/data/media/abc.png"); err != nil {
		t.Fatal(err)
	}
	meta.Caption = "look again"
	if err := db.UpsertMedia(ctx, "m2", meta, "/data/media/abc.png"); err != nil {
		t.Fatal(err)
	}

	got, err := db.MediaByMessage(ctx, "m2")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("media row missing")
	}
	if got.MimeType != "image/png" || got.Caption != "look again" || got.FilePath != "/data/media/abc.png" {
		t.Errorf("media = %+v", got)
	}

	missing, err := db.MediaByMessage(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("expected nil media, got %+v", missing)
	}
}

func TestDeleteMessageCascadesToMedia(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertMessage(ctx, &Message{ID: "m3", ChatID: "c1", Timestamp: 10, Type: "image", HasMedia: true}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMedia(ctx, "m3", &MediaMeta{MimeType: "image/jpeg"}, "/x.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage(ctx, "m3"); err != nil {
		t.Fatal(err)
	}

	media, err := db.MediaByMessage(ctx, "m3")
	if err != nil {
		t.Fatal(err)
	}
	if media != nil {
		t.Errorf("media row survived message delete: %+v", media)
	}
}

func TestMediaByChat(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, m := range []*Message{
		{ID: "b", ChatID: "c1", Timestamp: 200, Type: "image", HasMedia: true},
		{ID: "a", ChatID: "c1", Timestamp: 100, Type: "image", HasMedia: true},
		{ID: "x", ChatID: "c2", Timestamp: 50, Type: "image", HasMedia: true},
	} {
		if err := db.UpsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
		if err := db.UpsertMedia(ctx, m.ID, &MediaMeta{MimeType: "image/png"}, "/m/"+m.ID); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.MediaByChat(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d media, want 2", len(got))
	}
	if got[0].MessageID != "a" || got[0].Timestamp != 100 || got[1].MessageID != "b" {
		t.Errorf("unexpected order: %+v", got)
	}
}
