package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wptrackd.log")
	logger, err := New(Options{Path: path, Level: "debug", Plain: true})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hello", zap.String("k", "v"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["pid"]; !ok {
		t.Error("pid field missing")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("New() should reject unknown level")
	}
}

func TestWhatsAppBridge(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	wa := WhatsApp(zap.New(core), "whatsmeow")

	wa.Infof("connected to %s", "server")
	wa.Sub("Client").Warnf("retry %d", 2)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].LoggerName != "whatsmeow" || entries[0].Message != "connected to server" {
		t.Errorf("entry 0 = %s %q", entries[0].LoggerName, entries[0].Message)
	}
	if entries[1].LoggerName != "whatsmeow.Client" || entries[1].Level != zapcore.WarnLevel {
		t.Errorf("entry 1 = %s %s", entries[1].LoggerName, entries[1].Level)
	}
}
