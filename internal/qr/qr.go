// Package qr maintains the plaintext QR file used to pair a headless daemon
// and renders QR payloads for terminals.
package qr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
)

// FileName is the well-known name of the QR file inside the data directory.
const FileName = "whatsapp_qr.txt"

// ErrNoPayload is returned when a QR file holds no recognizable pairing code.
var ErrNoPayload = errors.New("no QR payload found")

// pairing codes look like 2@abc+/=,def=,ghi=,1
var payloadPattern = regexp.MustCompile(`\d@[A-Za-z0-9+/=,]+`)

// File is the QR file at a fixed path.
type File struct {
	path string
}

// NewFile returns a handle for the QR file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Write replaces the file with a rendering of payload issued at issuedAt.
func (f *File) Write(payload string, issuedAt time.Time) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create qr dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, Format(payload, issuedAt), 0600); err != nil {
		return fmt.Errorf("write qr file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write qr file: %w", err)
	}
	return nil
}

// Remove deletes the file. A missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove qr file: %w", err)
	}
	return nil
}

// Read returns the pairing code stored in the file.
func (f *File) Read() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", err
	}
	payload, ok := Extract(data)
	if !ok {
		return "", ErrNoPayload
	}
	return payload, nil
}

// Format builds the file contents: a header with the issue time, pairing
// instructions, the raw payload on its own line and a terminal rendering.
func Format(payload string, issuedAt time.Time) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "QR Code generated at %s\n", issuedAt.Format(time.RFC3339))
	sb.WriteString("Scan this QR code with your phone's WhatsApp app to authenticate.\n")
	sb.WriteString("WhatsApp > Settings > Linked Devices > Link a Device\n\n")
	sb.WriteString(payload)
	sb.WriteString("\n\n")
	sb.WriteString(Render(payload))
	sb.WriteString("\nIf the code above is unreadable, run: wptrack qr\n")
	return []byte(sb.String())
}

// Extract finds the pairing code in arbitrary text.
func Extract(content []byte) (string, bool) {
	m := payloadPattern.Find(content)
	if m == nil {
		return "", false
	}
	return string(m), true
}

// Render converts a payload to a compact QR code using Unicode half-block
// characters. Two bitmap rows become one terminal line.
func Render(payload string) string {
	code, err := qrcode.New(payload, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")\n"
	}

	bitmap := code.Bitmap()
	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
