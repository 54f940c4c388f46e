package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/wptrack/internal/api"
	"github.com/matheus3301/wptrack/internal/archive"
	"github.com/matheus3301/wptrack/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func printContacts(w io.Writer, contacts []store.Contact) {
	fmt.Fprintln(w, "=== Contacts ===")
	if len(contacts) == 0 {
		fmt.Fprintln(w, "No contacts found.")
		return
	}
	for i, c := range contacts {
		name := c.Name
		if name == "" {
			name = "Unknown"
		}
		kind := "Individual"
		if c.IsGroup {
			kind = "Group"
		}
		fmt.Fprintf(w, "%d. %s (ID: %s)\n", i+1, name, c.ID)
		fmt.Fprintf(w, "   Type: %s\n", kind)
		if c.Number != "" {
			fmt.Fprintf(w, "   Number: %s\n", c.Number)
		}
		if c.PushName != "" {
			fmt.Fprintf(w, "   Push name: %s\n", c.PushName)
		}
		if c.LastUpdated > 0 {
			fmt.Fprintf(w, "   Updated: %s\n", humanize.Time(time.UnixMilli(c.LastUpdated)))
		}
		fmt.Fprintln(w)
	}
}

func printHistory(w io.Writer, chatID string, msgs []store.Message) {
	fmt.Fprintf(w, "=== Message History (%s) ===\n", chatID)
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages found.")
		return
	}
	for _, m := range msgs {
		direction := "Incoming"
		if m.FromMe {
			direction = "Outgoing"
		}
		fmt.Fprintf(w, "[%s] %s\n", time.UnixMilli(m.Timestamp).Format(timeLayout), direction)
		if m.Author != "" && !m.FromMe {
			fmt.Fprintf(w, "From: %s\n", m.Author)
		}
		fmt.Fprintf(w, "Message: %s\n", m.Body)
		if m.HasMedia {
			fmt.Fprintf(w, "Media: Yes (ID: %s)\n", m.ID)
			fmt.Fprintf(w, "Use 'wptrack media %s' to view media details\n", m.ID)
		}
		fmt.Fprintln(w)
	}
}

func printMedia(w io.Writer, m *archive.MediaInfo) {
	fmt.Fprintf(w, "=== Media Info (%s) ===\n", m.MessageID)
	if m.Status == archive.FileNotSaved && m.MimeType == "" {
		fmt.Fprintln(w, "Status: Media not saved locally")
		return
	}
	fmt.Fprintf(w, "Type: %s\n", m.MimeType)
	filename := m.Filename
	if filename == "" {
		filename = "N/A"
	}
	fmt.Fprintf(w, "File: %s\n", filename)
	fmt.Fprintf(w, "Size: %s\n", humanize.IBytes(uint64(max(m.FileSize, 0))))
	if m.Caption != "" {
		fmt.Fprintf(w, "Caption: %s\n", m.Caption)
	}
	if m.FilePath != "" {
		fmt.Fprintf(w, "Stored at: %s\n", m.FilePath)
	}
	switch m.Status {
	case archive.FileExists:
		fmt.Fprintln(w, "Status: File exists")
	case archive.FileMissing:
		fmt.Fprintln(w, "Status: File not found (may have been moved or deleted)")
	default:
		fmt.Fprintln(w, "Status: Media not saved locally")
	}
}

func printExport(w io.Writer, chatID string, res *archive.ExportResult) {
	fmt.Fprintf(w, "Found %d media records in chat %s\n", res.Found, chatID)
	for _, name := range res.Files {
		fmt.Fprintf(w, "Exported: %s\n", name)
	}
	fmt.Fprintf(w, "\nExport complete: %d files exported to %s\n", res.Exported, res.Dir)
}

func printStatus(w io.Writer, resp *api.StatusResponse) {
	st := resp.Status
	fmt.Fprintf(w, "Profile:  %s (pid %d)\n", resp.Profile, resp.PID)
	fmt.Fprintf(w, "Status:   %s", st.State)
	if !st.Since.IsZero() {
		fmt.Fprintf(w, " since %s", humanize.Time(st.Since))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Uptime:   %s\n", resp.Uptime.Round(time.Second))
	fmt.Fprintf(w, "Messages: %s\n", humanize.Comma(st.Counts.Messages))
	fmt.Fprintf(w, "Contacts: %s\n", humanize.Comma(st.Counts.Contacts))
	fmt.Fprintf(w, "Media:    %s\n", humanize.Comma(st.Counts.Media))
	if st.Dropped > 0 {
		fmt.Fprintf(w, "Dropped:  %d events\n", st.Dropped)
	}
	if st.QR != nil {
		fmt.Fprintf(w, "QR code pending since %s; run: wptrack qr\n", st.QR.IssuedAt.Format(timeLayout))
	}
}

func printEvent(w io.Writer, evt *api.WatchEvent) {
	fmt.Fprintf(w, "%s %-24s %s\n", evt.Timestamp.Format(timeLayout), evt.Kind, evt.Payload)
}
