// Package paths defines the on-disk layout of a wptrack profile.
//
// Each profile is one tracked WhatsApp account with its own directory under
// the base dir (~/.wptrack, or $WPTRACK_HOME):
//
//	config.toml
//	profiles/<name>/daemon.sock
//	profiles/<name>/LOCK
//	profiles/<name>/session/session.db   whatsmeow device store
//	profiles/<name>/wptrack.db           metadata store (sqlite dialect)
//	profiles/<name>/media/
//	profiles/<name>/logs/wptrackd.log
//	profiles/<name>/whatsapp_qr.txt
package paths

import (
	"os"
	"path/filepath"

	"github.com/matheus3301/wptrack/internal/qr"
)

// HomeEnv overrides the base directory.
const HomeEnv = "WPTRACK_HOME"

// BaseDir returns $WPTRACK_HOME, or ~/.wptrack.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wptrack")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Layout locates the files of one profile.
type Layout struct {
	Dir string
}

// ForProfile returns the layout of a named profile under BaseDir.
func ForProfile(name string) Layout {
	return Layout{Dir: filepath.Join(BaseDir(), "profiles", name)}
}

// SocketPath returns the UDS socket path.
func (l Layout) SocketPath() string {
	return filepath.Join(l.Dir, "daemon.sock")
}

// LockPath returns the lock file path.
func (l Layout) LockPath() string {
	return filepath.Join(l.Dir, "LOCK")
}

// SessionDir returns the default directory of the whatsmeow device store.
func (l Layout) SessionDir() string {
	return filepath.Join(l.Dir, "session")
}

// MetadataDBPath returns the default sqlite metadata database path.
func (l Layout) MetadataDBPath() string {
	return filepath.Join(l.Dir, "wptrack.db")
}

// MediaDir returns the default media directory.
func (l Layout) MediaDir() string {
	return filepath.Join(l.Dir, "media")
}

// LogDir returns the log directory.
func (l Layout) LogDir() string {
	return filepath.Join(l.Dir, "logs")
}

// LogPath returns the daemon log file path.
func (l Layout) LogPath() string {
	return filepath.Join(l.LogDir(), "wptrackd.log")
}

// QRPath returns the QR file path.
func (l Layout) QRPath() string {
	return filepath.Join(l.Dir, qr.FileName)
}

// SessionDBPath returns the device store file inside sessionDir.
func SessionDBPath(sessionDir string) string {
	return filepath.Join(sessionDir, "session.db")
}

// Ensure creates the profile directory tree with owner-only permissions.
func (l Layout) Ensure() error {
	for _, d := range []string{l.Dir, l.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
