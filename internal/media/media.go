// Package media persists attachment payloads on disk under content-derived
// names. A message id always maps to the same file, so re-processing a message
// overwrites its file instead of accumulating copies.
package media

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtension is used for MIME types missing from the extension table.
const DefaultExtension = ".bin"

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/3gpp":      ".3gp",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"audio/aac":       ".aac",
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
}

// StorageWriteError reports a failed attempt to place a payload on disk.
// No metadata may reference Path when this error is returned.
type StorageWriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("media %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// Store writes payloads into a single directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created lazily on
// the first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// Extension returns the file extension for a MIME type. Parameters such as
// "; codecs=opus" are ignored.
func Extension(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(mimeType))
	if mt, _, err := mime.ParseMediaType(base); err == nil {
		base = mt
	}
	if ext, ok := extensions[base]; ok {
		return ext
	}
	return DefaultExtension
}

// Filename derives the stored file name of a message's payload.
func Filename(messageID, mimeType string) string {
	sum := md5.Sum([]byte(messageID))
	return hex.EncodeToString(sum[:]) + Extension(mimeType)
}

// Path returns where the payload of messageID would be stored.
func (s *Store) Path(messageID, mimeType string) string {
	return filepath.Join(s.dir, Filename(messageID, mimeType))
}

// Store writes data to the content-derived path of messageID and returns that
// path once the bytes are synced to disk. The write goes through a temporary
// file in the same directory, so the target path is either the previous
// content or the complete new content.
func (s *Store) Store(messageID, mimeType string, data []byte) (string, error) {
	path := s.Path(messageID, mimeType)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &StorageWriteError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return "", &StorageWriteError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	fail := func(op string, err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", &StorageWriteError{Op: op, Path: path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", &StorageWriteError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return "", &StorageWriteError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", &StorageWriteError{Op: "rename", Path: path, Err: err}
	}
	return path, nil
}

// Exists reports whether a regular file is present at path.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the stored payload at path. A missing file yields an error
// satisfying errors.Is(err, fs.ErrNotExist).
func Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Copy copies the file at src to dst, replacing dst if it exists.
func Copy(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return n, err
}

// IsNotExist reports whether err means the file is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
