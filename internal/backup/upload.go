package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/studio-b12/gowebdav"
)

// RemoteDir is the WebDAV folder backups are written to.
const RemoteDir = "/backups"

// Uploader stores one backup file.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// WebDAV uploads backups to a WebDAV share.
type WebDAV struct {
	client *gowebdav.Client
	dir    string
}

// NewWebDAV creates an uploader for the share at url.
func NewWebDAV(url, login, token string) *WebDAV {
	return &WebDAV{client: gowebdav.NewClient(url, login, token), dir: RemoteDir}
}

// Upload writes data to the backups folder, creating it if needed.
func (w *WebDAV) Upload(_ context.Context, name string, data []byte) error {
	if err := w.client.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", w.dir, err)
	}
	if err := w.client.Write(path.Join(w.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Dir writes backups to a local directory.
type Dir struct {
	path string
}

// NewDir creates an uploader for the local directory p.
func NewDir(p string) *Dir {
	return &Dir{path: p}
}

// Upload writes data to the directory, creating it if needed.
func (d *Dir) Upload(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", d.path, err)
	}
	if err := os.WriteFile(filepath.Join(d.path, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
