package groups

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrCatalogMissing is returned by a Source that has no stored document.
var ErrCatalogMissing = errors.New("group catalog not found")

// Source loads and stores the catalog document.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
	Save(ctx context.Context, c *Catalog) error
}

// Backupper is implemented by sources that can copy the current document
// aside before it is overwritten. It returns "" when there was nothing to
// back up.
type Backupper interface {
	Backup(ctx context.Context) (string, error)
}

// FileSource keeps the catalog in a JSON file, normally
// <groups dir>/groups.json.
type FileSource struct {
	Path string
	Now  func() time.Time
}

// NewFileSource returns a source for the document at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path, Now: time.Now}
}

// Load reads and parses the document.
func (s *FileSource) Load(_ context.Context) (*Catalog, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCatalogMissing, s.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.Path, err)
	}
	return ParseCatalog(data)
}

// Save writes the document through a temp file and rename so readers
// never see a partial file.
func (s *FileSource) Save(_ context.Context, c *Catalog) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	return writeFileAtomic(s.Path, data)
}

// Backup copies the current document to groups_backup_<YYYYMMDD_HHMMSS>.json
// next to it.
func (s *FileSource) Backup(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", s.Path, err)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	name := fmt.Sprintf("groups_backup_%s.json", now().Format("20060102_150405"))
	dst := filepath.Join(filepath.Dir(s.Path), name)
	if err := writeFileAtomic(dst, data); err != nil {
		return "", err
	}
	return dst, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}
	return nil
}
