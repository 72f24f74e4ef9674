package splitter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ignite/sheet-dispatch/internal/groups"
	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
	"github.com/ignite/sheet-dispatch/internal/sheet"
)

// maxNameAttempts bounds the -2, -3, ... suffix search for a free name.
const maxNameAttempts = 1000

// GroupInfo supplies display names for bucket ids.
type GroupInfo interface {
	InfoFor(id string) groups.Group
}

// Output describes one written group workbook.
type Output struct {
	GroupID   string
	GroupName string
	Filename  string
	Path      string
	RowCount  int
}

// Writer serializes split results into the output directory.
type Writer struct {
	Dir string
	Now func() time.Time

	save func(path string, t *sheet.Table) error
}

// NewWriter returns a writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, Now: time.Now}
}

// Write saves one workbook per non-empty bucket, named
// <group name or id>-<MMDD_HHMM>.xlsx. A name already taken gets a -2, -3,
// ... suffix. Each workbook is saved under a hidden temp name and only
// linked to its final name once complete. If any file fails, every file of
// this call is removed and the error returned.
func (w *Writer) Write(res *Result, info GroupInfo) (outputs []Output, err error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	stamp := now().Format("0102_1504")

	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, p := range written {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				logger.Warn("could not remove partial output", "path", p, "error", rmErr)
			}
		}
		outputs = nil
	}()

	for _, id := range res.Order {
		b := res.Buckets[id]
		if b == nil || b.RowCount == 0 {
			continue
		}
		g := info.InfoFor(id)
		base := fileBase(id, g.Name)

		table := &sheet.Table{Headers: res.Headers, Rows: b.Rows}
		path, err := w.publish(table, base, stamp)
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", base, err)
		}
		written = append(written, path)

		name := g.Name
		if g.ID != id {
			name = ""
		}
		outputs = append(outputs, Output{
			GroupID:   id,
			GroupName: name,
			Filename:  filepath.Base(path),
			Path:      path,
			RowCount:  b.RowCount,
		})
		logger.Info("group workbook written", "group_id", id, "file", filepath.Base(path), "rows", b.RowCount)
	}
	return outputs, nil
}

func (w *Writer) publish(table *sheet.Table, base, stamp string) (string, error) {
	tmp, err := os.CreateTemp(w.Dir, ".tmp-*.xlsx")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	save := w.save
	if save == nil {
		save = func(path string, t *sheet.Table) error {
			return sheet.WriteTable(path, sheet.OutputSheet, t)
		}
	}
	if err := save(tmpName, table); err != nil {
		return "", err
	}
	return claim(tmpName, w.Dir, base, stamp)
}

// claim links the finished file src to the first free output name. The
// link fails on a taken name, so concurrent writers never share one.
func claim(src, dir, base, stamp string) (string, error) {
	for n := 1; n <= maxNameAttempts; n++ {
		name := fmt.Sprintf("%s-%s.xlsx", base, stamp)
		if n > 1 {
			name = fmt.Sprintf("%s-%s-%d.xlsx", base, stamp, n)
		}
		path := filepath.Join(dir, name)
		err := os.Link(src, path)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("claiming %s: %w", name, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free output name for %s-%s", base, stamp)
}

// fileBase is the group name when it is set and differs from the id,
// otherwise the id, with path-hostile characters replaced.
func fileBase(id, name string) string {
	base := strings.TrimSpace(name)
	if base == "" || base == id {
		base = id
	}
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, base)
	if base == "" || base == "." || base == ".." {
		base = "group"
	}
	return base
}
