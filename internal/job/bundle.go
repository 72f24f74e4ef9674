package job

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ignite/sheet-dispatch/internal/delivery"
	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
	"github.com/ignite/sheet-dispatch/internal/splitter"
)

// bundleZone is the wall clock the bundle name is stamped with.
var bundleZone = time.FixedZone("UTC+3", 3*60*60)

// BundleResult reports the personal-mailbox bundle.
type BundleResult struct {
	Name      string
	Recipient string
	Files     int
	OK        bool
	Error     string
	// ArchiveKey is where the bundle was archived, if it was.
	ArchiveKey string
}

// BundleName returns <HHMM>_<first 9 runes of the upload stem>_rap.zip,
// with HHMM in UTC+3.
func BundleName(now time.Time, fileName string) string {
	hhmm := now.In(bundleZone).Format("1504")
	base := filepath.Base(fileName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		return hhmm + "_output_files_rap.zip"
	}
	if runes := []rune(stem); len(runes) > 9 {
		stem = string(runes[:9])
	}
	return hhmm + "_" + stem + "_rap.zip"
}

type zipEntry struct {
	name string
	path string
}

// bundle zips the upload and every output, mails the archive to the
// personal mailbox and removes it. It returns nil when no personal
// mailbox is configured. Group delivery results do not affect it.
func (r *Runner) bundle(ctx context.Context, jobID string, req Request, outputs []splitter.Output, totalRows int) *BundleResult {
	if r.cfg.PersonalEmail == "" {
		logger.Warn("bundle skipped: personal mailbox not configured", "job_id", jobID)
		return nil
	}

	now := r.now()
	res := &BundleResult{Name: BundleName(now, req.FileName), Recipient: r.cfg.PersonalEmail}

	dir, err := os.MkdirTemp(r.cfg.TempDir, "bundle-*")
	if err != nil {
		res.Error = err.Error()
		logger.Error("bundle failed", "job_id", jobID, "error", err)
		return res
	}
	defer os.RemoveAll(dir)

	entries := []zipEntry{{name: req.FileName, path: req.Path}}
	for _, out := range outputs {
		entries = append(entries, zipEntry{name: out.Filename, path: out.Path})
	}
	path := filepath.Join(dir, res.Name)
	if res.Files, err = writeZip(path, entries); err != nil {
		res.Error = err.Error()
		logger.Error("bundle failed", "job_id", jobID, "error", err)
		return res
	}

	subject, body, err := r.templates.Bundle(delivery.BundleMail{
		JobID:      jobID,
		SourceFile: req.FileName,
		Time:       now.In(bundleZone).Format("15:04"),
		FileCount:  len(outputs),
		TotalRows:  totalRows,
		Sender:     r.cfg.SenderName,
	})
	if err != nil {
		res.Error = err.Error()
		logger.Error("bundle failed", "job_id", jobID, "error", err)
		return res
	}

	out := r.sender.Send(ctx, []string{r.cfg.PersonalEmail}, subject, body, path)
	res.OK = out.OK
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	if res.OK {
		logger.Info("bundle sent", "job_id", jobID, "bundle", res.Name, "recipient", res.Recipient, "files", res.Files)
	} else {
		logger.Error("bundle not sent", "job_id", jobID, "bundle", res.Name, "recipient", res.Recipient, "error", res.Error)
	}

	if r.archiver != nil {
		key, err := r.archiver.Archive(ctx, jobID, path)
		if err != nil {
			logger.Error("bundle archive failed", "job_id", jobID, "bundle", res.Name, "error", err)
		} else {
			res.ArchiveKey = key
		}
	}
	return res
}

// writeZip stores entries flat, deflated, skipping files that no longer
// exist and repeated names. It returns the number of files stored.
func writeZip(path string, entries []zipEntry) (n int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating bundle: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing bundle: %w", cerr)
		}
	}()

	zw := zip.NewWriter(f)
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.name] {
			continue
		}
		ok, err := addFile(zw, e)
		if err != nil {
			return n, err
		}
		if ok {
			seen[e.name] = true
			n++
		}
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("finishing bundle: %w", err)
	}
	return n, nil
}

func addFile(zw *zip.Writer, e zipEntry) (bool, error) {
	src, err := os.Open(e.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", e.name, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", e.name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, err
	}
	hdr.Name = e.name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return false, fmt.Errorf("adding %s: %w", e.name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return false, fmt.Errorf("adding %s: %w", e.name, err)
	}
	return true, nil
}
