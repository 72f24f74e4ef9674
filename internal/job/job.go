// Package job runs one uploaded workbook through the pipeline: validate,
// clean, split, write, deliver and bundle. Every outcome, including a
// panic, ends up in a Report.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/sheet-dispatch/internal/delivery"
	"github.com/ignite/sheet-dispatch/internal/groups"
	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
	"github.com/ignite/sheet-dispatch/internal/sheet"
	"github.com/ignite/sheet-dispatch/internal/splitter"
)

// Mode selects who receives the outputs.
type Mode int

const (
	// ModeDistribute mails each group its file and the bundle to the
	// personal mailbox.
	ModeDistribute Mode = iota
	// ModePersonalOnly skips group mail; only the bundle is sent.
	ModePersonalOnly
)

func (m Mode) String() string {
	if m == ModePersonalOnly {
		return "personal"
	}
	return "distribute"
}

const defaultConcurrency = 8

var (
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("file is empty")
	ErrNoData          = errors.New("no data rows")
	ErrNoPersonalEmail = errors.New("personal mailbox not configured")
)

// ValidationError rejects an upload before any output is produced. Its
// message is safe to show to the user.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return e.Err }

// Request is one uploaded file to process.
type Request struct {
	Path string
	// FileName is the name the user uploaded; defaults to the base of Path.
	FileName string
	UserID   int64
	Mode     Mode
}

// Directory hands out the catalog snapshot a job resolves against.
type Directory interface {
	Snapshot() *groups.Snapshot
}

// Sender delivers one message with one attachment. *delivery.Engine
// satisfies it.
type Sender interface {
	Send(ctx context.Context, recipients []string, subject, body, attachmentPath string) delivery.Outcome
}

// Archiver keeps a copy of a bundle and returns where it was stored.
type Archiver interface {
	Archive(ctx context.Context, jobID, path string) (string, error)
}

// Config configures a Runner.
type Config struct {
	OutputDir string
	// TempDir holds cleaned workbooks and bundles; os.TempDir() if empty.
	TempDir       string
	PersonalEmail string
	SenderName    string
	// Concurrency bounds in-flight group sends.
	Concurrency int
}

// Option customizes a Runner.
type Option func(*Runner)

// WithArchiver stores every bundle through a.
func WithArchiver(a Archiver) Option {
	return func(r *Runner) { r.archiver = a }
}

// WithClock overrides the time source for file names and the report.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes jobs. Jobs may run concurrently; each one takes its own
// directory snapshot.
type Runner struct {
	dir       Directory
	sender    Sender
	templates *delivery.Templates
	archiver  Archiver
	cfg       Config
	writer    *splitter.Writer
	now       func() time.Time
	newID     func() string
}

// NewRunner wires a Runner.
func NewRunner(dir Directory, sender Sender, templates *delivery.Templates, cfg Config, opts ...Option) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	r := &Runner{
		dir:       dir,
		sender:    sender,
		templates: templates,
		cfg:       cfg,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.writer = splitter.NewWriter(cfg.OutputDir)
	r.writer.Now = r.now
	return r
}

// Run processes req and never panics. The returned report is complete
// even on failure.
func (r *Runner) Run(ctx context.Context, req Request) (rep *Report) {
	if req.FileName == "" {
		req.FileName = filepath.Base(req.Path)
	}
	rep = &Report{
		JobID:     r.newID(),
		UserID:    req.UserID,
		FileName:  req.FileName,
		Mode:      req.Mode,
		StartedAt: r.now(),
	}
	logger.Info("job started", "job_id", rep.JobID, "file", req.FileName, "user_id", req.UserID, "mode", req.Mode)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("job panicked", "job_id", rep.JobID, "panic", p, "stack", string(debug.Stack()))
			rep.fail(fmt.Errorf("panic: %v", p))
		}
		rep.FinishedAt = r.now()
		logger.Info("job finished", "job_id", rep.JobID, "success", rep.Success,
			"duration", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	}()

	if err := r.run(ctx, req, rep); err != nil {
		logger.Error("job failed", "job_id", rep.JobID, "file", req.FileName, "error", err)
		rep.fail(err)
	}
	return rep
}

func (r *Runner) run(ctx context.Context, req Request, rep *Report) error {
	table, err := r.load(req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			if rmErr := os.Remove(req.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Warn("could not remove rejected upload", "path", req.Path, "error", rmErr)
			}
		}
		return err
	}
	logger.Info("workbook cleaned", "job_id", rep.JobID, "rows", table.RowCount(), "columns", len(table.Headers))

	snap := r.dir.Snapshot()
	res, err := r.split(table, snap)
	if err != nil {
		return err
	}
	outputs, err := r.writer.Write(res, snap)
	if err != nil {
		return fmt.Errorf("writing outputs: %w", err)
	}
	logger.Info("workbook split", "job_id", rep.JobID, "total_rows", res.TotalRows, "outputs", len(outputs))

	rep.TotalRows = res.TotalRows
	rep.MatchedRows = res.MatchedRows
	if b := res.Bucket(groups.CatchAllID); b != nil {
		rep.UnmatchedRows = b.RowCount
	}
	rep.UnmatchedCities = res.Unmatched
	rep.Outputs = outputs

	if req.Mode == ModeDistribute {
		rep.Deliveries = r.deliver(ctx, snap, outputs)
	}
	rep.Bundle = r.bundle(ctx, rep.JobID, req, outputs, res.TotalRows)

	switch {
	case req.Mode == ModeDistribute:
		rep.Success = true
	case rep.Bundle == nil:
		return ErrNoPersonalEmail
	default:
		rep.Success = rep.Bundle.OK
		if !rep.Success {
			rep.Error = "The files could not be mailed to the personal mailbox."
		}
	}
	return nil
}

// load validates the upload and returns its cleaned table.
func (r *Runner) load(req Request) (*sheet.Table, error) {
	ext := strings.ToLower(filepath.Ext(req.FileName))
	if ext != ".xlsx" && ext != ".xlsm" {
		return nil, &ValidationError{Reason: "Please send an Excel file (.xlsx or .xlsm).", Err: ErrUnsupportedFile}
	}
	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, &ValidationError{Reason: "The file could not be read.", Err: err}
	}
	if info.Size() == 0 {
		return nil, &ValidationError{Reason: "The file is empty.", Err: ErrEmptyFile}
	}

	rows, err := sheet.ReadRows(req.Path)
	if err != nil {
		return nil, &ValidationError{Reason: "The file could not be read as a workbook.", Err: err}
	}
	table, err := sheet.Clean(rows)
	if err != nil {
		var missing *sheet.MissingRequiredColumnError
		if errors.As(err, &missing) {
			return nil, &ValidationError{
				Reason: "Required columns not found: " + strings.Join(missing.Columns, ", "),
				Err:    err,
			}
		}
		return nil, &ValidationError{Reason: "The file could not be read as a workbook.", Err: err}
	}
	if table.RowCount() == 0 {
		return nil, &ValidationError{Reason: "The file has no data rows to process.", Err: ErrNoData}
	}
	return table, nil
}

// split round-trips the cleaned table through a temporary workbook and
// feeds it back into the splitter. The temporary file is always removed.
func (r *Runner) split(table *sheet.Table, snap *groups.Snapshot) (*splitter.Result, error) {
	tmp, err := os.CreateTemp(r.cfg.TempDir, "cleaned-*.xlsx")
	if err != nil {
		return nil, fmt.Errorf("creating cleaned workbook: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("could not remove cleaned workbook", "path", path, "error", err)
		}
	}()

	if err := sheet.WriteTable(path, sheet.CleanedSheet, table); err != nil {
		return nil, fmt.Errorf("writing cleaned workbook: %w", err)
	}
	rows, err := sheet.OpenRows(path)
	if err != nil {
		return nil, fmt.Errorf("reopening cleaned workbook: %w", err)
	}
	defer rows.Close()

	return splitter.Split(rows, table.Headers, snap)
}
