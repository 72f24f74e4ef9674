package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/sheet-dispatch/internal/splitter"
)

const (
	maxUnmatchedShown = 5
	maxErrorsShown    = 3
)

// Report summarizes one job.
type Report struct {
	JobID    string
	UserID   int64
	FileName string
	Mode     Mode
	Success  bool
	// Error is a user-safe failure message.
	Error string

	TotalRows   int
	MatchedRows int
	// UnmatchedRows is the row count of the catch-all output. A row fanned
	// out to several groups adds to MatchedRows more than once, so it can
	// not be derived from the other two counts.
	UnmatchedRows   int
	Outputs         []splitter.Output
	UnmatchedCities []string
	Deliveries      []DeliveryResult
	Bundle          *BundleResult

	StartedAt  time.Time
	FinishedAt time.Time
}

// SentCount returns the number of successful group sends.
func (r *Report) SentCount() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.OK {
			n++
		}
	}
	return n
}

// FailedCount returns the number of failed group sends.
func (r *Report) FailedCount() int { return len(r.Deliveries) - r.SentCount() }

func (r *Report) fail(err error) {
	r.Success = false
	r.Error = userMessage(err)
}

// userMessage hides internal detail; the full error is logged instead.
func userMessage(err error) string {
	var verr *ValidationError
	var serr *splitter.SplitError
	switch {
	case errors.As(err, &verr):
		return verr.Reason
	case errors.As(err, &serr):
		return "The file could not be split into groups."
	case errors.Is(err, ErrNoPersonalEmail):
		return "No personal mailbox is configured."
	default:
		return "An unexpected error occurred while processing the file."
	}
}

// Text renders the report for the chat.
func (r *Report) Text() string {
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "Unknown error."
		}
		return "❌ Processing failed:\n" + msg
	}
	if r.Mode == ModePersonalOnly {
		return r.personalText()
	}

	var b strings.Builder
	b.WriteString("✅ FILE PROCESSING REPORT\n")
	fmt.Fprintf(&b, "⏰ Time: %s\n", r.FinishedAt.Format("02.01.2006 15:04"))
	fmt.Fprintf(&b, "👤 User ID: %d\n\n", r.UserID)

	b.WriteString("📊 STATISTICS:\n")
	fmt.Fprintf(&b, "• Total rows: %d\n", r.TotalRows)
	fmt.Fprintf(&b, "• Matched rows: %d\n", r.MatchedRows)
	fmt.Fprintf(&b, "• Unmatched rows: %d\n", r.UnmatchedRows)
	fmt.Fprintf(&b, "• Files created: %d\n", len(r.Outputs))
	fmt.Fprintf(&b, "• Mails sent: %d\n", r.SentCount())
	fmt.Fprintf(&b, "• Mails failed: %d\n", r.FailedCount())

	r.writeOutputs(&b)

	if n := len(r.UnmatchedCities); n > 0 {
		b.WriteString("\n⚠️ UNMATCHED CITIES:\n")
		fmt.Fprintf(&b, "%d distinct cities:\n", n)
		for _, city := range r.UnmatchedCities[:min(n, maxUnmatchedShown)] {
			fmt.Fprintf(&b, "• %s\n", city)
		}
		if n > maxUnmatchedShown {
			fmt.Fprintf(&b, "• ... and %d more\n", n-maxUnmatchedShown)
		}
	}

	if failed := r.FailedCount(); failed > 0 {
		b.WriteString("\n❌ MAIL ERRORS:\n")
		shown := 0
		for _, d := range r.Deliveries {
			if d.OK || shown == maxErrorsShown {
				continue
			}
			fmt.Fprintf(&b, "• %s: %s\n", d.Recipient, d.Error)
			shown++
		}
		if failed > maxErrorsShown {
			fmt.Fprintf(&b, "• ... and %d more\n", failed-maxErrorsShown)
		}
	}

	r.writeBundle(&b)
	return strings.TrimRight(b.String(), "\n")
}

func (r *Report) personalText() string {
	var b strings.Builder
	b.WriteString("✅ PERSONAL REPORT\n")
	if r.Bundle != nil {
		fmt.Fprintf(&b, "📧 Sent to: %s\n", r.Bundle.Recipient)
	}
	fmt.Fprintf(&b, "📊 Total rows: %d\n", r.TotalRows)
	fmt.Fprintf(&b, "✅ Matched rows: %d\n", r.MatchedRows)
	fmt.Fprintf(&b, "📁 Files created: %d\n", len(r.Outputs))
	r.writeOutputs(&b)
	b.WriteString("\n📨 All files were sent to the personal mailbox.")
	return b.String()
}

func (r *Report) writeOutputs(b *strings.Builder) {
	if len(r.Outputs) == 0 {
		return
	}
	b.WriteString("\n📁 FILES:\n")
	for _, o := range r.Outputs {
		name := o.GroupName
		if name == "" {
			name = o.GroupID
		}
		fmt.Fprintf(b, "• %s: %s (%d rows)\n", name, o.Filename, o.RowCount)
	}
}

func (r *Report) writeBundle(b *strings.Builder) {
	switch {
	case r.Bundle == nil:
	case r.Bundle.OK:
		fmt.Fprintf(b, "\n📦 Bundle %s sent to %s\n", r.Bundle.Name, r.Bundle.Recipient)
	default:
		fmt.Fprintf(b, "\n📦 Bundle %s could not be sent to %s\n", r.Bundle.Name, r.Bundle.Recipient)
	}
}
