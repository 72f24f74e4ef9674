package delivery

import (
	"fmt"

	"github.com/osteele/liquid"
)

// TemplateSet holds Liquid sources for the two kinds of mail. Empty fields
// fall back to the defaults.
type TemplateSet struct {
	GroupSubject  string
	GroupBody     string
	BundleSubject string
	BundleBody    string
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() TemplateSet {
	return TemplateSet{
		GroupSubject: "{{ group_name }} report - {{ file_name }}",
		GroupBody: "Hello,\n\n" +
			"The {{ row_count }}-row report for group {{ group_name }} is attached.\n\n" +
			"Best regards,\n{{ sender }}",
		BundleSubject: "Data report {{ time }} - {{ source_file }}: input and output files",
		BundleBody: "Hello,\n\n" +
			"Attached are the uploaded (input) file and all {{ file_count }} produced (output) file(s).\n\n" +
			"This message was sent automatically.\n\n" +
			"Best regards,\n{{ sender }}",
	}
}

// GroupMail is the data available to the group templates.
type GroupMail struct {
	GroupID   string
	GroupName string
	FileName  string
	RowCount  int
	Sender    string
}

// BundleMail is the data available to the bundle templates.
type BundleMail struct {
	JobID      string
	SourceFile string
	Time       string
	FileCount  int
	TotalRows  int
	Sender     string
}

type compiled struct {
	subject *liquid.Template
	body    *liquid.Template
}

// Templates renders mail subjects and bodies.
type Templates struct {
	group  compiled
	bundle compiled
}

// NewTemplates parses set, using defaults for empty fields.
func NewTemplates(set TemplateSet) (*Templates, error) {
	def := DefaultTemplates()
	pick := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}

	engine := liquid.NewEngine()
	parse := func(name, src string) (*liquid.Template, error) {
		tpl, err := engine.ParseString(src)
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		return tpl, nil
	}

	var (
		t   Templates
		err error
	)
	if t.group.subject, err = parse("group subject", pick(set.GroupSubject, def.GroupSubject)); err != nil {
		return nil, err
	}
	if t.group.body, err = parse("group body", pick(set.GroupBody, def.GroupBody)); err != nil {
		return nil, err
	}
	if t.bundle.subject, err = parse("bundle subject", pick(set.BundleSubject, def.BundleSubject)); err != nil {
		return nil, err
	}
	if t.bundle.body, err = parse("bundle body", pick(set.BundleBody, def.BundleBody)); err != nil {
		return nil, err
	}
	return &t, nil
}

// Group renders the mail sent to a group's recipients.
func (t *Templates) Group(m GroupMail) (subject, body string, err error) {
	return t.group.render(liquid.Bindings{
		"group_id":   m.GroupID,
		"group_name": m.GroupName,
		"file_name":  m.FileName,
		"row_count":  m.RowCount,
		"sender":     m.Sender,
	})
}

// Bundle renders the mail carrying the zip bundle.
func (t *Templates) Bundle(m BundleMail) (subject, body string, err error) {
	return t.bundle.render(liquid.Bindings{
		"job_id":      m.JobID,
		"source_file": m.SourceFile,
		"time":        m.Time,
		"file_count":  m.FileCount,
		"total_rows":  m.TotalRows,
		"sender":      m.Sender,
	})
}

func (c compiled) render(b liquid.Bindings) (string, string, error) {
	subject, err := c.subject.RenderString(b)
	if err != nil {
		return "", "", fmt.Errorf("rendering subject: %w", err)
	}
	body, err := c.body.RenderString(b)
	if err != nil {
		return "", "", fmt.Errorf("rendering body: %w", err)
	}
	return subject, body, nil
}
