package job

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/sheet-dispatch/internal/delivery"
	"github.com/ignite/sheet-dispatch/internal/groups"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var fixedNow = time.Date(2024, 3, 9, 11, 5, 0, 0, time.UTC)

type sentMail struct {
	to      string
	subject string
	file    string
	zipped  []string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMail
	fail  map[string]bool
	panic map[string]bool
}

func (f *fakeSender) Send(_ context.Context, to []string, subject, _, path string) delivery.Outcome {
	if f.panic[to[0]] {
		panic("transport exploded")
	}
	m := sentMail{to: to[0], subject: subject, file: filepath.Base(path)}
	if strings.HasSuffix(path, ".zip") {
		if zr, err := zip.OpenReader(path); err == nil {
			for _, zf := range zr.File {
				m.zipped = append(m.zipped, zf.Name)
			}
			zr.Close()
			sort.Strings(m.zipped)
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	if f.fail[to[0]] {
		return delivery.Outcome{Err: errors.New("535 authentication failed"), Attempts: 6}
	}
	return delivery.Outcome{OK: true, Attempts: 1, Port: 465}
}

func (f *fakeSender) to(addr string) []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMail
	for _, m := range f.sent {
		if m.to == addr {
			out = append(out, m)
		}
	}
	return out
}

type fakeArchiver struct {
	jobID string
	name  string
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, jobID, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	a.jobID, a.name = jobID, filepath.Base(path)
	return "bundles/" + jobID + "/" + a.name, a.err
}

type staticDirectory struct{ snap *groups.Snapshot }

func (d staticDirectory) Snapshot() *groups.Snapshot { return d.snap }

type panickingDirectory struct{}

func (panickingDirectory) Snapshot() *groups.Snapshot { panic("catalog unavailable") }

func testDirectory() staticDirectory {
	return staticDirectory{groups.NewSnapshot(&groups.Catalog{Groups: []groups.Group{
		{ID: "Grup_1", Name: "MAHMUTBEY", Cities: []string{"İstanbul", "İzmir"}, Recipients: []string{"a@example.com", " b@example.com ", ""}},
		{ID: "Grup_2", Name: "NURHAN", Cities: []string{"İzmir", "Ankara"}, Recipients: []string{"c@example.com"}},
		{ID: "Grup_3", Name: "SILENT", Cities: []string{"Van"}},
	}}, []string{"admin@example.com"}, fixedNow)}
}

type env struct {
	dir    string
	input  string
	output string
	temp   string
	sender *fakeSender
	runner *Runner
}

func newEnv(t *testing.T, cfg Config, opts ...Option) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		dir:    root,
		input:  filepath.Join(root, "input"),
		output: filepath.Join(root, "output"),
		temp:   filepath.Join(root, "tmp"),
		sender: &fakeSender{fail: map[string]bool{}, panic: map[string]bool{}},
	}
	require.NoError(t, os.MkdirAll(e.input, 0o755))
	require.NoError(t, os.MkdirAll(e.temp, 0o755))

	tpl, err := delivery.NewTemplates(delivery.TemplateSet{})
	require.NoError(t, err)

	cfg.OutputDir = e.output
	cfg.TempDir = e.temp
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	e.runner = NewRunner(testDirectory(), e.sender, tpl, cfg, opts...)
	return e
}

func (e *env) upload(t *testing.T, name string, rows ...[]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(e.input, name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func (e *env) standardUpload(t *testing.T) string {
	return e.upload(t, "musteri_listesi.xlsx",
		[]interface{}{"İL", "AD", "TARİH"},
		[]interface{}{"İstanbul", "Ayşe", "01.03.2024"},
		[]interface{}{"izmir", "Can", "02.03.2024"},
		[]interface{}{"Muğla", "Ece", "03.03.2024"},
	)
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRunDistributes(t *testing.T) {
	e := newEnv(t, Config{PersonalEmail: "me@example.com", Concurrency: 2})
	path := e.standardUpload(t)

	rep := e.runner.Run(context.Background(), Request{Path: path, UserID: 42})
	require.True(t, rep.Success, rep.Error)

	assert.NotEmpty(t, rep.JobID)
	assert.Equal(t, "musteri_listesi.xlsx", rep.FileName)
	assert.Equal(t, 3, rep.TotalRows)
	assert.Equal(t, 3, rep.MatchedRows)
	assert.Equal(t, 1, rep.UnmatchedRows)
	assert.Equal(t, []string{"Muğla"}, rep.UnmatchedCities)
	// izmir fans out to two groups, so matched plus unmatched exceeds the
	// total and the unmatched count comes from the catch-all output.
	assert.Contains(t, rep.Text(), "• Unmatched rows: 1\n")

	assert.Equal(t, []string{
		"MAHMUTBEY-0309_1105.xlsx",
		"NURHAN-0309_1105.xlsx",
		"unmatched-0309_1105.xlsx",
	}, listNames(t, e.output))
	require.Len(t, rep.Outputs, 3)

	require.Len(t, rep.Deliveries, 4)
	assert.Equal(t, 4, rep.SentCount())
	recipients := map[string]string{}
	for _, d := range rep.Deliveries {
		recipients[d.Recipient] = d.GroupID
	}
	assert.Equal(t, map[string]string{
		"a@example.com":     "Grup_1",
		"b@example.com":     "Grup_1",
		"c@example.com":     "Grup_2",
		"admin@example.com": "Grup_0",
	}, recipients)

	mails := e.sender.to("a@example.com")
	require.Len(t, mails, 1)
	assert.Equal(t, "MAHMUTBEY report - MAHMUTBEY-0309_1105.xlsx", mails[0].subject)

	require.NotNil(t, rep.Bundle)
	assert.True(t, rep.Bundle.OK)
	assert.Equal(t, "1405_musteri_l_rap.zip", rep.Bundle.Name)
	assert.Equal(t, 4, rep.Bundle.Files)
	bundles := e.sender.to("me@example.com")
	require.Len(t, bundles, 1)
	assert.Equal(t, "1405_musteri_l_rap.zip", bundles[0].file)
	assert.Equal(t, []string{
		"MAHMUTBEY-0309_1105.xlsx",
		"NURHAN-0309_1105.xlsx",
		"musteri_listesi.xlsx",
		"unmatched-0309_1105.xlsx",
	}, bundles[0].zipped)

	assert.Empty(t, listNames(t, e.temp), "cleaned workbook and bundle must be removed")
	assert.FileExists(t, path)
}

func TestRunSharedCityReachesBothGroups(t *testing.T) {
	e := newEnv(t, Config{})
	path := e.upload(t, "shared.xlsx",
		[]interface{}{"TARİH", "İL"},
		[]interface{}{"01.03.2024", "İZMİR"},
	)

	rep := e.runner.Run(context.Background(), Request{Path: path})
	require.True(t, rep.Success, rep.Error)
	assert.Equal(t, 1, rep.TotalRows)
	assert.Equal(t, 2, rep.MatchedRows)
	assert.Len(t, rep.Outputs, 2)
	assert.Nil(t, rep.Bundle)
	assert.Len(t, e.sender.to("c@example.com"), 1)
	assert.Len(t, e.sender.to("a@example.com"), 1)
}

func TestRunPartialDeliveryFailure(t *testing.T) {
	e := newEnv(t, Config{PersonalEmail: "me@example.com"})
	e.sender.fail["b@example.com"] = true
	e.sender.panic["c@example.com"] = true
	path := e.standardUpload(t)

	rep := e.runner.Run(context.Background(), Request{Path: path})
	require.True(t, rep.Success, rep.Error)
	assert.Equal(t, 2, rep.SentCount())
	assert.Equal(t, 2, rep.FailedCount())

	failed := map[string]string{}
	for _, d := range rep.Deliveries {
		if !d.OK {
			failed[d.Recipient] = d.Error
		}
	}
	assert.Contains(t, failed["b@example.com"], "535")
	assert.Contains(t, failed["c@example.com"], "panic")

	require.NotNil(t, rep.Bundle)
	assert.True(t, rep.Bundle.OK, "bundle is independent of group results")

	text := rep.Text()
	assert.Contains(t, text, "Mails failed: 2")
	assert.Contains(t, text, "b@example.com: 535 authentication failed")
}

func TestRunPersonalOnly(t *testing.T) {
	e := newEnv(t, Config{PersonalEmail: "me@example.com"})
	path := e.standardUpload(t)

	rep := e.runner.Run(context.Background(), Request{Path: path, Mode: ModePersonalOnly})
	require.True(t, rep.Success, rep.Error)
	assert.Empty(t, rep.Deliveries)
	assert.Len(t, rep.Outputs, 3)

	e.sender.mu.Lock()
	sent := append([]sentMail(nil), e.sender.sent...)
	e.sender.mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, "me@example.com", sent[0].to)
	assert.Contains(t, rep.Text(), "PERSONAL REPORT")
}

func TestRunPersonalOnlyNeedsMailbox(t *testing.T) {
	e := newEnv(t, Config{})
	path := e.standardUpload(t)

	rep := e.runner.Run(context.Background(), Request{Path: path, Mode: ModePersonalOnly})
	assert.False(t, rep.Success)
	assert.Equal(t, "No personal mailbox is configured.", rep.Error)
}

func TestRunPersonalOnlyBundleFailure(t *testing.T) {
	e := newEnv(t, Config{PersonalEmail: "me@example.com"})
	e.sender.fail["me@example.com"] = true
	path := e.standardUpload(t)

	rep := e.runner.Run(context.Background(), Request{Path: path, Mode: ModePersonalOnly})
	assert.False(t, rep.Success)
	require.NotNil(t, rep.Bundle)
	assert.False(t, rep.Bundle.OK)
}

func TestRunArchivesBundle(t *testing.T) {
	arch := &fakeArchiver{}
	e := newEnv(t, Config{PersonalEmail: "me@example.com"}, WithArchiver(arch))
	path := e.standardUpload(t)

	rep := e.runner.Run(context.Background(), Request{Path: path})
	require.True(t, rep.Success, rep.Error)
	assert.Equal(t, rep.JobID, arch.jobID)
	assert.Equal(t, "1405_musteri_l_rap.zip", arch.name)
	assert.Equal(t, "bundles/"+rep.JobID+"/1405_musteri_l_rap.zip", rep.Bundle.ArchiveKey)
}

func TestRunArchiveFailureKeepsJob(t *testing.T) {
	arch := &fakeArchiver{err: errors.New("access denied")}
	e := newEnv(t, Config{PersonalEmail: "me@example.com"}, WithArchiver(arch))
	path := e.standardUpload(t)

	rep := e.runner.Run(context.Background(), Request{Path: path})
	require.True(t, rep.Success, rep.Error)
	assert.True(t, rep.Bundle.OK)
	assert.Empty(t, rep.Bundle.ArchiveKey)
}

func TestRunRejectsUploads(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, e *env) string
		want    string
		wantErr error
	}{
		{
			name: "unsupported extension",
			prepare: func(t *testing.T, e *env) string {
				path := filepath.Join(e.input, "list.csv")
				require.NoError(t, os.WriteFile(path, []byte("İL,TARİH\n"), 0o644))
				return path
			},
			want: "Please send an Excel file (.xlsx or .xlsm).",
		},
		{
			name: "empty file",
			prepare: func(t *testing.T, e *env) string {
				path := filepath.Join(e.input, "empty.xlsx")
				require.NoError(t, os.WriteFile(path, nil, 0o644))
				return path
			},
			want: "The file is empty.",
		},
		{
			name: "not a workbook",
			prepare: func(t *testing.T, e *env) string {
				path := filepath.Join(e.input, "fake.xlsx")
				require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))
				return path
			},
			want: "The file could not be read as a workbook.",
		},
		{
			name: "missing columns",
			prepare: func(t *testing.T, e *env) string {
				return e.upload(t, "nocity.xlsx",
					[]interface{}{"TARİH", "AD"},
					[]interface{}{"01.03.2024", "Ayşe"},
				)
			},
			want: "Required columns not found: İL",
		},
		{
			name: "header only",
			prepare: func(t *testing.T, e *env) string {
				return e.upload(t, "header.xlsx", []interface{}{"TARİH", "İL"})
			},
			want: "The file has no data rows to process.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, Config{PersonalEmail: "me@example.com"})
			path := tt.prepare(t, e)

			rep := e.runner.Run(context.Background(), Request{Path: path})
			assert.False(t, rep.Success)
			assert.Equal(t, tt.want, rep.Error)
			assert.NoFileExists(t, path)
			assert.Empty(t, e.sender.sent)
			_, err := os.Stat(e.output)
			assert.True(t, errors.Is(err, os.ErrNotExist), "no outputs for a rejected upload")
		})
	}
}

func TestRunRecoversPanic(t *testing.T) {
	e := newEnv(t, Config{})
	e.runner.dir = panickingDirectory{}
	path := e.standardUpload(t)

	rep := e.runner.Run(context.Background(), Request{Path: path})
	assert.False(t, rep.Success)
	assert.Equal(t, "An unexpected error occurred while processing the file.", rep.Error)
	assert.False(t, rep.FinishedAt.IsZero())
	assert.Empty(t, listNames(t, e.temp))
}

func TestBundleName(t *testing.T) {
	now := time.Date(2024, 3, 9, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "0130_musteri_l_rap.zip", BundleName(now, "musteri_listesi.xlsx"))
	assert.Equal(t, "0130_şubat_rap.zip", BundleName(now, "şubat.xlsx"))
	assert.Equal(t, "0130_müşteri_l_rap.zip", BundleName(now, "müşteri_listesi.xlsm"))
	assert.Equal(t, "0130_output_files_rap.zip", BundleName(now, ".xlsx"))
}
