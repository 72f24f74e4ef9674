package splitter

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ignite/sheet-dispatch/internal/groups"
	"github.com/ignite/sheet-dispatch/internal/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedWriter(t *testing.T) *Writer {
	t.Helper()
	w := NewWriter(filepath.Join(t.TempDir(), "output"))
	w.Now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC) }
	return w
}

func listDir(t *testing.T, dir string) []string {
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

func splitFixture(t *testing.T) *Result {
	t.Helper()
	res, err := Split(newRows(
		[]string{"01.01", "izmir", "shared"},
		[]string{"02.01", "Ankara", "one"},
		[]string{"03.01", "Trabzon", "none"},
	), headers, fixtureSnapshot())
	require.NoError(t, err)
	return res
}

func TestWriterWritesOneFilePerGroup(t *testing.T) {
	w := fixedWriter(t)
	res := splitFixture(t)

	outputs, err := w.Write(res, fixtureSnapshot())
	require.NoError(t, err)
	require.Len(t, outputs, 3)

	assert.Equal(t, []string{"MAHMUTBEY-0309_1405.xlsx", "NURHAN-0309_1405.xlsx", "unmatched-0309_1405.xlsx"}, listDir(t, w.Dir))

	assert.Equal(t, Output{
		GroupID:   "Grup_1",
		GroupName: "NURHAN",
		Filename:  "NURHAN-0309_1405.xlsx",
		Path:      filepath.Join(w.Dir, "NURHAN-0309_1405.xlsx"),
		RowCount:  2,
	}, outputs[0])
	assert.Equal(t, groups.CatchAllID, outputs[2].GroupID)
}

func TestWriterSharedRowIsIdenticalInBothFiles(t *testing.T) {
	w := fixedWriter(t)
	outputs, err := w.Write(splitFixture(t), fixtureSnapshot())
	require.NoError(t, err)

	byGroup := map[string][][]string{}
	for _, o := range outputs {
		rows, err := sheet.ReadRows(o.Path)
		require.NoError(t, err)
		byGroup[o.GroupID] = texts(rows)
	}

	want := []string{"01.01", "izmir", "shared"}
	assert.Equal(t, []string{"TARİH", "İL", "AD"}, byGroup["Grup_1"][0])
	assert.Equal(t, want, byGroup["Grup_1"][1])
	assert.Equal(t, want, byGroup["Grup_2"][1])
}

func TestWriterSuffixesTakenNames(t *testing.T) {
	w := fixedWriter(t)
	res := splitFixture(t)

	_, err := w.Write(res, fixtureSnapshot())
	require.NoError(t, err)
	second, err := w.Write(res, fixtureSnapshot())
	require.NoError(t, err)

	assert.Equal(t, "NURHAN-0309_1405-2.xlsx", second[0].Filename)
	assert.Len(t, listDir(t, w.Dir), 6)
}

func TestWriterRemovesEverythingOnFailure(t *testing.T) {
	w := fixedWriter(t)
	calls := 0
	w.save = func(path string, tbl *sheet.Table) error {
		calls++
		if calls == 2 {
			return errors.New("disk full")
		}
		return sheet.WriteTable(path, sheet.OutputSheet, tbl)
	}

	outputs, err := w.Write(splitFixture(t), fixtureSnapshot())
	assert.ErrorContains(t, err, "disk full")
	assert.Nil(t, outputs)
	assert.Empty(t, listDir(t, w.Dir))
}

func TestWriterNeverExposesPartialFiles(t *testing.T) {
	w := fixedWriter(t)
	w.save = func(path string, tbl *sheet.Table) error {
		// Only the hidden temp file exists while a workbook is being saved.
		for _, name := range listDir(t, w.Dir) {
			assert.True(t, strings.HasPrefix(name, "."), "visible file %s during save", name)
		}
		if err := sheet.WriteTable(path, sheet.OutputSheet, tbl); err != nil {
			return err
		}
		return errors.New("interrupted")
	}

	_, err := w.Write(splitFixture(t), fixtureSnapshot())
	assert.ErrorContains(t, err, "interrupted")
	assert.Empty(t, listDir(t, w.Dir))

	files, err := RecentOutputs(w.Dir, 0)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestClaimSkipsTakenNames(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, ".tmp-src.xlsx")
	require.NoError(t, os.WriteFile(src, []byte("book"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NURHAN-0309_1405.xlsx"), []byte("old"), 0o644))

	path, err := claim(src, dir, "NURHAN", "0309_1405")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "NURHAN-0309_1405-2.xlsx"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "book", string(data))
	old, err := os.ReadFile(filepath.Join(dir, "NURHAN-0309_1405.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestWriterSkipsEmptyBuckets(t *testing.T) {
	w := fixedWriter(t)
	res := &Result{
		Headers: headers,
		Buckets: map[string]*Bucket{"Grup_1": {GroupID: "Grup_1"}},
		Order:   []string{"Grup_1"},
	}
	outputs, err := w.Write(res, fixtureSnapshot())
	require.NoError(t, err)
	assert.Empty(t, outputs)
	assert.Empty(t, listDir(t, w.Dir))
}

func TestFileBase(t *testing.T) {
	assert.Equal(t, "NURHAN", fileBase("Grup_1", "NURHAN"))
	assert.Equal(t, "Grup_1", fileBase("Grup_1", ""))
	assert.Equal(t, "Grup_1", fileBase("Grup_1", "Grup_1"))
	assert.Equal(t, "A_B", fileBase("Grup_1", "A/B"))
	assert.Equal(t, "group", fileBase("..", ""))
}
