package groups

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// catalogWorkbook lays out groups one per column starting at D.
func catalogWorkbook(t *testing.T, sheet string, columns [][]string) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	_, err := f.NewSheet(sheet)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(sheet, "A1", "ID"))
	require.NoError(t, f.SetCellValue(sheet, "A2", "AD"))
	require.NoError(t, f.SetCellValue(sheet, "A3", "MAIL"))

	for c, values := range columns {
		for r, v := range values {
			cell, err := excelize.CoordinatesToCellName(firstGroupColumn+c, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestGenerateCatalog(t *testing.T) {
	buf := catalogWorkbook(t, "grup", [][]string{
		{"Grup_1", "NURHAN", "a@example.com, b@example.com ,", "Ankara", " Van ", "", "Ignored"},
		{"Grup_2", "MAHMUTBEY", "c@example.com", "Adıyaman"},
		{"Grup_3", "", "", ""},
	})

	cat, err := GenerateCatalog(buf, "")
	require.NoError(t, err)
	require.Len(t, cat.Groups, 3)

	assert.Equal(t, Group{
		ID:         "Grup_1",
		Name:       "NURHAN",
		Cities:     []string{"Ankara", "Van"},
		Recipients: []string{"a@example.com", "b@example.com"},
	}, cat.Groups[0])
	assert.Equal(t, []string{"Adıyaman"}, cat.Groups[1].Cities)
	assert.Equal(t, []string{"c@example.com"}, cat.Groups[1].Recipients)
	assert.Empty(t, cat.Groups[2].Cities)
	assert.Empty(t, cat.Groups[2].Recipients)
}

func TestGenerateCatalogStopsAtEmptyID(t *testing.T) {
	buf := catalogWorkbook(t, "grup", [][]string{
		{"Grup_1", "A", "a@example.com", "Van"},
		{"", "skipped", "x@example.com", "Rize"},
		{"Grup_3", "never", "y@example.com", "Ordu"},
	})

	cat, err := GenerateCatalog(buf, "grup")
	require.NoError(t, err)
	require.Len(t, cat.Groups, 1)
	assert.Equal(t, "Grup_1", cat.Groups[0].ID)
}

func TestGenerateCatalogMissingSheet(t *testing.T) {
	buf := catalogWorkbook(t, "other", nil)
	_, err := GenerateCatalog(buf, "grup")
	assert.ErrorIs(t, err, ErrSheetNotFound)
}

func TestGenerateCatalogRejectsGarbage(t *testing.T) {
	_, err := GenerateCatalog(bytes.NewReader([]byte("not a workbook")), "")
	assert.Error(t, err)
}
