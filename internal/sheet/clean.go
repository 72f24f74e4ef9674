// Package sheet reads uploaded workbooks, brings their columns into the
// canonical [TARİH, İL, ...] layout and writes result workbooks.
package sheet

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ignite/sheet-dispatch/internal/citynorm"
)

const (
	// DateHeader and CityHeader are the canonical names of the first two
	// columns of every cleaned and output workbook.
	DateHeader = "TARİH"
	CityHeader = "İL"

	// CityColumn is the zero-based position of the city in a cleaned row.
	CityColumn = 1

	// headerScanRows is how many leading rows may hold the header.
	headerScanRows = 5
)

// Table is a header row plus typed data rows.
type Table struct {
	Headers []string
	Rows    [][]Cell
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int { return len(t.Rows) }

// MissingRequiredColumnError names the required columns that could not be
// located in the header row.
type MissingRequiredColumnError struct {
	Columns []string
}

func (e *MissingRequiredColumnError) Error() string {
	return fmt.Sprintf("required column(s) not found: %s", strings.Join(e.Columns, ", "))
}

// Clean finds the header row, locates the date and city columns and
// returns a table in canonical order: date, city, then every other column
// in its original left-to-right order. Rows are padded to the sheet width.
func Clean(rows [][]Cell) (*Table, error) {
	headerRow := 0
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		if !IsBlank(rows[i]) {
			headerRow = i
			break
		}
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}

	var raw []Cell
	if headerRow < len(rows) {
		raw = rows[headerRow]
	}
	headers := make([]string, width)
	for c := range headers {
		h := strings.TrimSpace(at(raw, c).Text)
		if h == "" {
			headers[c] = fmt.Sprintf("UNKNOWN_%d", c+1)
			continue
		}
		headers[c] = strings.ToUpperSpecial(unicode.TurkishCase, h)
	}

	dateCol, cityCol := locateColumns(headers)
	var missing []string
	if dateCol < 0 {
		missing = append(missing, DateHeader)
	}
	if cityCol < 0 {
		missing = append(missing, CityHeader)
	}
	if len(missing) > 0 {
		return nil, &MissingRequiredColumnError{Columns: missing}
	}

	order := make([]int, 0, width)
	order = append(order, dateCol, cityCol)
	for c := 0; c < width; c++ {
		if c != dateCol && c != cityCol {
			order = append(order, c)
		}
	}

	t := &Table{Headers: make([]string, 0, width)}
	t.Headers = append(t.Headers, DateHeader, CityHeader)
	for _, c := range order[2:] {
		t.Headers = append(t.Headers, headers[c])
	}

	if headerRow+1 < len(rows) {
		t.Rows = make([][]Cell, 0, len(rows)-headerRow-1)
		for _, r := range rows[headerRow+1:] {
			out := make([]Cell, len(order))
			for i, c := range order {
				out[i] = at(r, c)
			}
			t.Rows = append(t.Rows, out)
		}
	}
	return t, nil
}

// locateColumns returns the date and city column positions, -1 when
// absent. Headers are scanned left to right and the first column that
// qualifies wins, so "İLÇE" ahead of "İL" is taken as the city column. A
// date header is never a city candidate.
func locateColumns(headers []string) (dateCol, cityCol int) {
	dateCol, cityCol = -1, -1
	for i, h := range headers {
		key := citynorm.Normalize(h)
		if strings.Contains(h, DateHeader) || strings.Contains(key, "TARIH") {
			if dateCol < 0 {
				dateCol = i
			}
			continue
		}
		if cityCol < 0 && (strings.Contains(h, CityHeader) || key == "IL") {
			cityCol = i
		}
	}
	return dateCol, cityCol
}

func at(row []Cell, i int) Cell {
	if i < len(row) {
		return row[i]
	}
	return Cell{}
}
