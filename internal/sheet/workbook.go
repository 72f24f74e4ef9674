package sheet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	// CleanedSheet names the sheet of the intermediate cleaned workbook.
	CleanedSheet = "Düzenlenmiş Veri"
	// OutputSheet names the sheet of every per-group output workbook.
	OutputSheet = "Veriler"

	minColWidth = 10
	maxColWidth = 25
)

// ErrNoSheets is returned for a workbook without any sheet.
var ErrNoSheets = errors.New("workbook has no sheets")

// ReadRows returns every row of the workbook's active sheet. Numbers,
// booleans, dates and formulas keep their type.
func ReadRows(path string) ([][]Cell, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	name, err := activeSheet(f)
	if err != nil {
		return nil, err
	}
	rows, err := readCells(f, name)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", name, err)
	}
	return rows, nil
}

func activeSheet(f *excelize.File) (string, error) {
	name := f.GetSheetName(f.GetActiveSheetIndex())
	if name == "" {
		name = f.GetSheetName(0)
	}
	if name == "" {
		return "", ErrNoSheets
	}
	return name, nil
}

// WriteTable saves t as a single-sheet workbook at path. Column widths are
// fitted to the longest value (header included) plus two characters,
// clamped to 10..25.
func WriteTable(path, sheetName string, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("creating stream writer: %w", err)
	}

	for i, w := range columnWidths(t) {
		if err := sw.SetColWidth(i+1, i+1, w); err != nil {
			return fmt.Errorf("setting column width: %w", err)
		}
	}

	if err := sw.SetRow("A1", headerCells(t.Headers)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	styles := styleCache{f: f, ids: map[numFormat]int{}}
	for i, row := range t.Rows {
		values, err := styles.values(row)
		if err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flushing rows: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

func columnWidths(t *Table) []float64 {
	n := len(t.Headers)
	for _, r := range t.Rows {
		n = max(n, len(r))
	}
	longest := make([]int, n)
	measure := func(i int, v string) {
		longest[i] = max(longest[i], utf8.RuneCountInString(v))
	}
	for i, h := range t.Headers {
		measure(i, h)
	}
	for _, r := range t.Rows {
		for i, c := range r {
			measure(i, c.Text)
		}
	}

	widths := make([]float64, n)
	for i, l := range longest {
		widths[i] = float64(min(maxColWidth, max(l+2, minColWidth)))
	}
	return widths
}

func headerCells(headers []string) []interface{} {
	cells := make([]interface{}, len(headers))
	for i, v := range headers {
		if v != "" {
			cells[i] = v
		}
	}
	return cells
}

type numFormat struct {
	id     int
	custom string
}

// styleCache creates one number-format style per distinct format.
type styleCache struct {
	f   *excelize.File
	ids map[numFormat]int
}

func (s *styleCache) values(row []Cell) ([]interface{}, error) {
	out := make([]interface{}, len(row))
	for i, c := range row {
		if c.Formula == "" && !c.styled() {
			out[i] = c.Value
			continue
		}
		style := 0
		if c.styled() {
			id, err := s.id(numFormat{id: c.NumFmt, custom: c.CustomNumFmt})
			if err != nil {
				return nil, err
			}
			style = id
		}
		out[i] = excelize.Cell{StyleID: style, Formula: c.Formula, Value: c.Value}
	}
	return out, nil
}

func (s *styleCache) id(nf numFormat) (int, error) {
	if id, ok := s.ids[nf]; ok {
		return id, nil
	}
	st := &excelize.Style{NumFmt: nf.id}
	if nf.custom != "" {
		custom := nf.custom
		st.CustomNumFmt = &custom
	}
	id, err := s.f.NewStyle(st)
	if err != nil {
		return 0, fmt.Errorf("creating number format: %w", err)
	}
	s.ids[nf] = id
	return id, nil
}

// maxScanCells bounds how far the declared sheet dimension may widen the
// scan for formula-only cells.
const maxScanCells = 1 << 22

// readCells loads a sheet as typed cells. GetRows supplies the displayed
// and raw text; the cell type, formula and number format are looked up for
// every non-empty cell.
func readCells(f *excelize.File, name string) ([][]Cell, error) {
	display, err := f.GetRows(name)
	if err != nil {
		return nil, err
	}
	raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}

	height, width := max(len(display), len(raw)), 0
	for _, r := range display {
		width = max(width, len(r))
	}
	for _, r := range raw {
		width = max(width, len(r))
	}
	// A formula without a cached value reads as empty, so trailing ones
	// only show up in the sheet dimension.
	if cols, rows := dimension(f, name); cols*rows <= maxScanCells {
		width, height = max(width, cols), max(height, rows)
	}

	rd := cellReader{f: f, sheet: name, formats: map[int]numFormat{}}
	out := make([][]Cell, 0, height)
	for r := 0; r < height; r++ {
		row := make([]Cell, width)
		last := -1
		for c := 0; c < width; c++ {
			cell, err := rd.read(c+1, r+1, textAt(display, r, c), textAt(raw, r, c))
			if err != nil {
				return nil, err
			}
			row[c] = cell
			if cell.Text != "" || cell.Value != nil || cell.Formula != "" {
				last = c
			}
		}
		out = append(out, row[:last+1])
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func textAt(rows [][]string, r, c int) string {
	if r < len(rows) && c < len(rows[r]) {
		return rows[r][c]
	}
	return ""
}

func dimension(f *excelize.File, name string) (cols, rows int) {
	ref, err := f.GetSheetDimension(name)
	if err != nil || ref == "" {
		return 0, 0
	}
	if i := strings.LastIndexByte(ref, ':'); i >= 0 {
		ref = ref[i+1:]
	}
	cols, rows, err = excelize.CellNameToCoordinates(ref)
	if err != nil {
		return 0, 0
	}
	return cols, rows
}

type cellReader struct {
	f       *excelize.File
	sheet   string
	formats map[int]numFormat
}

func (rd *cellReader) read(col, row int, text, raw string) (Cell, error) {
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return Cell{}, err
	}
	formula, err := rd.f.GetCellFormula(rd.sheet, ref)
	if err != nil {
		return Cell{}, err
	}
	if text == "" && raw == "" && formula == "" {
		return Cell{}, nil
	}

	c := Cell{Text: text, Formula: formula}
	if text != "" {
		c.Value = text
	}
	typ, err := rd.f.GetCellType(rd.sheet, ref)
	if err != nil {
		return Cell{}, err
	}
	switch typ {
	case excelize.CellTypeBool:
		c.Value = raw == "1" || strings.EqualFold(raw, "TRUE")
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			break
		}
		c.Value = n
		nf, err := rd.format(ref)
		if err != nil {
			return Cell{}, err
		}
		c.NumFmt, c.CustomNumFmt = nf.id, nf.custom
	}
	return c, nil
}

func (rd *cellReader) format(ref string) (numFormat, error) {
	idx, err := rd.f.GetCellStyle(rd.sheet, ref)
	if err != nil || idx == 0 {
		return numFormat{}, err
	}
	if nf, ok := rd.formats[idx]; ok {
		return nf, nil
	}
	st, err := rd.f.GetStyle(idx)
	if err != nil {
		return numFormat{}, err
	}
	nf := numFormat{id: st.NumFmt}
	if st.CustomNumFmt != nil {
		nf.custom = *st.CustomNumFmt
	}
	rd.formats[idx] = nf
	return nf, nil
}

// RowReader iterates the data rows of a workbook whose first row is the
// header, such as a cleaned workbook. It satisfies splitter.RowIterator.
type RowReader struct {
	headers []string
	rows    [][]Cell
	i       int
}

// OpenRows loads the active sheet of path and positions the reader after
// its header row.
func OpenRows(path string) (*RowReader, error) {
	rows, err := ReadRows(path)
	if err != nil {
		return nil, err
	}
	r := &RowReader{}
	if len(rows) > 0 {
		r.headers = Texts(rows[0])
		r.rows = rows[1:]
	}
	return r, nil
}

// Headers returns the header row.
func (r *RowReader) Headers() []string { return r.headers }

// Next advances to the next data row.
func (r *RowReader) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

// Row returns the current row, padded to the header width.
func (r *RowReader) Row() []Cell {
	row := r.rows[r.i-1]
	for len(row) < len(r.headers) {
		row = append(row, Cell{})
	}
	return row
}

// Err always returns nil; reading errors surface from OpenRows.
func (r *RowReader) Err() error { return nil }

// Close releases the loaded rows.
func (r *RowReader) Close() error {
	r.rows = nil
	return nil
}
