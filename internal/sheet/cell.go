package sheet

import (
	"strings"
)

// Cell is one worksheet value. Text is what the sheet displays and is what
// headers and city lookups read; Value is what gets written back.
type Cell struct {
	Text string
	// Value is a string, float64, bool or nil.
	Value   interface{}
	Formula string

	// Number format of a numeric value, as found on the source cell.
	// Date cells are serial numbers carrying a date format.
	NumFmt       int
	CustomNumFmt string
}

// TextCell returns a plain string cell.
func TextCell(s string) Cell {
	if s == "" {
		return Cell{}
	}
	return Cell{Text: s, Value: s}
}

// TextRow returns one string cell per value.
func TextRow(values ...string) []Cell {
	row := make([]Cell, len(values))
	for i, v := range values {
		row[i] = TextCell(v)
	}
	return row
}

// Texts returns the display text of every cell in row.
func Texts(row []Cell) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = c.Text
	}
	return out
}

// IsEmpty reports whether c holds no value, no formula and only whitespace.
func (c Cell) IsEmpty() bool {
	if c.Formula != "" {
		return false
	}
	if c.Value != nil {
		if s, ok := c.Value.(string); !ok || strings.TrimSpace(s) != "" {
			return false
		}
	}
	return strings.TrimSpace(c.Text) == ""
}

func (c Cell) styled() bool { return c.NumFmt != 0 || c.CustomNumFmt != "" }

// IsBlank reports whether every cell of row is empty or whitespace.
func IsBlank(row []Cell) bool {
	for _, c := range row {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}
