package groups

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DefaultCatalogSheet is the sheet GenerateCatalog reads when none is given.
const DefaultCatalogSheet = "grup"

// firstGroupColumn is column D; columns A-C hold labels.
const firstGroupColumn = 4

// ErrSheetNotFound is returned when the workbook lacks the catalog sheet.
var ErrSheetNotFound = errors.New("catalog sheet not found")

// GenerateCatalog builds a catalog from a spreadsheet laid out one group
// per column, starting at column D:
//
//	row 1   group id (an empty cell ends the scan)
//	row 2   group name
//	row 3   comma-separated recipients
//	row 4+  cities, until the first blank cell
func GenerateCatalog(r io.Reader, sheet string) (*Catalog, error) {
	if sheet == "" {
		sheet = DefaultCatalogSheet
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening catalog workbook: %w", err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	cols, err := f.GetCols(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	cat := &Catalog{Groups: []Group{}}
	for c := firstGroupColumn - 1; c < len(cols); c++ {
		col := cols[c]
		id := strings.TrimSpace(cell(col, 0))
		if id == "" {
			break
		}
		g := Group{
			ID:         id,
			Name:       strings.TrimSpace(cell(col, 1)),
			Cities:     []string{},
			Recipients: splitRecipients(cell(col, 2)),
		}
		for row := 3; row < len(col); row++ {
			city := strings.TrimSpace(col[row])
			if city == "" {
				break
			}
			g.Cities = append(g.Cities, city)
		}
		cat.Groups = append(cat.Groups, g)
	}
	return cat, nil
}

func cell(col []string, row int) string {
	if row < len(col) {
		return col[row]
	}
	return ""
}

func splitRecipients(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
