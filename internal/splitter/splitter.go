// Package splitter partitions cleaned rows into per-group buffers and
// writes one workbook per non-empty group.
//
// Partitioning works on in-memory rows; nothing touches a spreadsheet
// until Writer.Write serializes the finished buckets.
package splitter

import (
	"fmt"
	"strings"

	"github.com/ignite/sheet-dispatch/internal/citynorm"
	"github.com/ignite/sheet-dispatch/internal/groups"
	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
	"github.com/ignite/sheet-dispatch/internal/sheet"
)

const progressEvery = 1000

// RowIterator yields rows in canonical layout.
type RowIterator interface {
	Next() bool
	Row() []sheet.Cell
	Err() error
}

// Resolver maps a raw city value to group ids. A groups.Snapshot is the
// usual implementation.
type Resolver interface {
	GroupsForCity(city string) []string
}

// Bucket holds the rows routed to one group.
type Bucket struct {
	GroupID string
	Rows    [][]sheet.Cell
	// RowCount equals len(Rows).
	RowCount int
	// UnmatchedCityRows counts, for the catch-all group, rows whose city
	// had a non-empty key that matched no configured group.
	UnmatchedCityRows int
}

// Result is the outcome of a successful split.
type Result struct {
	Headers []string
	Buckets map[string]*Bucket
	// Order lists bucket ids in the order they received their first row.
	Order       []string
	TotalRows   int
	MatchedRows int
	// Unmatched holds distinct raw city values that resolved to the
	// catch-all group alone, in first-seen order.
	Unmatched []string
}

// Bucket returns the bucket for id, or nil.
func (r *Result) Bucket(id string) *Bucket { return r.Buckets[id] }

// SplitError aborts a split. Row is the 1-based data row being processed,
// 0 when the fault was not tied to a row.
type SplitError struct {
	Row int
	Err error
}

func (e *SplitError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("split failed at row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("split failed: %v", e.Err)
}

func (e *SplitError) Unwrap() error { return e.Err }

// Split reads every row from it, skips blank rows and appends each row to
// the bucket of every group its city resolves to. A row that lands in two
// groups is counted once per group in MatchedRows; catch-all rows are not
// counted. Any iterator error or panic during resolution returns a
// *SplitError and no result.
func Split(it RowIterator, headers []string, resolver Resolver) (res *Result, err error) {
	res = &Result{
		Headers: append([]string(nil), headers...),
		Buckets: make(map[string]*Bucket),
	}
	seenUnmatched := make(map[string]struct{})
	rowNum := 0

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &SplitError{Row: rowNum, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	for it.Next() {
		rowNum++
		row := it.Row()
		if sheet.IsBlank(row) {
			continue
		}
		row = append([]sheet.Cell(nil), row...)

		city := ""
		if len(row) > sheet.CityColumn {
			city = row[sheet.CityColumn].Text
		}
		ids := resolver.GroupsForCity(city)
		if len(ids) == 0 {
			ids = []string{groups.CatchAllID}
		}

		onlyCatchAll := len(ids) == 1 && ids[0] == groups.CatchAllID
		if onlyCatchAll && strings.TrimSpace(city) != "" {
			if _, ok := seenUnmatched[city]; !ok {
				seenUnmatched[city] = struct{}{}
				res.Unmatched = append(res.Unmatched, city)
			}
		}

		for _, id := range ids {
			b := res.Buckets[id]
			if b == nil {
				b = &Bucket{GroupID: id}
				res.Buckets[id] = b
				res.Order = append(res.Order, id)
			}
			b.Rows = append(b.Rows, row)
			b.RowCount++
			if id == groups.CatchAllID {
				if onlyCatchAll && citynorm.Normalize(city) != "" {
					b.UnmatchedCityRows++
				}
			} else {
				res.MatchedRows++
			}
		}

		res.TotalRows++
		if res.TotalRows%progressEvery == 0 {
			logger.Info("split progress", "rows", res.TotalRows)
		}
	}
	if err := it.Err(); err != nil {
		return nil, &SplitError{Row: rowNum, Err: err}
	}

	logger.Info("split complete",
		"rows", res.TotalRows,
		"matched_rows", res.MatchedRows,
		"groups", len(res.Buckets),
		"unmatched_cities", len(res.Unmatched))
	if len(res.Unmatched) > 0 {
		logger.Warn("unmatched cities", "cities", preview(res.Unmatched, 10))
	}
	return res, nil
}

func preview(items []string, n int) string {
	if len(items) <= n {
		return fmt.Sprint(items)
	}
	return fmt.Sprintf("%v ... (+%d)", items[:n], len(items)-n)
}
