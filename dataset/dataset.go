// Package dataset provides local access to tabular files: file URI
// resolution, encoding detection, and reading CSV/TSV/Excel content into a
// simple in-memory table.
//
// The analysis pipeline itself inspects data inside the sandbox kernel so
// the dataframe stays live between turns; this package serves the parts
// that need the bytes locally, such as the column retriever and the
// normalizer prompt.
package dataset

import (
	"strconv"
	"strings"
	"time"
)

// Kind is the inferred type of a column, named after the pandas dtype the
// sandbox side would report so both descriptions read the same.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int64"
	case KindFloat:
		return "float64"
	case KindBool:
		return "bool"
	case KindDate:
		return "datetime64[ns]"
	default:
		return "object"
	}
}

// Table is a rectangular view of a tabular file. Rows are padded or
// truncated to the header width during reading.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ColumnStat summarizes one column for retrieval and normalization checks.
type ColumnStat struct {
	Name     string
	Kind     Kind
	NonNull  int
	NUnique  int
	Distinct []string // unique non-null values in first-seen order, capped
}

// maxDistinct bounds the values kept per column; the retriever only ever
// formats a handful of them.
const maxDistinct = 32

// Head returns the first n rows (all rows when n exceeds the row count).
func (t *Table) Head(n int) [][]string {
	if n < 0 {
		n = 0
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}

// Render formats the header and up to n rows as aligned plain text, one
// line per row. Used to show a model what the raw layout looks like.
func (t *Table) Render(n int) string {
	rows := t.Head(n)

	widths := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		widths[i] = len([]rune(c))
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			if pad := widths[i] - len([]rune(cell)); pad > 0 && i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", pad))
			}
		}
		b.WriteByte('\n')
	}

	writeRow(t.Columns)
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}

// ColumnStats infers a kind, counts non-null cells, and collects distinct
// values per column. Empty cells count as null.
func (t *Table) ColumnStats() []ColumnStat {
	stats := make([]ColumnStat, len(t.Columns))
	for i, name := range t.Columns {
		seen := make(map[string]struct{})
		stat := ColumnStat{Name: name}

		allInt, allFloat, allBool, allDate := true, true, true, true
		for _, row := range t.Rows {
			if i >= len(row) {
				continue
			}
			cell := strings.TrimSpace(row[i])
			if cell == "" {
				continue
			}
			stat.NonNull++
			if _, dup := seen[cell]; !dup {
				seen[cell] = struct{}{}
				stat.NUnique++
				if len(stat.Distinct) < maxDistinct {
					stat.Distinct = append(stat.Distinct, cell)
				}
			}

			if allInt {
				if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
					allInt = false
				}
			}
			if allFloat {
				if _, err := strconv.ParseFloat(cell, 64); err != nil {
					allFloat = false
				}
			}
			if allBool {
				switch strings.ToLower(cell) {
				case "true", "false":
				default:
					allBool = false
				}
			}
			if allDate && !parseDate(cell) {
				allDate = false
			}
		}

		switch {
		case stat.NonNull == 0:
			stat.Kind = KindString
		case allInt:
			stat.Kind = KindInt
		case allFloat:
			stat.Kind = KindFloat
		case allBool:
			stat.Kind = KindBool
		case allDate:
			stat.Kind = KindDate
		default:
			stat.Kind = KindString
		}
		stats[i] = stat
	}
	return stats
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"2006-01-02 15:04:05",
}

func parseDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// LooksIrregular reports whether the table header suggests the file is not
// a structurally regular table: missing or empty header cells, duplicate
// names, or pandas-style "Unnamed: N" placeholders that appear when a
// spreadsheet has title rows or merged cells above the real header.
func (t *Table) LooksIrregular() bool {
	if len(t.Columns) == 0 {
		return true
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		name := strings.TrimSpace(c)
		if name == "" {
			return true
		}
		if strings.HasPrefix(name, "Unnamed:") {
			return true
		}
		if _, dup := seen[name]; dup {
			return true
		}
		seen[name] = struct{}{}
	}
	return false
}
