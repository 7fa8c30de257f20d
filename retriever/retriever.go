// Package retriever selects dataset column metadata relevant to a user
// question so the agent can inject it into the model prompt. Column docs
// carry the column name, its inferred dtype and a sample of distinct
// values; FormatColumns renders them as a compact markdown block.
package retriever

import (
	"context"
	"encoding/json"
	"strings"
)

const (
	// DefaultCellLengthThreshold is the rune count above which a sampled
	// cell value is truncated in the rendered block.
	DefaultCellLengthThreshold = 40
	// DefaultMaxCells is the number of sampled values kept per column.
	DefaultMaxCells = 5
)

// ColumnDoc describes one column of a dataset known to the retriever.
type ColumnDoc struct {
	FileName string
	Column   string
	Dtype    string
	Values   []string
	NUnique  int
}

// Retriever returns the column docs most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]ColumnDoc, error)
}

// FormatColumns renders column docs as a markdown block for prompt
// injection. Docs are grouped by file name in first-seen order, one
// bullet per file with a sub-bullet per column. Returns "" when docs
// is empty.
func FormatColumns(docs []ColumnDoc) string {
	if len(docs) == 0 {
		return ""
	}

	var order []string
	tables := make(map[string][]ColumnDoc)
	for _, doc := range docs {
		if _, ok := tables[doc.FileName]; !ok {
			order = append(order, doc.FileName)
		}
		tables[doc.FileName] = append(tables[doc.FileName], doc)
	}

	cols := make([]string, 0, len(order))
	for _, table := range order {
		lines := make([]string, 0, len(tables[table]))
		for _, doc := range tables[table] {
			values := formatValues(doc.Values, DefaultCellLengthThreshold, DefaultMaxCells, doc.NUnique)
			lines = append(lines, `  - {"column": `+doc.Column+`, "dtype": "`+doc.Dtype+`", "values": `+values+`}`)
		}
		cols = append(cols, "- "+table+":\n"+strings.Join(lines, "\n"))
	}

	return "\nHere are some extra column information that might help you understand the dataset:\n" +
		strings.Join(cols, "\n") + "\n"
}

// formatValues renders sampled values as a JSON list string. At most
// nToKeep values are kept and cells longer than cellLength runes are
// truncated with a "..." suffix. When nUnique exceeds the kept count
// the list is left open with a ", ...]" marker so the model knows the
// sample is partial.
func formatValues(values []string, cellLength, nToKeep, nUnique int) string {
	if nToKeep >= 0 && len(values) > nToKeep {
		values = values[:nToKeep]
	}

	parts := make([]string, len(values))
	for i, value := range values {
		if cellLength > 0 {
			if runes := []rune(value); len(runes) > cellLength {
				value = string(runes[:cellLength]) + "..."
			}
		}
		parts[i] = jsonString(value)
	}

	repr := "[" + strings.Join(parts, ", ") + "]"
	if nUnique > len(values) {
		repr = repr[:len(repr)-1] + ", ...]"
	}
	return repr
}

// jsonString quotes a value as a JSON string without HTML escaping so
// cell content like "<NA>" survives verbatim.
func jsonString(value string) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return `""`
	}
	return strings.TrimSuffix(b.String(), "\n")
}
