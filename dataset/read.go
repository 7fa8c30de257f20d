package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// detectTimeout bounds encoding detection when reading falls back to it.
const detectTimeout = 30 * time.Second

// ReadTable reads a tabular file into a Table. The first row becomes the
// header; remaining rows are padded or truncated to the header width.
//
// CSV and TSV files are decoded as UTF-8 first; on invalid bytes the
// detected encodings are tried in confidence order. Excel workbooks
// (.xlsx, .xlsm, .xltx, .xltm) are read from their first sheet. Other
// extensions return ErrUnsupportedFormat.
func ReadTable(path string) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return readDelimited(path, ',')
	case ".tsv":
		return readDelimited(path, '\t')
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return readWorkbook(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func readDelimited(path string, comma rune) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if utf8.Valid(raw) {
		return parseDelimited(raw, comma)
	}

	ctx, cancel := context.WithTimeout(context.Background(), detectTimeout)
	defer cancel()
	candidates, err := DetectFileEncodings(ctx, path)
	if err != nil {
		return nil, err
	}
	for _, cand := range candidates {
		decoded, err := decodeBytes(raw, cand.Encoding)
		if err != nil || !utf8.Valid(decoded) {
			continue
		}
		return parseDelimited(decoded, comma)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, path)
}

func parseDelimited(data []byte, comma rune) (*Table, error) {
	// Strip a UTF-8 BOM so it does not glue onto the first header cell.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing delimited data: %w", err)
	}
	return tableFromRecords(records)
}

func readWorkbook(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyTable
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return tableFromRecords(rows)
}

func tableFromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}
	header := records[0]
	width := len(header)

	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]string, width)
		copy(row, rec)
		rows = append(rows, row)
	}
	return &Table{Columns: header, Rows: rows}, nil
}
