// Package ingest turns uploaded CSV bytes into a typed table and persists it.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"csvtosql/internal/schema"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var ErrNoHeader = errors.New("file has no header row")

// DecodeError reports input that is not valid UTF-8.
type DecodeError struct {
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("file is not valid UTF-8 (invalid byte at offset %d)", e.Offset)
}

// ParseError reports malformed CSV at a 1-based line.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Result is a parsed upload: inferred columns in header order and one Fields
// value per data line.
type Result struct {
	Columns schema.Columns
	Rows    []schema.Fields
}

// Parse reads a CSV document with a header row. Short rows are padded with
// nulls; rows with more fields than the header are rejected. Empty cells are
// stored as null and ignored for type inference.
func Parse(data []byte) (*Result, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, &DecodeError{Offset: invalidOffset(data)}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Line: 1, Err: ErrNoHeader}
		}
		return nil, asParseError(err, 1)
	}
	names := ColumnNames(header)
	kinds := make([]inference, len(names))

	var rows []schema.Fields
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, asParseError(err, len(rows)+2)
		}
		line, _ := r.FieldPos(0)
		if len(record) > len(names) {
			return nil, &ParseError{
				Line: line,
				Err:  fmt.Errorf("expected at most %d fields, found %d", len(names), len(record)),
			}
		}

		fields := make(schema.Fields, len(names))
		for i, name := range names {
			fields[i].Name = name
			if i >= len(record) || record[i] == "" {
				continue
			}
			value := record[i]
			fields[i].Value = &value
			kinds[i].observe(value)
		}
		rows = append(rows, fields)
	}

	columns := make(schema.Columns, len(names))
	for i, name := range names {
		columns[i] = schema.Column{Name: name, Spec: schema.NewColumnSpec(kinds[i].dataType())}
	}
	return &Result{Columns: columns, Rows: rows}, nil
}

// ColumnNames normalizes raw header cells. A header that normalizes to
// nothing becomes column_<position>; repeated names keep the first occurrence
// and suffix later ones with the first free _2, _3, ...
func ColumnNames(header []string) []string {
	names := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, raw := range header {
		name := schema.NormalizeColumnName(raw)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		if used[name] {
			base := name
			for n := 2; ; n++ {
				name = base + "_" + strconv.Itoa(n)
				if !used[name] {
					break
				}
			}
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// inference narrows a column from INTEGER to REAL to TEXT as values arrive.
type inference struct {
	seen     bool
	notInt   bool
	notFloat bool
}

func (in *inference) observe(value string) {
	in.seen = true
	v := strings.TrimSpace(value)
	if !in.notInt {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			in.notInt = true
		}
	}
	if in.notInt && !in.notFloat && !isDecimal(v) {
		in.notFloat = true
	}
}

func (in inference) dataType() schema.DataType {
	switch {
	case !in.seen:
		return schema.TypeText
	case !in.notInt:
		return schema.TypeInteger
	case !in.notFloat:
		return schema.TypeReal
	default:
		return schema.TypeText
	}
}

// isDecimal accepts decimal and exponent notation only, not the hex, NaN
// and Inf forms strconv.ParseFloat also takes.
func isDecimal(v string) bool {
	if v == "" || strings.ContainsAny(v, "xXnNiI_") {
		return false
	}
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

func asParseError(err error, line int) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &ParseError{Line: perr.Line, Err: perr.Err}
	}
	return &ParseError{Line: line, Err: err}
}

func invalidOffset(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return len(data)
}
