// Package matrix parses delimited patient-by-gene expression matrices.
//
// The first line is a header whose first column is an ignored label and whose
// remaining columns are gene names. Every following line holds a patient
// identifier and one value per gene, aligned positionally with the header.
package matrix

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultDelimiter is the field separator of TCGA expression files.
const DefaultDelimiter = '\t'

// FormatError reports content that cannot be parsed as a matrix at all.
type FormatError struct {
	Reason string
}

// Error implements the error interface
func (e *FormatError) Error() string {
	return "malformed matrix: " + e.Reason
}

// WarningKind classifies a recoverable problem found while walking rows.
type WarningKind string

const (
	// RowSkipped marks a data line whose field count does not match the header.
	RowSkipped WarningKind = "RowSkipped"
	// ValueUnparsable marks a field that was recorded as NaN.
	ValueUnparsable WarningKind = "ValueUnparsable"
)

// Warning describes a skipped row or an unparsable value. Line is the index
// of the line in the content, the header being line 0.
type Warning struct {
	Kind     WarningKind `json:"kind"`
	Line     int         `json:"line"`
	Gene     string      `json:"gene,omitempty"`
	Field    string      `json:"field,omitempty"`
	Expected int         `json:"expected,omitempty"`
	Actual   int         `json:"actual,omitempty"`
}

func (w Warning) String() string {
	switch w.Kind {
	case RowSkipped:
		return fmt.Sprintf("line %d has incorrect number of values: expected %d, got %d", w.Line, w.Expected, w.Actual)
	case ValueUnparsable:
		return fmt.Sprintf("line %d: value %q for gene %s is not a number", w.Line, w.Field, w.Gene)
	default:
		return fmt.Sprintf("line %d: %s", w.Line, w.Kind)
	}
}

// WarningHandler receives warnings as rows are walked.
type WarningHandler func(Warning)

// Row is one patient's values keyed by gene name.
type Row struct {
	Index     int
	PatientID string
	Values    map[string]float64
}

// Option configures a Matrix.
type Option func(*Matrix)

// WithWarningHandler registers h to be called for every warning raised
// while walking rows.
func WithWarningHandler(h WarningHandler) Option {
	return func(m *Matrix) {
		m.onWarning = h
	}
}

// Matrix is an immutable view over parsed content. Walking it never changes
// its state, so every walk yields the same rows in file order.
type Matrix struct {
	delim     string
	genes     []string
	lines     []string
	onWarning WarningHandler
}

// Parse splits content into header and data lines. It fails only when the
// content has no data line or the header names no gene; row and value
// problems are reported as warnings during the walk.
func Parse(content string, delim rune, opts ...Option) (*Matrix, error) {
	lines := splitLines(content)
	if len(lines) < 2 {
		return nil, &FormatError{Reason: fmt.Sprintf("expected a header and at least one data line, got %d line(s)", len(lines))}
	}

	d := string(delim)
	header := strings.Split(lines[0], d)
	if len(header) < 2 {
		return nil, &FormatError{Reason: "header must contain a label column and at least one gene"}
	}

	m := &Matrix{
		delim: d,
		genes: header[1:],
		lines: lines[1:],
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Genes returns the ordered gene names from the header.
func (m *Matrix) Genes() []string {
	out := make([]string, len(m.genes))
	copy(out, m.genes)
	return out
}

// TotalRows is the number of data lines seen, kept or skipped.
func (m *Matrix) TotalRows() int {
	return len(m.lines)
}

// Each walks the data rows in file order and calls fn for every row whose
// field count matches the header. A non-nil error from fn stops the walk and
// is returned.
func (m *Matrix) Each(fn func(Row) error) error {
	return m.walk(m.onWarning, fn)
}

// Rows materializes every kept row.
func (m *Matrix) Rows() []Row {
	var rows []Row
	_ = m.walk(m.onWarning, func(r Row) error {
		rows = append(rows, r)
		return nil
	})
	return rows
}

// Warnings walks the matrix and returns every warning it raises, without
// invoking the registered handler.
func (m *Matrix) Warnings() []Warning {
	var warnings []Warning
	_ = m.walk(func(w Warning) { warnings = append(warnings, w) }, nil)
	return warnings
}

func (m *Matrix) walk(warn WarningHandler, fn func(Row) error) error {
	expected := len(m.genes) + 1
	for i, line := range m.lines {
		lineNo := i + 1
		fields := strings.Split(line, m.delim)
		if len(fields) != expected {
			if warn != nil {
				warn(Warning{Kind: RowSkipped, Line: lineNo, Expected: expected, Actual: len(fields)})
			}
			continue
		}

		values := make(map[string]float64, len(m.genes))
		for j, gene := range m.genes {
			v, ok := parseValue(fields[j+1])
			if !ok && warn != nil {
				warn(Warning{Kind: ValueUnparsable, Line: lineNo, Gene: gene, Field: fields[j+1]})
			}
			values[gene] = v
		}

		if fn == nil {
			continue
		}
		if err := fn(Row{Index: lineNo, PatientID: fields[0], Values: values}); err != nil {
			return err
		}
	}
	return nil
}

// parseValue reads a locale-invariant decimal. Anything else is NaN.
func parseValue(field string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return math.NaN(), false
	}
	return v, true
}

// splitLines splits on LF, strips CR and drops trailing empty lines.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
