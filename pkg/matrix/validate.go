package matrix

import (
	"fmt"
	"math"
	"strings"
)

// DefaultPatientIDPrefix is the identifier convention of TCGA barcodes.
const DefaultPatientIDPrefix = "TCGA-"

// ValidateOptions tunes ValidateFormat.
type ValidateOptions struct {
	// PatientIDPrefix is matched case-insensitively against the first field
	// of the first data row. Empty disables the check.
	PatientIDPrefix string
}

// ValidateFormat is a cheap structural pre-check that looks only at the
// header and the first data row.
func ValidateFormat(content string, delim rune, opts ValidateOptions) error {
	lines := splitLines(content)
	if len(lines) < 2 {
		return &FormatError{Reason: fmt.Sprintf("expected a header and at least one data line, got %d line(s)", len(lines))}
	}

	d := string(delim)
	header := strings.Split(lines[0], d)
	if len(header) < 2 {
		return &FormatError{Reason: "header must contain a label column and at least one gene"}
	}

	first := strings.Split(lines[1], d)
	if len(first) != len(header) {
		return &FormatError{Reason: fmt.Sprintf("first data row has %d fields, header has %d", len(first), len(header))}
	}

	if opts.PatientIDPrefix != "" && !hasPrefixFold(first[0], opts.PatientIDPrefix) {
		return &FormatError{Reason: fmt.Sprintf("first patient identifier %q does not start with %q", first[0], opts.PatientIDPrefix)}
	}
	return nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// FileSummary describes a matrix without materializing its rows.
type FileSummary struct {
	TotalGenes        int `json:"total_genes"`
	TotalPatients     int `json:"total_patients"`
	PanelGenesPresent int `json:"panel_genes_present"`
	PanelGenesTargets int `json:"panel_genes_targets"`
}

// Summarize counts genes and data lines, and how many header genes match
// one of targets (case-insensitive).
func Summarize(content string, delim rune, targets []string) (*FileSummary, error) {
	lines := splitLines(content)
	if len(lines) < 2 {
		return nil, &FormatError{Reason: "no data lines"}
	}
	genes := strings.Split(lines[0], string(delim))[1:]

	present := 0
	for _, gene := range genes {
		for _, target := range targets {
			if strings.EqualFold(gene, target) {
				present++
				break
			}
		}
	}

	return &FileSummary{
		TotalGenes:        len(genes),
		TotalPatients:     len(lines) - 1,
		PanelGenesPresent: present,
		PanelGenesTargets: len(targets),
	}, nil
}

// GeneNames returns the header genes, or nil for empty content.
func GeneNames(content string, delim rune) []string {
	lines := splitLines(content)
	if len(lines) == 0 {
		return nil
	}
	return strings.Split(lines[0], string(delim))[1:]
}

// PatientIDs returns the first field of every data line, in file order.
func PatientIDs(content string, delim rune) []string {
	lines := splitLines(content)
	if len(lines) < 2 {
		return nil
	}
	d := string(delim)
	ids := make([]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		id, _, _ := strings.Cut(line, d)
		ids = append(ids, id)
	}
	return ids
}

// LookupValue returns the value of gene for patient, or NaN when either is
// missing or the field does not parse.
func LookupValue(content string, delim rune, patient, gene string) float64 {
	lines := splitLines(content)
	if len(lines) < 2 {
		return math.NaN()
	}
	d := string(delim)

	idx := -1
	for i, g := range strings.Split(lines[0], d)[1:] {
		if g == gene {
			idx = i
			break
		}
	}
	if idx < 0 {
		return math.NaN()
	}

	for _, line := range lines[1:] {
		if !strings.HasPrefix(line, patient+d) {
			continue
		}
		fields := strings.Split(line, d)
		if len(fields) <= idx+1 {
			return math.NaN()
		}
		v, _ := parseValue(fields[idx+1])
		return v
	}
	return math.NaN()
}
