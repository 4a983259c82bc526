package matrix

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EndToEndScenario(t *testing.T) {
	content := "ID\tGENE_A\tGENE_B\nTCGA-01\t1.5\t2.5\nTCGA-02\tbad\t3.0\n"

	m, err := Parse(content, DefaultDelimiter)
	require.NoError(t, err)

	assert.Equal(t, []string{"GENE_A", "GENE_B"}, m.Genes())
	assert.Equal(t, 2, m.TotalRows())

	rows := m.Rows()
	require.Len(t, rows, 2)

	assert.Equal(t, "TCGA-01", rows[0].PatientID)
	assert.Equal(t, map[string]float64{"GENE_A": 1.5, "GENE_B": 2.5}, rows[0].Values)

	assert.Equal(t, "TCGA-02", rows[1].PatientID)
	assert.True(t, math.IsNaN(rows[1].Values["GENE_A"]))
	assert.Equal(t, 3.0, rows[1].Values["GENE_B"])

	warnings := m.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, ValueUnparsable, warnings[0].Kind)
	assert.Equal(t, 2, warnings[0].Line)
	assert.Equal(t, "GENE_A", warnings[0].Gene)
}

func TestParse_RowCountMismatchIsSkipped(t *testing.T) {
	content := "ID\tGENE_A\tGENE_B\nTCGA-01\t1.0\nTCGA-02\t2.0\t3.0"

	var seen []Warning
	m, err := Parse(content, DefaultDelimiter, WithWarningHandler(func(w Warning) {
		seen = append(seen, w)
	}))
	require.NoError(t, err)

	rows := m.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "TCGA-02", rows[0].PatientID)
	assert.Equal(t, 2, m.TotalRows())

	require.Len(t, seen, 1)
	assert.Equal(t, RowSkipped, seen[0].Kind)
	assert.Equal(t, 1, seen[0].Line)
	assert.Equal(t, 3, seen[0].Expected)
	assert.Equal(t, 2, seen[0].Actual)
	assert.Contains(t, seen[0].String(), "expected 3, got 2")
}

func TestParse_Deterministic(t *testing.T) {
	content := "ID\tG1\tG2\tG3\nP1\t1\t2\t3\nP2\t4\tx\t6\nP3\t7\t8\nP4\t-1e3\t0.5\t.25\n"

	m, err := Parse(content, DefaultDelimiter)
	require.NoError(t, err)

	first := m.Rows()
	second := m.Rows()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Index, second[i].Index)
		assert.Equal(t, first[i].PatientID, second[i].PatientID)
		for gene, v := range first[i].Values {
			w := second[i].Values[gene]
			if math.IsNaN(v) {
				assert.True(t, math.IsNaN(w))
				continue
			}
			assert.Equal(t, v, w)
		}
	}

	again, err := Parse(content, DefaultDelimiter)
	require.NoError(t, err)
	assert.Equal(t, len(first), len(again.Rows()))
	assert.Equal(t, m.Warnings(), again.Warnings())
}

func TestParse_RoundTripGeneCount(t *testing.T) {
	tests := []struct {
		name  string
		genes int
	}{
		{"one gene", 1},
		{"three genes", 3},
		{"wide", 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := "ID"
			row := "TCGA-X"
			for i := 0; i < tt.genes; i++ {
				header += "\tG" + string(rune('A'+i%26)) + string(rune('a'+i/26))
				row += "\t1.0"
			}

			m, err := Parse(header+"\n"+row, DefaultDelimiter)
			require.NoError(t, err)

			rows := m.Rows()
			require.Len(t, rows, 1)
			assert.Len(t, rows[0].Values, tt.genes)
		})
	}
}

func TestParse_FormatErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"header only", "ID\tGENE_A\n"},
		{"header without genes", "ID\nTCGA-01\n"},
		{"blank lines only", "\n\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content, DefaultDelimiter)
			require.Error(t, err)
			var fe *FormatError
			assert.True(t, errors.As(err, &fe))
		})
	}
}

func TestParse_CRLFAndCustomDelimiter(t *testing.T) {
	m, err := Parse("ID,A,B\r\nP1,1,2\r\n", ',')
	require.NoError(t, err)

	rows := m.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, rows[0].Values["B"])
	assert.Empty(t, m.Warnings())
}

func TestEach_StopsOnError(t *testing.T) {
	m, err := Parse("ID\tA\nP1\t1\nP2\t2\nP3\t3", DefaultDelimiter)
	require.NoError(t, err)

	stop := errors.New("stop")
	var visited []string
	err = m.Each(func(r Row) error {
		visited = append(visited, r.PatientID)
		if r.PatientID == "P2" {
			return stop
		}
		return nil
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"P1", "P2"}, visited)
}

func TestGenesReturnsCopy(t *testing.T) {
	m, err := Parse("ID\tA\tB\nP1\t1\t2", DefaultDelimiter)
	require.NoError(t, err)

	genes := m.Genes()
	genes[0] = "mutated"
	assert.Equal(t, "A", m.Genes()[0])
}
