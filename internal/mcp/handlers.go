package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/tcga-expression-pipeline/internal/domain"
	"github.com/tcga-expression-pipeline/internal/service"
)

// GeneStatisticsParams defines parameters for the gene_statistics tool
type GeneStatisticsParams struct {
	Gene   string `json:"gene" jsonschema:"gene symbol as it appears in the matrix header column, e.g. CCL5"`
	Cohort string `json:"cohort,omitempty" jsonschema:"cohort name such as TCGA-BRCA; empty means every cohort"`
}

// PanelStatisticsParams defines parameters for the panel_statistics tool
type PanelStatisticsParams struct {
	Cohort string `json:"cohort,omitempty" jsonschema:"cohort name; empty means every cohort"`
}

// PanelStatisticsResult is the structured output of panel_statistics
type PanelStatisticsResult struct {
	Cohort string                        `json:"cohort,omitempty"`
	Slots  []service.PanelSlotStatistics `json:"slots"`
}

// ListCohortsParams defines parameters for the list_cohorts tool
type ListCohortsParams struct {
	Status string `json:"status,omitempty" jsonschema:"optional lifecycle filter: Discovered, Downloading, Downloaded, Processing, Completed or Failed"`
}

// CohortSummary is one entry of list_cohorts
type CohortSummary struct {
	Name              string              `json:"name"`
	CancerType        string              `json:"cancer_type"`
	Status            domain.CohortStatus `json:"status"`
	TotalPatients     int                 `json:"total_patients"`
	ProcessedPatients int                 `json:"processed_patients"`
}

// ListCohortsResult is the structured output of list_cohorts
type ListCohortsResult struct {
	Cohorts []CohortSummary `json:"cohorts"`
	Count   int             `json:"count"`
}

func (s *ToolServer) handleGeneStatistics(ctx context.Context, _ *mcp.CallToolRequest, params GeneStatisticsParams) (*mcp.CallToolResult, *service.GeneStatistics, error) {
	gene := strings.TrimSpace(params.Gene)
	s.logger.WithFields(logrus.Fields{"tool": "gene_statistics", "gene": gene, "cohort": params.Cohort}).Info("Tool invoked")

	stats, err := s.statistics.GeneStatistics(ctx, gene, params.Cohort)
	s.metrics.StatisticsServed("gene", outcome(err))
	if err != nil {
		return toolError(err), nil, nil
	}
	return textResult(fmt.Sprintf("%s: n=%d mean=%.4g median=%.4g sd=%.4g q1=%.4g q3=%.4g min=%.4g max=%.4g",
		stats.Gene, stats.Count, stats.Mean, stats.Median, stats.StdDev, stats.Q1, stats.Q3, stats.Min, stats.Max)), stats, nil
}

func (s *ToolServer) handlePanelStatistics(ctx context.Context, _ *mcp.CallToolRequest, params PanelStatisticsParams) (*mcp.CallToolResult, *PanelStatisticsResult, error) {
	s.logger.WithFields(logrus.Fields{"tool": "panel_statistics", "cohort": params.Cohort}).Info("Tool invoked")

	slots, err := s.statistics.PanelStatistics(ctx, params.Cohort)
	s.metrics.StatisticsServed("panel", outcome(err))
	if err != nil {
		return toolError(err), nil, nil
	}

	var b strings.Builder
	for _, slot := range slots {
		if slot.Stats == nil {
			fmt.Fprintf(&b, "%s: no data\n", slot.Slot)
			continue
		}
		fmt.Fprintf(&b, "%s: n=%d mean=%.4g median=%.4g\n", slot.Slot, slot.Stats.Count, slot.Stats.Mean, slot.Stats.Median)
	}
	return textResult(b.String()), &PanelStatisticsResult{Cohort: params.Cohort, Slots: slots}, nil
}

func (s *ToolServer) handleListCohorts(ctx context.Context, _ *mcp.CallToolRequest, params ListCohortsParams) (*mcp.CallToolResult, *ListCohortsResult, error) {
	s.logger.WithFields(logrus.Fields{"tool": "list_cohorts", "status": params.Status}).Info("Tool invoked")

	var (
		cohorts []*domain.CancerCohort
		err     error
	)
	if params.Status != "" {
		status, perr := domain.ParseCohortStatus(params.Status)
		if perr != nil {
			return toolError(perr), nil, nil
		}
		cohorts, err = s.cohorts.ListByStatus(ctx, status)
	} else {
		cohorts, err = s.cohorts.List(ctx)
	}
	if err != nil {
		return toolError(err), nil, nil
	}

	out := &ListCohortsResult{Cohorts: make([]CohortSummary, 0, len(cohorts)), Count: len(cohorts)}
	var b strings.Builder
	for _, c := range cohorts {
		out.Cohorts = append(out.Cohorts, CohortSummary{
			Name:              c.CohortName,
			CancerType:        c.CancerType,
			Status:            c.Status,
			TotalPatients:     c.TotalPatients,
			ProcessedPatients: c.ProcessedPatients,
		})
		fmt.Fprintf(&b, "%s (%s): %s, %d/%d patients\n", c.CohortName, c.CancerType, c.Status, c.ProcessedPatients, c.TotalPatients)
	}
	if len(cohorts) == 0 {
		b.WriteString("no cohorts registered")
	}
	return textResult(b.String()), out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// toolError reports a failure to the client as tool output, so the model can
// read it, instead of as a protocol error.
func toolError(err error) *mcp.CallToolResult {
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrNoData):
		msg = "no data: " + msg
	case errors.Is(err, domain.ErrInvalidGene):
		msg = "a gene symbol is required"
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNoData):
		return "no_data"
	default:
		return "error"
	}
}
