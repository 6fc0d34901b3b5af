package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ces-budgetfix/internal/coordinator"
	"github.com/ces-budgetfix/internal/matcher"
	"github.com/ces-budgetfix/internal/source"
)

// maxListed caps the unmatched-reference lists embedded in the report; full
// detail stays in the logs.
const maxListed = 50

// Report is the machine-readable validation report written after a run.
type Report struct {
	GeneratedAt     time.Time             `json:"generated_at"`
	RunID           string                `json:"run_id,omitempty"`
	Mode            string                `json:"mode"`
	Account         string                `json:"account"`
	ExcelFile       string                `json:"excel_file"`
	HorizonYears    int                   `json:"horizon_years"`
	DegradationRate float64               `json:"degradation_rate"`
	Reconciliation  matcher.Summary       `json:"reconciliation"`
	SourceOnly      []string              `json:"source_only,omitempty"`
	DatabaseOnly    []string              `json:"database_only,omitempty"`
	NotMember       []string              `json:"not_member,omitempty"`
	Anomalies       []source.Anomaly      `json:"anomalies,omitempty"`
	InputFailures   []InputFailure        `json:"input_failures,omitempty"`
	Samples         []SiteCheck           `json:"samples,omitempty"`
	Execution       *coordinator.Progress `json:"execution,omitempty"`
}

// InputFailure is a matched site whose budget matrix could not be generated.
type InputFailure struct {
	SiteID    string `json:"site_id"`
	SchemeRef string `json:"scheme_ref"`
	Reason    string `json:"reason"`
}

// New builds a report skeleton from a reconciliation result, truncating the
// reference lists to a reviewable size.
func New(mode, account, excelFile string, horizonYears int, degradationRate float64, result matcher.Result) *Report {
	return &Report{
		GeneratedAt:     time.Now().UTC(),
		Mode:            mode,
		Account:         account,
		ExcelFile:       excelFile,
		HorizonYears:    horizonYears,
		DegradationRate: degradationRate,
		Reconciliation:  result.Summarize(),
		SourceOnly:      capList(result.SourceOnly),
		DatabaseOnly:    capList(result.DatabaseOnly),
		NotMember:       capList(result.NotMember),
		Anomalies:       result.Anomalies,
	}
}

func capList(refs []string) []string {
	if len(refs) <= maxListed {
		return refs
	}
	return refs[:maxListed]
}

// WriteFile writes the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report file %s: %w", path, err)
	}
	return nil
}

// SamplesOK reports whether every spot check passed.
func (r *Report) SamplesOK() bool {
	for _, sample := range r.Samples {
		if !sample.OK {
			return false
		}
	}
	return true
}
