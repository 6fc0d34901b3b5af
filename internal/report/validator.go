package report

import (
	"fmt"
	"math"

	"github.com/ces-budgetfix/internal/budget"
	"github.com/ces-budgetfix/internal/profile"
	"github.com/ces-budgetfix/internal/store"
)

// Tolerances bound the acceptable drift when spot-checking a site's budget
// matrix. Annual is absolute kWh, Ratio is absolute on the year-over-year
// degradation ratio, MonthlyPct is absolute percentage points.
type Tolerances struct {
	AnnualAbs     float64
	RatioAbs      float64
	MonthlyPctAbs float64
}

// DefaultTolerances returns the standard spot-check bounds.
func DefaultTolerances() Tolerances {
	return Tolerances{AnnualAbs: 0.01, RatioAbs: 1e-4, MonthlyPctAbs: 0.5}
}

// MonthValue is one (year, month, generation) tuple under check. It can be
// built from regenerated records or from persisted rows.
type MonthValue struct {
	Year       int
	Month      int
	Generation float64
}

// FromRecords converts regenerated records for checking.
func FromRecords(records []budget.Record) []MonthValue {
	values := make([]MonthValue, len(records))
	for i, rec := range records {
		values[i] = MonthValue{Year: rec.Year, Month: rec.Month, Generation: rec.RoundedGeneration()}
	}
	return values
}

// FromRows converts persisted budget rows for checking.
func FromRows(rows []store.BudgetRow) []MonthValue {
	values := make([]MonthValue, len(rows))
	for i, row := range rows {
		values[i] = MonthValue{Year: row.Year, Month: row.Month, Generation: row.Generation}
	}
	return values
}

// SiteCheck is the result of spot-checking one site.
type SiteCheck struct {
	SiteID          string   `json:"site_id"`
	SchemeRef       string   `json:"scheme_ref"`
	Rows            int      `json:"rows"`
	AnnualExpected  float64  `json:"annual_expected"`
	AnnualActual    float64  `json:"annual_actual"`
	WorstRatioDelta float64  `json:"worst_ratio_delta"`
	WorstMonthDelta float64  `json:"worst_month_delta_pct"`
	Issues          []string `json:"issues,omitempty"`
	OK              bool     `json:"ok"`
}

// Validator spot-checks budget matrices against the seasonal profile, the
// first-year annual figure and the degradation schedule.
type Validator struct {
	profile     profile.Table
	degradation float64
	horizon     int
	tol         Tolerances
}

// NewValidator creates a validator for the given profile and degradation
// rate per year.
func NewValidator(p profile.Table, degradation float64, horizonYears int, tol Tolerances) *Validator {
	return &Validator{profile: p, degradation: degradation, horizon: horizonYears, tol: tol}
}

// CheckSite verifies one site's matrix: correct row count, first cycle summing
// to the annual figure, each later cycle degraded by the expected ratio, and
// each month's share of its cycle matching the seasonal profile. values must
// be ordered by (year, month); the first value marks the commissioning month.
func (v *Validator) CheckSite(siteID, schemeRef string, annual float64, values []MonthValue) SiteCheck {
	check := SiteCheck{SiteID: siteID, SchemeRef: schemeRef, Rows: len(values), AnnualExpected: annual}

	wantRows := v.horizon * 12
	if len(values) != wantRows {
		check.Issues = append(check.Issues, fmt.Sprintf("expected %d rows, found %d", wantRows, len(values)))
		return check
	}

	// Cycle sums: 12 consecutive rows per cycle, starting at the
	// commissioning month.
	sums := make([]float64, v.horizon)
	for i, val := range values {
		sums[i/12] += val.Generation
	}
	check.AnnualActual = sums[0]

	if math.Abs(sums[0]-annual) > v.tol.AnnualAbs {
		check.Issues = append(check.Issues, fmt.Sprintf("first cycle sums to %.4f, expected %.4f", sums[0], annual))
	}

	wantRatio := 1 - v.degradation
	for y := 1; y < v.horizon; y++ {
		if sums[y-1] == 0 {
			check.Issues = append(check.Issues, fmt.Sprintf("cycle %d sums to zero", y))
			continue
		}
		ratio := sums[y] / sums[y-1]
		delta := math.Abs(ratio - wantRatio)
		if delta > check.WorstRatioDelta {
			check.WorstRatioDelta = delta
		}
		if delta > v.tol.RatioAbs {
			check.Issues = append(check.Issues, fmt.Sprintf("cycle %d/%d ratio %.6f, expected %.6f", y+1, y, ratio, wantRatio))
		}
	}

	startMonth := values[0].Month
	for i, val := range values {
		cycle := i / 12
		if sums[cycle] == 0 {
			continue
		}
		wantMonth := (startMonth-1+i)%12 + 1
		if val.Month != wantMonth {
			check.Issues = append(check.Issues, fmt.Sprintf("row %d is month %d, expected %d", i, val.Month, wantMonth))
			continue
		}
		wantPct := v.profile.Share(val.Month) * 100
		gotPct := val.Generation / sums[cycle] * 100
		delta := math.Abs(gotPct - wantPct)
		if delta > check.WorstMonthDelta {
			check.WorstMonthDelta = delta
		}
		if delta > v.tol.MonthlyPctAbs {
			check.Issues = append(check.Issues, fmt.Sprintf("%d-%02d holds %.2f%% of its cycle, expected %.2f%%", val.Year, val.Month, gotPct, wantPct))
		}
	}

	check.OK = len(check.Issues) == 0
	return check
}
