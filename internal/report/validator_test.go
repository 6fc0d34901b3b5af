package report

import (
	"math"
	"testing"

	"github.com/ces-budgetfix/internal/profile"
)

// buildValues produces a correct matrix for the given annual figure and
// commissioning month, the same way the generator does.
func buildValues(annual float64, commYear, commMonth, horizon int, degradation float64) []MonthValue {
	p := profile.CES()
	values := make([]MonthValue, 0, horizon*12)
	for offset := 0; offset < horizon; offset++ {
		factor := math.Pow(1-degradation, float64(offset))
		for i := 0; i < 12; i++ {
			month := (commMonth-1+i)%12 + 1
			year := commYear + offset + (commMonth-1+i)/12
			values = append(values, MonthValue{Year: year, Month: month, Generation: annual * p.Share(month) * factor})
		}
	}
	return values
}

func newTestValidator() *Validator {
	return NewValidator(profile.CES(), 0.004, 25, DefaultTolerances())
}

func TestCheckSitePasses(t *testing.T) {
	v := newTestValidator()
	values := buildValues(2348.25, 2019, 3, 25, 0.004)

	check := v.CheckSite("site-1", "STO9917", 2348.25, values)
	if !check.OK {
		t.Fatalf("correct matrix failed validation: %v", check.Issues)
	}
	if check.Rows != 300 {
		t.Errorf("Rows = %d, want 300", check.Rows)
	}
	if math.Abs(check.AnnualActual-2348.25) > 1e-6 {
		t.Errorf("AnnualActual = %.6f, want 2348.25", check.AnnualActual)
	}
}

func TestCheckSiteWrongRowCount(t *testing.T) {
	v := newTestValidator()
	values := buildValues(2348.25, 2019, 3, 25, 0.004)

	check := v.CheckSite("site-1", "STO9917", 2348.25, values[:299])
	if check.OK {
		t.Error("truncated matrix must fail")
	}
}

func TestCheckSiteWrongAnnualTotal(t *testing.T) {
	v := newTestValidator()
	values := buildValues(2348.25, 2019, 3, 25, 0.004)
	values[0].Generation += 5

	check := v.CheckSite("site-1", "STO9917", 2348.25, values)
	if check.OK {
		t.Error("inflated first cycle must fail")
	}
}

func TestCheckSiteWrongDegradation(t *testing.T) {
	v := newTestValidator()
	// Matrix built with no degradation at all.
	values := buildValues(2348.25, 2019, 3, 25, 0)

	check := v.CheckSite("site-1", "STO9917", 2348.25, values)
	if check.OK {
		t.Error("undegraded matrix must fail the ratio check")
	}
	if check.WorstRatioDelta < 0.003 {
		t.Errorf("WorstRatioDelta = %g, expected about 0.004", check.WorstRatioDelta)
	}
}

func TestCheckSiteWrongSeasonalShape(t *testing.T) {
	v := newTestValidator()
	// Flat matrix: every month gets 1/12th, the shape the correction replaces.
	values := buildValues(2348.25, 2019, 3, 25, 0.004)
	for offset := 0; offset < 25; offset++ {
		factor := math.Pow(0.996, float64(offset))
		cycleTotal := 2348.25 * factor
		for i := 0; i < 12; i++ {
			values[offset*12+i].Generation = cycleTotal / 12
		}
	}

	check := v.CheckSite("site-1", "STO9917", 2348.25, values)
	if check.OK {
		t.Error("flat monthly distribution must fail the profile check")
	}
	// May's share (14.67%) is furthest from flat (8.33%).
	if check.WorstMonthDelta < 5 {
		t.Errorf("WorstMonthDelta = %.2f points, expected > 5", check.WorstMonthDelta)
	}
}

func TestCheckSiteMonthSequence(t *testing.T) {
	v := newTestValidator()
	values := buildValues(2348.25, 2019, 3, 25, 0.004)
	values[1].Month = 7 // should be April

	check := v.CheckSite("site-1", "STO9917", 2348.25, values)
	if check.OK {
		t.Error("out-of-sequence month must fail")
	}
}
