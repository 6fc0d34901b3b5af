package budget

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ces-budgetfix/internal/profile"
	"github.com/ces-budgetfix/internal/tariff"
)

func newTestGenerator(t *testing.T, rate string) *Generator {
	t.Helper()
	r, err := tariff.NewFixedRate(rate)
	if err != nil {
		t.Fatalf("NewFixedRate: %v", err)
	}
	return NewGenerator(DefaultConfig(), r)
}

// Reference site: STO-9917, 2348.25 kWh/yr, commissioned March 2019.
func TestGenerateReferenceSite(t *testing.T) {
	gen := newTestGenerator(t, "0")
	records, err := gen.Generate("site-1", 2348.25, 2019, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(records) != 300 {
		t.Fatalf("expected 300 records (25 years x 12 months), got %d", len(records))
	}

	first := records[0]
	if first.Year != 2019 || first.Month != 3 {
		t.Errorf("first record is %d-%02d, want 2019-03", first.Year, first.Month)
	}

	// A March commissioning wraps into the next calendar year after December.
	twelfth := records[11]
	if twelfth.Year != 2020 || twelfth.Month != 2 {
		t.Errorf("12th record is %d-%02d, want 2020-02", twelfth.Year, twelfth.Month)
	}

	last := records[299]
	if last.Year != 2044 || last.Month != 2 {
		t.Errorf("last record is %d-%02d, want 2044-02", last.Year, last.Month)
	}
}

func TestGenerateFirstCycleSumsToAnnual(t *testing.T) {
	gen := newTestGenerator(t, "0")
	records, err := gen.Generate("site-1", 2348.25, 2019, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	sum := 0.0
	for _, r := range records[:12] {
		sum += r.Generation
	}
	if math.Abs(sum-2348.25) > 1e-9 {
		t.Errorf("first cycle sums to %.9f, want 2348.25", sum)
	}
}

func TestGenerateMonthlyValuesFollowProfile(t *testing.T) {
	gen := newTestGenerator(t, "0")
	records, err := gen.Generate("site-1", 2348.25, 2019, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	p := profile.CES()
	for _, r := range records[:12] {
		want := 2348.25 * p.Share(r.Month)
		if math.Abs(r.Generation-want) > 1e-9 {
			t.Errorf("%d-%02d generation = %.6f, want %.6f", r.Year, r.Month, r.Generation, want)
		}
	}

	// May carries the published peak share of 14.67%.
	var may Record
	for _, r := range records[:12] {
		if r.Month == 5 {
			may = r
		}
	}
	if math.Abs(may.Generation-2348.25*0.1467) > 0.05 {
		t.Errorf("May 2019 generation = %.4f, want about %.4f", may.Generation, 2348.25*0.1467)
	}
}

func TestGenerateDegradationRatios(t *testing.T) {
	gen := newTestGenerator(t, "0")
	records, err := gen.Generate("site-1", 2348.25, 2019, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	totals := CycleTotals(records)
	if len(totals) != 25 {
		t.Fatalf("expected 25 cycle totals, got %d", len(totals))
	}
	for i := 1; i < len(totals); i++ {
		ratio := totals[i] / totals[i-1]
		if math.Abs(ratio-0.996) > 1e-9 {
			t.Errorf("cycle %d/%d ratio = %.12f, want 0.996", i+1, i, ratio)
		}
	}

	// Closed-form degradation: cycle 25 equals cycle 1 times 0.996^24.
	want := totals[0] * math.Pow(0.996, 24)
	if math.Abs(totals[24]-want) > 1e-9 {
		t.Errorf("cycle 25 total = %.9f, want %.9f", totals[24], want)
	}
}

func TestGenerateJanuaryCommissioningDoesNotWrap(t *testing.T) {
	gen := newTestGenerator(t, "0")
	records, err := gen.Generate("site-1", 1000, 2020, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for i, r := range records[:12] {
		if r.Year != 2020 || r.Month != i+1 {
			t.Errorf("record %d is %d-%02d, want 2020-%02d", i, r.Year, r.Month, i+1)
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	gen := newTestGenerator(t, "0.0525")
	a, err := gen.Generate("site-1", 2348.25, 2019, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := gen.Generate("site-1", 2348.25, 2019, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for i := range a {
		if a[i].Year != b[i].Year || a[i].Month != b[i].Month || a[i].Generation != b[i].Generation || !a[i].Revenue.Equal(b[i].Revenue) {
			t.Fatalf("record %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestGenerateRevenue(t *testing.T) {
	gen := newTestGenerator(t, "0.0525")
	records, err := gen.Generate("site-1", 1000, 2020, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	rate := decimal.RequireFromString("0.0525")
	for _, r := range records[:12] {
		want := rate.Mul(decimal.NewFromFloat(r.Generation))
		if !r.Revenue.Equal(want) {
			t.Errorf("%d-%02d revenue = %s, want %s", r.Year, r.Month, r.Revenue, want)
		}
	}
}

func TestGenerateRejectsBadInputs(t *testing.T) {
	gen := newTestGenerator(t, "0")

	tests := []struct {
		name   string
		annual float64
		year   int
		month  int
	}{
		{"zero generation", 0, 2019, 3},
		{"negative generation", -10, 2019, 3},
		{"NaN generation", math.NaN(), 2019, 3},
		{"month zero", 1000, 2019, 0},
		{"month thirteen", 1000, 2019, 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gen.Generate("site-1", tt.annual, tt.year, tt.month)
			if err == nil {
				t.Fatal("expected error")
			}
			var inputErr *InputError
			if !errors.As(err, &inputErr) {
				t.Fatalf("expected InputError, got %T: %v", err, err)
			}
		})
	}
}

func TestRoundedValues(t *testing.T) {
	r := Record{Generation: 344.4880875, Revenue: decimal.RequireFromString("18.085625")}
	if got := r.RoundedGeneration(); got != 344.49 {
		t.Errorf("RoundedGeneration = %v, want 344.49", got)
	}
	if got := r.RoundedRevenue(); !got.Equal(decimal.RequireFromString("18.09")) {
		t.Errorf("RoundedRevenue = %s, want 18.09", got)
	}
}
