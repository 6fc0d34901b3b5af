package budget

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/ces-budgetfix/internal/profile"
	"github.com/ces-budgetfix/internal/tariff"
)

// Record is one month of a site's generated budget matrix. Generation and
// Revenue carry full precision; rounding to two decimal places happens only at
// the point of persistence or rendering.
type Record struct {
	SiteID     string
	Year       int
	Month      int
	Generation float64
	Revenue    decimal.Decimal
}

// RoundedGeneration returns the generation value as it will be persisted.
func (r Record) RoundedGeneration() float64 {
	return math.Round(r.Generation*100) / 100
}

// RoundedRevenue returns the revenue value as it will be persisted.
func (r Record) RoundedRevenue() decimal.Decimal {
	return r.Revenue.Round(2)
}

// InputError marks a site whose inputs cannot produce a budget matrix. It
// aborts processing for that site only.
type InputError struct {
	SiteID string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid budget input for site %s: %s", e.SiteID, e.Reason)
}

// Config fixes the shape parameters of budget generation. Passed explicitly so
// tests can inject alternate profiles and rates without global state.
type Config struct {
	Profile         profile.Table
	DegradationRate float64
	HorizonYears    int
}

// DefaultConfig returns the contractual CES parameters: the corrected monthly
// profile, 0.4% annual degradation and a 25-year horizon.
func DefaultConfig() Config {
	return Config{
		Profile:         profile.CES(),
		DegradationRate: 0.004,
		HorizonYears:    25,
	}
}

// Generator produces deterministic budget matrices.
type Generator struct {
	cfg   Config
	rates tariff.Rate
}

// NewGenerator creates a generator with the given shape config and tariff.
func NewGenerator(cfg Config, rates tariff.Rate) *Generator {
	return &Generator{cfg: cfg, rates: rates}
}

// Generate builds the ordered monthly budget matrix for one site:
// HorizonYears cycles of 12 months anchored at the commissioning month. The
// first cycle distributes the annual generation across calendar months by the
// profile, wrapping into the following calendar year when the site was not
// commissioned in January. Cycle N scales every month of cycle 1 by
// (1-rate)^(N-1), computed closed-form from the cycle-1 values so rounding
// never compounds across years.
func (g *Generator) Generate(siteID string, annualGeneration float64, commissionYear, commissionMonth int) ([]Record, error) {
	if annualGeneration <= 0 || math.IsNaN(annualGeneration) || math.IsInf(annualGeneration, 0) {
		return nil, &InputError{SiteID: siteID, Reason: fmt.Sprintf("annual generation must be > 0, got %v", annualGeneration)}
	}
	if commissionMonth < 1 || commissionMonth > 12 {
		return nil, &InputError{SiteID: siteID, Reason: fmt.Sprintf("commissioning month must be 1-12, got %d", commissionMonth)}
	}

	records := make([]Record, 0, g.cfg.HorizonYears*12)

	var base [12]float64
	for m := 1; m <= 12; m++ {
		base[m-1] = annualGeneration * g.cfg.Profile.Share(m)
	}

	for offset := 0; offset < g.cfg.HorizonYears; offset++ {
		factor := math.Pow(1-g.cfg.DegradationRate, float64(offset))

		for i := 0; i < 12; i++ {
			month := (commissionMonth-1+i)%12 + 1
			year := commissionYear + offset + (commissionMonth-1+i)/12
			generation := base[month-1] * factor

			records = append(records, Record{
				SiteID:     siteID,
				Year:       year,
				Month:      month,
				Generation: generation,
				Revenue:    tariff.Revenue(g.rates, siteID, year, month, generation),
			})
		}
	}

	return records, nil
}

// CycleTotals sums generation per 12-month cycle in record order. Records must
// be a matrix produced by Generate.
func CycleTotals(records []Record) []float64 {
	totals := make([]float64, 0, len(records)/12)
	for i := 0; i+12 <= len(records); i += 12 {
		sum := 0.0
		for _, r := range records[i : i+12] {
			sum += r.Generation
		}
		totals = append(totals, sum)
	}
	return totals
}
