package tariff

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rate supplies the revenue rate per kWh for a site and budget month. Budget
// generation multiplies this by the monthly generation to derive revenue.
type Rate interface {
	Rate(siteID string, year, month int) decimal.Decimal
}

// FixedRate applies one flat rate to every site and month.
type FixedRate struct {
	PerKWh decimal.Decimal
}

// NewFixedRate parses a decimal rate string ("0.0525").
func NewFixedRate(rate string) (FixedRate, error) {
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return FixedRate{}, fmt.Errorf("failed to parse tariff rate %q: %w", rate, err)
	}
	if d.IsNegative() {
		return FixedRate{}, fmt.Errorf("tariff rate must not be negative: %s", rate)
	}
	return FixedRate{PerKWh: d}, nil
}

// Rate implements Rate.
func (f FixedRate) Rate(siteID string, year, month int) decimal.Decimal {
	return f.PerKWh
}

// Band is a rate valid from a given calendar year onwards.
type Band struct {
	FromYear int
	PerKWh   decimal.Decimal
}

// Schedule applies the most recent band whose FromYear is not after the
// budget year. Bands must be ordered by FromYear ascending. Months before the
// first band get a zero rate.
type Schedule struct {
	Bands []Band
}

// Rate implements Rate.
func (s Schedule) Rate(siteID string, year, month int) decimal.Decimal {
	rate := decimal.Zero
	for _, band := range s.Bands {
		if band.FromYear > year {
			break
		}
		rate = band.PerKWh
	}
	return rate
}

// Revenue computes the monthly revenue for a generation value. Full-precision
// decimal; rounding happens at persistence.
func Revenue(r Rate, siteID string, year, month int, generation float64) decimal.Decimal {
	return r.Rate(siteID, year, month).Mul(decimal.NewFromFloat(generation))
}
