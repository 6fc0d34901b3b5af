package profile

import (
	"fmt"
	"math"
)

// Raw CES monthly generation percentages, January through December, as supplied
// on row 4 of the scheme's Self Consumption Profile sheet. The published values
// sum to 99.99%, so they are normalized before use.
var cesMonthlyShares = [12]float64{
	0.0285, // January
	0.0588, // February
	0.0801, // March
	0.1177, // April
	0.1467, // May
	0.1152, // June
	0.1230, // July
	0.1210, // August
	0.0957, // September
	0.0603, // October
	0.0278, // November
	0.0251, // December
}

// SelfConsumption holds the CES self-consumption fractions per calendar month.
// Kept for reference only; it is not stored in site_budgets.
var SelfConsumption = map[int]float64{
	1: 0.90, 2: 0.55, 3: 0.50, 4: 0.33, 5: 0.27, 6: 0.33,
	7: 0.33, 8: 0.33, 9: 0.33, 10: 0.55, 11: 0.90, 12: 0.90,
}

// Table is an immutable 12-entry monthly generation profile. Shares are
// fractions of annual generation per calendar month and sum to exactly 1.0.
type Table struct {
	shares [12]float64
}

// New builds a Table from raw monthly shares. The raw shares must sum to 100%
// within 0.01 percentage points; they are then normalized so the stored shares
// sum to exactly 1.0 (removes the rounding residue of 2-decimal source data).
func New(raw [12]float64) (Table, error) {
	sum := 0.0
	for _, s := range raw {
		sum += s
	}
	if math.Abs(sum*100-100) > 0.01 {
		return Table{}, fmt.Errorf("monthly profile does not sum to 100%%: %.4f%%", sum*100)
	}

	var t Table
	for i, s := range raw {
		t.shares[i] = s / sum
	}
	return t, nil
}

// CES returns the corrected Community Energy Scheme monthly profile.
func CES() Table {
	t, err := New(cesMonthlyShares)
	if err != nil {
		// The constants above are validated by tests; reaching this means the
		// source table was edited to something invalid.
		panic(err)
	}
	return t
}

// Share returns the fraction of annual generation assigned to a calendar
// month (1-12).
func (t Table) Share(month int) float64 {
	return t.shares[month-1]
}

// Shares returns all twelve monthly fractions, January first.
func (t Table) Shares() [12]float64 {
	return t.shares
}

// Sum returns the total of all monthly shares. Always 1.0 for a normalized
// table; exposed so validation reports can echo the check.
func (t Table) Sum() float64 {
	sum := 0.0
	for _, s := range t.shares {
		sum += s
	}
	return sum
}
