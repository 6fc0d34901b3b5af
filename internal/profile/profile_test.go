package profile

import (
	"math"
	"testing"
)

func TestCESSumsToExactlyOne(t *testing.T) {
	if sum := CES().Sum(); math.Abs(sum-1.0) > 1e-12 {
		t.Errorf("normalized profile sums to %.15f, want 1.0", sum)
	}
}

func TestRawSharesSumWithinTolerance(t *testing.T) {
	sum := 0.0
	for _, s := range cesMonthlyShares {
		sum += s
	}
	// Published values sum to 99.99%, inside the 0.01 point tolerance.
	if math.Abs(sum*100-100) > 0.01 {
		t.Errorf("raw shares sum to %.4f%%, outside tolerance", sum*100)
	}
}

func TestSharePreservesSeasonalShape(t *testing.T) {
	p := CES()

	// May is the peak month; November/December the trough.
	if p.Share(5) <= p.Share(1) || p.Share(5) <= p.Share(12) {
		t.Error("May share should exceed winter months")
	}
	if math.Abs(p.Share(5)-0.1467/0.9999) > 1e-12 {
		t.Errorf("May share = %.10f, want normalized 0.1467", p.Share(5))
	}
}

func TestNewRejectsBadSum(t *testing.T) {
	bad := [12]float64{0.5, 0.5, 0.5, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if _, err := New(bad); err == nil {
		t.Error("expected error for shares summing to 150%")
	}

	var zero [12]float64
	if _, err := New(zero); err == nil {
		t.Error("expected error for all-zero shares")
	}
}

func TestNewNormalizesWithinTolerance(t *testing.T) {
	// Sums to 100.005%, inside tolerance; must normalize to exactly 1.0.
	raw := cesMonthlyShares
	raw[0] += 0.00015
	p, err := New(raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if math.Abs(p.Sum()-1.0) > 1e-12 {
		t.Errorf("normalized sum = %.15f, want 1.0", p.Sum())
	}
}
