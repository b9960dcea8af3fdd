package matching

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizeSupplierName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Brakes Bros Ltd.", "brakes bros"},
		{"Fresh Produce Company", "fresh produce"},
		{"ACME Corporation", "acme"},
		{"Smith & Sons PLC", "smith sons"},
		{"brakes bros", "brakes bros"},
	}
	for _, c := range cases {
		if got := NormalizeSupplierName(c.in); got != c.want {
			t.Errorf("NormalizeSupplierName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSupplierSimilarity(t *testing.T) {
	if got := SupplierSimilarity("Brakes Bros Ltd.", "brakes bros"); got != 1 {
		t.Errorf("suffix-only difference = %v, want 1", got)
	}
	if got := SupplierSimilarity("", "brakes bros"); got != 0 {
		t.Errorf("empty supplier = %v, want 0", got)
	}
	if got := SupplierSimilarity("Brakes Bros", "Completely Different"); got > 0.5 {
		t.Errorf("unrelated suppliers = %v, want <= 0.5", got)
	}
	// One-character OCR slip stays near the top after the near-match boost.
	if got := SupplierSimilarity("Fresh Produce", "Fresh Produze"); got < 0.9 {
		t.Errorf("near match = %v, want >= 0.9", got)
	}
}

func TestDateProximityScore(t *testing.T) {
	base := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		days int
		want float64
	}{
		{0, 1},
		{3, 1},
		{-3, 1},
		{5, 0.5},
		{7, 0.5},
		{9, 0.3},
		{12, 0},
		{40, 0},
	}
	for _, c := range cases {
		got := DateProximityScore(base, base.AddDate(0, 0, c.days))
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("DateProximityScore(+%dd) = %v, want %v", c.days, got, c.want)
		}
	}
	if got := DateProximityScore(time.Time{}, base); got != 0 {
		t.Errorf("zero date = %v, want 0", got)
	}
}

func TestAmountProximityScore(t *testing.T) {
	inv := decimal.NewFromInt(100)
	cases := []struct {
		delivery float64
		want     float64
	}{
		{100, 1},
		{98, 1},
		{97.5, 1},
		{96, 0.5},
		{95, 0.5},
		{92, 0.2},
		{80, 0},
	}
	for _, c := range cases {
		got := AmountProximityScore(inv, decimal.NewFromFloat(c.delivery))
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("AmountProximityScore(100, %v) = %v, want %v", c.delivery, got, c.want)
		}
	}
	if got := AmountProximityScore(decimal.Zero, inv); got != 0 {
		t.Errorf("zero invoice total = %v, want 0", got)
	}
}
