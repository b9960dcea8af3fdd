package matching

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var supplierSuffixPattern = regexp.MustCompile(`\b(ltd|limited|inc|corp|corporation|co|company|plc)\b`)

// NormalizeSupplierName strips legal suffixes and punctuation so that
// "Brakes Bros Ltd." and "brakes bros" compare equal.
func NormalizeSupplierName(name string) string {
	name = supplierSuffixPattern.ReplaceAllString(strings.ToLower(name), " ")
	return NormalizeDescription(name)
}

// SupplierSimilarity scores two supplier names in [0,1]. Near matches get a
// small boost so minor OCR noise does not drag an obviously identical
// supplier below downstream gates.
func SupplierSimilarity(a, b string) float64 {
	normA := NormalizeSupplierName(a)
	normB := NormalizeSupplierName(b)
	if normA == "" || normB == "" {
		return 0
	}
	if normA == normB {
		return 1
	}
	similarity := editRatio(normA, normB)
	if similarity > 0.8 {
		similarity += 0.1
		if similarity > 1 {
			similarity = 1
		}
	}
	return similarity
}

// DateProximityScore scores how close a delivery date sits to an invoice
// date: within 3 days scores 1, within 7 days 0.5, then it decays to 0.
func DateProximityScore(invoiceDate, deliveryDate time.Time) float64 {
	if invoiceDate.IsZero() || deliveryDate.IsZero() {
		return 0
	}
	daysDiff := invoiceDate.Sub(deliveryDate).Hours() / 24
	if daysDiff < 0 {
		daysDiff = -daysDiff
	}
	switch {
	case daysDiff <= 3:
		return 1
	case daysDiff <= 7:
		return 0.5
	default:
		score := 0.5 - (daysDiff-7)*0.1
		if score < 0 {
			return 0
		}
		return score
	}
}

// AmountProximityScore scores how close two document totals are: within 2.5%
// scores 1, within 5% scores 0.5, then it decays to 0.
func AmountProximityScore(invoiceTotal, deliveryTotal decimal.Decimal) float64 {
	if !invoiceTotal.IsPositive() || !deliveryTotal.IsPositive() {
		return 0
	}
	diffPct, _ := invoiceTotal.Sub(deliveryTotal).Abs().Div(invoiceTotal).Float64()
	switch {
	case diffPct <= 0.025:
		return 1
	case diffPct <= 0.05:
		return 0.5
	default:
		score := 0.5 - (diffPct-0.05)*10
		if score < 0 {
			return 0
		}
		return score
	}
}
