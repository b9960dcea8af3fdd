package models

import (
	"testing"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/matching"
	"github.com/shopspring/decimal"
)

func demoInvoice() *DocumentDetails {
	return &DocumentDetails{
		ID:           "inv-1",
		Kind:         DocumentKindInvoice,
		SupplierName: "Brakes Bros Ltd",
		Date:         time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		Total:        decimal.NewFromInt(100),
	}
}

func demoNote(supplier string, daysAfter int, total float64) *DeliveryNote {
	return &DeliveryNote{
		ID:           "dn-1",
		SupplierName: supplier,
		DeliveryDate: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, daysAfter),
		TotalAmount:  decimal.NewFromFloat(total),
	}
}

func TestScoreCandidatePerfectMatch(t *testing.T) {
	s := scoreCandidate(demoInvoice(), demoNote("Brakes Bros", 1, 100))
	if s.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", s.Confidence)
	}
	if s.SupplierScore != 1 || s.DateScore != 1 || s.AmountScore != 1 {
		t.Errorf("component scores = %+v", s)
	}
	if len(s.Reasons) == 0 {
		t.Errorf("perfect match produced no reasons")
	}
}

func TestScoreCandidateWeighting(t *testing.T) {
	// Same supplier, stale date, different total: only the supplier
	// component contributes.
	s := scoreCandidate(demoInvoice(), demoNote("Brakes Bros", 20, 50))
	if s.Confidence < 0.59 || s.Confidence > 0.61 {
		t.Errorf("confidence = %v, want 0.6 from the supplier weight", s.Confidence)
	}
}

func TestScoreCandidateBelowThresholdSupplier(t *testing.T) {
	s := scoreCandidate(demoInvoice(), demoNote("Someone Else Entirely", 1, 100))
	if s.Confidence >= SuggestionScoreThreshold {
		t.Errorf("confidence = %v, want below %v for an unrelated supplier",
			s.Confidence, SuggestionScoreThreshold)
	}
}

func TestAttachQuantityCheckMismatch(t *testing.T) {
	s := &PairingSuggestion{Confidence: 0.9}
	attachQuantityCheck(s,
		[]matching.LineItem{
			{Description: "Chicken breast", Qty: 10, UnitPrice: decimal.NewFromInt(2)},
			{Description: "Milk 1L", Qty: 5, UnitPrice: decimal.NewFromInt(1)},
		},
		[]matching.LineItem{
			{Description: "chicken breast", Qty: 8, UnitPrice: decimal.NewFromInt(2)},
			{Description: "Milk 1L", Qty: 5, UnitPrice: decimal.NewFromInt(1)},
		})

	if !s.HasQuantityMismatch {
		t.Errorf("mismatch not flagged")
	}
	if s.QuantityMatchScore != 0.5 {
		t.Errorf("quantityMatchScore = %v, want 0.5", s.QuantityMatchScore)
	}
	if len(s.QuantityDifferences) != 1 || s.QuantityDifferences[0].Label != "Chicken breast" {
		t.Errorf("differences = %+v", s.QuantityDifferences)
	}
	if s.AutoPairEligible {
		t.Errorf("mismatched pair must not be auto-pair eligible")
	}
}

func TestAttachQuantityCheckCleanPairIsAutoEligible(t *testing.T) {
	s := &PairingSuggestion{Confidence: 0.9}
	attachQuantityCheck(s,
		[]matching.LineItem{{Description: "Milk 1L", Qty: 5, UnitPrice: decimal.NewFromInt(1)}},
		[]matching.LineItem{{Description: "Milk 1L", Qty: 5, UnitPrice: decimal.NewFromInt(1)}})

	if s.HasQuantityMismatch {
		t.Errorf("clean pair flagged as mismatched")
	}
	if !s.AutoPairEligible {
		t.Errorf("clean 0.9 confidence pair should be auto-pair eligible")
	}
}

func TestAttachQuantityCheckRespectsConfidenceFloor(t *testing.T) {
	s := &PairingSuggestion{Confidence: 0.7}
	attachQuantityCheck(s,
		[]matching.LineItem{{Description: "Milk 1L", Qty: 5, UnitPrice: decimal.NewFromInt(1)}},
		[]matching.LineItem{{Description: "Milk 1L", Qty: 5, UnitPrice: decimal.NewFromInt(1)}})

	if s.AutoPairEligible {
		t.Errorf("0.7 confidence must stay below the auto-pair floor %v", AutoPairScoreThreshold)
	}
}

func TestScoreCandidateFallsBackToLineItemTotal(t *testing.T) {
	invoice := demoInvoice()
	invoice.Total = decimal.Zero
	invoice.LineItems = []matching.LineItem{
		{Description: "Milk 1L", Qty: 100, UnitPrice: decimal.NewFromInt(1)},
	}

	s := scoreCandidate(invoice, demoNote("Brakes Bros", 1, 100))
	if s.AmountScore != 1 {
		t.Errorf("amountScore = %v, want 1 from the line item total", s.AmountScore)
	}
}

func TestTotalFromLineItems(t *testing.T) {
	total := TotalFromLineItems([]matching.LineItem{
		{Description: "A", Qty: 2, UnitPrice: decimal.NewFromInt(3)},
		{Description: "B", Qty: 4, LineTotal: decimal.NewFromInt(12)},
	})
	if !total.Equal(decimal.NewFromInt(18)) {
		t.Errorf("total = %s, want 18", total)
	}
}
