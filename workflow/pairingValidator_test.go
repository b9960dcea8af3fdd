package workflow

import (
	"testing"
)

func TestRequiresPreviewBoundaries(t *testing.T) {
	cases := []struct {
		name   string
		result ValidationResult
		want   bool
	}{
		{"clean high score", ValidationResult{IsValid: true, MatchScore: 0.95}, false},
		{"just above floor", ValidationResult{IsValid: true, MatchScore: 0.81}, false},
		{"exactly at floor", ValidationResult{IsValid: true, MatchScore: 0.8}, true},
		{"below floor", ValidationResult{IsValid: true, MatchScore: 0.79}, true},
		{"invalid", ValidationResult{IsValid: false, MatchScore: 0.95}, true},
		{"warning present", ValidationResult{IsValid: true, MatchScore: 0.95, Warnings: []string{"supplier names differ"}}, true},
	}
	for _, c := range cases {
		if got := c.result.RequiresPreview(); got != c.want {
			t.Errorf("%s: RequiresPreview() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestEvaluateCandidateCleanPair(t *testing.T) {
	invoice := invoiceDoc("inv-1", 25,
		docItem("Chicken breast", 10, 2),
		docItem("Milk 1L", 5, 1))
	note := noteDoc("dn-1", 25,
		docItem("chicken breast", 10, 2),
		docItem("Milk 1L", 5, 1))

	result := NewValidator().EvaluateCandidate(invoice, note)
	if !result.IsValid {
		t.Errorf("clean pair marked invalid: %+v", result)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("clean pair has warnings: %v", result.Warnings)
	}
	if result.MatchScore <= directCommitScoreFloor {
		t.Errorf("matchScore = %v, want above %v", result.MatchScore, directCommitScoreFloor)
	}
	if result.RequiresPreview() {
		t.Errorf("clean pair must allow direct commit")
	}
}

func TestEvaluateCandidateShortDeliveryWarns(t *testing.T) {
	invoice := invoiceDoc("inv-1", 25,
		docItem("Chicken breast", 10, 2),
		docItem("Milk 1L", 5, 1))
	note := noteDoc("dn-1", 25,
		docItem("chicken breast", 8, 2),
		docItem("Milk 1L", 5, 1))

	result := NewValidator().EvaluateCandidate(invoice, note)
	if len(result.Warnings) == 0 {
		t.Fatalf("short delivery produced no warnings")
	}
	if !result.RequiresPreview() {
		t.Errorf("short delivery must require preview")
	}
	// 4.00 of shortfall is below the critical bar; the pair is still valid.
	if !result.IsValid {
		t.Errorf("moderate shortfall marked invalid: %+v", result)
	}
}

func TestEvaluateCandidateCriticalPriceMismatch(t *testing.T) {
	invoice := invoiceDoc("inv-1", 120)
	note := noteDoc("dn-1", 100)

	result := NewValidator().EvaluateCandidate(invoice, note)
	if result.IsValid {
		t.Errorf("critical price mismatch left the pair valid")
	}
	if !result.RequiresPreview() {
		t.Errorf("critical mismatch must require preview")
	}
}

func TestEvaluateCandidateSupplierMismatch(t *testing.T) {
	invoice := invoiceDoc("inv-1", 50)
	note := noteDoc("dn-1", 50)
	note.SupplierName = "Completely Different Wholesale"

	result := NewValidator().EvaluateCandidate(invoice, note)
	if result.IsValid {
		t.Errorf("unrelated suppliers left the pair valid")
	}
}

func TestEvaluateCandidateScoreBounded(t *testing.T) {
	invoice := invoiceDoc("inv-1", 0)
	note := noteDoc("dn-1", 0)
	note.SupplierName = "Someone Else Entirely"

	result := NewValidator().EvaluateCandidate(invoice, note)
	if result.MatchScore < 0 || result.MatchScore > 1 {
		t.Errorf("matchScore = %v, want within [0,1]", result.MatchScore)
	}
}
