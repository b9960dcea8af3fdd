package workflow

import (
	"fmt"

	"bitbucket.org/owlinhq/reconcile_backend/matching"
	"bitbucket.org/owlinhq/reconcile_backend/models"
	"github.com/shopspring/decimal"
)

// directCommitScoreFloor is the score a validation must strictly exceed
// before a commit may skip the preview step. Exactly 0.8 still previews.
const directCommitScoreFloor = 0.8

// Match score component weights. Row agreement carries the most signal
// because it is computed from the actual line items, not header metadata.
const (
	validatorRowWeight      = 0.4
	validatorSupplierWeight = 0.25
	validatorPriceWeight    = 0.2
	validatorDateWeight     = 0.15
)

// ValidationResult is the outcome of validating one candidate pair. It is
// computed fresh on every call and never cached across a commit.
type ValidationResult struct {
	IsValid    bool     `json:"isValid"`
	MatchScore float64  `json:"matchScore"`
	Warnings   []string `json:"warnings,omitempty"`
}

// RequiresPreview reports whether the pair needs a preview/override step
// before commit. Direct commit is allowed only for a valid, warning-free
// result scoring strictly above the floor.
func (r ValidationResult) RequiresPreview() bool {
	return !r.IsValid || r.MatchScore <= directCommitScoreFloor || len(r.Warnings) > 0
}

// Validator scores a candidate invoice/delivery-note pair and collects the
// issues a reviewer should see before confirming it.
type Validator struct {
	SimilarityThreshold float64
}

func NewValidator() *Validator {
	return &Validator{SimilarityThreshold: matching.DefaultSimilarityThreshold}
}

// EvaluateCandidate validates one pair. IsValid flips to false on any
// critical-grade issue; everything milder lands in Warnings.
func (v *Validator) EvaluateCandidate(invoice, note *models.DocumentDetails) ValidationResult {
	threshold := v.SimilarityThreshold
	if threshold <= 0 {
		threshold = matching.DefaultSimilarityThreshold
	}

	rows := matching.BuildComparisonRows(
		matching.MatchLineItems(invoice.LineItems, note.LineItems, threshold))

	rowScore := 1.0
	if len(rows) > 0 {
		okRows := 0
		for _, row := range rows {
			if row.Status == matching.RowStatusOk {
				okRows++
			}
		}
		rowScore = float64(okRows) / float64(len(rows))
	}

	supplierScore := matching.SupplierSimilarity(invoice.SupplierName, note.SupplierName)
	priceScore := matching.AmountProximityScore(invoice.Total, note.Total)
	dateScore := matching.DateProximityScore(invoice.Date, note.Date)

	score := rowScore*validatorRowWeight +
		supplierScore*validatorSupplierWeight +
		priceScore*validatorPriceWeight +
		dateScore*validatorDateWeight
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	result := ValidationResult{IsValid: true, MatchScore: score}

	if d := detectPriceMismatch(invoice.ID, invoice.Total, note.Total); d != nil {
		result.Warnings = append(result.Warnings, d.Description)
		if d.Severity == SeverityCritical {
			result.IsValid = false
		}
	}

	if d := detectShortDelivery(invoice.ID, rows); d != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%s (impact %s)", d.Description, d.FinancialImpact.StringFixed(2)))
		if d.Severity == SeverityCritical {
			result.IsValid = false
		}
	}

	overImpact := decimal.Zero
	overRows := 0
	for _, row := range rows {
		if row.Status != matching.RowStatusOver || row.DnQty == nil {
			continue
		}
		overRows++
		extra := *row.DnQty - row.InvQty
		overImpact = overImpact.Add(row.UnitPrice.Mul(decimal.NewFromInt(int64(extra))))
	}
	if overRows > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d line(s) over-delivered", overRows))
		if overImpact.GreaterThan(shortDeliveryCritical) {
			result.IsValid = false
		}
	}

	switch {
	case supplierScore < 0.5:
		result.Warnings = append(result.Warnings, "supplier names do not match")
		result.IsValid = false
	case supplierScore < 0.8:
		result.Warnings = append(result.Warnings, "supplier names differ")
	}

	if dateScore == 0 && !invoice.Date.IsZero() && !note.Date.IsZero() {
		result.Warnings = append(result.Warnings, "delivery date is far from the invoice date")
	}

	if d := detectLowConfidence(invoice.ID, invoice, note); d != nil {
		result.Warnings = append(result.Warnings, d.Description)
		if d.Severity == SeverityCritical {
			result.IsValid = false
		}
	}

	return result
}
