package workflow

import (
	"github.com/shopspring/decimal"
)

type DiscrepancyType string

const (
	DiscrepancyPriceMismatch DiscrepancyType = "price_mismatch"
	DiscrepancyShortDelivery DiscrepancyType = "short_delivery"
	DiscrepancyMissingDn     DiscrepancyType = "missing_dn"
	DiscrepancyLowConfidence DiscrepancyType = "low_confidence"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities for sorting; lower is more severe.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// ItemDetail names one line item contributing to a discrepancy.
type ItemDetail struct {
	Label  string `json:"label"`
	InvQty int    `json:"invQty"`
	DnQty  *int   `json:"dnQty,omitempty"`
	Status string `json:"status"`
}

// Discrepancy is one detected issue on one invoice.
type Discrepancy struct {
	ID              string          `json:"id"`
	Type            DiscrepancyType `json:"type"`
	Severity        Severity        `json:"severity"`
	DocumentID      string          `json:"documentId"`
	Value           decimal.Decimal `json:"value"`
	Percentage      float64         `json:"percentage"`
	FinancialImpact decimal.Decimal `json:"financialImpact"`
	Items           []ItemDetail    `json:"items,omitempty"`
	Description     string          `json:"description,omitempty"`
}
