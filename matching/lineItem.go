package matching

import "github.com/shopspring/decimal"

// LineItem is one row of an invoice or delivery note as seen by the matcher.
// Missing qty/price are defaulted to zero upstream so matching degrades
// instead of aborting.
type LineItem struct {
	Description string          `json:"description"`
	SKU         string          `json:"sku,omitempty"`
	Qty         int             `json:"qty"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// EffectiveUnitPrice returns the stored unit price, falling back to
// lineTotal/qty when the price is zero but qty and total are known.
// The stored line total stays authoritative for money either way.
func (li LineItem) EffectiveUnitPrice() decimal.Decimal {
	if li.UnitPrice.IsPositive() {
		return li.UnitPrice
	}
	if li.Qty > 0 && li.LineTotal.IsPositive() {
		return li.LineTotal.Div(decimal.NewFromInt(int64(li.Qty)))
	}
	return decimal.Zero
}

type MatchType string

const (
	MatchTypeExact   MatchType = "exact"
	MatchTypeSku     MatchType = "sku"
	MatchTypeFuzzy   MatchType = "fuzzy"
	MatchTypePartial MatchType = "partial"
	MatchTypeNone    MatchType = "none"
)

// Matched reports whether the match is trustworthy for quantity comparisons.
// Partial matches surface a candidate but are not treated as matched.
func (t MatchType) Matched() bool {
	switch t {
	case MatchTypeExact, MatchTypeSku, MatchTypeFuzzy:
		return true
	default:
		return false
	}
}

// MatchResult pairs one invoice item with at most one delivery item.
// DeliveryItem is nil exactly when MatchType is none; Similarity is 1
// exactly when MatchType is exact.
type MatchResult struct {
	InvoiceItem  LineItem  `json:"invoiceItem"`
	DeliveryItem *LineItem `json:"deliveryItem,omitempty"`
	Similarity   float64   `json:"similarity"`
	MatchType    MatchType `json:"matchType"`
}
