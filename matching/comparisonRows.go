package matching

import "github.com/shopspring/decimal"

type RowStatus string

const (
	RowStatusOk         RowStatus = "ok"
	RowStatusShort      RowStatus = "short"
	RowStatusOver       RowStatus = "over"
	RowStatusNotMatched RowStatus = "not_matched"
)

// ComparisonRow is the per-line reconciliation of one invoice item against
// its matched delivery item. Derived entirely from one MatchResult, never
// persisted.
type ComparisonRow struct {
	Label           string          `json:"label"`
	InvQty          int             `json:"invQty"`
	DnQty           *int            `json:"dnQty,omitempty"`
	Unit            string          `json:"unit,omitempty"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	LineTotal       decimal.Decimal `json:"lineTotal"`
	Status          RowStatus       `json:"status"`
	FinancialImpact decimal.Decimal `json:"financialImpact"`
}

// BuildComparisonRows derives one row per match. Delivery quantities are
// trusted only for real matches (exact/sku/fuzzy); a partial candidate still
// counts as not matched for quantity purposes.
//
// Status is total over qty >= 0:
//
//	dnQty absent        -> not_matched
//	dnQty <  invQty     -> short
//	dnQty >  invQty     -> over
//	dnQty == invQty     -> ok
//
// Financial impact for short/not_matched rows is the undelivered quantity
// priced at the effective unit price.
func BuildComparisonRows(matches []MatchResult) []ComparisonRow {
	rows := make([]ComparisonRow, 0, len(matches))
	for _, m := range matches {
		row := ComparisonRow{
			Label:           m.InvoiceItem.Description,
			InvQty:          m.InvoiceItem.Qty,
			Unit:            m.InvoiceItem.Unit,
			UnitPrice:       m.InvoiceItem.EffectiveUnitPrice(),
			LineTotal:       m.InvoiceItem.LineTotal,
			FinancialImpact: decimal.Zero,
		}

		if m.DeliveryItem != nil && m.MatchType.Matched() {
			dnQty := m.DeliveryItem.Qty
			row.DnQty = &dnQty
			switch {
			case dnQty < row.InvQty:
				row.Status = RowStatusShort
			case dnQty > row.InvQty:
				row.Status = RowStatusOver
			default:
				row.Status = RowStatusOk
			}
		} else {
			row.Status = RowStatusNotMatched
		}

		if row.Status == RowStatusShort || row.Status == RowStatusNotMatched {
			delivered := 0
			if row.DnQty != nil {
				delivered = *row.DnQty
			}
			missing := row.InvQty - delivered
			if missing > 0 {
				row.FinancialImpact = row.UnitPrice.Mul(decimal.NewFromInt(int64(missing)))
			}
		}

		rows = append(rows, row)
	}
	return rows
}
