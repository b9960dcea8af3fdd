package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/config"
	"bitbucket.org/owlinhq/reconcile_backend/matching"
	"github.com/shopspring/decimal"
)

// Composite suggestion score weights. Supplier identity dominates; date and
// amount proximity refine the ranking between same-supplier candidates.
const (
	suggestionSupplierWeight = 0.6
	suggestionDateWeight     = 0.2
	suggestionAmountWeight   = 0.2

	// SuggestionScoreThreshold is the floor below which a candidate is not
	// worth surfacing to a user.
	SuggestionScoreThreshold = 0.55
	// AutoPairScoreThreshold is the floor for unattended auto-confirmation.
	AutoPairScoreThreshold = 0.85
)

const suggestionCacheTTL = 5 * time.Minute

// candidateWindowDays bounds the date scan around the source document.
const candidateWindowDays = 30

type QuantityDifference struct {
	Label  string `json:"label"`
	InvQty int    `json:"invQty"`
	DnQty  int    `json:"dnQty"`
}

// PairingSuggestion is one ranked pairing candidate with the component
// scores that produced its confidence.
type PairingSuggestion struct {
	InvoiceID           string               `json:"invoiceId"`
	DeliveryNoteID      string               `json:"deliveryNoteId"`
	Confidence          float64              `json:"confidence"`
	SupplierScore       float64              `json:"supplierScore"`
	DateScore           float64              `json:"dateScore"`
	AmountScore         float64              `json:"amountScore"`
	QuantityMatchScore  float64              `json:"quantityMatchScore"`
	HasQuantityMismatch bool                 `json:"hasQuantityMismatch"`
	QuantityDifferences []QuantityDifference `json:"quantityDifferences,omitempty"`
	Reasons             []string             `json:"reasons,omitempty"`
	AutoPairEligible    bool                 `json:"autoPairEligible"`
}

func suggestionCacheKey(documentId string) string {
	return "PairingSuggestions:" + documentId
}

func invalidateSuggestionCache(ctx context.Context, documentIds ...string) {
	keys := make([]string, 0, len(documentIds))
	for _, id := range documentIds {
		keys = append(keys, suggestionCacheKey(id))
	}
	if err := config.RemoveRedisKey(keys...); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "suggestion.go", "invalidateSuggestionCache",
			"cache invalidation failed", documentIds, err)
	}
}

// GetPairingSuggestions ranks unpaired delivery notes as candidates for the
// given invoice, best first. Results are cached briefly; any pairing change
// touching either document invalidates the cache.
func GetPairingSuggestions(ctx context.Context, invoiceId string) ([]PairingSuggestion, error) {
	var cached []PairingSuggestion
	if ok, err := config.GetRedisObject(suggestionCacheKey(invoiceId), &cached); err == nil && ok {
		return cached, nil
	}

	invoice, err := GetInvoiceDetails(ctx, invoiceId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not connected")
	}

	windowStart := invoice.Date.AddDate(0, 0, -candidateWindowDays)
	windowEnd := invoice.Date.AddDate(0, 0, candidateWindowDays)
	var notes []DeliveryNote
	err = db.WithContext(ctx).
		Where("venue_id = ? AND matched_invoice_id IS NULL", invoice.VenueID).
		Where("delivery_date BETWEEN ? AND ?", windowStart, windowEnd).
		Find(&notes).Error
	if err != nil {
		return nil, err
	}

	suggestions := make([]PairingSuggestion, 0, len(notes))
	for _, note := range notes {
		suggestion := scoreCandidate(invoice, &note)
		if suggestion.Confidence < SuggestionScoreThreshold {
			continue
		}
		items, err := GetDocumentLineItems(ctx, note.ID, DocumentKindDeliveryNote)
		if err != nil {
			return nil, err
		}
		attachQuantityCheck(&suggestion, invoice.LineItems, items)
		suggestions = append(suggestions, suggestion)
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})

	if err := config.SetRedisObject(suggestionCacheKey(invoiceId), suggestions, suggestionCacheTTL); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "suggestion.go", "GetPairingSuggestions",
			"cache write failed", invoiceId, err)
	}
	return suggestions, nil
}

// GetCounterpartSuggestions ranks unpaired invoices as candidates for the
// given delivery note, best first.
func GetCounterpartSuggestions(ctx context.Context, deliveryNoteId string) ([]PairingSuggestion, error) {
	var cached []PairingSuggestion
	if ok, err := config.GetRedisObject(suggestionCacheKey(deliveryNoteId), &cached); err == nil && ok {
		return cached, nil
	}

	note, err := GetDeliveryNoteDetails(ctx, deliveryNoteId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not connected")
	}

	windowStart := note.Date.AddDate(0, 0, -candidateWindowDays)
	windowEnd := note.Date.AddDate(0, 0, candidateWindowDays)
	var invoices []Invoice
	err = db.WithContext(ctx).
		Where("venue_id = ? AND paired = ?", note.VenueID, false).
		Where("invoice_date BETWEEN ? AND ?", windowStart, windowEnd).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}

	suggestions := make([]PairingSuggestion, 0, len(invoices))
	for _, invoice := range invoices {
		invoiceDetails := &DocumentDetails{
			ID:           invoice.ID,
			Kind:         DocumentKindInvoice,
			VenueID:      invoice.VenueID,
			SupplierName: invoice.SupplierName,
			Date:         invoice.InvoiceDate,
			Total:        invoice.TotalAmount,
		}
		suggestion := scoreCandidate(invoiceDetails, &DeliveryNote{
			ID:           note.ID,
			SupplierName: note.SupplierName,
			DeliveryDate: note.Date,
			TotalAmount:  note.Total,
		})
		if suggestion.Confidence < SuggestionScoreThreshold {
			continue
		}
		items, err := GetDocumentLineItems(ctx, invoice.ID, DocumentKindInvoice)
		if err != nil {
			return nil, err
		}
		attachQuantityCheck(&suggestion, items, note.LineItems)
		suggestions = append(suggestions, suggestion)
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})

	if err := config.SetRedisObject(suggestionCacheKey(deliveryNoteId), suggestions, suggestionCacheTTL); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "suggestion.go", "GetCounterpartSuggestions",
			"cache write failed", deliveryNoteId, err)
	}
	return suggestions, nil
}

func scoreCandidate(invoice *DocumentDetails, note *DeliveryNote) PairingSuggestion {
	supplierScore := matching.SupplierSimilarity(invoice.SupplierName, note.SupplierName)
	dateScore := matching.DateProximityScore(invoice.Date, note.DeliveryDate)

	// Extraction sometimes misses the printed total; the line items are the
	// next best estimate.
	invoiceTotal := invoice.Total
	if !invoiceTotal.IsPositive() {
		invoiceTotal = TotalFromLineItems(invoice.LineItems)
	}
	amountScore := matching.AmountProximityScore(invoiceTotal, note.TotalAmount)

	confidence := supplierScore*suggestionSupplierWeight +
		dateScore*suggestionDateWeight +
		amountScore*suggestionAmountWeight

	suggestion := PairingSuggestion{
		InvoiceID:      invoice.ID,
		DeliveryNoteID: note.ID,
		Confidence:     confidence,
		SupplierScore:  supplierScore,
		DateScore:      dateScore,
		AmountScore:    amountScore,
	}

	if supplierScore >= 0.99 {
		suggestion.Reasons = append(suggestion.Reasons, "same supplier")
	} else if supplierScore >= 0.8 {
		suggestion.Reasons = append(suggestion.Reasons, "similar supplier name")
	}
	if dateScore >= 1 {
		suggestion.Reasons = append(suggestion.Reasons, "delivery within 3 days of invoice")
	}
	if amountScore >= 1 {
		suggestion.Reasons = append(suggestion.Reasons, "totals within 2.5%")
	} else if amountScore > 0 && invoiceTotal.IsPositive() {
		diff := invoiceTotal.Sub(note.TotalAmount).Abs()
		suggestion.Reasons = append(suggestion.Reasons,
			fmt.Sprintf("totals differ by %s", diff.StringFixed(2)))
	}

	return suggestion
}

// attachQuantityCheck runs the line item matcher over both documents and
// folds quantity agreement into the suggestion. A perfect row set leaves the
// confidence untouched; mismatches are reported but do not re-weight the
// composite score, auto-pair eligibility is what they gate.
func attachQuantityCheck(s *PairingSuggestion, invoiceItems, deliveryItems []matching.LineItem) {
	if len(invoiceItems) == 0 {
		s.QuantityMatchScore = 1
		s.AutoPairEligible = s.Confidence >= AutoPairScoreThreshold
		return
	}

	rows := matching.BuildComparisonRows(
		matching.MatchLineItems(invoiceItems, deliveryItems, matching.DefaultSimilarityThreshold))

	okRows := 0
	for _, row := range rows {
		if row.Status == matching.RowStatusOk {
			okRows++
			continue
		}
		s.HasQuantityMismatch = true
		dnQty := 0
		if row.DnQty != nil {
			dnQty = *row.DnQty
		}
		s.QuantityDifferences = append(s.QuantityDifferences, QuantityDifference{
			Label:  row.Label,
			InvQty: row.InvQty,
			DnQty:  dnQty,
		})
	}
	s.QuantityMatchScore = float64(okRows) / float64(len(rows))
	s.AutoPairEligible = s.Confidence >= AutoPairScoreThreshold && !s.HasQuantityMismatch
}

// TotalFromLineItems sums qty*unitPrice as a fallback when a document total
// was not extracted.
func TotalFromLineItems(items []matching.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.EffectiveUnitPrice().Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	return total
}
