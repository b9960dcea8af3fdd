package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bitbucket.org/owlinhq/reconcile_backend/config"
	"bitbucket.org/owlinhq/reconcile_backend/matching"
	"bitbucket.org/owlinhq/reconcile_backend/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DocumentFetcher supplies document details to the aggregator. The HTTP
// layer provides a dataloader-backed implementation; tests provide an
// in-memory one.
type DocumentFetcher interface {
	InvoiceDetails(ctx context.Context, id string) (*models.DocumentDetails, error)
	DeliveryNoteDetails(ctx context.Context, id string) (*models.DocumentDetails, error)
}

// DocumentRef names one invoice and, when paired, its delivery note.
type DocumentRef struct {
	InvoiceID      string  `json:"invoiceId"`
	DeliveryNoteID *string `json:"deliveryNoteId,omitempty"`
}

// AggregationResult carries the detected discrepancies plus the per-document
// failures that did not stop the rest of the batch.
type AggregationResult struct {
	Discrepancies []Discrepancy     `json:"discrepancies"`
	Failures      map[string]string `json:"failures,omitempty"`
}

// Price mismatch fires when totals differ by more than 1% of the larger
// total or by more than 2 in absolute terms.
var (
	priceMismatchAbsFloor = decimal.NewFromInt(2)
	priceMismatchCritical = decimal.NewFromInt(10)
	priceMismatchInfoCeil = decimal.NewFromInt(2)
	shortDeliveryCritical = decimal.NewFromInt(10)
	shortDeliveryWarning  = decimal.NewFromInt(2)
)

const (
	priceMismatchPctFloor      = 1.0
	priceMismatchPctCritical   = 5.0
	priceMismatchPctInfoCeil   = 1.5
	lowConfidenceWarningFloor  = 0.7
	lowConfidenceCriticalFloor = 0.5
)

// Aggregator fans document refs out to the detectors and merges the results
// into a single ordered report.
type Aggregator struct {
	Fetcher             DocumentFetcher
	Tracer              trace.Tracer
	SimilarityThreshold float64
	MaxConcurrency      int
}

func NewAggregator(fetcher DocumentFetcher) *Aggregator {
	return &Aggregator{
		Fetcher:             fetcher,
		Tracer:              otel.Tracer("workflow"),
		SimilarityThreshold: matching.DefaultSimilarityThreshold,
		MaxConcurrency:      8,
	}
}

// Aggregate evaluates every ref concurrently. A fetch or detector failure on
// one document is recorded in Failures and never aborts the others.
// Discrepancies come back sorted by financial impact, largest first, with
// severity breaking ties.
func (a *Aggregator) Aggregate(ctx context.Context, refs []DocumentRef) (*AggregationResult, error) {
	tracer := a.Tracer
	if tracer == nil {
		tracer = otel.Tracer("workflow")
	}
	ctx, span := tracer.Start(ctx, "Aggregator.Aggregate")
	defer span.End()

	logger := config.GetLogger()

	result := &AggregationResult{
		Discrepancies: []Discrepancy{},
		Failures:      map[string]string{},
	}

	concurrency := a.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	sem := make(chan struct{}, concurrency)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		sem <- struct{}{}
		go func(ref DocumentRef) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					config.LogError(logger, "discrepancyAggregator.go", "Aggregate",
						"detector panicked", ref.InvoiceID, fmt.Errorf("%v", r))
					mu.Lock()
					result.Failures[ref.InvoiceID] = fmt.Sprintf("internal error: %v", r)
					mu.Unlock()
				}
			}()

			discrepancies, err := a.evaluateRef(ctx, ref)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures[ref.InvoiceID] = err.Error()
				return
			}
			result.Discrepancies = append(result.Discrepancies, discrepancies...)
		}(ref)
	}
	wg.Wait()

	sort.SliceStable(result.Discrepancies, func(i, j int) bool {
		cmp := result.Discrepancies[i].FinancialImpact.Cmp(result.Discrepancies[j].FinancialImpact)
		if cmp != 0 {
			return cmp > 0
		}
		return severityRank(result.Discrepancies[i].Severity) < severityRank(result.Discrepancies[j].Severity)
	})
	return result, nil
}

func (a *Aggregator) evaluateRef(ctx context.Context, ref DocumentRef) ([]Discrepancy, error) {
	invoice, err := a.Fetcher.InvoiceDetails(ctx, ref.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice fetch: %w", err)
	}

	var out []Discrepancy

	if ref.DeliveryNoteID == nil {
		out = append(out, Discrepancy{
			ID:              uuid.NewString(),
			Type:            DiscrepancyMissingDn,
			Severity:        SeverityWarning,
			DocumentID:      ref.InvoiceID,
			Value:           invoice.Total,
			FinancialImpact: invoice.Total,
			Description:     "no delivery note paired to this invoice",
		})
		if d := detectLowConfidence(ref.InvoiceID, invoice, nil); d != nil {
			out = append(out, *d)
		}
		return out, nil
	}

	note, err := a.Fetcher.DeliveryNoteDetails(ctx, *ref.DeliveryNoteID)
	if err != nil {
		return nil, fmt.Errorf("delivery note fetch: %w", err)
	}

	if d := detectPriceMismatch(ref.InvoiceID, invoice.Total, note.Total); d != nil {
		out = append(out, *d)
	}

	rows := matching.BuildComparisonRows(
		matching.MatchLineItems(invoice.LineItems, note.LineItems, a.SimilarityThreshold))
	if d := detectShortDelivery(ref.InvoiceID, rows); d != nil {
		out = append(out, *d)
	}

	if d := detectLowConfidence(ref.InvoiceID, invoice, note); d != nil {
		out = append(out, *d)
	}
	return out, nil
}

func detectPriceMismatch(invoiceId string, invoiceTotal, noteTotal decimal.Decimal) *Discrepancy {
	diff := invoiceTotal.Sub(noteTotal).Abs()
	larger := invoiceTotal
	if noteTotal.GreaterThan(larger) {
		larger = noteTotal
	}
	pct := 0.0
	if larger.IsPositive() {
		ratio, _ := diff.Div(larger).Float64()
		pct = ratio * 100
	}

	if pct <= priceMismatchPctFloor && diff.LessThanOrEqual(priceMismatchAbsFloor) {
		return nil
	}

	var severity Severity
	switch {
	case diff.GreaterThan(priceMismatchCritical) || pct > priceMismatchPctCritical:
		severity = SeverityCritical
	case diff.LessThanOrEqual(priceMismatchInfoCeil) && pct <= priceMismatchPctInfoCeil:
		severity = SeverityInfo
	default:
		severity = SeverityWarning
	}

	return &Discrepancy{
		ID:              uuid.NewString(),
		Type:            DiscrepancyPriceMismatch,
		Severity:        severity,
		DocumentID:      invoiceId,
		Value:           diff,
		Percentage:      pct,
		FinancialImpact: diff,
		Description: fmt.Sprintf("invoice total %s vs delivery total %s",
			invoiceTotal.StringFixed(2), noteTotal.StringFixed(2)),
	}
}

func detectShortDelivery(invoiceId string, rows []matching.ComparisonRow) *Discrepancy {
	impact := decimal.Zero
	var items []ItemDetail
	for _, row := range rows {
		if row.Status != matching.RowStatusShort && row.Status != matching.RowStatusNotMatched {
			continue
		}
		impact = impact.Add(row.FinancialImpact)
		items = append(items, ItemDetail{
			Label:  row.Label,
			InvQty: row.InvQty,
			DnQty:  row.DnQty,
			Status: string(row.Status),
		})
	}
	if !impact.IsPositive() {
		return nil
	}

	var severity Severity
	switch {
	case impact.GreaterThan(shortDeliveryCritical):
		severity = SeverityCritical
	case impact.GreaterThan(shortDeliveryWarning):
		severity = SeverityWarning
	default:
		severity = SeverityInfo
	}

	return &Discrepancy{
		ID:              uuid.NewString(),
		Type:            DiscrepancyShortDelivery,
		Severity:        severity,
		DocumentID:      invoiceId,
		Value:           impact,
		FinancialImpact: impact,
		Items:           items,
		Description:     fmt.Sprintf("%d line(s) undelivered or short", len(items)),
	}
}

// detectLowConfidence flags poor extraction quality. When both documents
// report a confidence the lower one governs; an unreported confidence is not
// treated as low.
func detectLowConfidence(invoiceId string, invoice, note *models.DocumentDetails) *Discrepancy {
	confidence := minConfidence(invoice, note)
	if confidence == nil || *confidence >= lowConfidenceWarningFloor {
		return nil
	}

	severity := SeverityWarning
	if *confidence < lowConfidenceCriticalFloor {
		severity = SeverityCritical
	}
	return &Discrepancy{
		ID:              uuid.NewString(),
		Type:            DiscrepancyLowConfidence,
		Severity:        severity,
		DocumentID:      invoiceId,
		Percentage:      *confidence * 100,
		Value:           decimal.Zero,
		FinancialImpact: decimal.Zero,
		Description:     fmt.Sprintf("extraction confidence %.0f%%", *confidence*100),
	}
}

func minConfidence(invoice, note *models.DocumentDetails) *float64 {
	var lowest *float64
	for _, doc := range []*models.DocumentDetails{invoice, note} {
		if doc == nil || doc.OCRConfidence == nil {
			continue
		}
		if lowest == nil || *doc.OCRConfidence < *lowest {
			lowest = doc.OCRConfidence
		}
	}
	return lowest
}
