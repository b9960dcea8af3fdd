// Package adapters normalizes externally supplied document and candidate
// payloads. Upstream extraction services disagree on field naming (camelCase
// vs snake_case, confidence as a fraction vs a percentage), so everything is
// funneled through here before it reaches the matcher or the workflow.
package adapters

import (
	"fmt"
	"math"
	"strings"

	"bitbucket.org/owlinhq/reconcile_backend/matching"
	"bitbucket.org/owlinhq/reconcile_backend/models"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// LineItemPayload accepts the line item field aliases seen across upstream
// extractors. encoding/json matches names case-insensitively, so "SKU" and
// "Description" resolve without extra tags.
type LineItemPayload struct {
	Description string `json:"description"`
	Desc        string `json:"desc"`
	Item        string `json:"item"`

	SKU string `json:"sku"`

	Qty      *float64 `json:"qty"`
	Quantity *float64 `json:"quantity"`

	Unit string `json:"unit"`

	UnitPrice      *float64 `json:"unitPrice"`
	UnitPriceSnake *float64 `json:"unit_price"`
	Price          *float64 `json:"price"`

	LineTotal      *float64 `json:"lineTotal"`
	LineTotalSnake *float64 `json:"line_total"`
	Total          *float64 `json:"total"`
}

func firstString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstFloat(values ...*float64) float64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

// ToLineItem resolves the alias precedence into the matcher's value type.
// Missing numerics default to zero; fractional quantities are rounded to the
// nearest unit.
func (p LineItemPayload) ToLineItem() matching.LineItem {
	qty := firstFloat(p.Qty, p.Quantity)
	if qty < 0 {
		qty = 0
	}
	unitPrice := firstFloat(p.UnitPrice, p.UnitPriceSnake, p.Price)
	if unitPrice < 0 {
		unitPrice = 0
	}
	lineTotal := firstFloat(p.LineTotal, p.LineTotalSnake, p.Total)
	if lineTotal < 0 {
		lineTotal = 0
	}
	return matching.LineItem{
		Description: firstString(p.Description, p.Desc, p.Item),
		SKU:         strings.TrimSpace(p.SKU),
		Qty:         int(math.Round(qty)),
		Unit:        strings.TrimSpace(p.Unit),
		UnitPrice:   decimal.NewFromFloat(unitPrice),
		LineTotal:   decimal.NewFromFloat(lineTotal),
	}
}

// ToLineItems converts a payload slice, skipping rows with no usable
// description since they can never match anything.
func ToLineItems(payloads []LineItemPayload) []matching.LineItem {
	items := make([]matching.LineItem, 0, len(payloads))
	for _, p := range payloads {
		item := p.ToLineItem()
		if item.Description == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

// SuggestionPayload accepts candidate pairings posted by upstream systems.
type SuggestionPayload struct {
	ID             string `json:"id"`
	InvoiceID      string `json:"invoiceId"`
	InvoiceIDSnake string `json:"invoice_id"`

	DeliveryNoteID      string `json:"deliveryNoteId"`
	DeliveryNoteIDSnake string `json:"delivery_note_id"`
	DnID                string `json:"dnId"`

	Confidence *float64 `json:"confidence"`
	Score      *float64 `json:"score"`

	QuantityMatchScore      *float64 `json:"quantityMatchScore"`
	QuantityMatchScoreSnake *float64 `json:"quantity_match_score"`

	HasQuantityMismatch      *bool `json:"hasQuantityMismatch"`
	HasQuantityMismatchSnake *bool `json:"has_quantity_mismatch"`
}

type normalizedSuggestion struct {
	InvoiceID      string `validate:"required"`
	DeliveryNoteID string `validate:"required"`
	Confidence     float64
}

// ToSuggestion normalizes the aliases into a PairingSuggestion. Confidence
// above 1 is treated as a percentage and divided by 100; the result is
// clamped to [0,1]. A payload naming no invoice or no delivery note is
// rejected.
func (p SuggestionPayload) ToSuggestion() (*models.PairingSuggestion, error) {
	confidence := firstFloat(p.Confidence, p.Score)
	if confidence > 1 {
		confidence = confidence / 100
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	normalized := normalizedSuggestion{
		InvoiceID:      firstString(p.InvoiceID, p.InvoiceIDSnake, p.ID),
		DeliveryNoteID: firstString(p.DeliveryNoteID, p.DeliveryNoteIDSnake, p.DnID),
		Confidence:     confidence,
	}
	if err := validate.Struct(normalized); err != nil {
		return nil, fmt.Errorf("invalid suggestion payload: %w", err)
	}

	quantityScore := firstFloat(p.QuantityMatchScore, p.QuantityMatchScoreSnake)
	if quantityScore > 1 {
		quantityScore = quantityScore / 100
	}

	mismatch := false
	if p.HasQuantityMismatch != nil {
		mismatch = *p.HasQuantityMismatch
	} else if p.HasQuantityMismatchSnake != nil {
		mismatch = *p.HasQuantityMismatchSnake
	}

	return &models.PairingSuggestion{
		InvoiceID:           normalized.InvoiceID,
		DeliveryNoteID:      normalized.DeliveryNoteID,
		Confidence:          normalized.Confidence,
		QuantityMatchScore:  quantityScore,
		HasQuantityMismatch: mismatch,
	}, nil
}

// DocumentPayload accepts whole documents (metadata plus rows) posted for
// ad hoc reconciliation.
type DocumentPayload struct {
	ID             string            `json:"id"`
	DocumentID     string            `json:"documentId"`
	SupplierName   string            `json:"supplierName"`
	Supplier       string            `json:"supplier"`
	SupplierSnake  string            `json:"supplier_name"`
	Date           string            `json:"date"`
	TotalAmount    *float64          `json:"totalAmount"`
	TotalSnake     *float64          `json:"total_amount"`
	Total          *float64          `json:"total"`
	OCRConfidence  *float64          `json:"ocrConfidence"`
	ConfSnake      *float64          `json:"ocr_confidence"`
	LineItems      []LineItemPayload `json:"lineItems"`
	LineItemsSnake []LineItemPayload `json:"line_items"`
	Items          []LineItemPayload `json:"items"`
	Rows           []LineItemPayload `json:"rows"`
}

// ResolveID returns the document identifier alias.
func (p DocumentPayload) ResolveID() string {
	return firstString(p.ID, p.DocumentID)
}

// ResolveSupplier returns the supplier name alias.
func (p DocumentPayload) ResolveSupplier() string {
	return firstString(p.SupplierName, p.Supplier, p.SupplierSnake)
}

// ResolveItems returns the first populated row alias converted to matcher
// items.
func (p DocumentPayload) ResolveItems() []matching.LineItem {
	for _, rows := range [][]LineItemPayload{p.LineItems, p.LineItemsSnake, p.Items, p.Rows} {
		if len(rows) > 0 {
			return ToLineItems(rows)
		}
	}
	return nil
}

// ResolveOCRConfidence returns the extraction confidence, normalizing
// percentages to fractions. Nil means the extractor reported nothing.
func (p DocumentPayload) ResolveOCRConfidence() *float64 {
	var raw *float64
	if p.OCRConfidence != nil {
		raw = p.OCRConfidence
	} else if p.ConfSnake != nil {
		raw = p.ConfSnake
	}
	if raw == nil {
		return nil
	}
	conf := *raw
	if conf > 1 {
		conf = conf / 100
	}
	if conf < 0 {
		conf = 0
	}
	return &conf
}

// ResolveTotal returns the document total alias as a decimal.
func (p DocumentPayload) ResolveTotal() decimal.Decimal {
	return decimal.NewFromFloat(firstFloat(p.TotalAmount, p.TotalSnake, p.Total))
}
