package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/config"
	"bitbucket.org/owlinhq/reconcile_backend/matching"
	"bitbucket.org/owlinhq/reconcile_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Invoice struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	VenueID       string    `gorm:"size:64;index" json:"venueId"`
	SupplierName  string    `gorm:"size:255" json:"supplierName"`
	InvoiceDate   time.Time `json:"invoiceDate"`
	InvoiceNumber string    `gorm:"size:64" json:"invoiceNumber"`
	// TotalAmount is the stored document total; it stays authoritative even
	// when it disagrees with the sum of qty*unitPrice across line items.
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,6)" json:"totalAmount"`
	OCRConfidence *float64        `json:"ocrConfidence,omitempty"`
	Paired        bool            `gorm:"index" json:"paired"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type DeliveryNote struct {
	ID               string          `gorm:"primaryKey;size:64" json:"id"`
	VenueID          string          `gorm:"size:64;index" json:"venueId"`
	SupplierName     string          `gorm:"size:255" json:"supplierName"`
	DeliveryDate     time.Time       `json:"deliveryDate"`
	NoteNumber       string          `gorm:"size:64" json:"noteNumber"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(20,6)" json:"totalAmount"`
	OCRConfidence    *float64        `json:"ocrConfidence,omitempty"`
	MatchedInvoiceID *string         `gorm:"size:64;index" json:"matchedInvoiceId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// DocLineItem is one stored row of either document kind.
type DocLineItem struct {
	ID           int             `gorm:"primaryKey" json:"id"`
	DocumentID   string          `gorm:"size:64;index:idx_doc_lines" json:"documentId"`
	DocumentKind DocumentKind    `gorm:"size:16;index:idx_doc_lines" json:"documentKind"`
	LineNumber   int             `json:"lineNumber"`
	Description  string          `gorm:"size:512" json:"description"`
	SKU          string          `gorm:"size:64" json:"sku"`
	Qty          int             `json:"qty"`
	Unit         string          `gorm:"size:32" json:"unit"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,6)" json:"unitPrice"`
	LineTotal    decimal.Decimal `gorm:"type:decimal(20,6)" json:"lineTotal"`
}

// ToMatchingItem converts a stored row into the matcher's value type.
// Negative quantities and prices are clamped to zero so bad OCR rows degrade
// instead of aborting downstream math.
func (li DocLineItem) ToMatchingItem() matching.LineItem {
	qty := li.Qty
	if qty < 0 {
		qty = 0
	}
	unitPrice := li.UnitPrice
	if unitPrice.IsNegative() {
		unitPrice = decimal.Zero
	}
	lineTotal := li.LineTotal
	if lineTotal.IsNegative() {
		lineTotal = decimal.Zero
	}
	return matching.LineItem{
		Description: li.Description,
		SKU:         li.SKU,
		Qty:         qty,
		Unit:        li.Unit,
		UnitPrice:   unitPrice,
		LineTotal:   lineTotal,
	}
}

// DocumentDetails is the line items plus metadata view the reconciliation
// engine consumes; field-name variance from external payloads is normalized
// before anything reaches this type.
type DocumentDetails struct {
	ID            string              `json:"id"`
	Kind          DocumentKind        `json:"kind"`
	VenueID       string              `json:"venueId"`
	SupplierName  string              `json:"supplierName"`
	Date          time.Time           `json:"date"`
	Total         decimal.Decimal     `json:"total"`
	OCRConfidence *float64            `json:"ocrConfidence,omitempty"`
	LineItems     []matching.LineItem `json:"lineItems"`
}

func GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	db := config.GetDB()
	var invoice Invoice
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func GetDeliveryNote(ctx context.Context, id string) (*DeliveryNote, error) {
	db := config.GetDB()
	var note DeliveryNote
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &note, nil
}

func GetDocumentLineItems(ctx context.Context, documentId string, kind DocumentKind) ([]matching.LineItem, error) {
	db := config.GetDB()
	var rows []DocLineItem
	err := db.WithContext(ctx).
		Where("document_id = ? AND document_kind = ?", documentId, kind).
		Order("line_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	items := make([]matching.LineItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.ToMatchingItem())
	}
	return items, nil
}

func GetInvoiceDetails(ctx context.Context, id string) (*DocumentDetails, error) {
	invoice, err := GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := GetDocumentLineItems(ctx, id, DocumentKindInvoice)
	if err != nil {
		return nil, err
	}
	return &DocumentDetails{
		ID:            invoice.ID,
		Kind:          DocumentKindInvoice,
		VenueID:       invoice.VenueID,
		SupplierName:  invoice.SupplierName,
		Date:          invoice.InvoiceDate,
		Total:         invoice.TotalAmount,
		OCRConfidence: invoice.OCRConfidence,
		LineItems:     items,
	}, nil
}

func GetDeliveryNoteDetails(ctx context.Context, id string) (*DocumentDetails, error) {
	note, err := GetDeliveryNote(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := GetDocumentLineItems(ctx, id, DocumentKindDeliveryNote)
	if err != nil {
		return nil, err
	}
	return &DocumentDetails{
		ID:            note.ID,
		Kind:          DocumentKindDeliveryNote,
		VenueID:       note.VenueID,
		SupplierName:  note.SupplierName,
		Date:          note.DeliveryDate,
		Total:         note.TotalAmount,
		OCRConfidence: note.OCRConfidence,
		LineItems:     items,
	}, nil
}

// GetLinkedDeliveryNoteID returns the delivery note currently paired to the
// invoice, if any.
func GetLinkedDeliveryNoteID(ctx context.Context, invoiceId string) (string, bool, error) {
	db := config.GetDB()
	var link PairingLink
	err := db.WithContext(ctx).Where("invoice_id = ?", invoiceId).Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return link.DeliveryNoteID, true, nil
}
