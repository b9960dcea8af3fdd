// Command seed-demo loads a small demo data set: two suppliers, a handful of
// invoices and delivery notes with overlapping line items, including one
// deliberate short delivery and one price mismatch.
package main

import (
	"log"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/config"
	"bitbucket.org/owlinhq/reconcile_backend/models"
	"github.com/shopspring/decimal"
)

func ptr[T any](v T) *T { return &v }

func main() {
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	db := config.GetDB()

	now := time.Now().UTC().Truncate(24 * time.Hour)
	venueId := "venue-demo"

	invoices := []models.Invoice{
		{
			ID: "inv-1001", VenueID: venueId, SupplierName: "Brakes Bros Ltd",
			InvoiceDate: now.AddDate(0, 0, -2), InvoiceNumber: "BB-88121",
			TotalAmount: decimal.NewFromFloat(25.00), OCRConfidence: ptr(0.93),
		},
		{
			ID: "inv-1002", VenueID: venueId, SupplierName: "Fresh Produce Co",
			InvoiceDate: now.AddDate(0, 0, -5), InvoiceNumber: "FP-2210",
			TotalAmount: decimal.NewFromFloat(120.00), OCRConfidence: ptr(0.88),
		},
		{
			ID: "inv-1003", VenueID: venueId, SupplierName: "Brakes Bros Ltd",
			InvoiceDate: now.AddDate(0, 0, -1), InvoiceNumber: "BB-88150",
			TotalAmount: decimal.NewFromFloat(64.50), OCRConfidence: ptr(0.61),
		},
	}

	notes := []models.DeliveryNote{
		{
			ID: "dn-2001", VenueID: venueId, SupplierName: "Brakes Bros",
			DeliveryDate: now.AddDate(0, 0, -2), NoteNumber: "D-4471",
			TotalAmount: decimal.NewFromFloat(21.00), OCRConfidence: ptr(0.95),
		},
		{
			ID: "dn-2002", VenueID: venueId, SupplierName: "Fresh Produce Company",
			DeliveryDate: now.AddDate(0, 0, -4), NoteNumber: "D-9313",
			TotalAmount: decimal.NewFromFloat(100.00), OCRConfidence: ptr(0.90),
		},
	}

	lines := []models.DocLineItem{
		{DocumentID: "inv-1001", DocumentKind: models.DocumentKindInvoice, LineNumber: 1,
			Description: "Chicken breast", Qty: 10, Unit: "kg",
			UnitPrice: decimal.NewFromFloat(2.00), LineTotal: decimal.NewFromFloat(20.00)},
		{DocumentID: "inv-1001", DocumentKind: models.DocumentKindInvoice, LineNumber: 2,
			Description: "Milk 1L", Qty: 5, Unit: "ea",
			UnitPrice: decimal.NewFromFloat(1.00), LineTotal: decimal.NewFromFloat(5.00)},

		{DocumentID: "dn-2001", DocumentKind: models.DocumentKindDeliveryNote, LineNumber: 1,
			Description: "chicken breast", Qty: 8, Unit: "kg",
			UnitPrice: decimal.NewFromFloat(2.00), LineTotal: decimal.NewFromFloat(16.00)},
		{DocumentID: "dn-2001", DocumentKind: models.DocumentKindDeliveryNote, LineNumber: 2,
			Description: "Milk 1L", Qty: 5, Unit: "ea",
			UnitPrice: decimal.NewFromFloat(1.00), LineTotal: decimal.NewFromFloat(5.00)},

		{DocumentID: "inv-1002", DocumentKind: models.DocumentKindInvoice, LineNumber: 1,
			Description: "Tomatoes box TK-40021", SKU: "TK-40021", Qty: 12, Unit: "box",
			UnitPrice: decimal.NewFromFloat(10.00), LineTotal: decimal.NewFromFloat(120.00)},

		{DocumentID: "dn-2002", DocumentKind: models.DocumentKindDeliveryNote, LineNumber: 1,
			Description: "Tomato boxes TK-40021", SKU: "TK-40021", Qty: 10, Unit: "box",
			UnitPrice: decimal.NewFromFloat(10.00), LineTotal: decimal.NewFromFloat(100.00)},

		{DocumentID: "inv-1003", DocumentKind: models.DocumentKindInvoice, LineNumber: 1,
			Description: "Sunflower oil 5L", Qty: 3, Unit: "ea",
			UnitPrice: decimal.NewFromFloat(21.50), LineTotal: decimal.NewFromFloat(64.50)},
	}

	for _, invoice := range invoices {
		if err := db.Save(&invoice).Error; err != nil {
			log.Fatalf("seed invoice %s: %v", invoice.ID, err)
		}
	}
	for _, note := range notes {
		if err := db.Save(&note).Error; err != nil {
			log.Fatalf("seed delivery note %s: %v", note.ID, err)
		}
	}
	// Re-seeding replaces line items wholesale.
	if err := db.Exec("DELETE FROM doc_line_items WHERE document_id LIKE 'inv-1%' OR document_id LIKE 'dn-2%'").Error; err != nil {
		log.Fatalf("clear line items: %v", err)
	}
	for _, line := range lines {
		if err := db.Create(&line).Error; err != nil {
			log.Fatalf("seed line item for %s: %v", line.DocumentID, err)
		}
	}

	log.Printf("seeded %d invoices, %d delivery notes, %d line items",
		len(invoices), len(notes), len(lines))
}
