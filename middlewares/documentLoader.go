package middlewares

import (
	"context"

	"bitbucket.org/owlinhq/reconcile_backend/matching"
	"bitbucket.org/owlinhq/reconcile_backend/models"
	"bitbucket.org/owlinhq/reconcile_backend/utils"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type documentDetailsReader struct {
	db   *gorm.DB
	kind models.DocumentKind
}

// getDetails loads every requested document and its line items in two
// queries, whatever the batch size.
func (r *documentDetailsReader) getDetails(ctx context.Context, ids []string) []*dataloader.Result[*models.DocumentDetails] {
	detailsMap := make(map[string]*models.DocumentDetails, len(ids))

	if r.kind == models.DocumentKindInvoice {
		var invoices []models.Invoice
		err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&invoices).Error
		if err != nil {
			return handleError[*models.DocumentDetails](len(ids), err)
		}
		for _, invoice := range invoices {
			detailsMap[invoice.ID] = &models.DocumentDetails{
				ID:            invoice.ID,
				Kind:          models.DocumentKindInvoice,
				VenueID:       invoice.VenueID,
				SupplierName:  invoice.SupplierName,
				Date:          invoice.InvoiceDate,
				Total:         invoice.TotalAmount,
				OCRConfidence: invoice.OCRConfidence,
			}
		}
	} else {
		var notes []models.DeliveryNote
		err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&notes).Error
		if err != nil {
			return handleError[*models.DocumentDetails](len(ids), err)
		}
		for _, note := range notes {
			detailsMap[note.ID] = &models.DocumentDetails{
				ID:            note.ID,
				Kind:          models.DocumentKindDeliveryNote,
				VenueID:       note.VenueID,
				SupplierName:  note.SupplierName,
				Date:          note.DeliveryDate,
				Total:         note.TotalAmount,
				OCRConfidence: note.OCRConfidence,
			}
		}
	}

	var lines []models.DocLineItem
	err := r.db.WithContext(ctx).
		Where("document_id IN ? AND document_kind = ?", ids, r.kind).
		Order("document_id, line_number ASC").
		Find(&lines).Error
	if err != nil {
		return handleError[*models.DocumentDetails](len(ids), err)
	}
	for _, line := range lines {
		if details, ok := detailsMap[line.DocumentID]; ok {
			details.LineItems = append(details.LineItems, line.ToMatchingItem())
		}
	}

	results := make([]*dataloader.Result[*models.DocumentDetails], 0, len(ids))
	for _, id := range ids {
		if details, ok := detailsMap[id]; ok {
			if details.LineItems == nil {
				details.LineItems = []matching.LineItem{}
			}
			results = append(results, &dataloader.Result[*models.DocumentDetails]{Data: details})
		} else {
			results = append(results, &dataloader.Result[*models.DocumentDetails]{Error: utils.ErrorRecordNotFound})
		}
	}
	return results
}

func GetInvoiceDetails(ctx context.Context, invoiceId string) (*models.DocumentDetails, error) {
	loaders := For(ctx)
	if loaders == nil {
		return models.GetInvoiceDetails(ctx, invoiceId)
	}
	return loaders.invoiceDetailsLoader.Load(ctx, invoiceId)()
}

func GetDeliveryNoteDetails(ctx context.Context, deliveryNoteId string) (*models.DocumentDetails, error) {
	loaders := For(ctx)
	if loaders == nil {
		return models.GetDeliveryNoteDetails(ctx, deliveryNoteId)
	}
	return loaders.deliveryNoteDetailsLoader.Load(ctx, deliveryNoteId)()
}

// DocFetcher adapts the loader-backed reads to the workflow's fetcher
// interface.
type DocFetcher struct{}

func (DocFetcher) InvoiceDetails(ctx context.Context, invoiceId string) (*models.DocumentDetails, error) {
	return GetInvoiceDetails(ctx, invoiceId)
}

func (DocFetcher) DeliveryNoteDetails(ctx context.Context, deliveryNoteId string) (*models.DocumentDetails, error) {
	return GetDeliveryNoteDetails(ctx, deliveryNoteId)
}
