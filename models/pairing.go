package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/config"
	"bitbucket.org/owlinhq/reconcile_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PairingLink is the durable invoice <-> delivery note association. The
// unique index on InvoiceID enforces at most one link per invoice at the
// storage layer; DeliveryNoteID carries its own unique index because a note
// can back at most one invoice.
type PairingLink struct {
	ID             string          `gorm:"primaryKey;size:64" json:"id"`
	VenueID        string          `gorm:"size:64;index" json:"venueId"`
	InvoiceID      string          `gorm:"size:64;uniqueIndex" json:"invoiceId"`
	DeliveryNoteID string          `gorm:"size:64;uniqueIndex" json:"deliveryNoteId"`
	MatchScore     decimal.Decimal `gorm:"type:decimal(10,6)" json:"matchScore"`
	ConfirmedBy    string          `gorm:"size:128" json:"confirmedBy"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type CommitResult struct {
	Link          PairingLink `json:"link"`
	AlreadyLinked bool        `json:"alreadyLinked"`
	Warnings      []string    `json:"warnings,omitempty"`
}

// CommitPairing durably links an invoice to a delivery note.
//
// Idempotent on the same pair: committing an invoice already linked to the
// same note succeeds without a second write or a second event. A different
// counterpart on either side fails with ErrorPairingConflict.
func CommitPairing(ctx context.Context, invoiceId, deliveryNoteId string, matchScore float64, warnings []string) (*CommitResult, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not connected")
	}

	var result CommitResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice Invoice
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", invoiceId).Take(&invoice).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}

		var note DeliveryNote
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", deliveryNoteId).Take(&note).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}

		var existing PairingLink
		err = tx.Where("invoice_id = ?", invoiceId).Take(&existing).Error
		switch {
		case err == nil:
			if existing.DeliveryNoteID == deliveryNoteId {
				result.Link = existing
				result.AlreadyLinked = true
				result.Warnings = append(warnings, "invoice and delivery note were already paired")
				return nil
			}
			return fmt.Errorf("invoice %s is already paired to %s: %w",
				invoiceId, existing.DeliveryNoteID, utils.ErrorPairingConflict)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var noteLink PairingLink
		err = tx.Where("delivery_note_id = ?", deliveryNoteId).Take(&noteLink).Error
		switch {
		case err == nil:
			return fmt.Errorf("delivery note %s is already paired to invoice %s: %w",
				deliveryNoteId, noteLink.InvoiceID, utils.ErrorPairingConflict)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		username, _ := utils.GetUsernameFromContext(ctx)
		link := PairingLink{
			ID:             uuid.NewString(),
			VenueID:        invoice.VenueID,
			InvoiceID:      invoiceId,
			DeliveryNoteID: deliveryNoteId,
			MatchScore:     decimal.NewFromFloat(matchScore),
			ConfirmedBy:    username,
		}
		if err := tx.Create(&link).Error; err != nil {
			return err
		}

		if err := tx.Model(&Invoice{}).Where("id = ?", invoiceId).
			Update("paired", true).Error; err != nil {
			return err
		}
		if err := tx.Model(&DeliveryNote{}).Where("id = ?", deliveryNoteId).
			Update("matched_invoice_id", invoiceId).Error; err != nil {
			return err
		}

		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		_, err = PublishPairingEvent(tx, invoice.VenueID, correlationId,
			PairingEventConfirmed, invoiceId, deliveryNoteId, matchScore, warnings)
		if err != nil {
			return err
		}

		result.Link = link
		result.Warnings = warnings
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateSuggestionCache(ctx, invoiceId, deliveryNoteId)
	return &result, nil
}

// RemovePairing unlinks an invoice from its delivery note. Removing an
// invoice that has no link is a no-op.
func RemovePairing(ctx context.Context, invoiceId string) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("database is not connected")
	}

	removedNoteId := ""
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link PairingLink
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("invoice_id = ?", invoiceId).Take(&link).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		if err := tx.Delete(&PairingLink{}, "id = ?", link.ID).Error; err != nil {
			return err
		}
		if err := tx.Model(&Invoice{}).Where("id = ?", invoiceId).
			Update("paired", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&DeliveryNote{}).Where("id = ?", link.DeliveryNoteID).
			Update("matched_invoice_id", nil).Error; err != nil {
			return err
		}

		score, _ := link.MatchScore.Float64()
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		_, err = PublishPairingEvent(tx, link.VenueID, correlationId,
			PairingEventRemoved, invoiceId, link.DeliveryNoteID, score, nil)
		if err != nil {
			return err
		}
		removedNoteId = link.DeliveryNoteID
		return nil
	})
	if err != nil {
		return err
	}

	if removedNoteId != "" {
		invalidateSuggestionCache(ctx, invoiceId, removedNoteId)
	}
	return nil
}

// RecordPairingRejection stages a rejection event for the audit stream.
// Rejection never touches a link, so this is the only write it makes.
func RecordPairingRejection(ctx context.Context, invoiceId, deliveryNoteId string, matchScore float64) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("database is not connected")
	}

	venueId := ""
	if invoice, err := GetInvoice(ctx, invoiceId); err == nil {
		venueId = invoice.VenueID
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := PublishPairingEvent(tx, venueId, correlationId,
			PairingEventRejected, invoiceId, deliveryNoteId, matchScore, nil)
		return err
	})
}

type DeleteDocumentsResult struct {
	DeletedCount int      `json:"deletedCount"`
	SkippedCount int      `json:"skippedCount"`
	Errors       []string `json:"errors,omitempty"`
}

// DeleteDocuments removes the named documents and their line items. Paired
// documents are skipped, not deleted; a failure on one document never aborts
// the rest of the batch.
func DeleteDocuments(ctx context.Context, documentIds []string) (*DeleteDocumentsResult, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not connected")
	}
	logger := config.GetLogger()

	result := &DeleteDocumentsResult{}
	for _, id := range documentIds {
		kind, paired, err := classifyDocument(ctx, db, id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: not found", id))
			} else {
				config.LogError(logger, "pairing.go", "DeleteDocuments", "lookup failed", id, err)
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			}
			continue
		}
		if paired {
			result.SkippedCount++
			continue
		}

		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&DocLineItem{}, "document_id = ? AND document_kind = ?", id, kind).Error; err != nil {
				return err
			}
			if kind == DocumentKindInvoice {
				return tx.Delete(&Invoice{}, "id = ?", id).Error
			}
			return tx.Delete(&DeliveryNote{}, "id = ?", id).Error
		})
		if err != nil {
			config.LogError(logger, "pairing.go", "DeleteDocuments", "delete failed", id, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		result.DeletedCount++
		invalidateSuggestionCache(ctx, id)
	}
	return result, nil
}

// classifyDocument resolves an id to its document kind and pairing state.
// Invoices win when an id improbably exists in both tables.
func classifyDocument(ctx context.Context, db *gorm.DB, id string) (DocumentKind, bool, error) {
	var invoice Invoice
	err := db.WithContext(ctx).Where("id = ?", id).Take(&invoice).Error
	if err == nil {
		return DocumentKindInvoice, invoice.Paired, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, err
	}

	var note DeliveryNote
	err = db.WithContext(ctx).Where("id = ?", id).Take(&note).Error
	if err == nil {
		return DocumentKindDeliveryNote, note.MatchedInvoiceID != nil, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, utils.ErrorRecordNotFound
	}
	return "", false, err
}
