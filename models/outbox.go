package models

import (
	"strings"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PairingEventRecord is the transactional outbox row for pairing lifecycle
// events. It is inserted in the same transaction as the state change it
// describes, then relayed to Pub/Sub by the dispatcher.
type PairingEventRecord struct {
	ID             string           `gorm:"primaryKey;size:64" json:"id"`
	VenueID        string           `gorm:"size:64;index" json:"venueId"`
	EventType      PairingEventType `gorm:"size:32" json:"eventType"`
	InvoiceID      string           `gorm:"size:64;index" json:"invoiceId"`
	DeliveryNoteID string           `gorm:"size:64" json:"deliveryNoteId"`
	MatchScore     decimal.Decimal  `gorm:"type:decimal(10,6)" json:"matchScore"`
	Warnings       string           `gorm:"size:2048" json:"warnings"`
	CorrelationID  string           `gorm:"size:64" json:"correlationId"`
	PublishStatus  string           `gorm:"size:16;index;default:PENDING" json:"publishStatus"`
	Attempts       int              `json:"attempts"`
	NextAttemptAt  time.Time        `gorm:"index" json:"nextAttemptAt"`
	LastError      string           `gorm:"size:1024" json:"lastError"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// PublishPairingEvent stages an event row inside the caller's transaction so
// the event becomes durable if and only if the surrounding state change
// commits.
func PublishPairingEvent(tx *gorm.DB, venueId, correlationId string, eventType PairingEventType, invoiceId, deliveryNoteId string, matchScore float64, warnings []string) (*PairingEventRecord, error) {
	record := PairingEventRecord{
		ID:             uuid.NewString(),
		VenueID:        venueId,
		EventType:      eventType,
		InvoiceID:      invoiceId,
		DeliveryNoteID: deliveryNoteId,
		MatchScore:     decimal.NewFromFloat(matchScore),
		Warnings:       joinWarnings(warnings),
		CorrelationID:  correlationId,
		PublishStatus:  OutboxPublishStatusPending,
		NextAttemptAt:  time.Now().UTC(),
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func joinWarnings(warnings []string) string {
	return strings.Join(warnings, "; ")
}

// ConvertToPairingEventMessage shapes the outbox row into the wire message.
func (r PairingEventRecord) ConvertToPairingEventMessage() config.PairingEventMessage {
	score, _ := r.MatchScore.Float64()
	var warnings []string
	if r.Warnings != "" {
		warnings = strings.Split(r.Warnings, "; ")
	}
	return config.PairingEventMessage{
		ID:             r.ID,
		VenueId:        r.VenueID,
		EventType:      string(r.EventType),
		InvoiceId:      r.InvoiceID,
		DeliveryNoteId: r.DeliveryNoteID,
		MatchScore:     score,
		Warnings:       warnings,
		OccurredAt:     r.CreatedAt.UTC(),
		CorrelationId:  r.CorrelationID,
	}
}
