package models

type DocumentKind string

const (
	DocumentKindInvoice      DocumentKind = "invoice"
	DocumentKindDeliveryNote DocumentKind = "delivery_note"
)

type PairingEventType string

const (
	PairingEventConfirmed PairingEventType = "pairing_confirmed"
	PairingEventRejected  PairingEventType = "pairing_rejected"
	PairingEventRemoved   PairingEventType = "pairing_removed"
)

// Outbox publish lifecycle. Rows are written inside the commit transaction
// and published asynchronously by the dispatcher.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
