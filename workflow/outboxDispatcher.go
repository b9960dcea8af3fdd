package workflow

import (
	"context"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/config"
	"bitbucket.org/owlinhq/reconcile_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxPollInterval = 2 * time.Second
	outboxBatchSize    = 50
	outboxMaxAttempts  = 8
)

// StartOutboxDispatcher relays staged pairing events to Pub/Sub until ctx is
// cancelled. Rows are claimed with SKIP LOCKED so multiple replicas can run
// the loop concurrently without double-publishing.
func StartOutboxDispatcher(ctx context.Context) {
	logger := config.GetLogger()
	ticker := time.NewTicker(outboxPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dispatchOutboxBatch(ctx); err != nil {
				config.LogError(logger, "outboxDispatcher.go", "StartOutboxDispatcher",
					"batch dispatch failed", nil, err)
			}
		}
	}
}

func dispatchOutboxBatch(ctx context.Context) error {
	db := config.GetDB()
	if db == nil {
		return nil
	}

	var claimed []models.PairingEventRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("publish_status IN ? AND next_attempt_at <= ?",
				[]string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed},
				time.Now().UTC()).
			Order("next_attempt_at ASC").
			Limit(outboxBatchSize).
			Find(&claimed).Error
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, 0, len(claimed))
		for _, record := range claimed {
			ids = append(ids, record.ID)
		}
		return tx.Model(&models.PairingEventRecord{}).
			Where("id IN ?", ids).
			Update("publish_status", models.OutboxPublishStatusProcessing).Error
	})
	if err != nil || len(claimed) == 0 {
		return err
	}

	for _, record := range claimed {
		publishOutboxRecord(ctx, db, record)
	}
	return nil
}

func publishOutboxRecord(ctx context.Context, db *gorm.DB, record models.PairingEventRecord) {
	logger := config.GetLogger()

	_, err := config.PublishPairingEventWithResult(ctx, record.VenueID,
		record.ConvertToPairingEventMessage())
	if err == nil {
		err = db.WithContext(ctx).Model(&models.PairingEventRecord{}).
			Where("id = ?", record.ID).
			Updates(map[string]interface{}{
				"publish_status": models.OutboxPublishStatusSent,
				"attempts":       record.Attempts + 1,
				"last_error":     "",
			}).Error
		if err != nil {
			config.LogError(logger, "outboxDispatcher.go", "publishOutboxRecord",
				"mark sent failed", record.ID, err)
		}
		return
	}

	attempts := record.Attempts + 1
	status := models.OutboxPublishStatusFailed
	if attempts >= outboxMaxAttempts {
		status = models.OutboxPublishStatusDead
		config.LogError(logger, "outboxDispatcher.go", "publishOutboxRecord",
			"event moved to dead letter", record.ID, err)
	}

	updateErr := db.WithContext(ctx).Model(&models.PairingEventRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"publish_status":  status,
			"attempts":        attempts,
			"last_error":      err.Error(),
			"next_attempt_at": time.Now().UTC().Add(outboxBackoff(attempts)),
		}).Error
	if updateErr != nil {
		config.LogError(logger, "outboxDispatcher.go", "publishOutboxRecord",
			"mark failed errored", record.ID, updateErr)
	}
}

// outboxBackoff doubles per attempt, capped at five minutes.
func outboxBackoff(attempts int) time.Duration {
	backoff := outboxPollInterval << uint(attempts)
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}
