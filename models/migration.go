package models

import (
	"log"

	"bitbucket.org/owlinhq/reconcile_backend/config"
)

// MigrateTable applies schema migrations for all reconciliation tables.
// Ordering matters only for readability; gorm resolves dependencies itself.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Println("skipping migrations: database is not connected")
		return
	}
	err := db.AutoMigrate(
		&Invoice{},
		&DeliveryNote{},
		&DocLineItem{},
		&PairingLink{},
		&PairingEventRecord{},
	)
	if err != nil {
		log.Printf("migration failed: %v", err)
	}
}
