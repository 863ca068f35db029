package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/iliyamo/concert-ticketing/internal/model"
)

// Models lists every table owned by the service.
func Models() []any {
	return []any{
		&model.QueueToken{},
		&model.Wallet{},
		&model.WalletLedgerEntry{},
		&model.ConfirmedReservation{},
		&model.ConcertSchedule{},
	}
}

// Migrate creates or updates the schema, including the unique indexes the
// services rely on for correctness.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
