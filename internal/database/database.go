package database

import (
	"github.com/openleague/gavel-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate applies the auction schema. The unique indexes double as
// engine guarantees: one ledger entry per (auction, operation) and one
// ownership grant per (auction, item).
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Auction{},
		&types.Lot{},
		&types.Bid{},
		&types.LedgerEntry{},
		&types.Roster{},
		&types.Ownership{},
		&types.CatalogItem{},
	)
}
