package clock

import (
	"errors"
	"time"

	"github.com/openleague/gavel-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetAuction(auctionID string) (*types.Auction, error) {
	var auction types.Auction
	if err := d.db.Where("auction_id = ?", auctionID).First(&auction).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &auction, nil
}

func (d *Database) GetActiveLot(auctionID string) (*types.Lot, error) {
	var lot types.Lot
	err := d.db.
		Where("auction_id = ? AND status IN ?", auctionID, types.ActiveLotStatuses).
		First(&lot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lot, nil
}

// AdvanceLot moves a lot to its next grace stage. The condition pins
// both the status and the deadline the clock observed, so a concurrent
// anti-snipe extension or a duplicate tick leaves exactly one winner.
func (d *Database) AdvanceLot(lotID, from string, seenDeadline time.Time, to string, newDeadline time.Time) (bool, error) {
	res := d.db.Model(&types.Lot{}).
		Where("lot_id = ? AND status = ? AND deadline = ?", lotID, from, seenDeadline).
		Updates(map[string]interface{}{
			"status":   to,
			"deadline": newDeadline,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
