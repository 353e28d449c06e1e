package ledger

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

// GetActiveLot returns the lot currently accepting bids, or nil.
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

func (d *Database) GetLot(lotID string) (*types.Lot, error) {
	var lot types.Lot
	if err := d.db.Where("lot_id = ?", lotID).First(&lot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lot, nil
}

func (d *Database) GetRoster(auctionID, participantID string) (*types.Roster, error) {
	var roster types.Roster
	err := d.db.
		Where("auction_id = ? AND participant_id = ?", auctionID, participantID).
		First(&roster).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &roster, nil
}

// GetLedgerEntry retrieves the stored outcome for an operation ID, or
// nil when the operation has not been seen in this auction scope.
func (d *Database) GetLedgerEntry(auctionID, operationID string) (*types.LedgerEntry, error) {
	var entry types.LedgerEntry
	err := d.db.
		Where("auction_id = ? AND operation_id = ?", auctionID, operationID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ApplyBid performs the winning update as one atomic unit: a conditional
// write on the lot's bid fields plus the Bid record and the ledger entry.
// The condition requires the stored current bid to still be at least one
// increment below the amount, so exactly one of any set of concurrent
// submissions applies. Returns false with no side effects when the
// condition no longer holds.
func (d *Database) ApplyBid(lot *types.Lot, amount, increment int64, bid *types.Bid, entry *types.LedgerEntry) (bool, error) {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return false, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	res := tx.Model(&types.Lot{}).
		Where("lot_id = ? AND status IN ? AND current_bid <= ?",
			lot.LotID, types.ActiveLotStatuses, amount-increment).
		Updates(map[string]interface{}{
			"current_bid":       amount,
			"leading_bidder_id": bid.BidderID,
		})
	if res.Error != nil {
		tx.Rollback()
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return false, nil
	}

	if err := tx.Create(bid).Error; err != nil {
		tx.Rollback()
		return false, err
	}

	if err := tx.Create(entry).Error; err != nil {
		tx.Rollback()
		return false, err
	}

	return true, tx.Commit().Error
}

// CreateLedgerEntry records a rejection outcome. The unique index on
// (auction_id, operation_id) makes a concurrent duplicate fail; callers
// fall back to the stored entry in that case.
func (d *Database) CreateLedgerEntry(entry *types.LedgerEntry) error {
	return d.db.Create(entry).Error
}

// ExtendDeadline moves a lot's deadline forward. The condition keeps the
// deadline monotonic even when an expiry transition raced in between.
func (d *Database) ExtendDeadline(lotID string, newDeadline time.Time) (bool, error) {
	res := d.db.Model(&types.Lot{}).
		Where("lot_id = ? AND status IN ? AND deadline < ?",
			lotID, types.ActiveLotStatuses, newDeadline).
		Update("deadline", newDeadline)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
