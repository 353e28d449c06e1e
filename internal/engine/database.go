package engine

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

// Begin opens a transaction for multi-step settlement writes.
func (d *Database) Begin() *gorm.DB {
	return d.db.Begin()
}

func (d *Database) CreateAuction(auction *types.Auction) error {
	return d.db.Create(auction).Error
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

// GetAuctionTx reads the auction inside the settlement transaction, so
// a pause committed before the transaction began is visible to it.
func (d *Database) GetAuctionTx(tx *gorm.DB, auctionID string) (*types.Auction, error) {
	var auction types.Auction
	if err := tx.Where("auction_id = ?", auctionID).First(&auction).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &auction, nil
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

func (d *Database) CreateRoster(roster *types.Roster) error {
	return d.db.Create(roster).Error
}

// ListRosters returns rosters in creation order, which doubles as the
// nomination order when the auction starts.
func (d *Database) ListRosters(auctionID string) ([]types.Roster, error) {
	var rosters []types.Roster
	if err := d.db.Where("auction_id = ?", auctionID).Order("id asc").Find(&rosters).Error; err != nil {
		return nil, err
	}
	return rosters, nil
}

func (d *Database) CreateCatalogItem(item *types.CatalogItem) error {
	return d.db.Create(item).Error
}

func (d *Database) ListCatalog(auctionID string) ([]types.CatalogItem, error) {
	var items []types.CatalogItem
	if err := d.db.Where("auction_id = ?", auctionID).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (d *Database) ListBidsForLot(lotID string) ([]types.Bid, error) {
	var bids []types.Bid
	if err := d.db.Where("lot_id = ?", lotID).Order("id asc").Find(&bids).Error; err != nil {
		return nil, err
	}
	return bids, nil
}

// StartAuction flips the auction live and seeds every lot in a single
// transaction, so a failure leaves no partial seeding visible.
func (d *Database) StartAuction(auctionID, nominationOrder string, lots []types.Lot) (bool, error) {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return false, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	res := tx.Model(&types.Auction{}).
		Where("auction_id = ? AND status = ?", auctionID, types.AuctionSetup).
		Updates(map[string]interface{}{
			"status":           types.AuctionLive,
			"nomination_order": nominationOrder,
			"current_lot":      0,
		})
	if res.Error != nil {
		tx.Rollback()
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return false, nil
	}

	for i := range lots {
		if err := tx.Create(&lots[i]).Error; err != nil {
			tx.Rollback()
			return false, err
		}
	}

	return true, tx.Commit().Error
}

// --- transaction-scoped settlement reads/writes ---

func (d *Database) HasOwnership(tx *gorm.DB, auctionID, itemID string) (bool, error) {
	var count int64
	err := tx.Model(&types.Ownership{}).
		Where("auction_id = ? AND item_id = ?", auctionID, itemID).
		Count(&count).Error
	return count > 0, err
}

func (d *Database) CountOwnerships(tx *gorm.DB, auctionID, participantID string) (int64, error) {
	var count int64
	err := tx.Model(&types.Ownership{}).
		Where("auction_id = ? AND participant_id = ?", auctionID, participantID).
		Count(&count).Error
	return count, err
}

func (d *Database) GetRosterTx(tx *gorm.DB, auctionID, participantID string) (*types.Roster, error) {
	var roster types.Roster
	err := tx.
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

func (d *Database) CreateOwnership(tx *gorm.DB, ownership *types.Ownership) error {
	return tx.Create(ownership).Error
}

// DebitBudget subtracts a sale price, applying only while the budget
// still covers it.
func (d *Database) DebitBudget(tx *gorm.DB, auctionID, participantID string, amount int64) (bool, error) {
	res := tx.Model(&types.Roster{}).
		Where("auction_id = ? AND participant_id = ? AND budget >= ?", auctionID, participantID, amount).
		Update("budget", gorm.Expr("budget - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CloseLot claims the transition out of going_twice, pinning the bid
// state the sale decision was made from. Exactly one of any concurrent
// settlement attempts wins the claim; a bid accepted between the read
// and the claim changes current_bid and makes the claim miss, so the
// caller re-decides from fresh state instead of selling at a stale price.
func (d *Database) CloseLot(tx *gorm.DB, lot *types.Lot, to, winnerID string, price int64) (bool, error) {
	res := tx.Model(&types.Lot{}).
		Where("lot_id = ? AND status = ? AND current_bid = ? AND leading_bidder_id = ?",
			lot.LotID, types.LotGoingTwice, lot.CurrentBid, lot.LeadingBidderID).
		Updates(map[string]interface{}{
			"status":       to,
			"winner_id":    winnerID,
			"final_price":  price,
			"remaining_ms": 0,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (d *Database) GetLotBySeq(tx *gorm.DB, auctionID string, seq int) (*types.Lot, error) {
	var lot types.Lot
	err := tx.Where("auction_id = ? AND seq = ?", auctionID, seq).First(&lot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lot, nil
}

func (d *Database) OpenLot(tx *gorm.DB, lotID string, deadline time.Time) (bool, error) {
	res := tx.Model(&types.Lot{}).
		Where("lot_id = ? AND status = ?", lotID, types.LotPending).
		Updates(map[string]interface{}{
			"status":   types.LotOpen,
			"deadline": deadline,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (d *Database) SetCurrentLot(tx *gorm.DB, auctionID string, seq int) error {
	return tx.Model(&types.Auction{}).
		Where("auction_id = ?", auctionID).
		Update("current_lot", seq).Error
}

func (d *Database) SetAuctionStatus(tx *gorm.DB, auctionID, from, to string) (bool, error) {
	res := tx.Model(&types.Auction{}).
		Where("auction_id = ? AND status = ?", auctionID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// --- pause/resume ---

func (d *Database) TransitionAuction(auctionID, from, to string) (bool, error) {
	return d.SetAuctionStatus(d.db, auctionID, from, to)
}

func (d *Database) SnapshotRemaining(lotID string, remainingMS int64) error {
	return d.db.Model(&types.Lot{}).
		Where("lot_id = ?", lotID).
		Update("remaining_ms", remainingMS).Error
}

// RestoreDeadline rewrites the deadline from a pause snapshot. The
// condition enforces the monotonicity guardrail at the store level too.
func (d *Database) RestoreDeadline(lotID string, deadline time.Time) (bool, error) {
	res := d.db.Model(&types.Lot{}).
		Where("lot_id = ? AND deadline <= ?", lotID, deadline).
		Updates(map[string]interface{}{
			"deadline":     deadline,
			"remaining_ms": 0,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SlotsFilled maps participant IDs to their ownership counts.
func (d *Database) SlotsFilled(auctionID string) (map[string]int, error) {
	var ownerships []types.Ownership
	if err := d.db.Where("auction_id = ?", auctionID).Find(&ownerships).Error; err != nil {
		return nil, err
	}
	filled := make(map[string]int)
	for _, o := range ownerships {
		filled[o.ParticipantID]++
	}
	return filled, nil
}
