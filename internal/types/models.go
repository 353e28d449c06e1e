package types

import (
	"time"

	"gorm.io/gorm"
)

// Auction statuses
const (
	AuctionSetup     = "setup"
	AuctionLive      = "live"
	AuctionPaused    = "paused"
	AuctionCompleted = "completed"
)

// Lot statuses
const (
	LotPending    = "pending"
	LotOpen       = "open"
	LotGoingOnce  = "going_once"
	LotGoingTwice = "going_twice"
	LotSold       = "sold"
	LotUnsold     = "unsold"
)

// ActiveLotStatuses are the statuses in which a lot still accepts bids.
var ActiveLotStatuses = []string{LotOpen, LotGoingOnce, LotGoingTwice}

type Auction struct {
	gorm.Model       `json:"-"`
	AuctionID        string `gorm:"uniqueIndex" json:"auction_id"`
	LeagueID         string `json:"league_id"`
	CommissionerID   string `json:"commissioner_id"`
	Status           string `json:"status"`           // setup, live, paused, completed
	NominationOrder  string `json:"nomination_order"` // JSON array of participant IDs
	BidIncrement     int64  `json:"bid_increment"`
	CountdownSeconds int    `json:"countdown_seconds"`
	AntiSnipeSeconds int    `json:"anti_snipe_seconds"`
	GraceSeconds     int    `json:"grace_seconds"`
	StartingBudget   int64  `json:"starting_budget"`
	CurrentLot       int    `json:"current_lot"` // sequence index of the active lot
}

type Lot struct {
	gorm.Model      `json:"-"`
	LotID           string    `gorm:"uniqueIndex" json:"lot_id"`
	AuctionID       string    `gorm:"index" json:"auction_id"`
	Seq             int       `json:"seq"`
	ItemID          string    `json:"item_id"`
	ItemName        string    `json:"item_name"`
	NominatorID     string    `json:"nominator_id"`
	Status          string    `json:"status"` // pending, open, going_once, going_twice, sold, unsold
	CurrentBid      int64     `json:"current_bid"`
	LeadingBidderID string    `json:"leading_bidder_id"`
	Deadline        time.Time `json:"deadline"`
	RemainingMS     int64     `json:"remaining_ms"` // snapshot taken while the auction is paused
	WinnerID        string    `json:"winner_id"`
	FinalPrice      int64     `json:"final_price"`
}

// Bid is an accepted bid. Rows are append-only.
type Bid struct {
	gorm.Model  `json:"-"`
	BidID       string    `gorm:"uniqueIndex" json:"bid_id"`
	AuctionID   string    `gorm:"index" json:"auction_id"`
	LotID       string    `gorm:"index" json:"lot_id"`
	BidderID    string    `json:"bidder_id"`
	Amount      int64     `json:"amount"`
	OperationID string    `json:"operation_id"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// LedgerEntry records the outcome of one bid operation so that client
// retries with the same operation ID replay the stored outcome instead
// of re-applying the bid.
type LedgerEntry struct {
	gorm.Model      `json:"-"`
	AuctionID       string `gorm:"uniqueIndex:idx_scope_operation" json:"auction_id"`
	OperationID     string `gorm:"uniqueIndex:idx_scope_operation" json:"operation_id"`
	Accepted        bool   `json:"accepted"`
	CurrentBid      int64  `json:"current_bid"`
	LeadingBidderID string `json:"leading_bidder_id"`
	Reason          string `json:"reason,omitempty"`
}

type Roster struct {
	gorm.Model    `json:"-"`
	AuctionID     string `gorm:"uniqueIndex:idx_auction_participant" json:"auction_id"`
	ParticipantID string `gorm:"uniqueIndex:idx_auction_participant" json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Budget        int64  `json:"budget"` // remaining budget
	SlotLimit     int    `json:"slot_limit"`
}

// Ownership is created exactly once when a lot is sold.
type Ownership struct {
	gorm.Model    `json:"-"`
	AuctionID     string `gorm:"uniqueIndex:idx_auction_item" json:"auction_id"`
	ItemID        string `gorm:"uniqueIndex:idx_auction_item" json:"item_id"`
	ParticipantID string `gorm:"index" json:"participant_id"`
	LotID         string `json:"lot_id"`
	Price         int64  `json:"price"`
}

// CatalogItem is one item to be seeded as a lot when the auction starts.
type CatalogItem struct {
	gorm.Model `json:"-"`
	AuctionID  string `gorm:"uniqueIndex:idx_auction_catalog_item" json:"auction_id"`
	ItemID     string `gorm:"uniqueIndex:idx_auction_catalog_item" json:"item_id"`
	Name       string `json:"name"`
}
