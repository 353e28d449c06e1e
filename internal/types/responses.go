package types

import "time"

// BidResult is the outcome returned to a bidder. The same result is
// returned verbatim for replays of the same operation ID.
type BidResult struct {
	Accepted        bool   `json:"accepted"`
	CurrentBid      int64  `json:"current_bid"`
	LeadingBidderID string `json:"leading_bidder_id"`
	Reason          string `json:"reason,omitempty"`
}

// RosterView is the per-participant slice of an auction snapshot.
type RosterView struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Budget        int64  `json:"budget"`
	SlotLimit     int    `json:"slot_limit"`
	SlotsFilled   int    `json:"slots_filled"`
}

// AuctionSnapshot is the read-only state handed to reconnecting viewers.
type AuctionSnapshot struct {
	AuctionID  string       `json:"auction_id"`
	LeagueID   string       `json:"league_id"`
	Status     string       `json:"status"`
	CurrentLot *Lot         `json:"current_lot,omitempty"`
	BidHistory []Bid        `json:"bid_history,omitempty"`
	Rosters    []RosterView `json:"rosters"`
	ServerTime time.Time    `json:"server_time"`
}
