// Package broadcast is the channel the auction engine pushes live
// updates through. The engine only sees the Publisher interface; the
// concrete transport (in-process hub, Kafka) is chosen at wire-up.
package broadcast

import (
	"context"
	"time"
)

// Event types published by the engine, ledger and clock.
const (
	EventTick             = "tick"
	EventLotStatus        = "lot_status"
	EventBidAccepted      = "bid_accepted"
	EventAntiSnipe        = "anti_snipe"
	EventSaleResult       = "sale_result"
	EventAuctionPaused    = "auction_paused"
	EventAuctionResumed   = "auction_resumed"
	EventAuctionCompleted = "auction_completed"
)

// Event is one outbound message, scoped to an auction.
type Event struct {
	Type      string      `json:"type"`
	AuctionID string      `json:"auction_id"`
	Payload   interface{} `json:"payload,omitempty"`
	TsUnixMs  int64       `json:"ts_unix_ms"`
}

// TickPayload carries the absolute deadline so viewers derive their
// countdown from the server clock, never their own.
type TickPayload struct {
	LotID       string    `json:"lot_id"`
	Status      string    `json:"status"`
	Deadline    time.Time `json:"deadline"`
	RemainingMS int64     `json:"remaining_ms"`
}

type LotStatusPayload struct {
	LotID    string    `json:"lot_id"`
	Status   string    `json:"status"`
	Deadline time.Time `json:"deadline"`
}

type BidAcceptedPayload struct {
	LotID    string `json:"lot_id"`
	BidderID string `json:"bidder_id"`
	Amount   int64  `json:"amount"`
}

type AntiSnipePayload struct {
	LotID       string    `json:"lot_id"`
	NewDeadline time.Time `json:"new_deadline"`
}

type SaleResultPayload struct {
	LotID    string `json:"lot_id"`
	ItemID   string `json:"item_id"`
	Sold     bool   `json:"sold"`
	WinnerID string `json:"winner_id,omitempty"`
	Price    int64  `json:"price,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Publisher pushes events to connected viewers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event. Used by tooling that has no viewers.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// stamp fills the event timestamp if the caller left it zero.
func stamp(e *Event) {
	if e.TsUnixMs == 0 {
		e.TsUnixMs = time.Now().UnixMilli()
	}
}
