// Package clock drives the server-authoritative countdown for one live
// auction. Every connected viewer's displayed timer derives from the
// deadlines this loop publishes, never from local clocks.
package clock

import (
	"context"
	"time"

	"github.com/openleague/gavel-api/internal/broadcast"
	"github.com/openleague/gavel-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DefaultTickInterval is how often the clock reconciles and broadcasts
// the remaining time.
const DefaultTickInterval = 400 * time.Millisecond

// SettleFunc is invoked when a lot expires out of going_twice. The
// engine owns the settlement transaction.
type SettleFunc func(lotID string)

// Clock is one cancellable periodic task per live auction.
type Clock struct {
	db       *Database
	pub      broadcast.Publisher
	settle   SettleFunc
	interval time.Duration
}

func NewClock(gormDB *gorm.DB, pub broadcast.Publisher, settle SettleFunc, interval time.Duration) *Clock {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Clock{
		db:       NewDatabase(gormDB),
		pub:      pub,
		settle:   settle,
		interval: interval,
	}
}

// Run ticks until the context is cancelled. Cancellation is checked on
// every tick and before every transition, so no expiry fires after a
// pause or completion cancelled this instance.
func (c *Clock) Run(ctx context.Context, auctionID string) {
	logger := log.With().
		Str("auction_id", auctionID).
		Str("component", "lot_clock").
		Logger()
	logger.Info().Msg("lot clock started")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("lot clock stopped")
			return
		case <-ticker.C:
			if err := c.tick(ctx, auctionID); err != nil {
				logger.Error().Err(err).Msg("clock tick failed")
			}
		}
	}
}

func (c *Clock) tick(ctx context.Context, auctionID string) error {
	lot, err := c.db.GetActiveLot(auctionID)
	if err != nil {
		return err
	}
	if lot == nil {
		// Between lots, or the auction just completed.
		return nil
	}

	now := time.Now()
	remaining := lot.Deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	_ = c.pub.Publish(ctx, broadcast.Event{
		Type:      broadcast.EventTick,
		AuctionID: auctionID,
		Payload: broadcast.TickPayload{
			LotID:       lot.LotID,
			Status:      lot.Status,
			Deadline:    lot.Deadline,
			RemainingMS: remaining.Milliseconds(),
		},
	})

	if remaining > 0 || ctx.Err() != nil {
		return nil
	}
	return c.expire(ctx, auctionID, lot)
}

// expire advances the lot one stage per expiry:
// open -> going_once -> going_twice, each with a fresh grace deadline,
// then hands going_twice off to settlement. The grace stages give a
// last-moment bid a guaranteed window to register before the lot locks.
func (c *Clock) expire(ctx context.Context, auctionID string, lot *types.Lot) error {
	auction, err := c.db.GetAuction(auctionID)
	if err != nil {
		return err
	}
	if auction == nil {
		return nil
	}
	grace := time.Duration(auction.GraceSeconds) * time.Second

	var next string
	switch lot.Status {
	case types.LotOpen:
		next = types.LotGoingOnce
	case types.LotGoingOnce:
		next = types.LotGoingTwice
	case types.LotGoingTwice:
		if ctx.Err() != nil {
			return nil
		}
		c.settle(lot.LotID)
		return nil
	default:
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}
	advanced, err := c.db.AdvanceLot(lot.LotID, lot.Status, lot.Deadline, next, time.Now().Add(grace))
	if err != nil {
		return err
	}
	if !advanced {
		// A bid extended the deadline, or another tick already advanced.
		return nil
	}

	fresh, err := c.db.GetActiveLot(auctionID)
	if err != nil || fresh == nil || fresh.LotID != lot.LotID {
		return err
	}

	log.Info().
		Str("auction_id", auctionID).
		Str("lot_id", lot.LotID).
		Str("status", fresh.Status).
		Str("component", "lot_clock").
		Msg("lot advanced")

	_ = c.pub.Publish(ctx, broadcast.Event{
		Type:      broadcast.EventLotStatus,
		AuctionID: auctionID,
		Payload: broadcast.LotStatusPayload{
			LotID:    fresh.LotID,
			Status:   fresh.Status,
			Deadline: fresh.Deadline,
		},
	})
	return nil
}
