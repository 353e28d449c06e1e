package clock

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openleague/gavel-api/internal/broadcast"
	"github.com/openleague/gavel-api/internal/database"
	"github.com/openleague/gavel-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func seedLiveAuction(t *testing.T, db *gorm.DB, deadline time.Time) (*types.Auction, *types.Lot) {
	t.Helper()

	auction := &types.Auction{
		AuctionID:        uuid.New().String(),
		Status:           types.AuctionLive,
		BidIncrement:     1,
		CountdownSeconds: 8,
		AntiSnipeSeconds: 3,
		GraceSeconds:     1,
	}
	require.NoError(t, db.Create(auction).Error)

	lot := &types.Lot{
		LotID:     uuid.New().String(),
		AuctionID: auction.AuctionID,
		Seq:       0,
		ItemID:    "item-1",
		Status:    types.LotOpen,
		Deadline:  deadline,
	}
	require.NoError(t, db.Create(lot).Error)
	return auction, lot
}

func reload(t *testing.T, db *gorm.DB, lotID string) *types.Lot {
	t.Helper()
	var lot types.Lot
	require.NoError(t, db.Where("lot_id = ?", lotID).First(&lot).Error)
	return &lot
}

func TestTickPublishesRemainingFromDeadline(t *testing.T) {
	db := newTestDB(t)
	deadline := time.Now().Add(5 * time.Second)
	auction, lot := seedLiveAuction(t, db, deadline)

	hub := broadcast.NewHub()
	events, cancel := hub.Subscribe(auction.AuctionID)
	defer cancel()

	c := NewClock(db, hub, func(string) {}, 10*time.Millisecond)
	require.NoError(t, c.tick(context.Background(), auction.AuctionID))

	select {
	case ev := <-events:
		require.Equal(t, broadcast.EventTick, ev.Type)
		payload := ev.Payload.(broadcast.TickPayload)
		assert.Equal(t, lot.LotID, payload.LotID)
		assert.Equal(t, types.LotOpen, payload.Status)
		assert.WithinDuration(t, deadline, payload.Deadline, time.Millisecond)
		assert.Greater(t, payload.RemainingMS, int64(0))
		assert.LessOrEqual(t, payload.RemainingMS, int64(5000))
	case <-time.After(time.Second):
		t.Fatal("no tick published")
	}

	// Not expired, so no transition.
	assert.Equal(t, types.LotOpen, reload(t, db, lot.LotID).Status)
}

func TestExpiryAdvancesOneStagePerTick(t *testing.T) {
	db := newTestDB(t)
	auction, lot := seedLiveAuction(t, db, time.Now().Add(-time.Millisecond))

	var settled atomic.Int32
	c := NewClock(db, broadcast.NopPublisher{}, func(string) { settled.Add(1) }, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.tick(ctx, auction.AuctionID))
	fresh := reload(t, db, lot.LotID)
	assert.Equal(t, types.LotGoingOnce, fresh.Status)
	assert.True(t, fresh.Deadline.After(time.Now()), "grace period resets the deadline forward")

	// Still in grace: ticking again must not advance further.
	require.NoError(t, c.tick(ctx, auction.AuctionID))
	assert.Equal(t, types.LotGoingOnce, reload(t, db, lot.LotID).Status)

	// Force the grace deadline to pass.
	require.NoError(t, db.Model(&types.Lot{}).Where("lot_id = ?", lot.LotID).
		Update("deadline", time.Now().Add(-time.Millisecond)).Error)
	require.NoError(t, c.tick(ctx, auction.AuctionID))
	assert.Equal(t, types.LotGoingTwice, reload(t, db, lot.LotID).Status)
	assert.Equal(t, int32(0), settled.Load())

	require.NoError(t, db.Model(&types.Lot{}).Where("lot_id = ?", lot.LotID).
		Update("deadline", time.Now().Add(-time.Millisecond)).Error)
	require.NoError(t, c.tick(ctx, auction.AuctionID))
	assert.Equal(t, int32(1), settled.Load(), "going_twice expiry hands off to settlement")
}

func TestExtendedDeadlineDefeatsExpiry(t *testing.T) {
	db := newTestDB(t)
	auction, lot := seedLiveAuction(t, db, time.Now().Add(-time.Millisecond))

	// Simulate an anti-snipe extension racing the expiry: the clock read
	// the old deadline, then the lot moved.
	stale := reload(t, db, lot.LotID)
	require.NoError(t, db.Model(&types.Lot{}).Where("lot_id = ?", lot.LotID).
		Update("deadline", time.Now().Add(6*time.Second)).Error)

	c := NewClock(db, broadcast.NopPublisher{}, func(string) {}, 10*time.Millisecond)
	require.NoError(t, c.expire(context.Background(), auction.AuctionID, stale))

	fresh := reload(t, db, lot.LotID)
	assert.Equal(t, types.LotOpen, fresh.Status, "stale expiry must not advance an extended lot")
}

func TestCancelledClockFiresNoTransitions(t *testing.T) {
	db := newTestDB(t)
	auction, lot := seedLiveAuction(t, db, time.Now().Add(-time.Millisecond))

	c := NewClock(db, broadcast.NopPublisher{}, func(string) {
		t.Error("settlement fired after cancellation")
	}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, c.tick(ctx, auction.AuctionID))
	assert.Equal(t, types.LotOpen, reload(t, db, lot.LotID).Status)

	// Cancellation landing mid-tick, after the expiry check: expire
	// itself must refuse to advance the lot.
	require.NoError(t, c.expire(ctx, auction.AuctionID, reload(t, db, lot.LotID)))
	assert.Equal(t, types.LotOpen, reload(t, db, lot.LotID).Status)

	// Same for the settlement handoff out of going_twice.
	require.NoError(t, db.Model(&types.Lot{}).Where("lot_id = ?", lot.LotID).
		Update("status", types.LotGoingTwice).Error)
	require.NoError(t, c.expire(ctx, auction.AuctionID, reload(t, db, lot.LotID)))
	assert.Equal(t, types.LotGoingTwice, reload(t, db, lot.LotID).Status)
}

func TestRunLoopDrivesFullLifecycle(t *testing.T) {
	db := newTestDB(t)
	auction, lot := seedLiveAuction(t, db, time.Now().Add(100*time.Millisecond))

	settledCh := make(chan string, 64)
	c := NewClock(db, broadcast.NopPublisher{}, func(lotID string) { settledCh <- lotID }, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, auction.AuctionID)

	select {
	case lotID := <-settledCh:
		assert.Equal(t, lot.LotID, lotID)
	case <-time.After(10 * time.Second):
		t.Fatal("clock never reached settlement")
	}

	fresh := reload(t, db, lot.LotID)
	assert.Equal(t, types.LotGoingTwice, fresh.Status)
}
