package ledger

import (
	"fmt"
	"sync"
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
	// A single connection serializes writes the way a production store's
	// conditional-update primitive would.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

type fixture struct {
	db      *gorm.DB
	service *Service
	auction *types.Auction
	lot     *types.Lot
}

func newFixture(t *testing.T, deadline time.Time) *fixture {
	t.Helper()
	db := newTestDB(t)

	auction := &types.Auction{
		AuctionID:        uuid.New().String(),
		LeagueID:         "league-1",
		CommissionerID:   "commish",
		Status:           types.AuctionLive,
		BidIncrement:     1,
		CountdownSeconds: 8,
		AntiSnipeSeconds: 3,
		GraceSeconds:     3,
		StartingBudget:   200,
	}
	require.NoError(t, db.Create(auction).Error)

	lot := &types.Lot{
		LotID:     uuid.New().String(),
		AuctionID: auction.AuctionID,
		Seq:       0,
		ItemID:    "item-1",
		ItemName:  "Item One",
		Status:    types.LotOpen,
		Deadline:  deadline,
	}
	require.NoError(t, db.Create(lot).Error)

	for _, p := range []string{"alice", "bob", "carol"} {
		require.NoError(t, db.Create(&types.Roster{
			AuctionID:     auction.AuctionID,
			ParticipantID: p,
			DisplayName:   p,
			Budget:        200,
			SlotLimit:     15,
		}).Error)
	}

	return &fixture{
		db:      db,
		service: NewService(db, broadcast.NewHub()),
		auction: auction,
		lot:     lot,
	}
}

func (f *fixture) reloadLot(t *testing.T) *types.Lot {
	t.Helper()
	var lot types.Lot
	require.NoError(t, f.db.Where("lot_id = ?", f.lot.LotID).First(&lot).Error)
	return &lot
}

func TestPlaceBidAccepted(t *testing.T) {
	f := newFixture(t, time.Now().Add(time.Minute))

	result, err := f.service.PlaceBid(f.auction.AuctionID, "alice", 10, "op-1")
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, int64(10), result.CurrentBid)
	assert.Equal(t, "alice", result.LeadingBidderID)

	lot := f.reloadLot(t)
	assert.Equal(t, int64(10), lot.CurrentBid)
	assert.Equal(t, "alice", lot.LeadingBidderID)

	var bids []types.Bid
	require.NoError(t, f.db.Find(&bids).Error)
	require.Len(t, bids, 1)
	assert.Equal(t, "op-1", bids[0].OperationID)
}

func TestPlaceBidIdempotentReplay(t *testing.T) {
	f := newFixture(t, time.Now().Add(time.Minute))

	first, err := f.service.PlaceBid(f.auction.AuctionID, "alice", 10, "op-1")
	require.NoError(t, err)
	require.True(t, first.Accepted)

	// A higher bid lands in between; the replay must still return the
	// original outcome untouched.
	_, err = f.service.PlaceBid(f.auction.AuctionID, "bob", 20, "op-2")
	require.NoError(t, err)

	replay, err := f.service.PlaceBid(f.auction.AuctionID, "alice", 10, "op-1")
	require.NoError(t, err)
	assert.Equal(t, first, replay)

	var bidCount int64
	require.NoError(t, f.db.Model(&types.Bid{}).Where("operation_id = ?", "op-1").Count(&bidCount).Error)
	assert.Equal(t, int64(1), bidCount, "replay must not append another bid")

	lot := f.reloadLot(t)
	assert.Equal(t, int64(20), lot.CurrentBid, "replay must not touch the lot")
}

func TestPlaceBidRejectedReplayIsStable(t *testing.T) {
	f := newFixture(t, time.Now().Add(time.Minute))

	_, err := f.service.PlaceBid(f.auction.AuctionID, "alice", 10, "op-1")
	require.NoError(t, err)

	first, err := f.service.PlaceBid(f.auction.AuctionID, "bob", 5, "op-low")
	require.NoError(t, err)
	require.False(t, first.Accepted)
	require.Equal(t, ReasonBidTooLow, first.Reason)

	replay, err := f.service.PlaceBid(f.auction.AuctionID, "bob", 5, "op-low")
	require.NoError(t, err)
	assert.Equal(t, first, replay)
}

func TestPlaceBidRejections(t *testing.T) {
	t.Run("bid too low", func(t *testing.T) {
		f := newFixture(t, time.Now().Add(time.Minute))
		_, err := f.service.PlaceBid(f.auction.AuctionID, "alice", 10, "op-1")
		require.NoError(t, err)

		result, err := f.service.PlaceBid(f.auction.AuctionID, "bob", 10, "op-2")
		require.NoError(t, err)
		assert.False(t, result.Accepted)
		assert.Equal(t, ReasonBidTooLow, result.Reason)
		assert.Equal(t, int64(10), result.CurrentBid)
		assert.Equal(t, "alice", result.LeadingBidderID)
	})

	t.Run("insufficient budget", func(t *testing.T) {
		f := newFixture(t, time.Now().Add(time.Minute))

		result, err := f.service.PlaceBid(f.auction.AuctionID, "alice", 201, "op-1")
		require.NoError(t, err)
		assert.False(t, result.Accepted)
		assert.Equal(t, ReasonInsufficientBudget, result.Reason)
	})

	t.Run("auction not live", func(t *testing.T) {
		f := newFixture(t, time.Now().Add(time.Minute))
		require.NoError(t, f.db.Model(&types.Auction{}).
			Where("auction_id = ?", f.auction.AuctionID).
			Update("status", types.AuctionPaused).Error)

		result, err := f.service.PlaceBid(f.auction.AuctionID, "alice", 10, "op-1")
		require.NoError(t, err)
		assert.False(t, result.Accepted)
		assert.Equal(t, ReasonAuctionNotLive, result.Reason)
	})

	t.Run("no active lot", func(t *testing.T) {
		f := newFixture(t, time.Now().Add(time.Minute))
		require.NoError(t, f.db.Model(&types.Lot{}).
			Where("lot_id = ?", f.lot.LotID).
			Update("status", types.LotSold).Error)

		result, err := f.service.PlaceBid(f.auction.AuctionID, "alice", 10, "op-1")
		require.NoError(t, err)
		assert.False(t, result.Accepted)
		assert.Equal(t, ReasonLotNotActive, result.Reason)
	})

	t.Run("unknown auction", func(t *testing.T) {
		f := newFixture(t, time.Now().Add(time.Minute))
		_, err := f.service.PlaceBid("nope", "alice", 10, "op-1")
		assert.ErrorIs(t, err, ErrAuctionNotFound)
	})

	t.Run("unknown bidder", func(t *testing.T) {
		f := newFixture(t, time.Now().Add(time.Minute))
		_, err := f.service.PlaceBid(f.auction.AuctionID, "stranger", 10, "op-1")
		assert.ErrorIs(t, err, ErrBidderNotFound)
	})
}

func TestConcurrentBidsSingleWinnerPerAmount(t *testing.T) {
	f := newFixture(t, time.Now().Add(time.Minute))

	const bidders = 8
	results := make([]*types.BidResult, bidders)
	errs := make([]error, bidders)

	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := int64(10 + i)
			bidder := []string{"alice", "bob", "carol"}[i%3]
			results[i], errs[i] = f.service.PlaceBid(f.auction.AuctionID, bidder, amount, fmt.Sprintf("op-%d", i))
		}(i)
	}
	wg.Wait()
	for i := range errs {
		require.NoError(t, errs[i])
	}

	var maxAccepted int64
	accepted := 0
	for i, res := range results {
		if res.Accepted {
			accepted++
			if amt := int64(10 + i); amt > maxAccepted {
				maxAccepted = amt
			}
		} else {
			assert.NotZero(t, res.CurrentBid, "losers see the authoritative bid")
		}
	}
	require.NotZero(t, accepted)

	lot := f.reloadLot(t)
	assert.Equal(t, maxAccepted, lot.CurrentBid, "lot carries the highest accepted amount")
	assert.Equal(t, int64(17), lot.CurrentBid, "the top bid can never lose the race")

	var bidCount int64
	require.NoError(t, f.db.Model(&types.Bid{}).Count(&bidCount).Error)
	assert.Equal(t, int64(accepted), bidCount, "one bid record per accepted operation")
}

func TestAntiSnipeExtensionFormula(t *testing.T) {
	// bid_timer=8s, anti_snipe=3s: a bid with 1.5s remaining moves the
	// deadline to bid time + 6s.
	start := time.Now()
	f := newFixture(t, start.Add(1500*time.Millisecond))

	hub := broadcast.NewHub()
	f.service = NewService(f.db, hub)
	events, cancel := hub.Subscribe(f.auction.AuctionID)
	defer cancel()

	result, err := f.service.PlaceBid(f.auction.AuctionID, "alice", 10, "op-1")
	require.NoError(t, err)
	require.True(t, result.Accepted)

	lot := f.reloadLot(t)
	expected := start.Add(6 * time.Second)
	assert.WithinDuration(t, expected, lot.Deadline, time.Second)
	assert.True(t, lot.Deadline.After(start.Add(1500*time.Millisecond)), "deadline only moves forward")

	sawExtension := false
	for len(events) > 0 {
		if ev := <-events; ev.Type == broadcast.EventAntiSnipe {
			sawExtension = true
		}
	}
	assert.True(t, sawExtension, "extension is announced to viewers")
}

func TestAntiSnipeNotAppliedOutsideWindow(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	f := newFixture(t, deadline)

	result, err := f.service.PlaceBid(f.auction.AuctionID, "alice", 10, "op-1")
	require.NoError(t, err)
	require.True(t, result.Accepted)

	lot := f.reloadLot(t)
	assert.WithinDuration(t, deadline, lot.Deadline, 50*time.Millisecond)
}
