// Package engine orchestrates the lot lifecycle: it starts auctions,
// seeds lots in round-robin nomination order, drives the lot clock and
// settles expired lots against budget and roster guardrails.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openleague/gavel-api/internal/broadcast"
	"github.com/openleague/gavel-api/internal/clock"
	"github.com/openleague/gavel-api/internal/guardrail"
	"github.com/openleague/gavel-api/internal/metrics"
	"github.com/openleague/gavel-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("auction not found")
	ErrNotAuthorized = errors.New("actor is not the commissioner")
	ErrNotReady      = errors.New("auction is not ready to start")
	ErrBadState      = errors.New("operation not valid in the auction's current state")
)

// Settings carry the engine-wide bounds and the defaults applied to
// newly created auctions.
type Settings struct {
	MinParticipants  int
	MaxParticipants  int
	TickInterval     time.Duration
	CountdownSeconds int
	AntiSnipeSeconds int
	GraceSeconds     int
	BidIncrement     int64
	StartingBudget   int64
	SlotLimit        int
}

// DefaultSettings mirror a typical league draft configuration.
func DefaultSettings() Settings {
	return Settings{
		MinParticipants:  2,
		MaxParticipants:  20,
		TickInterval:     clock.DefaultTickInterval,
		CountdownSeconds: 8,
		AntiSnipeSeconds: 3,
		GraceSeconds:     3,
		BidIncrement:     1,
		StartingBudget:   200,
		SlotLimit:        15,
	}
}

type session struct {
	cancel context.CancelFunc
}

// Engine owns one session per live auction, each running a cancellable
// lot clock. The registry replaces any ambient global state: sessions
// are only reachable through the engine.
type Engine struct {
	db       *Database
	gormDB   *gorm.DB
	pub      broadcast.Publisher
	settings Settings

	mu       sync.Mutex
	sessions map[string]*session
}

func NewEngine(gormDB *gorm.DB, pub broadcast.Publisher, settings Settings) *Engine {
	return &Engine{
		db:       NewDatabase(gormDB),
		gormDB:   gormDB,
		pub:      pub,
		settings: settings,
		sessions: make(map[string]*session),
	}
}

// CreateAuctionParams are supplied by the surrounding application when
// a league is declared ready. Zero values fall back to engine defaults.
type CreateAuctionParams struct {
	LeagueID         string `json:"league_id" binding:"required"`
	CommissionerID   string `json:"commissioner_id" binding:"required"`
	BidIncrement     int64  `json:"bid_increment"`
	CountdownSeconds int    `json:"countdown_seconds"`
	AntiSnipeSeconds int    `json:"anti_snipe_seconds"`
	GraceSeconds     int    `json:"grace_seconds"`
	StartingBudget   int64  `json:"starting_budget"`
}

func (e *Engine) CreateAuction(p CreateAuctionParams) (*types.Auction, error) {
	auction := &types.Auction{
		AuctionID:        uuid.New().String(),
		LeagueID:         p.LeagueID,
		CommissionerID:   p.CommissionerID,
		Status:           types.AuctionSetup,
		BidIncrement:     p.BidIncrement,
		CountdownSeconds: p.CountdownSeconds,
		AntiSnipeSeconds: p.AntiSnipeSeconds,
		GraceSeconds:     p.GraceSeconds,
		StartingBudget:   p.StartingBudget,
	}
	if auction.BidIncrement <= 0 {
		auction.BidIncrement = e.settings.BidIncrement
	}
	if auction.CountdownSeconds <= 0 {
		auction.CountdownSeconds = e.settings.CountdownSeconds
	}
	if auction.AntiSnipeSeconds <= 0 {
		auction.AntiSnipeSeconds = e.settings.AntiSnipeSeconds
	}
	if auction.GraceSeconds <= 0 {
		auction.GraceSeconds = e.settings.GraceSeconds
	}
	if auction.StartingBudget <= 0 {
		auction.StartingBudget = e.settings.StartingBudget
	}

	if err := e.db.CreateAuction(auction); err != nil {
		return nil, err
	}

	log.Info().
		Str("auction_id", auction.AuctionID).
		Str("league_id", auction.LeagueID).
		Msg("auction created")
	return auction, nil
}

// AddParticipant registers a roster with the auction's starting budget.
// Only allowed while the auction is still in setup.
func (e *Engine) AddParticipant(auctionID, participantID, displayName string, slotLimit int) (*types.Roster, error) {
	auction, err := e.db.GetAuction(auctionID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, ErrNotFound
	}
	if auction.Status != types.AuctionSetup {
		return nil, ErrBadState
	}

	rosters, err := e.db.ListRosters(auctionID)
	if err != nil {
		return nil, err
	}
	if res := guardrail.ParticipantCount(len(rosters)+1, 1, e.settings.MaxParticipants); !res.OK {
		return nil, fmt.Errorf("%w: %s", ErrBadState, res.Reason)
	}

	if slotLimit <= 0 {
		slotLimit = e.settings.SlotLimit
	}
	roster := &types.Roster{
		AuctionID:     auctionID,
		ParticipantID: participantID,
		DisplayName:   displayName,
		Budget:        auction.StartingBudget,
		SlotLimit:     slotLimit,
	}
	if err := e.db.CreateRoster(roster); err != nil {
		return nil, err
	}
	return roster, nil
}

// AddCatalogItem loads one item to be seeded as a lot at start.
func (e *Engine) AddCatalogItem(auctionID, itemID, name string) (*types.CatalogItem, error) {
	auction, err := e.db.GetAuction(auctionID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, ErrNotFound
	}
	if auction.Status != types.AuctionSetup {
		return nil, ErrBadState
	}

	item := &types.CatalogItem{
		AuctionID: auctionID,
		ItemID:    itemID,
		Name:      name,
	}
	if err := e.db.CreateCatalogItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Start flips the auction live: it seeds one lot per catalog item in
// round-robin nomination order, opens the first lot with a fresh
// deadline and starts the lot clock. Guardrail failures leave nothing
// behind.
func (e *Engine) Start(auctionID, actorID string) error {
	logger := log.With().
		Str("auction_id", auctionID).
		Str("actor_id", actorID).
		Str("service", "engine").
		Logger()

	auction, err := e.db.GetAuction(auctionID)
	if err != nil {
		return err
	}
	if auction == nil {
		return ErrNotFound
	}
	if auction.CommissionerID != actorID {
		return ErrNotAuthorized
	}
	if auction.Status != types.AuctionSetup {
		return ErrBadState
	}

	rosters, err := e.db.ListRosters(auctionID)
	if err != nil {
		return err
	}
	if res := guardrail.ParticipantCount(len(rosters), e.settings.MinParticipants, e.settings.MaxParticipants); !res.OK {
		return fmt.Errorf("%w: %s", ErrNotReady, res.Reason)
	}

	catalog, err := e.db.ListCatalog(auctionID)
	if err != nil {
		return err
	}
	if len(catalog) == 0 {
		return fmt.Errorf("%w: empty item catalog", ErrNotReady)
	}

	order := make([]string, 0, len(rosters))
	for _, r := range rosters {
		order = append(order, r.ParticipantID)
	}
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return err
	}

	now := time.Now()
	lots := make([]types.Lot, 0, len(catalog))
	for i, item := range catalog {
		lot := types.Lot{
			LotID:       uuid.New().String(),
			AuctionID:   auctionID,
			Seq:         i,
			ItemID:      item.ItemID,
			ItemName:    item.Name,
			NominatorID: order[i%len(order)],
			Status:      types.LotPending,
		}
		if i == 0 {
			lot.Status = types.LotOpen
			lot.Deadline = now.Add(time.Duration(auction.CountdownSeconds) * time.Second)
		}
		lots = append(lots, lot)
	}

	started, err := e.db.StartAuction(auctionID, string(orderJSON), lots)
	if err != nil {
		return err
	}
	if !started {
		return ErrBadState
	}

	e.startSession(auctionID)
	logger.Info().Int("lots", len(lots)).Msg("auction started")

	e.publish(broadcast.Event{
		Type:      broadcast.EventLotStatus,
		AuctionID: auctionID,
		Payload: broadcast.LotStatusPayload{
			LotID:    lots[0].LotID,
			Status:   types.LotOpen,
			Deadline: lots[0].Deadline,
		},
	})
	return nil
}

// Settle converts an expired lot's winning bid into a budget debit and
// an ownership grant, or marks the lot unsold. The transition out of
// going_twice is claimed atomically with the bid state the decision was
// made from, so duplicate expiry signals settle a lot exactly once and
// a bid accepted during the grace window is never sold past. Guardrail
// failures are deliberately non-fatal: the lot resolves unsold and the
// auction keeps moving.
func (e *Engine) Settle(lotID string) error {
	for {
		again, err := e.settleOnce(lotID)
		if err != nil || !again {
			return err
		}
	}
}

// settleOnce runs one settlement attempt from a fresh read of the lot.
// It reports again=true when the claim missed because the lot's bid
// state moved underneath it, in which case the caller re-decides the
// winner and price from the new state.
func (e *Engine) settleOnce(lotID string) (again bool, err error) {
	logger := log.With().
		Str("lot_id", lotID).
		Str("service", "engine").
		Logger()

	lot, err := e.db.GetLot(lotID)
	if err != nil {
		return false, err
	}
	if lot == nil {
		return false, ErrNotFound
	}
	if lot.Status != types.LotGoingTwice {
		// Stale expiry signal; another settlement already claimed it.
		return false, nil
	}

	tx := e.db.Begin()
	if err := tx.Error; err != nil {
		return false, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	// Pause is a transactional barrier: a settlement in flight when the
	// auction row flips to paused must not land.
	auction, err := e.db.GetAuctionTx(tx, lot.AuctionID)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if auction == nil {
		tx.Rollback()
		return false, ErrNotFound
	}
	if auction.Status != types.AuctionLive {
		tx.Rollback()
		logger.Info().Str("auction_status", auction.Status).Msg("settlement skipped, auction not live")
		return false, nil
	}

	sold := false
	reason := "no_bids"
	if lot.LeadingBidderID != "" {
		sold, reason, err = e.checkSaleGuardrails(tx, auction, lot)
		if err != nil {
			tx.Rollback()
			return false, err
		}
	}

	// Claim the lot before applying any side effects so a concurrent
	// settlement loses here and rolls back without touching rosters.
	winnerID, price := "", int64(0)
	status := types.LotUnsold
	if sold {
		winnerID, price = lot.LeadingBidderID, lot.CurrentBid
		status = types.LotSold
	}
	claimed, err := e.db.CloseLot(tx, lot, status, winnerID, price)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if !claimed {
		tx.Rollback()
		// Either another settlement won the claim, or a grace-window
		// bid changed the price. The fresh read decides which.
		return true, nil
	}

	if sold {
		ownership := &types.Ownership{
			AuctionID:     auction.AuctionID,
			ItemID:        lot.ItemID,
			ParticipantID: lot.LeadingBidderID,
			LotID:         lot.LotID,
			Price:         lot.CurrentBid,
		}
		if err := e.db.CreateOwnership(tx, ownership); err != nil {
			tx.Rollback()
			return false, err
		}
		debited, err := e.db.DebitBudget(tx, auction.AuctionID, lot.LeadingBidderID, lot.CurrentBid)
		if err != nil {
			tx.Rollback()
			return false, err
		}
		if !debited {
			// Budget moved underneath us; the retry's guardrails see
			// the drained budget and resolve the lot unsold.
			tx.Rollback()
			return true, nil
		}
	}

	completed, nextLot, err := e.advance(tx, auction, lot)
	if err != nil {
		tx.Rollback()
		return false, err
	}

	if err := tx.Commit().Error; err != nil {
		return false, err
	}

	if sold {
		metrics.LotsSold.Inc()
		logger.Info().
			Str("winner_id", winnerID).
			Int64("price", price).
			Msg("lot sold")
	} else {
		metrics.LotsUnsold.Inc()
		logger.Info().Str("reason", reason).Msg("lot unsold")
	}

	e.publish(broadcast.Event{
		Type:      broadcast.EventSaleResult,
		AuctionID: auction.AuctionID,
		Payload: broadcast.SaleResultPayload{
			LotID:    lot.LotID,
			ItemID:   lot.ItemID,
			Sold:     sold,
			WinnerID: winnerID,
			Price:    price,
			Reason:   reason,
		},
	})

	if completed {
		e.stopSession(auction.AuctionID)
		logger.Info().Str("auction_id", auction.AuctionID).Msg("auction completed")
		e.publish(broadcast.Event{
			Type:      broadcast.EventAuctionCompleted,
			AuctionID: auction.AuctionID,
		})
	} else if nextLot != nil {
		e.publish(broadcast.Event{
			Type:      broadcast.EventLotStatus,
			AuctionID: auction.AuctionID,
			Payload: broadcast.LotStatusPayload{
				LotID:    nextLot.LotID,
				Status:   types.LotOpen,
				Deadline: nextLot.Deadline,
			},
		})
	}
	return false, nil
}

// checkSaleGuardrails re-validates the leading bid against the current
// rosters. All three checks run inside the settlement transaction.
func (e *Engine) checkSaleGuardrails(tx *gorm.DB, auction *types.Auction, lot *types.Lot) (bool, string, error) {
	owned, err := e.db.HasOwnership(tx, auction.AuctionID, lot.ItemID)
	if err != nil {
		return false, "", err
	}
	if res := guardrail.NoDuplicateOwnership(owned, lot.ItemID); !res.OK {
		return false, "duplicate_ownership", nil
	}

	roster, err := e.db.GetRosterTx(tx, auction.AuctionID, lot.LeadingBidderID)
	if err != nil {
		return false, "", err
	}
	if roster == nil {
		return false, "no_roster", nil
	}

	if res := guardrail.SufficientBudget(roster.Budget, lot.CurrentBid); !res.OK {
		return false, "insufficient_budget", nil
	}

	filled, err := e.db.CountOwnerships(tx, auction.AuctionID, lot.LeadingBidderID)
	if err != nil {
		return false, "", err
	}
	if res := guardrail.RosterHasCapacity(int(filled), roster.SlotLimit); !res.OK {
		return false, "roster_full", nil
	}

	return true, "", nil
}

// advance opens the next pending lot or completes the auction. Runs
// inside the settlement transaction.
func (e *Engine) advance(tx *gorm.DB, auction *types.Auction, settled *types.Lot) (completed bool, next *types.Lot, err error) {
	nextLot, err := e.db.GetLotBySeq(tx, auction.AuctionID, settled.Seq+1)
	if err != nil {
		return false, nil, err
	}

	if nextLot == nil {
		done, err := e.db.SetAuctionStatus(tx, auction.AuctionID, types.AuctionLive, types.AuctionCompleted)
		if err != nil {
			return false, nil, err
		}
		return done, nil, nil
	}

	deadline := time.Now().Add(time.Duration(auction.CountdownSeconds) * time.Second)
	opened, err := e.db.OpenLot(tx, nextLot.LotID, deadline)
	if err != nil {
		return false, nil, err
	}
	if !opened {
		return false, nil, nil
	}
	if err := e.db.SetCurrentLot(tx, auction.AuctionID, nextLot.Seq); err != nil {
		return false, nil, err
	}

	nextLot.Status = types.LotOpen
	nextLot.Deadline = deadline
	return false, nextLot, nil
}

// Pause stops the clock and snapshots the active lot's remaining time.
func (e *Engine) Pause(auctionID, actorID string) error {
	auction, err := e.db.GetAuction(auctionID)
	if err != nil {
		return err
	}
	if auction == nil {
		return ErrNotFound
	}
	if auction.CommissionerID != actorID {
		return ErrNotAuthorized
	}

	paused, err := e.db.TransitionAuction(auctionID, types.AuctionLive, types.AuctionPaused)
	if err != nil {
		return err
	}
	if !paused {
		return ErrBadState
	}

	e.stopSession(auctionID)

	if lot, err := e.db.GetActiveLot(auctionID); err == nil && lot != nil {
		remaining := time.Until(lot.Deadline)
		if remaining < 0 {
			remaining = 0
		}
		if err := e.db.SnapshotRemaining(lot.LotID, remaining.Milliseconds()); err != nil {
			log.Error().Err(err).Str("lot_id", lot.LotID).Msg("failed to snapshot remaining time")
		}
	}

	log.Info().Str("auction_id", auctionID).Msg("auction paused")
	e.publish(broadcast.Event{
		Type:      broadcast.EventAuctionPaused,
		AuctionID: auctionID,
	})
	return nil
}

// Resume recomputes the active lot's deadline from the pause snapshot
// and restarts the clock. The restored deadline can only move forward.
func (e *Engine) Resume(auctionID, actorID string) error {
	auction, err := e.db.GetAuction(auctionID)
	if err != nil {
		return err
	}
	if auction == nil {
		return ErrNotFound
	}
	if auction.CommissionerID != actorID {
		return ErrNotAuthorized
	}
	if auction.Status != types.AuctionPaused {
		return ErrBadState
	}

	lot, err := e.db.GetActiveLot(auctionID)
	if err != nil {
		return err
	}
	if lot != nil {
		deadline := time.Now().Add(time.Duration(lot.RemainingMS) * time.Millisecond)
		if res := guardrail.DeadlineMonotonic(lot.Deadline, deadline); res.OK {
			if _, err := e.db.RestoreDeadline(lot.LotID, deadline); err != nil {
				return err
			}
		}
	}

	resumed, err := e.db.TransitionAuction(auctionID, types.AuctionPaused, types.AuctionLive)
	if err != nil {
		return err
	}
	if !resumed {
		return ErrBadState
	}

	e.startSession(auctionID)

	log.Info().Str("auction_id", auctionID).Msg("auction resumed")
	e.publish(broadcast.Event{
		Type:      broadcast.EventAuctionResumed,
		AuctionID: auctionID,
	})
	return nil
}

// GetState builds the read-only snapshot reconnecting viewers resync from.
func (e *Engine) GetState(auctionID string) (*types.AuctionSnapshot, error) {
	auction, err := e.db.GetAuction(auctionID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, ErrNotFound
	}

	snapshot := &types.AuctionSnapshot{
		AuctionID:  auction.AuctionID,
		LeagueID:   auction.LeagueID,
		Status:     auction.Status,
		ServerTime: time.Now(),
	}

	lot, err := e.db.GetActiveLot(auctionID)
	if err != nil {
		return nil, err
	}
	if lot != nil {
		snapshot.CurrentLot = lot
		bids, err := e.db.ListBidsForLot(lot.LotID)
		if err != nil {
			return nil, err
		}
		snapshot.BidHistory = bids
	}

	rosters, err := e.db.ListRosters(auctionID)
	if err != nil {
		return nil, err
	}
	filled, err := e.db.SlotsFilled(auctionID)
	if err != nil {
		return nil, err
	}
	for _, r := range rosters {
		snapshot.Rosters = append(snapshot.Rosters, types.RosterView{
			ParticipantID: r.ParticipantID,
			DisplayName:   r.DisplayName,
			Budget:        r.Budget,
			SlotLimit:     r.SlotLimit,
			SlotsFilled:   filled[r.ParticipantID],
		})
	}
	return snapshot, nil
}

// --- session registry ---

func (e *Engine) startSession(auctionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[auctionID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := clock.NewClock(e.gormDB, e.pub, func(lotID string) {
		if err := e.Settle(lotID); err != nil {
			log.Error().Err(err).Str("lot_id", lotID).Msg("settlement failed")
		}
	}, e.settings.TickInterval)

	e.sessions[auctionID] = &session{cancel: cancel}
	metrics.LiveAuctions.Inc()
	go c.Run(ctx, auctionID)
}

func (e *Engine) stopSession(auctionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[auctionID]; ok {
		s.cancel()
		delete(e.sessions, auctionID)
		metrics.LiveAuctions.Dec()
	}
}

// StopAll cancels every running clock. Called on server shutdown.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.sessions {
		s.cancel()
		delete(e.sessions, id)
		metrics.LiveAuctions.Dec()
	}
}

func (e *Engine) publish(event broadcast.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.pub.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_type", event.Type).Msg("event publish failed")
	}
}
