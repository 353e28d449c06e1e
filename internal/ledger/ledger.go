// Package ledger accepts bids. Every submission carries a client
// operation ID; the ledger guarantees at-most-once application of each
// operation and a single winner per bid amount under concurrency.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openleague/gavel-api/internal/broadcast"
	"github.com/openleague/gavel-api/internal/guardrail"
	"github.com/openleague/gavel-api/internal/metrics"
	"github.com/openleague/gavel-api/internal/types"
	"github.com/openleague/gavel-api/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrBidderNotFound  = errors.New("bidder has no roster in this auction")
)

// Rejection reasons returned to bidders. All are non-fatal to the auction.
const (
	ReasonAuctionNotLive     = "auction_not_live"
	ReasonLotNotActive       = "lot_not_active"
	ReasonBidTooLow          = "bid_too_low"
	ReasonInsufficientBudget = "insufficient_budget"
	ReasonOutbid             = "outbid"
)

// Service handles bid acceptance for live auctions.
type Service struct {
	db  *Database
	pub broadcast.Publisher
}

func NewService(gormDB *gorm.DB, pub broadcast.Publisher) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		pub: pub,
	}
}

// PlaceBid applies one bid operation at most once.
//
// A replayed operation ID returns the stored outcome unchanged, with no
// new Bid record and no side effects, so clients may resend a request
// verbatim after a dropped acknowledgment. Business rejections come back
// as a BidResult with Accepted=false and a reason; the error return is
// reserved for unknown auctions/bidders and store failures.
func (s *Service) PlaceBid(auctionID, bidderID string, amount int64, operationID string) (*types.BidResult, error) {
	logger := log.With().
		Str("auction_id", auctionID).
		Str("bidder_id", bidderID).
		Str("operation_id", operationID).
		Int64("amount", amount).
		Str("service", "ledger").
		Logger()

	// Replay check before any validation: the stored outcome wins.
	if entry, err := s.db.GetLedgerEntry(auctionID, operationID); err != nil {
		return nil, err
	} else if entry != nil {
		logger.Debug().Msg("replayed operation, returning stored outcome")
		return resultFromEntry(entry), nil
	}

	auction, err := s.db.GetAuction(auctionID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, ErrAuctionNotFound
	}
	if auction.Status != types.AuctionLive {
		return s.reject(auctionID, operationID, ReasonAuctionNotLive, 0, "")
	}

	lot, err := s.db.GetActiveLot(auctionID)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return s.reject(auctionID, operationID, ReasonLotNotActive, 0, "")
	}

	roster, err := s.db.GetRoster(auctionID, bidderID)
	if err != nil {
		return nil, err
	}
	if roster == nil {
		return nil, ErrBidderNotFound
	}

	if res := guardrail.MinimumRaise(lot.CurrentBid, amount, auction.BidIncrement); !res.OK {
		logger.Debug().Str("reason", res.Reason).Msg("bid rejected")
		return s.reject(auctionID, operationID, ReasonBidTooLow, lot.CurrentBid, lot.LeadingBidderID)
	}
	if res := guardrail.SufficientBudget(roster.Budget, amount); !res.OK {
		logger.Debug().Str("reason", res.Reason).Msg("bid rejected")
		return s.reject(auctionID, operationID, ReasonInsufficientBudget, lot.CurrentBid, lot.LeadingBidderID)
	}

	bid := &types.Bid{
		BidID:       uuid.New().String(),
		AuctionID:   auctionID,
		LotID:       lot.LotID,
		BidderID:    bidderID,
		Amount:      amount,
		OperationID: operationID,
		AcceptedAt:  time.Now(),
	}
	entry := &types.LedgerEntry{
		AuctionID:       auctionID,
		OperationID:     operationID,
		Accepted:        true,
		CurrentBid:      amount,
		LeadingBidderID: bidderID,
	}

	applied, err := s.db.ApplyBid(lot, amount, auction.BidIncrement, bid, entry)
	if err != nil {
		// A concurrent replay of the same operation ID hits the unique
		// ledger index; the stored outcome is authoritative.
		if stored, gerr := s.db.GetLedgerEntry(auctionID, operationID); gerr == nil && stored != nil {
			return resultFromEntry(stored), nil
		}
		return nil, err
	}
	if !applied {
		// Lost the race or the lot locked. Report the now-current state
		// so the caller can decide whether to re-bid higher.
		fresh, ferr := s.db.GetLot(lot.LotID)
		if ferr != nil || fresh == nil {
			return s.reject(auctionID, operationID, ReasonLotNotActive, 0, "")
		}
		return s.reject(auctionID, operationID, ReasonOutbid, fresh.CurrentBid, fresh.LeadingBidderID)
	}

	metrics.BidsAccepted.Inc()
	logger.Info().Str("lot_id", lot.LotID).Msg("bid accepted")

	s.publish(broadcast.Event{
		Type:      broadcast.EventBidAccepted,
		AuctionID: auctionID,
		Payload: broadcast.BidAcceptedPayload{
			LotID:    lot.LotID,
			BidderID: bidderID,
			Amount:   amount,
		},
	})

	s.maybeExtendDeadline(logger, auction, lot)

	return resultFromEntry(entry), nil
}

// maybeExtendDeadline applies the anti-snipe rule: an accepted bid
// landing inside the configured window pushes the deadline to
// now + 2x window, never earlier than it already is.
func (s *Service) maybeExtendDeadline(logger zerolog.Logger, auction *types.Auction, lot *types.Lot) {
	window := time.Duration(auction.AntiSnipeSeconds) * time.Second
	if window <= 0 {
		return
	}

	now := time.Now()
	if lot.Deadline.Sub(now) >= window {
		return
	}

	newDeadline := now.Add(2 * window)
	if res := guardrail.DeadlineMonotonic(lot.Deadline, newDeadline); !res.OK {
		return
	}

	applied, err := s.db.ExtendDeadline(lot.LotID, newDeadline)
	if err != nil {
		logger.Warn().Err(err).Str("lot_id", lot.LotID).Msg("failed to extend deadline")
		return
	}
	if !applied {
		return
	}

	s.publish(broadcast.Event{
		Type:      broadcast.EventAntiSnipe,
		AuctionID: auction.AuctionID,
		Payload: broadcast.AntiSnipePayload{
			LotID:       lot.LotID,
			NewDeadline: newDeadline,
		},
	})
}

func (s *Service) reject(auctionID, operationID, reason string, currentBid int64, leadingBidder string) (*types.BidResult, error) {
	entry := &types.LedgerEntry{
		AuctionID:       auctionID,
		OperationID:     operationID,
		Accepted:        false,
		CurrentBid:      currentBid,
		LeadingBidderID: leadingBidder,
		Reason:          reason,
	}
	if err := s.db.CreateLedgerEntry(entry); err != nil {
		// Duplicate operation ID racing against itself: serve whichever
		// outcome landed first.
		if stored, gerr := s.db.GetLedgerEntry(auctionID, operationID); gerr == nil && stored != nil {
			return resultFromEntry(stored), nil
		}
		return nil, err
	}

	metrics.BidsRejected.WithLabelValues(reason).Inc()
	return resultFromEntry(entry), nil
}

func resultFromEntry(entry *types.LedgerEntry) *types.BidResult {
	return &types.BidResult{
		Accepted:        entry.Accepted,
		CurrentBid:      entry.CurrentBid,
		LeadingBidderID: entry.LeadingBidderID,
		Reason:          entry.Reason,
	}
}

func (s *Service) publish(event broadcast.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.pub.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_type", event.Type).Msg("event publish failed")
	}
}

// GinHandlers contains HTTP handlers for bid endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type placeBidRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// PlaceBidHandler handles POST requests to place a bid on the active lot.
// Requires a valid JWT token and an Idempotency-Key header, which serves
// as the bid's operation ID.
func (h *GinHandlers) PlaceBidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		operationID := c.GetHeader("Idempotency-Key")
		if operationID == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		bidderID := c.GetString("participantID")
		if bidderID == "" {
			response.Unauthorized(c, "Missing participant identity")
			return
		}

		var req placeBidRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.PlaceBid(c.Param("auction_id"), bidderID, req.Amount, operationID)
		if err != nil {
			switch {
			case errors.Is(err, ErrAuctionNotFound):
				response.NotFound(c, err.Error())
			case errors.Is(err, ErrBidderNotFound):
				response.Forbidden(c, err.Error())
			default:
				response.InternalError(c, err.Error())
			}
			return
		}

		if !result.Accepted && result.Reason == ReasonOutbid {
			response.ConflictWithData(c, result)
			return
		}
		response.Success(c, result)
	}
}
