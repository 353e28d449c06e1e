package engine

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/openleague/gavel-api/pkg/response"
)

// GinHandlers contains HTTP handlers for auction lifecycle endpoints
type GinHandlers struct {
	engine *Engine
}

func NewGinHandlers(engine *Engine) *GinHandlers {
	return &GinHandlers{
		engine: engine,
	}
}

func handleEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotAuthorized):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrBadState):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}

// CreateAuctionHandler handles POST requests from the surrounding
// application to create an auction for a league.
func (h *GinHandlers) CreateAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var params CreateAuctionParams
		if err := c.ShouldBindJSON(&params); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		auction, err := h.engine.CreateAuction(params)
		response.Handle(c, auction, err)
	}
}

type addParticipantRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	DisplayName   string `json:"display_name"`
	SlotLimit     int    `json:"slot_limit"`
}

// AddParticipantHandler handles POST requests to register a roster
// before the auction starts.
func (h *GinHandlers) AddParticipantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addParticipantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		roster, err := h.engine.AddParticipant(c.Param("auction_id"), req.ParticipantID, req.DisplayName, req.SlotLimit)
		if err != nil {
			handleEngineError(c, err)
			return
		}
		response.Success(c, roster)
	}
}

type addCatalogItemRequest struct {
	ItemID string `json:"item_id" binding:"required"`
	Name   string `json:"name" binding:"required"`
}

// AddCatalogItemHandler handles POST requests to load one catalog item.
func (h *GinHandlers) AddCatalogItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addCatalogItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		item, err := h.engine.AddCatalogItem(c.Param("auction_id"), req.ItemID, req.Name)
		if err != nil {
			handleEngineError(c, err)
			return
		}
		response.Success(c, item)
	}
}

// StartAuctionHandler handles POST requests to start the auction.
// Commissioner only.
func (h *GinHandlers) StartAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetString("participantID")
		if err := h.engine.Start(c.Param("auction_id"), actorID); err != nil {
			handleEngineError(c, err)
			return
		}
		response.Success(c, gin.H{"status": "live"})
	}
}

// PauseAuctionHandler handles POST requests to pause a live auction.
// Commissioner only.
func (h *GinHandlers) PauseAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetString("participantID")
		if err := h.engine.Pause(c.Param("auction_id"), actorID); err != nil {
			handleEngineError(c, err)
			return
		}
		response.Success(c, gin.H{"status": "paused"})
	}
}

// ResumeAuctionHandler handles POST requests to resume a paused auction.
// Commissioner only.
func (h *GinHandlers) ResumeAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetString("participantID")
		if err := h.engine.Resume(c.Param("auction_id"), actorID); err != nil {
			handleEngineError(c, err)
			return
		}
		response.Success(c, gin.H{"status": "live"})
	}
}

// GetStateHandler handles GET requests for the auction snapshot used by
// reconnecting viewers.
func (h *GinHandlers) GetStateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := h.engine.GetState(c.Param("auction_id"))
		if err != nil {
			handleEngineError(c, err)
			return
		}
		response.Success(c, snapshot)
	}
}
