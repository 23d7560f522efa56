package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"auctionhouse/bidding"
	"auctionhouse/models"
)

type PlaceBidRequest struct {
	Amount bidding.Cents `json:"amount"`
}

type PlaceBidResponse struct {
	Message          string        `json:"message"`
	ItemID           uuid.UUID     `json:"itemID"`
	AuctionID        uuid.UUID     `json:"auctionID"`
	Amount           bidding.Cents `json:"amount"`
	BidTime          time.Time     `json:"bidTime"`
	EffectiveEndTime time.Time     `json:"effectiveEndTime"`
	Extended         bool          `json:"extended"`
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody(name+" is not a valid id"))
		return uuid.Nil, false
	}
	return id, true
}

// PostItemBids places a bid on an item.
func (impl *ServerImpl) PostItemBids(c *gin.Context) {
	itemID, ok := pathID(c, "itemID")
	if !ok {
		return
	}
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("amount must be a decimal string such as \"10.01\""))
		return
	}
	profile := currentProfile(c)

	result, err := impl.coordinator.PlaceBid(c.Request.Context(), itemID, profile.ID, req.Amount)
	if err != nil {
		impl.writeBidError(c, err)
		return
	}
	for _, w := range result.Warnings {
		impl.logger.Warn("Outbid hold left for reconciliation",
			slog.String("userID", w.UserID.String()),
			slog.String("itemID", w.ItemID.String()),
			slog.String("amount", w.Amount.String()),
			slog.Any("error", w.Err))
	}

	message := "Your bid was placed."
	if result.Extended {
		message = "Your bid was placed and the auction was extended by 5 minutes."
	}
	c.JSON(http.StatusCreated, PlaceBidResponse{
		Message:          message,
		ItemID:           result.ItemID,
		AuctionID:        result.AuctionID,
		Amount:           result.Amount,
		BidTime:          result.BidTime,
		EffectiveEndTime: result.EffectiveEndTime,
		Extended:         result.Extended,
	})
}

// GetItemBids lists the accepted bids of an item, oldest first.
func (impl *ServerImpl) GetItemBids(c *gin.Context) {
	itemID, ok := pathID(c, "itemID")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := impl.store.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, bidding.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, errorBody("item not found"))
			return
		}
		impl.internalError(c, err)
		return
	}
	history, err := impl.store.ListBidHistory(ctx, itemID)
	if err != nil {
		impl.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(history, func(h models.BidHistory, _ int) BidHistoryResponse {
		return BidHistoryResponse{
			Sequence: h.Sequence,
			BidderID: h.BidderID,
			Amount:   bidding.Cents(h.Amount),
			BidTime:  h.BidTime,
		}
	}))
}
