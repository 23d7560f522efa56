package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"auctionhouse/bidding"
)

func errorBody(message string) gin.H {
	return gin.H{"message": message}
}

func (impl *ServerImpl) internalError(c *gin.Context, err error) {
	impl.logger.Error("Request failed",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Any("error", err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal server error"))
}

// writeBidError answers a rejected bid. Infrastructure failures that left
// nothing behind are 503 so clients may retry; anything else unknown is 500.
func (impl *ServerImpl) writeBidError(c *gin.Context, err error) {
	var (
		notFound     *bidding.NotFoundError
		closed       *bidding.AuctionClosedError
		selfBid      *bidding.SelfBiddingError
		highest      *bidding.AlreadyHighestBidderError
		tooLow       *bidding.BidTooLowError
		insufficient *bidding.InsufficientFundsError
		transient    *bidding.TransientCommitError
		unreconciled *bidding.UnreconciledHoldError
	)
	switch {
	case errors.As(err, &unreconciled):
		impl.logger.Error("Bid left funds on hold",
			slog.String("userID", unreconciled.UserID.String()),
			slog.String("itemID", unreconciled.ItemID.String()),
			slog.String("amount", unreconciled.Amount.String()),
			slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, errorBody("your bid could not be placed; held funds will be returned shortly"))
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, errorBody(notFound.Error()))
	case errors.As(err, &closed):
		c.JSON(http.StatusGone, errorBody(closed.Error()))
	case errors.As(err, &selfBid):
		c.JSON(http.StatusForbidden, errorBody(selfBid.Error()))
	case errors.As(err, &highest):
		c.JSON(http.StatusConflict, errorBody(highest.Error()))
	case errors.As(err, &tooLow):
		c.JSON(http.StatusBadRequest, gin.H{
			"message": tooLow.Error(),
			"minimum": tooLow.Minimum,
		})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"message":   insufficient.Error(),
			"available": insufficient.Available,
			"required":  insufficient.Required,
			"shortfall": insufficient.Shortfall(),
		})
	case errors.As(err, &transient):
		impl.logger.Warn("Bid commit failed", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, errorBody("the bid could not be placed right now, please try again"))
	default:
		impl.internalError(c, err)
	}
}
