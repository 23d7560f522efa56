package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	internalS3 "auctionhouse/adapters/s3"
	"auctionhouse/bidding"
	"auctionhouse/models"
)

type CreateItemRequest struct {
	Title       string         `json:"title"`
	Description *string        `json:"description"`
	MinBid      *bidding.Cents `json:"minBid"`
}

type CreateAuctionRequest struct {
	Title     string              `json:"title"`
	StartTime *time.Time          `json:"startTime"`
	EndTime   time.Time           `json:"endTime"`
	Items     []CreateItemRequest `json:"items"`
}

type CreateAuctionResponse struct {
	AuctionID uuid.UUID   `json:"auctionID"`
	ItemIDs   []uuid.UUID `json:"itemIDs"`
}

// PostAuctions lets a seller open an auction with its items.
func (impl *ServerImpl) PostAuctions(c *gin.Context) {
	const op = "PostAuctions"
	var req CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid auction"))
		return
	}

	now := impl.now()
	startTime := lo.FromPtrOr(req.StartTime, now)
	title := strings.TrimSpace(impl.textChecker.Sanitize(req.Title))
	switch {
	case title == "":
		c.JSON(http.StatusBadRequest, errorBody("title is required"))
		return
	case !req.EndTime.After(startTime) || !req.EndTime.After(now):
		c.JSON(http.StatusBadRequest, errorBody("invalid auction time"))
		return
	case len(req.Items) == 0:
		c.JSON(http.StatusBadRequest, errorBody("an auction needs at least one item"))
		return
	}

	items := make([]models.Item, len(req.Items))
	for i, item := range req.Items {
		itemTitle := strings.TrimSpace(impl.textChecker.Sanitize(item.Title))
		minBid := lo.FromPtrOr(item.MinBid, 0)
		if itemTitle == "" || minBid < 0 {
			c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("item %d needs a title and a non-negative minimum bid", i+1)))
			return
		}
		items[i] = models.Item{
			Title:       itemTitle,
			Description: impl.htmlChecker.Sanitize(lo.FromPtrOr(item.Description, "")),
			MinBid:      int64(minBid),
		}
	}

	auction := models.Auction{
		OwnerID:   currentProfile(c).ID,
		Title:     title,
		StartTime: startTime,
		EndTime:   req.EndTime,
		Items:     items,
	}
	if err := impl.store.CreateAuction(c.Request.Context(), &auction); err != nil {
		impl.internalError(c, fmt.Errorf("[%s] %w", op, err))
		return
	}

	c.Header("Location", "/auctions/"+auction.ID.String()+"/snapshot")
	c.JSON(http.StatusCreated, CreateAuctionResponse{
		AuctionID: auction.ID,
		ItemIDs:   lo.Map(auction.Items, func(item models.Item, _ int) uuid.UUID { return item.ID }),
	})
}

// GetAuctionSnapshot returns the current view of an auction once.
func (impl *ServerImpl) GetAuctionSnapshot(c *gin.Context) {
	auctionID, ok := pathID(c, "auctionID")
	if !ok {
		return
	}
	snapshot, err := impl.notifier.Snapshot(c.Request.Context(), auctionID)
	if err != nil {
		if errors.Is(err, bidding.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, errorBody("auction not found"))
			return
		}
		impl.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSnapshotResponse(snapshot))
}

// GetAuctionEvents streams the live state of an auction as server-sent
// events until the client goes away.
func (impl *ServerImpl) GetAuctionEvents(c *gin.Context) {
	auctionID, ok := pathID(c, "auctionID")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sub, err := impl.notifier.Subscribe(ctx, auctionID)
	if err != nil {
		if errors.Is(err, bidding.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, errorBody("auction not found"))
			return
		}
		impl.internalError(c, err)
		return
	}
	defer sub.Stop()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// the first snapshot goes out before the feed is joined; every later
	// state arrives through Updates
	c.SSEvent("state", toStateResponse(sub.State()))
	w.Flush()
	sub.Start()

	// an idle stream still gets a line now and then so proxies keep it open
	keepAlive := time.NewTicker(impl.keepAlive)
	defer keepAlive.Stop()
	updates := sub.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			c.SSEvent("state", toStateResponse(state))
			w.Flush()
		case <-keepAlive.C:
			if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

// PostItemImage stores the image of an item. Only the seller may set it.
func (impl *ServerImpl) PostItemImage(c *gin.Context) {
	itemID, ok := pathID(c, "itemID")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	item, err := impl.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, bidding.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, errorBody("item not found"))
			return
		}
		impl.internalError(c, err)
		return
	}
	if item.OwnerID != currentProfile(c).ID {
		c.JSON(http.StatusForbidden, errorBody("only the seller can change the item image"))
		return
	}

	url, err := impl.images.UploadItemImage(ctx, itemID, c.Request.Body)
	var (
		tooLarge *internalS3.ReachLimitError
		invalid  *internalS3.InvalidImageError
	)
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, errorBody(err.Error()))
		return
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, errorBody(invalid.Error()))
		return
	case err != nil:
		impl.internalError(c, err)
		return
	}

	if err := impl.store.SetItemImage(ctx, item, url); err != nil {
		impl.internalError(c, err)
		return
	}
	c.Header("Location", url)
	c.JSON(http.StatusCreated, gin.H{"imageURL": url})
}
