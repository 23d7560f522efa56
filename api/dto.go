package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"auctionhouse/bidding"
	"auctionhouse/live"
	"auctionhouse/models"
)

type CurrentBidResponse struct {
	BidderID uuid.UUID     `json:"bidderID"`
	Amount   bidding.Cents `json:"amount"`
	BidTime  time.Time     `json:"bidTime"`
	Version  int64         `json:"version"`
}

type ItemResponse struct {
	ID               uuid.UUID           `json:"id"`
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	ImageURL         string              `json:"imageURL,omitempty"`
	MinBid           bidding.Cents       `json:"minBid"`
	Sold             bool                `json:"sold"`
	CurrentBid       *CurrentBidResponse `json:"currentBid"`
	EffectiveEndTime time.Time           `json:"effectiveEndTime"`
	Closed           bool                `json:"closed"`
}

type SnapshotResponse struct {
	AuctionID    uuid.UUID      `json:"auctionID"`
	Title        string         `json:"title"`
	OwnerID      uuid.UUID      `json:"ownerID"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      time.Time      `json:"endTime"`
	Items        []ItemResponse `json:"items"`
	ActiveItemID *uuid.UUID     `json:"activeItemID"`
	// RemainingMs is the time left on the active item when the snapshot
	// was taken.
	RemainingMs int64     `json:"remainingMs"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

type StateResponse struct {
	Status     live.Status       `json:"status"`
	IsFetching bool              `json:"isFetching"`
	Error      string            `json:"error,omitempty"`
	Snapshot   *SnapshotResponse `json:"snapshot"`
}

type BidHistoryResponse struct {
	Sequence int64         `json:"sequence"`
	BidderID uuid.UUID     `json:"bidderID"`
	Amount   bidding.Cents `json:"amount"`
	BidTime  time.Time     `json:"bidTime"`
}

type WalletTransactionResponse struct {
	ID          uuid.UUID                      `json:"id"`
	Type        models.WalletTransactionType   `json:"type"`
	Status      models.WalletTransactionStatus `json:"status"`
	Amount      bidding.Cents                  `json:"amount"`
	ItemID      *uuid.UUID                     `json:"itemID,omitempty"`
	Description string                         `json:"description"`
	CreatedAt   time.Time                      `json:"createdAt"`
}

func toCurrentBidResponse(cb *models.CurrentBid) *CurrentBidResponse {
	if cb == nil {
		return nil
	}
	return &CurrentBidResponse{
		BidderID: cb.BidderID,
		Amount:   bidding.Cents(cb.CurrentPrice),
		BidTime:  cb.BidTime,
		Version:  cb.Version,
	}
}

func toSnapshotResponse(s *live.Snapshot) *SnapshotResponse {
	if s == nil {
		return nil
	}
	resp := &SnapshotResponse{
		AuctionID:   s.Auction.ID,
		Title:       s.Auction.Title,
		OwnerID:     s.Auction.OwnerID,
		StartTime:   s.Auction.StartTime,
		EndTime:     s.Auction.EndTime,
		RemainingMs: s.RemainingTime.Milliseconds(),
		FetchedAt:   s.FetchedAt,
		Items: lo.Map(s.Items, func(item live.ItemState, _ int) ItemResponse {
			return ItemResponse{
				ID:               item.Item.ID,
				Title:            item.Item.Title,
				Description:      item.Item.Description,
				ImageURL:         item.Item.ImageURL,
				MinBid:           bidding.Cents(item.Item.MinBid),
				Sold:             item.Item.Sold,
				CurrentBid:       toCurrentBidResponse(item.CurrentBid),
				EffectiveEndTime: item.EffectiveEndTime,
				Closed:           item.Closed,
			}
		}),
	}
	if s.ActiveItem != nil {
		resp.ActiveItemID = lo.ToPtr(s.ActiveItem.Item.ID)
	}
	return resp
}

func toStateResponse(state live.State) StateResponse {
	resp := StateResponse{
		Status:     state.Status,
		IsFetching: state.IsFetching,
		Snapshot:   toSnapshotResponse(state.Snapshot),
	}
	if state.Err != nil {
		resp.Error = "live updates are temporarily unavailable"
	}
	return resp
}
