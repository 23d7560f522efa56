package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"auctionhouse/bidding"
	"auctionhouse/models"
)

// GetItem returns the item with its auction loaded.
func (s *Store) GetItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	const op = "GetItem"
	var item models.Item
	if err := s.db.WithContext(ctx).Preload("Auction").First(&item, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bidding.ErrRecordNotFound
		}
		return nil, fmt.Errorf("[%s] Fail to find item %s, err=%w", op, itemID, err)
	}
	return &item, nil
}

// GetCurrentBid returns nil when the item has not been bid on.
func (s *Store) GetCurrentBid(ctx context.Context, itemID uuid.UUID) (*models.CurrentBid, error) {
	const op = "GetCurrentBid"
	var cb models.CurrentBid
	err := s.db.WithContext(ctx).Where("item_id = ?", itemID).Limit(1).Find(&cb).Error
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to find current bid of item %s, err=%w", op, itemID, err)
	}
	if cb.ItemID == uuid.Nil {
		return nil, nil
	}
	return &cb, nil
}

// CommitBid replaces the current bid of the item and appends the bid to its
// history in one transaction. The replacement only happens when the stored
// version still equals req.ExpectedVersion; a first bid is an insert that
// loses against any concurrent first bid. A lost race returns
// bidding.ErrConditionFailed and writes nothing.
func (s *Store) CommitBid(ctx context.Context, req bidding.CommitRequest) (*models.CurrentBid, error) {
	const op = "CommitBid"
	if req.Item == nil {
		return nil, fmt.Errorf("[%s] item cannot be nil", op)
	}

	holdID := req.HoldTransactionID
	cb := models.CurrentBid{
		ItemID:            req.Item.ID,
		AuctionID:         req.Item.AuctionID,
		BidderID:          req.BidderID,
		CurrentPrice:      int64(req.Amount),
		BidTime:           req.BidTime,
		FundsHeld:         true,
		HoldTransactionID: &holdID,
		Version:           req.ExpectedVersion + 1,
	}

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var result *gorm.DB
		if req.ExpectedVersion == 0 {
			result = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&cb)
		} else {
			result = tx.Model(&cb).
				Where("version = ?", req.ExpectedVersion).
				Updates(map[string]any{
					"bidder_id":           cb.BidderID,
					"current_price":       cb.CurrentPrice,
					"bid_time":            cb.BidTime,
					"funds_held":          true,
					"hold_transaction_id": holdID,
					"version":             gorm.Expr("version + 1"),
				})
		}
		if result.Error != nil {
			return fmt.Errorf("write current bid, err=%w", result.Error)
		}
		if result.RowsAffected == 0 {
			return bidding.ErrConditionFailed
		}

		history := models.BidHistory{
			ItemID:    cb.ItemID,
			Sequence:  cb.Version,
			AuctionID: cb.AuctionID,
			BidderID:  cb.BidderID,
			OwnerID:   req.Item.OwnerID,
			Amount:    cb.CurrentPrice,
			BidTime:   cb.BidTime,
		}
		if err := tx.Create(&history).Error; err != nil {
			return fmt.Errorf("append bid history, err=%w", err)
		}
		return nil
	})
	if errors.Is(err, bidding.ErrConditionFailed) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to commit bid on item %s, err=%w", op, req.Item.ID, err)
	}
	return &cb, nil
}

// ListBidHistory returns the accepted bids of an item in acceptance order.
func (s *Store) ListBidHistory(ctx context.Context, itemID uuid.UUID) ([]models.BidHistory, error) {
	const op = "ListBidHistory"
	var history []models.BidHistory
	if err := s.db.WithContext(ctx).Where("item_id = ?", itemID).Order("sequence").Find(&history).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to list bid history of item %s, err=%w", op, itemID, err)
	}
	return history, nil
}
