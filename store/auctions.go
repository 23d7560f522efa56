package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"auctionhouse/bidding"
	"auctionhouse/models"
)

// CreateAuction stores an auction together with its items.
func (s *Store) CreateAuction(ctx context.Context, auction *models.Auction) error {
	const op = "CreateAuction"
	for i := range auction.Items {
		auction.Items[i].OwnerID = auction.OwnerID
	}
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(auction).Error
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to create auction %q, err=%w", op, auction.Title, err)
	}
	return nil
}

// SetItemImage stores the public URL of the item's image.
func (s *Store) SetItemImage(ctx context.Context, item *models.Item, url string) error {
	const op = "SetItemImage"
	result := s.db.WithContext(ctx).Model(item).Update("image_url", url)
	if result.Error != nil {
		return fmt.Errorf("[%s] Fail to set image of item %s, err=%w", op, item.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return bidding.ErrRecordNotFound
	}
	return nil
}

// LoadAuctionSnapshot reads an auction, its items in creation order and the
// current bids of those items within one transaction.
func (s *Store) LoadAuctionSnapshot(ctx context.Context, auctionID uuid.UUID) (*models.Auction, []models.CurrentBid, error) {
	const op = "LoadAuctionSnapshot"
	var (
		auction models.Auction
		bids    []models.CurrentBid
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Preload("Items", func(db *gorm.DB) *gorm.DB {
				return db.Order("created_at").Order("id")
			}).
			First(&auction, "id = ?", auctionID).Error
		if err != nil {
			return err
		}
		return tx.Where("auction_id = ?", auctionID).Find(&bids).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, bidding.ErrRecordNotFound
		}
		return nil, nil, fmt.Errorf("[%s] Fail to load auction %s, err=%w", op, auctionID, err)
	}
	return &auction, bids, nil
}
