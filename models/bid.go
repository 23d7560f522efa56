package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CurrentBid is the single live highest bid of an item.
// ItemID is the primary key so the store holds at most one row per item;
// Version grows by one on every replacement and is the compare-and-swap
// token used when a new bid replaces the previous one.
type CurrentBid struct {
	ItemID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	AuctionID         uuid.UUID  `gorm:"type:uuid;not null;index"`
	BidderID          uuid.UUID  `gorm:"type:uuid;not null"`
	CurrentPrice      int64      `gorm:"not null"`
	BidTime           time.Time  `gorm:"not null"`
	FundsHeld         bool       `gorm:"not null;default:false"`
	HoldTransactionID *uuid.UUID `gorm:"type:uuid"`
	Version           int64      `gorm:"not null;default:1"`
	UpdatedAt         time.Time
}

func (c CurrentBid) FeedScope() (uuid.UUID, uuid.UUID) {
	return c.AuctionID, c.ItemID
}

// BidHistory is the append-only record of every accepted bid.
// Sequence equals the CurrentBid version the bid produced, so ordering by
// it yields acceptance order.
type BidHistory struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ItemID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bid_histories_item_sequence;<-:create"`
	Sequence  int64     `gorm:"not null;uniqueIndex:idx_bid_histories_item_sequence;<-:create"`
	AuctionID uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	BidderID  uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Amount    int64     `gorm:"not null;<-:create"`
	BidTime   time.Time `gorm:"not null;<-:create"`
	CreatedAt time.Time
}

func (h *BidHistory) BeforeCreate(tx *gorm.DB) error {
	return assignID(&h.ID)
}

func (h BidHistory) FeedScope() (uuid.UUID, uuid.UUID) {
	return h.AuctionID, h.ItemID
}
