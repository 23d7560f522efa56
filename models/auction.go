package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Auction is a timed bidding event containing one or more items.
// EndTime is the nominal end; the effective end of each item is derived
// from it and the item's latest bid and is never stored.
type Auction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	Title     string    `gorm:"type:varchar(255);not null"`
	StartTime time.Time `gorm:"not null"`
	EndTime   time.Time `gorm:"not null;<-:create"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Items []Item `gorm:"foreignKey:AuctionID"`
}

func (a *Auction) BeforeCreate(tx *gorm.DB) error {
	return assignID(&a.ID)
}

func (a Auction) FeedScope() (uuid.UUID, uuid.UUID) {
	return a.ID, uuid.Nil
}

// Item is an auctionable good. It belongs to exactly one auction.
type Item struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	AuctionID   uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	OwnerID     uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Title       string    `gorm:"type:varchar(255);not null"`
	Description string    `gorm:"type:text;not null;default:''"`
	ImageURL    string    `gorm:"type:text;not null;default:''"`
	MinBid      int64     `gorm:"not null;default:0;check:chk_items_min_bid,min_bid >= 0"`
	Sold        bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Auction *Auction `gorm:"foreignKey:AuctionID"`
}

func (i *Item) BeforeCreate(tx *gorm.DB) error {
	return assignID(&i.ID)
}

func (i Item) FeedScope() (uuid.UUID, uuid.UUID) {
	return i.AuctionID, i.ID
}
