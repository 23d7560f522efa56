package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WalletTransactionType string

const (
	WalletTransactionHold    WalletTransactionType = "hold"
	WalletTransactionRelease WalletTransactionType = "release"
	WalletTransactionTopUp   WalletTransactionType = "topup"
	WalletTransactionSpend   WalletTransactionType = "spend"
)

type WalletTransactionStatus string

const (
	// WalletTransactionActive marks a hold that still backs a current bid.
	WalletTransactionActive    WalletTransactionStatus = "active"
	WalletTransactionReleased  WalletTransactionStatus = "released"
	WalletTransactionCompleted WalletTransactionStatus = "completed"
)

// WalletTransaction is an immutable ledger entry of a user's wallet.
// Only the status of a hold moves (active -> released | completed).
// Reference is the external id of a top-up and is unique when set.
type WalletTransaction struct {
	ID          uuid.UUID               `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID               `gorm:"type:uuid;not null;index;<-:create"`
	Type        WalletTransactionType   `gorm:"type:varchar(16);not null;<-:create"`
	Amount      int64                   `gorm:"not null;<-:create"`
	Status      WalletTransactionStatus `gorm:"type:varchar(16);not null"`
	ItemID      *uuid.UUID              `gorm:"type:uuid;index;<-:create"`
	Description string                  `gorm:"type:text;not null;default:''"`
	Reference   *string                 `gorm:"type:varchar(255);uniqueIndex;<-:create"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	return assignID(&t.ID)
}
