package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Profile is a marketplace user together with their wallet.
// WalletBalance is spendable money, WalletHeld is money reserved by active bids.
// Both are integer cents and are only ever changed by conditional UPDATEs.
type Profile struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username      string    `gorm:"type:varchar(255);not null"`
	WalletBalance int64     `gorm:"not null;default:0;check:chk_profiles_wallet_balance,wallet_balance >= 0"`
	WalletHeld    int64     `gorm:"not null;default:0;check:chk_profiles_wallet_held,wallet_held >= 0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	return assignID(&p.ID)
}

// assignID fills an empty primary key with a time ordered UUID.
func assignID(id *uuid.UUID) error {
	if *id != uuid.Nil {
		return nil
	}
	v, err := uuid.NewV7()
	if err != nil {
		return err
	}
	*id = v
	return nil
}
