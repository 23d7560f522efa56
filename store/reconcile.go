package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"auctionhouse/bidding"
	"auctionhouse/models"
)

// ApplyReconciliation finishes a wallet release the coordinator left
// behind. The release ledger entry carries the reconciliation id as its
// reference, so a replayed reconciliation returns applied=false and changes
// nothing. bidding.ErrConditionFailed means the held balance no longer
// covers the amount and the case needs a human.
func (s *Store) ApplyReconciliation(ctx context.Context, r bidding.Reconciliation) (applied bool, err error) {
	const op = "ApplyReconciliation"
	if r.Amount <= 0 {
		return false, fmt.Errorf("[%s] %w: %s", op, bidding.ErrInvalidAmount, r.Amount)
	}

	reference := "reconcile:" + r.ID.String()
	itemID := r.ItemID
	release := models.WalletTransaction{
		UserID:      r.UserID,
		Type:        models.WalletTransactionRelease,
		Amount:      int64(r.Amount),
		Status:      models.WalletTransactionCompleted,
		ItemID:      &itemID,
		Description: "Reconciled: " + r.Reason,
		Reference:   &reference,
	}

	err = s.transaction(ctx, func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&release)
		if result.Error != nil {
			return fmt.Errorf("record release, err=%w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if r.HoldTransactionID != nil {
			// a hold settled by an earlier partial release stays as it is
			err := tx.Model(&models.WalletTransaction{}).
				Where("id = ? AND type = ? AND status = ?", *r.HoldTransactionID, models.WalletTransactionHold, models.WalletTransactionActive).
				Update("status", models.WalletTransactionReleased).Error
			if err != nil {
				return fmt.Errorf("settle hold, err=%w", err)
			}
		}
		if r.Kind == bidding.ReconcileRelease {
			if err := moveFunds(tx, op, r.UserID, r.Amount, "wallet_held", "wallet_balance"); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if errors.Is(err, bidding.ErrConditionFailed) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("[%s] Fail to apply reconciliation %s, err=%w", op, r.ID, err)
	}
	return applied, nil
}
