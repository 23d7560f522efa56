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

// GetAvailableBalance returns the spendable balance of the user.
func (s *Store) GetAvailableBalance(ctx context.Context, userID uuid.UUID) (bidding.Cents, error) {
	const op = "GetAvailableBalance"
	var profile models.Profile
	err := s.db.WithContext(ctx).Select("id", "wallet_balance").First(&profile, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, bidding.ErrRecordNotFound
		}
		return 0, fmt.Errorf("[%s] Fail to read balance of user %s, err=%w", op, userID, err)
	}
	return bidding.Cents(profile.WalletBalance), nil
}

// HoldFunds moves amount from the spendable balance to the held balance in
// a single conditional update. bidding.ErrConditionFailed means the balance
// was too low (or the user does not exist).
func (s *Store) HoldFunds(ctx context.Context, userID uuid.UUID, amount bidding.Cents) error {
	const op = "HoldFunds"
	return moveFunds(s.db.WithContext(ctx), op, userID, amount, "wallet_balance", "wallet_held")
}

// ReleaseFunds moves amount from the held balance back to the spendable one.
func (s *Store) ReleaseFunds(ctx context.Context, userID uuid.UUID, amount bidding.Cents) error {
	const op = "ReleaseFunds"
	return moveFunds(s.db.WithContext(ctx), op, userID, amount, "wallet_held", "wallet_balance")
}

func moveFunds(db *gorm.DB, op string, userID uuid.UUID, amount bidding.Cents, from, to string) error {
	if amount <= 0 {
		return fmt.Errorf("[%s] %w: %s", op, bidding.ErrInvalidAmount, amount)
	}
	result := db.
		Model(&models.Profile{ID: userID}).
		Where(from+" >= ?", int64(amount)).
		Updates(map[string]any{
			from: gorm.Expr(from+" - ?", int64(amount)),
			to:   gorm.Expr(to+" + ?", int64(amount)),
		})
	if result.Error != nil {
		return fmt.Errorf("[%s] Fail to move %s of user %s, err=%w", op, amount, userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return bidding.ErrConditionFailed
	}
	return nil
}

func (s *Store) RecordWalletTransaction(ctx context.Context, tx *models.WalletTransaction) error {
	const op = "RecordWalletTransaction"
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("[%s] Fail to record %s of user %s, err=%w", op, tx.Type, tx.UserID, err)
	}
	return nil
}

// SettleHold closes an active hold. bidding.ErrConditionFailed means the
// hold does not exist or was already settled.
func (s *Store) SettleHold(ctx context.Context, holdID uuid.UUID, status models.WalletTransactionStatus) error {
	const op = "SettleHold"
	result := s.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("id = ? AND type = ? AND status = ?", holdID, models.WalletTransactionHold, models.WalletTransactionActive).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("[%s] Fail to settle hold %s, err=%w", op, holdID, result.Error)
	}
	if result.RowsAffected == 0 {
		return bidding.ErrConditionFailed
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	const op = "GetProfile"
	var profile models.Profile
	if err := s.db.WithContext(ctx).First(&profile, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bidding.ErrRecordNotFound
		}
		return nil, fmt.Errorf("[%s] Fail to find profile %s, err=%w", op, userID, err)
	}
	return &profile, nil
}

// EnsureProfile creates an empty wallet for a user seen for the first time
// and returns the stored profile.
func (s *Store) EnsureProfile(ctx context.Context, userID uuid.UUID, username string) (*models.Profile, error) {
	const op = "EnsureProfile"
	profile := models.Profile{ID: userID, Username: username}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&profile).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to create profile %s, err=%w", op, userID, err)
	}
	return s.GetProfile(ctx, userID)
}

// ListWalletTransactions returns the latest ledger entries of the user,
// newest first.
func (s *Store) ListWalletTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	const op = "ListWalletTransactions"
	if limit <= 0 {
		limit = 50
	}
	var txs []models.WalletTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "created_at"}, Desc: true},
			{Column: clause.Column{Name: "id"}, Desc: true},
		}}).
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to list transactions of user %s, err=%w", op, userID, err)
	}
	return txs, nil
}

// TopUp credits amount to the user's spendable balance once per payment
// reference. A reference seen before returns the original transaction and
// applied=false without touching the balance.
func (s *Store) TopUp(ctx context.Context, userID uuid.UUID, amount bidding.Cents, reference string) (tx *models.WalletTransaction, applied bool, err error) {
	const op = "TopUp"
	if amount <= 0 {
		return nil, false, fmt.Errorf("[%s] %w: %s", op, bidding.ErrInvalidAmount, amount)
	}
	if reference == "" {
		return nil, false, fmt.Errorf("[%s] reference cannot be empty", op)
	}

	entry := models.WalletTransaction{
		UserID:      userID,
		Type:        models.WalletTransactionTopUp,
		Amount:      int64(amount),
		Status:      models.WalletTransactionCompleted,
		Description: "Wallet top-up",
		Reference:   &reference,
	}
	err = s.transaction(ctx, func(db *gorm.DB) error {
		result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if result.Error != nil {
			return fmt.Errorf("record top-up, err=%w", result.Error)
		}
		if result.RowsAffected == 0 {
			var existing models.WalletTransaction
			if err := db.Where("reference = ?", reference).First(&existing).Error; err != nil {
				return fmt.Errorf("load replayed top-up, err=%w", err)
			}
			entry = existing
			return nil
		}
		applied = true

		credit := db.Model(&models.Profile{ID: userID}).
			Update("wallet_balance", gorm.Expr("wallet_balance + ?", int64(amount)))
		if credit.Error != nil {
			return fmt.Errorf("credit balance, err=%w", credit.Error)
		}
		if credit.RowsAffected == 0 {
			return bidding.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, bidding.ErrRecordNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("[%s] Fail to top up user %s, err=%w", op, userID, err)
	}
	if !applied && entry.UserID != userID {
		return nil, false, fmt.Errorf("[%s] reference %q belongs to another user", op, reference)
	}
	return &entry, applied, nil
}
