package bidding

import (
	"context"
	"time"

	"github.com/google/uuid"

	"auctionhouse/models"
)

// Store is the ledger the coordinator commits bids against. Every method is
// a single round trip; none of them holds a lock across calls.
//
// Implementations must guarantee:
//   - at most one CurrentBid row per item, enforced by the store itself;
//   - CommitBid replaces the current bid only when its version still equals
//     CommitRequest.ExpectedVersion and returns ErrConditionFailed otherwise;
//   - HoldFunds and ReleaseFunds are single atomic conditional updates that
//     return ErrConditionFailed when the balance (or held amount) is short.
type Store interface {
	// GetItem returns the item with its auction loaded, or ErrRecordNotFound.
	GetItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error)
	// GetCurrentBid returns nil and no error when the item has no bid yet.
	GetCurrentBid(ctx context.Context, itemID uuid.UUID) (*models.CurrentBid, error)
	GetAvailableBalance(ctx context.Context, userID uuid.UUID) (Cents, error)
	HoldFunds(ctx context.Context, userID uuid.UUID, amount Cents) error
	ReleaseFunds(ctx context.Context, userID uuid.UUID, amount Cents) error
	RecordWalletTransaction(ctx context.Context, tx *models.WalletTransaction) error
	SettleHold(ctx context.Context, holdID uuid.UUID, status models.WalletTransactionStatus) error
	// CommitBid writes the new current bid and appends its history row in
	// one store transaction.
	CommitBid(ctx context.Context, req CommitRequest) (*models.CurrentBid, error)
}

// CommitRequest describes a bid that passed validation against the current
// bid at ExpectedVersion (0 when the item had no bid).
type CommitRequest struct {
	Item              *models.Item
	BidderID          uuid.UUID
	Amount            Cents
	BidTime           time.Time
	HoldTransactionID uuid.UUID
	ExpectedVersion   int64
}

// ItemLocker serialises bidders of one item across processes. It only
// reduces compare-and-swap retries; correctness comes from the store.
type ItemLocker interface {
	LockItem(ctx context.Context, itemID uuid.UUID) (unlock func(), err error)
}
