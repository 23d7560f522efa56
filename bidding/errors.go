package bidding

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store level sentinels. Implementations of Store wrap or return these so
// the coordinator can tell a failed condition from an infrastructure error.
var (
	// ErrRecordNotFound is returned when a looked up row does not exist.
	ErrRecordNotFound = errors.New("record not found")
	// ErrConditionFailed is returned when a conditional write matched no row:
	// a hold without enough balance, a release without enough held funds or
	// a current bid that moved since it was read.
	ErrConditionFailed = errors.New("write condition failed")
)

// NotFoundError is returned when the item or its auction does not exist.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// AuctionClosedError is returned when a bid arrives outside the bidding
// window of the item. The message is the same whether the window never
// opened, ran out, or was just closed by someone else.
type AuctionClosedError struct {
	ItemID   uuid.UUID
	ClosedAt time.Time
}

func (e *AuctionClosedError) Error() string {
	return "bidding for this item has closed"
}

// SelfBiddingError is returned when the seller bids on their own item.
type SelfBiddingError struct {
	ItemID uuid.UUID
}

func (e *SelfBiddingError) Error() string {
	return "sellers cannot bid on their own items"
}

// AlreadyHighestBidderError is returned when the bidder already holds the
// current bid of the item.
type AlreadyHighestBidderError struct {
	ItemID uuid.UUID
}

func (e *AlreadyHighestBidderError) Error() string {
	return "you are already the highest bidder"
}

// BidTooLowError carries the smallest amount that would have been accepted.
type BidTooLowError struct {
	Offered Cents
	Minimum Cents
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid of %s is too low, the minimum acceptable bid is %s", e.Offered, e.Minimum)
}

// InsufficientFundsError carries the available balance and the amount the
// bid needs.
type InsufficientFundsError struct {
	Available Cents
	Required  Cents
}

func (e *InsufficientFundsError) Shortfall() Cents {
	if e.Required <= e.Available {
		return 0
	}
	return e.Required - e.Available
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s available, %s required, %s short", e.Available, e.Required, e.Shortfall())
}

// TransientCommitError is returned when the store failed in the middle of
// a commit and every wallet change already applied was reversed. Retrying
// with the same input is safe.
type TransientCommitError struct {
	Step string
	Err  error
}

func (e *TransientCommitError) Error() string {
	return fmt.Sprintf("bid could not be committed at %s, please retry: %v", e.Step, e.Err)
}

func (e *TransientCommitError) Unwrap() error {
	return e.Err
}

// UnreconciledHoldError is returned when a commit failed and reversing the
// bidder's hold failed as well: the funds stay held with no current bid
// behind them until reconciliation fixes the wallet.
type UnreconciledHoldError struct {
	UserID          uuid.UUID
	ItemID          uuid.UUID
	Amount          Cents
	Err             error
	CompensationErr error
}

func (e *UnreconciledHoldError) Error() string {
	return fmt.Sprintf("hold of %s for user %s on item %s could not be reversed: commit err=%v, release err=%v",
		e.Amount, e.UserID, e.ItemID, e.Err, e.CompensationErr)
}

func (e *UnreconciledHoldError) Unwrap() []error {
	return []error{e.Err, e.CompensationErr}
}

// ReconciliationWarning describes a previous bidder whose hold could not be
// released after they were outbid. The new bid stands; the warning is
// logged and handed back to the caller, never returned as an error.
type ReconciliationWarning struct {
	UserID uuid.UUID
	ItemID uuid.UUID
	Amount Cents
	Err    error
}

func (w ReconciliationWarning) String() string {
	return fmt.Sprintf("release of %s for user %s on item %s failed: %v", w.Amount, w.UserID, w.ItemID, w.Err)
}

// Retryable reports whether the same PlaceBid call may succeed if repeated.
func Retryable(err error) bool {
	var transient *TransientCommitError
	return errors.As(err, &transient)
}
