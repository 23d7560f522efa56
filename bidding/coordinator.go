package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"auctionhouse/models"
)

// BidResult is what an accepted bid reports back to the bidder.
type BidResult struct {
	ItemID           uuid.UUID
	AuctionID        uuid.UUID
	Amount           Cents
	BidTime          time.Time
	EffectiveEndTime time.Time
	// Extended is true when the bid landed inside the anti-snipe window and
	// pushed the close of the item back.
	Extended bool
	// Warnings lists outbid holds that could not be released and were left
	// for reconciliation. They do not affect the accepted bid.
	Warnings []ReconciliationWarning
}

type coordinatorOptions struct {
	logger            *slog.Logger
	locker            ItemLocker
	metrics           *Metrics
	now               func() time.Time
	maxCommitAttempts int
	reporter          ReconciliationReporter
}

type CoordinatorOption func(*coordinatorOptions)

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.logger = logger
	}
}

// WithItemLocker serialises bidders per item through the given locker.
func WithItemLocker(locker ItemLocker) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.locker = locker
	}
}

// WithCoordinatorMetrics records bid outcomes.
func WithCoordinatorMetrics(metrics *Metrics) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.metrics = metrics
	}
}

// WithClock replaces time.Now (mainly for tests).
func WithClock(now func() time.Time) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.now = now
	}
}

// WithMaxCommitAttempts bounds how often a bid that lost the current bid
// compare-and-swap but is still the highest eligible bid is retried.
func WithMaxCommitAttempts(n int) CoordinatorOption {
	return func(o *coordinatorOptions) {
		o.maxCommitAttempts = n
	}
}

// Coordinator validates bids and commits them together with the wallet
// holds that back them.
type Coordinator struct {
	store   Store
	logger  *slog.Logger
	options coordinatorOptions
}

func NewCoordinator(store Store, opts ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}

	options := coordinatorOptions{
		logger:            slog.Default(),
		now:               time.Now,
		maxCommitAttempts: 3,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxCommitAttempts < 1 {
		options.maxCommitAttempts = 1
	}

	return &Coordinator{
		store:   store,
		logger:  options.logger.With(slog.String("caller", "Coordinator")),
		options: options,
	}, nil
}

// bidState is the view of an item a bid was validated against.
type bidState struct {
	item         *models.Item
	current      *models.CurrentBid
	effectiveEnd time.Time
}

func (s *bidState) version() int64 {
	if s.current == nil {
		return 0
	}
	return s.current.Version
}

// PlaceBid validates a bid of amount by bidderID on itemID and, when it is
// acceptable, holds the bidder's funds, replaces the item's current bid,
// appends the bid to the history and releases the outbid bidder's hold.
//
// Validation errors are returned before anything is written. Once funds are
// held the call runs to completion regardless of ctx cancellation; a failed
// commit reverses the hold and returns *TransientCommitError, or
// *UnreconciledHoldError if the reversal failed too.
func (c *Coordinator) PlaceBid(ctx context.Context, itemID, bidderID uuid.UUID, amount Cents) (*BidResult, error) {
	result, err := c.placeBid(ctx, itemID, bidderID, amount)
	c.options.metrics.observe(err, result != nil && result.Extended)
	if err != nil {
		c.logger.Debug("Bid rejected",
			slog.String("itemID", itemID.String()),
			slog.String("bidderID", bidderID.String()),
			slog.String("amount", amount.String()),
			slog.String("outcome", Outcome(err)),
			slog.Any("error", err))
	}
	return result, err
}

func (c *Coordinator) placeBid(ctx context.Context, itemID, bidderID uuid.UUID, amount Cents) (*BidResult, error) {
	if c.options.locker != nil {
		unlock, err := c.options.locker.LockItem(ctx, itemID)
		if err != nil {
			return nil, &TransientCommitError{Step: "lock item", Err: err}
		}
		defer unlock()
	}

	state, err := c.evaluate(ctx, itemID, bidderID, amount)
	if err != nil {
		return nil, err
	}

	// From here on wallets change, so the rest must not be abandoned halfway.
	ctx = context.WithoutCancel(ctx)

	hold, err := c.holdFunds(ctx, state.item, bidderID, amount)
	if err != nil {
		return nil, err
	}

	var committed *models.CurrentBid
	for attempt := 1; ; attempt++ {
		committed, err = c.store.CommitBid(ctx, CommitRequest{
			Item:              state.item,
			BidderID:          bidderID,
			Amount:            amount,
			BidTime:           c.options.now(),
			HoldTransactionID: hold.ID,
			ExpectedVersion:   state.version(),
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConditionFailed) {
			return nil, c.rollback(ctx, itemID, bidderID, amount, hold, "commit bid", err)
		}

		// Another bid was committed since this one was validated: check again
		// against the state that won.
		c.options.metrics.conflict()
		c.logger.Info("Current bid moved during commit, revalidating",
			slog.String("itemID", itemID.String()),
			slog.String("bidderID", bidderID.String()),
			slog.Int("attempt", attempt))
		state, err = c.evaluate(ctx, itemID, bidderID, amount)
		if err != nil {
			var transient *TransientCommitError
			if errors.As(err, &transient) {
				return nil, c.rollback(ctx, itemID, bidderID, amount, hold, transient.Step, transient.Err)
			}
			if relErr := c.reverseHold(ctx, itemID, bidderID, amount, hold); relErr != nil {
				return nil, c.unreconciled(itemID, bidderID, amount, hold, err, relErr)
			}
			return nil, err
		}
		if attempt >= c.options.maxCommitAttempts {
			return nil, c.rollback(ctx, itemID, bidderID, amount, hold, "commit bid",
				fmt.Errorf("current bid kept changing after %d attempts: %w", attempt, ErrConditionFailed))
		}
	}

	result := &BidResult{
		ItemID:           state.item.ID,
		AuctionID:        state.item.AuctionID,
		Amount:           amount,
		BidTime:          committed.BidTime,
		EffectiveEndTime: EffectiveEndTime(state.item.Auction.EndTime, &committed.BidTime),
		Extended:         Extended(state.item.Auction.EndTime, committed.BidTime),
	}

	if previous := state.current; previous != nil && previous.BidderID != bidderID {
		if warning := c.releaseOutbid(ctx, previous); warning != nil {
			result.Warnings = append(result.Warnings, *warning)
		}
	}

	c.logger.Info("Bid accepted",
		slog.String("itemID", itemID.String()),
		slog.String("bidderID", bidderID.String()),
		slog.String("amount", amount.String()),
		slog.Time("effectiveEndTime", result.EffectiveEndTime),
		slog.Bool("extended", result.Extended))
	return result, nil
}

// evaluate runs the bid preconditions in order against a fresh read of the
// item and its current bid.
func (c *Coordinator) evaluate(ctx context.Context, itemID, bidderID uuid.UUID, amount Cents) (*bidState, error) {
	item, err := c.store.GetItem(ctx, itemID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "item", ID: itemID}
	}
	if err != nil {
		return nil, &TransientCommitError{Step: "read item", Err: err}
	}
	if item.Auction == nil {
		return nil, &NotFoundError{Resource: "auction", ID: item.AuctionID}
	}

	current, err := c.store.GetCurrentBid(ctx, itemID)
	if err != nil {
		return nil, &TransientCommitError{Step: "read current bid", Err: err}
	}

	var lastBid *time.Time
	if current != nil {
		lastBid = &current.BidTime
	}
	effectiveEnd := EffectiveEndTime(item.Auction.EndTime, lastBid)
	now := c.options.now()
	if now.Before(item.Auction.StartTime) || IsClosed(effectiveEnd, now) {
		return nil, &AuctionClosedError{ItemID: itemID, ClosedAt: effectiveEnd}
	}

	if bidderID == item.OwnerID {
		return nil, &SelfBiddingError{ItemID: itemID}
	}

	minimum := max(Cents(item.MinBid), MinIncrement)
	if current != nil {
		minimum = Cents(current.CurrentPrice) + MinIncrement
	}
	if amount < minimum {
		return nil, &BidTooLowError{Offered: amount, Minimum: minimum}
	}

	if current != nil && current.BidderID == bidderID {
		return nil, &AlreadyHighestBidderError{ItemID: itemID}
	}

	return &bidState{item: item, current: current, effectiveEnd: effectiveEnd}, nil
}

// holdFunds reserves amount from the bidder's balance and records the hold.
func (c *Coordinator) holdFunds(ctx context.Context, item *models.Item, bidderID uuid.UUID, amount Cents) (*models.WalletTransaction, error) {
	available, err := c.store.GetAvailableBalance(ctx, bidderID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "profile", ID: bidderID}
	}
	if err != nil {
		return nil, &TransientCommitError{Step: "read balance", Err: err}
	}
	if available < amount {
		return nil, &InsufficientFundsError{Available: available, Required: amount}
	}

	if err := c.store.HoldFunds(ctx, bidderID, amount); err != nil {
		if !errors.Is(err, ErrConditionFailed) {
			return nil, &TransientCommitError{Step: "hold funds", Err: err}
		}
		// Spent elsewhere between the read and the hold.
		if latest, readErr := c.store.GetAvailableBalance(ctx, bidderID); readErr == nil {
			available = latest
		}
		return nil, &InsufficientFundsError{Available: available, Required: amount}
	}

	itemID := item.ID
	hold := &models.WalletTransaction{
		UserID:      bidderID,
		Type:        models.WalletTransactionHold,
		Amount:      int64(amount),
		Status:      models.WalletTransactionActive,
		ItemID:      &itemID,
		Description: fmt.Sprintf("Bid hold on %q", item.Title),
	}
	if err := c.store.RecordWalletTransaction(ctx, hold); err != nil {
		return nil, c.rollback(ctx, item.ID, bidderID, amount, nil, "record hold", err)
	}
	return hold, nil
}

// rollback reverses the bidder's hold after a failed commit step and builds
// the error the caller sees.
func (c *Coordinator) rollback(ctx context.Context, itemID, bidderID uuid.UUID, amount Cents, hold *models.WalletTransaction, step string, cause error) error {
	c.logger.Error("Fail to commit bid, reversing hold",
		slog.String("step", step),
		slog.String("itemID", itemID.String()),
		slog.String("bidderID", bidderID.String()),
		slog.Any("error", cause))
	if relErr := c.reverseHold(ctx, itemID, bidderID, amount, hold); relErr != nil {
		return c.unreconciled(itemID, bidderID, amount, hold, cause, relErr)
	}
	return &TransientCommitError{Step: step, Err: cause}
}

func (c *Coordinator) unreconciled(itemID, bidderID uuid.UUID, amount Cents, hold *models.WalletTransaction, cause, relErr error) error {
	c.report(ReconcileRelease, bidderID, itemID, amount, holdIDOf(hold), relErr)
	c.logger.Error("Fail to reverse hold, funds left held without a bid",
		slog.String("itemID", itemID.String()),
		slog.String("bidderID", bidderID.String()),
		slog.String("amount", amount.String()),
		slog.Any("error", relErr))
	return &UnreconciledHoldError{
		UserID:          bidderID,
		ItemID:          itemID,
		Amount:          amount,
		Err:             cause,
		CompensationErr: relErr,
	}
}

// reverseHold gives held funds back to the bidder. Only a failure to move
// the funds is returned; a ledger entry that cannot be written afterwards is
// logged for reconciliation since the balance itself is already correct.
func (c *Coordinator) reverseHold(ctx context.Context, itemID, bidderID uuid.UUID, amount Cents, hold *models.WalletTransaction) error {
	if err := c.store.ReleaseFunds(ctx, bidderID, amount); err != nil {
		return err
	}
	holdID := holdIDOf(hold)
	if err := c.recordRelease(ctx, itemID, bidderID, amount, holdID, "Bid hold reversed"); err != nil {
		c.report(ReconcileLedger, bidderID, itemID, amount, holdID, err)
		c.logger.Warn("Reversed hold is missing from the ledger",
			slog.String("itemID", itemID.String()),
			slog.String("bidderID", bidderID.String()),
			slog.String("amount", amount.String()),
			slog.Any("error", err))
	}
	return nil
}

// releaseOutbid frees the funds of the bidder whose bid was just replaced.
func (c *Coordinator) releaseOutbid(ctx context.Context, previous *models.CurrentBid) *ReconciliationWarning {
	amount := Cents(previous.CurrentPrice)
	if !previous.FundsHeld {
		return nil
	}
	kind := ReconcileRelease
	err := c.store.ReleaseFunds(ctx, previous.BidderID, amount)
	if err != nil {
		err = fmt.Errorf("release funds: %w", err)
	} else {
		kind = ReconcileLedger
		err = c.recordRelease(ctx, previous.ItemID, previous.BidderID, amount, previous.HoldTransactionID, "Outbid, hold released")
	}
	if err == nil {
		return nil
	}

	warning := &ReconciliationWarning{
		UserID: previous.BidderID,
		ItemID: previous.ItemID,
		Amount: amount,
		Err:    err,
	}
	c.report(kind, previous.BidderID, previous.ItemID, amount, previous.HoldTransactionID, err)
	c.logger.Warn("Fail to release outbid hold, needs reconciliation",
		slog.String("itemID", previous.ItemID.String()),
		slog.String("userID", previous.BidderID.String()),
		slog.String("amount", amount.String()),
		slog.Any("error", err))
	return warning
}

func (c *Coordinator) recordRelease(ctx context.Context, itemID, userID uuid.UUID, amount Cents, holdID *uuid.UUID, description string) error {
	if holdID != nil {
		if err := c.store.SettleHold(ctx, *holdID, models.WalletTransactionReleased); err != nil {
			return fmt.Errorf("settle hold %s: %w", holdID, err)
		}
	}
	release := &models.WalletTransaction{
		UserID:      userID,
		Type:        models.WalletTransactionRelease,
		Amount:      int64(amount),
		Status:      models.WalletTransactionCompleted,
		ItemID:      &itemID,
		Description: description,
	}
	if err := c.store.RecordWalletTransaction(ctx, release); err != nil {
		return fmt.Errorf("record release: %w", err)
	}
	return nil
}

func holdIDOf(hold *models.WalletTransaction) *uuid.UUID {
	if hold == nil {
		return nil
	}
	id := hold.ID
	return &id
}
