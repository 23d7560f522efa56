package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/bidding"
	"auctionhouse/models"
)

// barrierStore lets the first n readers of the current bid proceed only
// once all of them have read it.
type barrierStore struct {
	*Store
	mu      sync.Mutex
	waiting int
	release chan struct{}
}

func newBarrierStore(s *Store, n int) *barrierStore {
	return &barrierStore{Store: s, waiting: n, release: make(chan struct{})}
}

func (b *barrierStore) GetCurrentBid(ctx context.Context, itemID uuid.UUID) (*models.CurrentBid, error) {
	cb, err := b.Store.GetCurrentBid(ctx, itemID)
	b.mu.Lock()
	if b.waiting == 0 {
		b.mu.Unlock()
		return cb, err
	}
	b.waiting--
	if b.waiting == 0 {
		close(b.release)
	}
	b.mu.Unlock()
	<-b.release
	return cb, err
}

func TestCoordinator_OnSQLite(t *testing.T) {
	s, err := New(newTestDB(t), WithLogger(discard))
	require.NoError(t, err)
	end := time.Now().Add(time.Hour)
	sd := seedAuction(t, s, end)
	ctx := context.Background()

	coordinator, err := bidding.NewCoordinator(s, bidding.WithCoordinatorLogger(discard))
	require.NoError(t, err)
	item := sd.item()

	_, err = coordinator.PlaceBid(ctx, item.ID, sd.alice.ID, 1000)
	require.NoError(t, err)
	_, err = coordinator.PlaceBid(ctx, item.ID, sd.bob.ID, 1500)
	require.NoError(t, err)

	_, err = coordinator.PlaceBid(ctx, item.ID, sd.alice.ID, 1500)
	var tooLow *bidding.BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, bidding.Cents(1501), tooLow.Minimum)

	_, err = coordinator.PlaceBid(ctx, item.ID, sd.owner.ID, 5000)
	var self *bidding.SelfBiddingError
	assert.ErrorAs(t, err, &self)

	balance, held := mustBalance(t, s, sd.alice.ID)
	assert.Equal(t, bidding.Cents(10000), balance)
	assert.Equal(t, bidding.Cents(0), held)
	balance, held = mustBalance(t, s, sd.bob.ID)
	assert.Equal(t, bidding.Cents(8500), balance)
	assert.Equal(t, bidding.Cents(1500), held)

	txs, err := s.ListWalletTransactions(ctx, sd.alice.ID, 10)
	require.NoError(t, err)
	var hold, release int
	for _, tx := range txs {
		switch tx.Type {
		case models.WalletTransactionHold:
			hold++
			assert.Equal(t, models.WalletTransactionReleased, tx.Status)
		case models.WalletTransactionRelease:
			release++
		}
	}
	assert.Equal(t, 1, hold)
	assert.Equal(t, 1, release)
}

func TestCoordinator_ConcurrentBiddersOnSQLite(t *testing.T) {
	s, err := New(newTestDB(t), WithLogger(discard))
	require.NoError(t, err)
	sd := seedAuction(t, s, time.Now().Add(time.Hour))
	ctx := context.Background()
	item := sd.item()

	// both bidders validate against "no bid yet" before either commits
	racing, err := bidding.NewCoordinator(newBarrierStore(s, 2), bidding.WithCoordinatorLogger(discard))
	require.NoError(t, err)

	type outcome struct {
		bidder uuid.UUID
		err    error
	}
	results := make(chan outcome, 2)
	for _, bid := range []struct {
		bidder uuid.UUID
		amount bidding.Cents
	}{{sd.alice.ID, 1200}, {sd.bob.ID, 1200}} {
		go func() {
			_, err := racing.PlaceBid(ctx, item.ID, bid.bidder, bid.amount)
			results <- outcome{bid.bidder, err}
		}()
	}

	var winner, loser outcome
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			winner = r
		} else {
			loser = r
		}
	}
	require.NotEqual(t, uuid.Nil, winner.bidder, "one bid must win")
	require.Error(t, loser.err)
	var tooLow *bidding.BidTooLowError
	require.True(t, errors.As(loser.err, &tooLow), "loser got %v", loser.err)
	assert.Equal(t, bidding.Cents(1201), tooLow.Minimum)

	cb, err := s.GetCurrentBid(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, winner.bidder, cb.BidderID)
	assert.EqualValues(t, 1, cb.Version)

	_, held := mustBalance(t, s, winner.bidder)
	assert.Equal(t, bidding.Cents(1200), held)
	balance, held := mustBalance(t, s, loser.bidder)
	assert.Equal(t, bidding.Cents(10000), balance)
	assert.Equal(t, bidding.Cents(0), held)

	history, err := s.ListBidHistory(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
