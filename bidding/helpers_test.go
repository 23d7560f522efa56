package bidding

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"auctionhouse/models"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory Store with the same conditional write semantics
// as the gorm store. fail, when set, is consulted before every call and can
// inject an error for a named operation.
type memStore struct {
	mu       sync.Mutex
	items    map[uuid.UUID]models.Item
	auctions map[uuid.UUID]models.Auction
	profiles map[uuid.UUID]*models.Profile
	current  map[uuid.UUID]models.CurrentBid
	history  []models.BidHistory
	ledger   []models.WalletTransaction

	fail func(op string) error
	// onReadCurrentBid runs after GetCurrentBid has taken its snapshot and
	// before it returns, outside the store lock.
	onReadCurrentBid func()
}

func newMemStore() *memStore {
	return &memStore{
		items:    map[uuid.UUID]models.Item{},
		auctions: map[uuid.UUID]models.Auction{},
		profiles: map[uuid.UUID]*models.Profile{},
		current:  map[uuid.UUID]models.CurrentBid{},
	}
}

func (s *memStore) addProfile(balance Cents) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.profiles[id] = &models.Profile{ID: id, Username: id.String()[:8], WalletBalance: int64(balance)}
	return id
}

func (s *memStore) addItem(owner uuid.UUID, minBid Cents, start, end time.Time) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	auction := models.Auction{ID: uuid.New(), OwnerID: owner, Title: "Estate sale", StartTime: start, EndTime: end}
	item := models.Item{ID: uuid.New(), AuctionID: auction.ID, OwnerID: owner, Title: "Oak desk", MinBid: int64(minBid)}
	s.auctions[auction.ID] = auction
	s.items[item.ID] = item
	return item.ID
}

func (s *memStore) wallet(userID uuid.UUID) (balance, held Cents) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[userID]
	return Cents(p.WalletBalance), Cents(p.WalletHeld)
}

func (s *memStore) currentBid(itemID uuid.UUID) *models.CurrentBid {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.current[itemID]
	if !ok {
		return nil
	}
	return &cb
}

func (s *memStore) historyOf(itemID uuid.UUID) []models.BidHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BidHistory
	for _, h := range s.history {
		if h.ItemID == itemID {
			out = append(out, h)
		}
	}
	return out
}

func (s *memStore) transactionsOf(userID uuid.UUID) []models.WalletTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WalletTransaction
	for _, tx := range s.ledger {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out
}

func (s *memStore) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.fail == nil {
		return nil
	}
	return s.fail(op)
}

func (s *memStore) GetItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	if err := s.check(ctx, "GetItem"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if auction, ok := s.auctions[item.AuctionID]; ok {
		item.Auction = &auction
	}
	return &item, nil
}

func (s *memStore) GetCurrentBid(ctx context.Context, itemID uuid.UUID) (*models.CurrentBid, error) {
	if err := s.check(ctx, "GetCurrentBid"); err != nil {
		return nil, err
	}
	cb := s.currentBid(itemID)
	if s.onReadCurrentBid != nil {
		s.onReadCurrentBid()
	}
	return cb, nil
}

func (s *memStore) GetAvailableBalance(ctx context.Context, userID uuid.UUID) (Cents, error) {
	if err := s.check(ctx, "GetAvailableBalance"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return 0, ErrRecordNotFound
	}
	return Cents(p.WalletBalance), nil
}

func (s *memStore) HoldFunds(ctx context.Context, userID uuid.UUID, amount Cents) error {
	if err := s.check(ctx, "HoldFunds"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok || p.WalletBalance < int64(amount) {
		return ErrConditionFailed
	}
	p.WalletBalance -= int64(amount)
	p.WalletHeld += int64(amount)
	return nil
}

func (s *memStore) ReleaseFunds(ctx context.Context, userID uuid.UUID, amount Cents) error {
	if err := s.check(ctx, "ReleaseFunds"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok || p.WalletHeld < int64(amount) {
		return ErrConditionFailed
	}
	p.WalletBalance += int64(amount)
	p.WalletHeld -= int64(amount)
	return nil
}

func (s *memStore) RecordWalletTransaction(ctx context.Context, tx *models.WalletTransaction) error {
	if err := s.check(ctx, "RecordWalletTransaction:" + string(tx.Type)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	s.ledger = append(s.ledger, *tx)
	return nil
}

func (s *memStore) SettleHold(ctx context.Context, holdID uuid.UUID, status models.WalletTransactionStatus) error {
	if err := s.check(ctx, "SettleHold"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ledger {
		tx := &s.ledger[i]
		if tx.ID == holdID && tx.Type == models.WalletTransactionHold && tx.Status == models.WalletTransactionActive {
			tx.Status = status
			return nil
		}
	}
	return ErrConditionFailed
}

func (s *memStore) CommitBid(ctx context.Context, req CommitRequest) (*models.CurrentBid, error) {
	if err := s.check(ctx, "CommitBid"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var version int64
	if cb, ok := s.current[req.Item.ID]; ok {
		version = cb.Version
	}
	if version != req.ExpectedVersion {
		return nil, ErrConditionFailed
	}

	holdID := req.HoldTransactionID
	cb := models.CurrentBid{
		ItemID:            req.Item.ID,
		AuctionID:         req.Item.AuctionID,
		BidderID:          req.BidderID,
		CurrentPrice:      int64(req.Amount),
		BidTime:           req.BidTime,
		FundsHeld:         true,
		HoldTransactionID: &holdID,
		Version:           version + 1,
	}
	s.current[req.Item.ID] = cb
	s.history = append(s.history, models.BidHistory{
		ID:        uuid.New(),
		ItemID:    req.Item.ID,
		Sequence:  cb.Version,
		AuctionID: req.Item.AuctionID,
		BidderID:  req.BidderID,
		OwnerID:   req.Item.OwnerID,
		Amount:    int64(req.Amount),
		BidTime:   req.BidTime,
	})
	return &cb, nil
}

// testClock is a settable clock shared by the coordinator and the test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
