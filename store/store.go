// Package store is the gorm storage layer of the bidding engine.
//
// The store is the only serialization point between concurrent bidders:
// current_bids is keyed by item id and replaced with a compare-and-swap on
// its version column, and wallet balances only move through conditional
// UPDATE statements. Committed writes are announced on the change feed.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"auctionhouse/bidding"
	"auctionhouse/changefeed"
	"auctionhouse/models"
)

type storeOptions struct {
	logger    *slog.Logger
	publisher changefeed.Publisher
}

type Option func(*storeOptions)

func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithPublisher announces every committed change of an auction scoped row
// on the given publisher.
func WithPublisher(publisher changefeed.Publisher) Option {
	return func(o *storeOptions) {
		o.publisher = publisher
	}
}

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	feed   *feed
}

var _ bidding.Store = (*Store)(nil)

func New(db *gorm.DB, opts ...Option) (*Store, error) {
	const op = "store.New"
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	options := storeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}

	s := &Store{
		db:     db,
		logger: options.logger.With(slog.String("caller", "Store")),
	}
	if options.publisher != nil {
		s.feed = &feed{publisher: options.publisher, logger: s.logger}
		if err := s.feed.register(db); err != nil {
			return nil, fmt.Errorf("[%s] Fail to register change feed callbacks, err=%w", op, err)
		}
	}
	return s, nil
}

// Migrate creates or updates every table of the engine.
func Migrate(db *gorm.DB) error {
	const op = "store.Migrate"
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("[%s] Fail to migrate models, err=%w", op, err)
	}
	return nil
}

// transaction runs fn in a database transaction. Change events raised by
// the statements of fn are held back and published only after the commit.
func (s *Store) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	pending := &pendingEvents{}
	ctx = context.WithValue(ctx, pendingEventsKey{}, pending)
	if err := s.db.WithContext(ctx).Transaction(fn); err != nil {
		return err
	}
	if s.feed != nil {
		s.feed.publish(pending.drain())
	}
	return nil
}
