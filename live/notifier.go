package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"auctionhouse/changefeed"
	"auctionhouse/models"
)

// SnapshotSource reads an auction, its items and their current bids in one
// consistent read.
type SnapshotSource interface {
	LoadAuctionSnapshot(ctx context.Context, auctionID uuid.UUID) (*models.Auction, []models.CurrentBid, error)
}

// FeedSubscriber hands out per-auction change event channels.
// *changefeed.Hub implements it.
type FeedSubscriber interface {
	Subscribe(auctionID uuid.UUID) (<-chan changefeed.Event, error)
	Unsubscribe(auctionID uuid.UUID, ch <-chan changefeed.Event)
}

var _ FeedSubscriber = (*changefeed.Hub)(nil)

type notifierOptions struct {
	logger       *slog.Logger
	now          func() time.Time
	fetchTimeout time.Duration
	registerer   prometheus.Registerer
}

type NotifierOption func(*notifierOptions)

func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(o *notifierOptions) {
		o.logger = logger
	}
}

func WithNotifierClock(now func() time.Time) NotifierOption {
	return func(o *notifierOptions) {
		o.now = now
	}
}

// WithFetchTimeout bounds every snapshot read. Defaults to 10 seconds.
func WithFetchTimeout(d time.Duration) NotifierOption {
	return func(o *notifierOptions) {
		o.fetchTimeout = d
	}
}

// WithNotifierRegisterer exports the live subscription metrics.
func WithNotifierRegisterer(reg prometheus.Registerer) NotifierOption {
	return func(o *notifierOptions) {
		o.registerer = reg
	}
}

// Notifier creates live subscriptions to auctions.
type Notifier struct {
	source       SnapshotSource
	feed         FeedSubscriber
	logger       *slog.Logger
	now          func() time.Time
	fetchTimeout time.Duration
	metrics      *metrics
}

func NewNotifier(source SnapshotSource, feed FeedSubscriber, opts ...NotifierOption) (*Notifier, error) {
	if source == nil {
		return nil, errors.New("snapshot source cannot be nil")
	}
	if feed == nil {
		return nil, errors.New("feed cannot be nil")
	}

	options := notifierOptions{
		logger:       slog.Default(),
		now:          time.Now,
		fetchTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Notifier{
		source:       source,
		feed:         feed,
		logger:       options.logger.With(slog.String("caller", "Notifier")),
		now:          options.now,
		fetchTimeout: options.fetchTimeout,
		metrics:      newMetrics(options.registerer),
	}, nil
}

// Snapshot fetches the current view of an auction once.
func (n *Notifier) Snapshot(ctx context.Context, auctionID uuid.UUID) (*Snapshot, error) {
	const op = "Notifier.Snapshot"
	ctx, cancel := context.WithTimeout(ctx, n.fetchTimeout)
	defer cancel()

	auction, bids, err := n.source.LoadAuctionSnapshot(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load auction %s, err=%w", op, auctionID, err)
	}
	return BuildSnapshot(auction, bids, n.now()), nil
}

// Subscribe fetches the initial snapshot and returns an idle subscription
// holding it. The change feed is joined by Start, so the first snapshot
// never waits for the feed.
func (n *Notifier) Subscribe(ctx context.Context, auctionID uuid.UUID) (*Subscription, error) {
	snapshot, err := n.Snapshot(ctx, auctionID)
	n.metrics.fetched(err)
	if err != nil {
		return nil, err
	}
	return newSubscription(n, auctionID, snapshot), nil
}
