package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"auctionhouse/bidding"
)

type itemLockerOptions struct {
	logger   *slog.Logger
	maxWait  time.Duration
	expiry   time.Duration
	newMutex func(key string) IAutoRenewMutex
}

type ItemLockerOption func(*itemLockerOptions)

func WithItemLockerLogger(logger *slog.Logger) ItemLockerOption {
	return func(o *itemLockerOptions) {
		o.logger = logger
	}
}

// WithItemLockerMaxWait bounds how long a bidder queues for an item.
func WithItemLockerMaxWait(d time.Duration) ItemLockerOption {
	return func(o *itemLockerOptions) {
		o.maxWait = d
	}
}

func WithItemLockerExpiry(d time.Duration) ItemLockerOption {
	return func(o *itemLockerOptions) {
		o.expiry = d
	}
}

// WithItemLockerMutexFactory replaces how the per-item mutex is built.
func WithItemLockerMutexFactory(fn func(key string) IAutoRenewMutex) ItemLockerOption {
	return func(o *itemLockerOptions) {
		o.newMutex = fn
	}
}

// ItemLocker takes one Redis lock per item so that bidders of the same item
// across all API instances take turns.
type ItemLocker struct {
	logger  *slog.Logger
	options itemLockerOptions
}

var _ bidding.ItemLocker = (*ItemLocker)(nil)

func NewItemLocker(client *redis.Client, opts ...ItemLockerOption) (*ItemLocker, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	options := itemLockerOptions{
		logger:  slog.Default(),
		maxWait: 2 * time.Second,
		expiry:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.newMutex == nil {
		maxWait, expiry := options.maxWait, options.expiry
		options.newMutex = func(key string) IAutoRenewMutex {
			return NewAutoRenewMutex(client, key,
				WithAutoRenewMutexExpiry(expiry),
				WithAutoRenewMutexMaxWait(maxWait),
				WithAutoRenewMutexRetryDelay(20*time.Millisecond),
			)
		}
	}

	return &ItemLocker{
		logger:  options.logger.With(slog.String("caller", "ItemLocker")),
		options: options,
	}, nil
}

func ItemLockKey(itemID uuid.UUID) string {
	return "lock:item:" + itemID.String()
}

// LockItem blocks until the item is ours. The returned function releases
// it and is safe to call more than once.
func (l *ItemLocker) LockItem(ctx context.Context, itemID uuid.UUID) (func(), error) {
	mutex := l.options.newMutex(ItemLockKey(itemID))
	if _, err := mutex.Lock(ctx); err != nil {
		return nil, err
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		if ok, err := mutex.Unlock(); err != nil || !ok {
			// the key expires on its own
			l.logger.Warn("Fail to release item lock",
				slog.String("itemID", itemID.String()),
				slog.Any("error", err))
		}
	}, nil
}
