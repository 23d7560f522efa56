package store

import (
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"auctionhouse/changefeed"
)

// feedScoped is implemented by rows that belong to an auction.
type feedScoped interface {
	FeedScope() (auctionID, itemID uuid.UUID)
}

type pendingEventsKey struct{}

type pendingEvents struct {
	mu     sync.Mutex
	events []changefeed.Event
}

func (p *pendingEvents) add(events ...changefeed.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *pendingEvents) drain() []changefeed.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.events
	p.events = nil
	return events
}

// feed turns gorm writes into change events.
type feed struct {
	publisher changefeed.Publisher
	logger    *slog.Logger
}

func (f *feed) register(db *gorm.DB) error {
	const after = "gorm:commit_or_rollback_transaction"
	if err := db.Callback().Create().After(after).Register("changefeed:create", f.afterWrite(changefeed.OpInsert)); err != nil {
		return err
	}
	if err := db.Callback().Update().After(after).Register("changefeed:update", f.afterWrite(changefeed.OpUpdate)); err != nil {
		return err
	}
	return db.Callback().Delete().After(after).Register("changefeed:delete", f.afterWrite(changefeed.OpDelete))
}

func (f *feed) afterWrite(op changefeed.Op) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil || db.Statement.RowsAffected == 0 {
			return
		}
		events := eventsOf(db.Statement, op)
		if len(events) == 0 {
			return
		}
		// inside a store transaction: wait for the commit
		if pending, ok := db.Statement.Context.Value(pendingEventsKey{}).(*pendingEvents); ok {
			pending.add(events...)
			return
		}
		f.publish(events)
	}
}

func (f *feed) publish(events []changefeed.Event) {
	for _, event := range events {
		if err := f.publisher.Publish(event); err != nil {
			f.logger.Error("Fail to publish change event",
				slog.String("table", string(event.Table)),
				slog.String("auctionID", event.AuctionID.String()),
				slog.Any("error", err))
		}
	}
}

func eventsOf(stmt *gorm.Statement, op changefeed.Op) []changefeed.Event {
	table := changefeed.Table(stmt.Table)
	at := time.Now()
	var events []changefeed.Event
	add := func(v reflect.Value) {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return
			}
			v = v.Elem()
		}
		if !v.IsValid() || !v.CanInterface() {
			return
		}
		scoped, ok := v.Interface().(feedScoped)
		if !ok {
			return
		}
		auctionID, itemID := scoped.FeedScope()
		if auctionID == uuid.Nil {
			return
		}
		events = append(events, changefeed.Event{Table: table, Op: op, AuctionID: auctionID, ItemID: itemID, At: at})
	}

	rv := stmt.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			add(rv.Index(i))
		}
	default:
		add(rv)
	}
	return events
}
