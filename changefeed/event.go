// Package changefeed carries row change notifications from the store to the
// live auction views.
//
// An Event only says which auction (and item) changed and in which table.
// It never carries row contents: consumers refetch the state they need.
package changefeed

import (
	"time"

	"github.com/google/uuid"
)

type Table string

const (
	TableAuctions           Table = "auctions"
	TableItems              Table = "items"
	TableCurrentBids        Table = "current_bids"
	TableBidHistories       Table = "bid_histories"
	TableProfiles           Table = "profiles"
	TableWalletTransactions Table = "wallet_transactions"
)

// LiveTables are the tables whose changes alter an auction snapshot.
var LiveTables = []Table{TableAuctions, TableItems, TableCurrentBids, TableBidHistories}

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Event struct {
	Table     Table     `msgpack:"table" json:"table"`
	Op        Op        `msgpack:"op" json:"op"`
	AuctionID uuid.UUID `msgpack:"auction_id" json:"auctionID"`
	// ItemID is uuid.Nil for auction level changes.
	ItemID uuid.UUID `msgpack:"item_id" json:"itemID"`
	At     time.Time `msgpack:"at" json:"at"`
}

// Affects reports whether the event changes the snapshot of the auction.
func (e Event) Affects(auctionID uuid.UUID) bool {
	if e.AuctionID != auctionID {
		return false
	}
	for _, t := range LiveTables {
		if e.Table == t {
			return true
		}
	}
	return false
}

// Publisher accepts events produced by committed writes. Publish must not
// block on slow consumers.
type Publisher interface {
	Publish(event Event) error
}

// Source delivers every published event, at least once, on a single channel
// that is closed when the source shuts down.
type Source interface {
	Subscribe() <-chan Event
}
