// Package live keeps viewers of an auction up to date.
//
// A Subscription holds the latest Snapshot of one auction and refetches it
// whenever the change feed reports a write to the auction, its items, their
// current bids or their bid history. Event payloads are never patched into
// the snapshot: effective end times depend on fresh reads.
package live

import (
	"time"

	"github.com/google/uuid"

	"auctionhouse/bidding"
	"auctionhouse/models"
)

// ItemState is one item of a snapshot with its derived bidding window.
type ItemState struct {
	Item models.Item
	// CurrentBid is nil until the first bid is accepted.
	CurrentBid       *models.CurrentBid
	EffectiveEndTime time.Time
	Closed           bool
}

type Snapshot struct {
	Auction models.Auction
	// Items are in creation order.
	Items []ItemState
	// ActiveItem is the first item that is neither sold nor closed, nil
	// when every item is done.
	ActiveItem    *ItemState
	RemainingTime time.Duration
	FetchedAt     time.Time
}

// BuildSnapshot derives the view of an auction at now from its stored rows.
func BuildSnapshot(auction *models.Auction, bids []models.CurrentBid, now time.Time) *Snapshot {
	byItem := make(map[uuid.UUID]*models.CurrentBid, len(bids))
	for i := range bids {
		byItem[bids[i].ItemID] = &bids[i]
	}

	snapshot := &Snapshot{
		Auction:   *auction,
		Items:     make([]ItemState, 0, len(auction.Items)),
		FetchedAt: now,
	}
	snapshot.Auction.Items = nil

	for _, item := range auction.Items {
		state := ItemState{Item: item, CurrentBid: byItem[item.ID]}
		var lastBid *time.Time
		if state.CurrentBid != nil {
			lastBid = &state.CurrentBid.BidTime
		}
		state.EffectiveEndTime = bidding.EffectiveEndTime(auction.EndTime, lastBid)
		state.Closed = bidding.IsClosed(state.EffectiveEndTime, now)
		snapshot.Items = append(snapshot.Items, state)
	}

	for i := range snapshot.Items {
		state := &snapshot.Items[i]
		if state.Item.Sold || state.Closed {
			continue
		}
		snapshot.ActiveItem = state
		snapshot.RemainingTime = state.EffectiveEndTime.Sub(now)
		break
	}
	return snapshot
}
