package bidding

import "time"

// AntiSnipeWindow is how far the close of an item is pushed past a bid that
// lands shortly before it.
const AntiSnipeWindow = 5 * time.Minute

// EffectiveEndTime returns the moment bidding on an item closes, given the
// auction's nominal end and the time of the item's latest bid (nil when the
// item has no bids). A bid placed less than AntiSnipeWindow before the
// nominal end moves the close to bid time + AntiSnipeWindow.
//
// The result may already be in the past; callers compare it with the
// current time themselves.
func EffectiveEndTime(nominalEnd time.Time, lastBid *time.Time) time.Time {
	if lastBid == nil {
		return nominalEnd
	}
	if Extended(nominalEnd, *lastBid) {
		return lastBid.Add(AntiSnipeWindow)
	}
	return nominalEnd
}

// Extended reports whether a bid at the given time falls inside the
// anti-snipe window of the nominal end.
func Extended(nominalEnd, bidTime time.Time) bool {
	return nominalEnd.Sub(bidTime) < AntiSnipeWindow
}

// IsClosed reports whether bidding that ends at effectiveEnd is over at now.
func IsClosed(effectiveEnd, now time.Time) bool {
	return !now.Before(effectiveEnd)
}
