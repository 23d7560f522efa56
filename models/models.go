package models

// All lists every table owned by the bidding engine, in dependency order.
func All() []any {
	return []any{
		&Profile{},
		&Auction{},
		&Item{},
		&CurrentBid{},
		&BidHistory{},
		&WalletTransaction{},
	}
}
