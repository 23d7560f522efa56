package bidding

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts bid outcomes. A nil *Metrics records nothing.
type Metrics struct {
	bids           *prometheus.CounterVec
	extensions     prometheus.Counter
	commitRetries  prometheus.Counter
	reconciliation prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "bidding",
			Name:      "bids_total",
			Help:      "Bids handled by the coordinator, by outcome.",
		}, []string{"outcome"}),
		extensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "bidding",
			Name:      "extensions_total",
			Help:      "Accepted bids that extended the bidding window.",
		}),
		commitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "bidding",
			Name:      "commit_conflicts_total",
			Help:      "Commits that lost the current bid compare-and-swap.",
		}),
		reconciliation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "bidding",
			Name:      "reconciliation_warnings_total",
			Help:      "Wallet changes left for out-of-band reconciliation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.bids, m.extensions, m.commitRetries, m.reconciliation)
	}
	return m
}

func (m *Metrics) observe(err error, extended bool) {
	if m == nil {
		return
	}
	m.bids.WithLabelValues(Outcome(err)).Inc()
	if err == nil && extended {
		m.extensions.Inc()
	}
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.commitRetries.Inc()
}

func (m *Metrics) unreconciled() {
	if m == nil {
		return
	}
	m.reconciliation.Inc()
}

// Outcome names the result of a PlaceBid call for metrics and logs.
func Outcome(err error) string {
	var (
		notFound     *NotFoundError
		closed       *AuctionClosedError
		selfBid      *SelfBiddingError
		highest      *AlreadyHighestBidderError
		tooLow       *BidTooLowError
		insufficient *InsufficientFundsError
		transient    *TransientCommitError
		unreconciled *UnreconciledHoldError
	)
	switch {
	case err == nil:
		return "accepted"
	case errors.As(err, &unreconciled):
		return "unreconciled"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &closed):
		return "closed"
	case errors.As(err, &selfBid):
		return "self_bid"
	case errors.As(err, &highest):
		return "already_highest"
	case errors.As(err, &tooLow):
		return "too_low"
	case errors.As(err, &insufficient):
		return "insufficient_funds"
	case errors.As(err, &transient):
		return "transient"
	default:
		return "error"
	}
}
