package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrFeedClosed is reported when the change feed of a started subscription
// goes away. The last snapshot stays readable.
var ErrFeedClosed = errors.New("change feed closed")

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusSubscribed Status = "subscribed"
	StatusRefreshing Status = "refreshing"
	StatusErrored    Status = "errored"
	StatusClosed     Status = "closed"
)

// State is what a viewer of a subscription sees.
type State struct {
	Status     Status
	Snapshot   *Snapshot
	IsFetching bool
	// Err is the last feed or fetch error. A later successful fetch clears a
	// fetch error; a feed error stays until the subscription is stopped.
	Err error
}

type fetchResult struct {
	generation uint64
	snapshot   *Snapshot
	err        error
}

// Subscription follows one auction. Start joins the change feed, Stop
// leaves it; Updates delivers the latest State after every transition and
// is closed by Stop. The state a subscription is created with is only
// available through State.
type Subscription struct {
	notifier  *Notifier
	auctionID uuid.UUID
	logger    *slog.Logger

	mu      sync.RWMutex
	state   State
	started bool
	stopped bool

	updates chan State
	refresh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// owned by the run goroutine
	generation  uint64
	fetchCancel context.CancelFunc
	dirty       bool
}

func newSubscription(n *Notifier, auctionID uuid.UUID, snapshot *Snapshot) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		notifier:  n,
		auctionID: auctionID,
		logger:    n.logger.With(slog.String("caller", "Subscription"), slog.String("auctionID", auctionID.String())),
		state:     State{Status: StatusIdle, Snapshot: snapshot},
		updates:   make(chan State, 1),
		refresh:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	return s
}

func (s *Subscription) AuctionID() uuid.UUID {
	return s.auctionID
}

// State returns the current state.
func (s *Subscription) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Updates only ever holds the newest state; a slow reader skips the
// intermediate ones.
func (s *Subscription) Updates() <-chan State {
	return s.updates
}

// Start joins the change feed in the background. Calling it twice or after
// Stop does nothing.
func (s *Subscription) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.notifier.metrics.subscriptions.Inc()

	s.wg.Add(1)
	go s.run()
}

// Refresh discards any fetch in flight and reads the snapshot again.
func (s *Subscription) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Stop leaves the change feed, aborts fetches and closes Updates. It is the
// only way into StatusClosed.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	if started {
		s.notifier.metrics.subscriptions.Dec()
	}

	s.update(func(st *State) {
		st.Status = StatusClosed
		st.IsFetching = false
	})
	close(s.updates)
	s.logger.Debug("Subscription closed")
}

func (s *Subscription) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	state := s.state
	s.mu.Unlock()

	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- state:
	default:
	}
}

func (s *Subscription) run() {
	defer s.wg.Done()
	s.update(func(st *State) { st.Status = StatusConnecting })

	feed, err := s.notifier.feed.Subscribe(s.auctionID)
	if err != nil {
		s.logger.Error("Fail to join change feed", slog.Any("error", err))
		s.update(func(st *State) {
			st.Status = StatusErrored
			st.Err = fmt.Errorf("join change feed: %w", err)
		})
	} else {
		defer s.notifier.feed.Unsubscribe(s.auctionID, feed)
		s.update(func(st *State) { st.Status = StatusSubscribed })
	}

	results := make(chan fetchResult)
	inFlight := false
	defer func() {
		if s.fetchCancel != nil {
			s.fetchCancel()
		}
	}()

	// changes committed after the first snapshot and before the feed was
	// joined produced no event for this subscription
	if feed != nil {
		s.fetch(results)
		inFlight = true
	}

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-feed:
			if !ok {
				feed = nil
				s.logger.Warn("Change feed closed")
				s.update(func(st *State) {
					st.Status = StatusErrored
					st.Err = ErrFeedClosed
				})
				continue
			}
			if !event.Affects(s.auctionID) {
				continue
			}
			if inFlight {
				s.dirty = true
				continue
			}
			s.fetch(results)
			inFlight = true

		case <-s.refresh:
			if s.fetchCancel != nil {
				s.fetchCancel()
			}
			s.dirty = false
			s.fetch(results)
			inFlight = true

		case result := <-results:
			if result.generation != s.generation {
				continue
			}
			inFlight = false
			s.apply(result)
			if s.dirty {
				s.dirty = false
				s.fetch(results)
				inFlight = true
			}
		}
	}
}

// fetch starts a new generation of snapshot read. Only the result of the
// newest generation is applied.
func (s *Subscription) fetch(results chan<- fetchResult) {
	s.generation++
	generation := s.generation
	ctx, cancel := context.WithCancel(s.ctx)
	s.fetchCancel = cancel

	s.update(func(st *State) {
		st.IsFetching = true
		if st.Status == StatusSubscribed {
			st.Status = StatusRefreshing
		}
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		snapshot, err := s.notifier.Snapshot(ctx, s.auctionID)
		select {
		case results <- fetchResult{generation: generation, snapshot: snapshot, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Subscription) apply(result fetchResult) {
	s.notifier.metrics.fetched(result.err)
	if result.err != nil {
		s.logger.Warn("Fail to refresh snapshot", slog.Any("error", result.err))
	}
	s.update(func(st *State) {
		st.IsFetching = false
		if st.Status == StatusRefreshing {
			st.Status = StatusSubscribed
		}
		if result.err != nil {
			st.Err = result.err
			return
		}
		st.Snapshot = result.snapshot
		if st.Status != StatusErrored {
			st.Err = nil
		}
	})
}
