package changefeed

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var ErrHubClosed = errors.New("hub is closed")

// topic holds the subscribers of one auction. Every subscriber channel has
// a buffer of one and broadcast never blocks: an event that finds the buffer
// full is dropped, the pending one already tells the subscriber to refetch.
type topic struct {
	subscribers map[<-chan Event]chan Event
}

func newTopic() *topic {
	return &topic{subscribers: make(map[<-chan Event]chan Event)}
}

func (t *topic) subscribe() <-chan Event {
	ch := make(chan Event, 1)
	t.subscribers[ch] = ch
	return ch
}

func (t *topic) unsubscribe(ch <-chan Event) {
	if writeCh, ok := t.subscribers[ch]; ok {
		delete(t.subscribers, ch)
		close(writeCh)
	}
}

func (t *topic) unsubscribeAll() {
	for _, writeCh := range t.subscribers {
		close(writeCh)
	}
	clear(t.subscribers)
}

func (t *topic) broadcast(event Event) (dropped int) {
	for _, writeCh := range t.subscribers {
		select {
		case writeCh <- event:
		default:
			dropped++
		}
	}
	return dropped
}

type hubOptions struct {
	logger *slog.Logger
}

type HubOption func(*hubOptions)

func WithHubLogger(logger *slog.Logger) HubOption {
	return func(o *hubOptions) {
		o.logger = logger
	}
}

// Hub fans the events of a Source out to per auction subscribers.
type Hub struct {
	source Source
	logger *slog.Logger

	mu       sync.RWMutex // guards topics, started and active
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
	started  bool
	active   bool
	topics   map[uuid.UUID]*topic
}

func NewHub(source Source, opts ...HubOption) (*Hub, error) {
	if source == nil {
		return nil, errors.New("source cannot be nil")
	}
	options := hubOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	return &Hub{
		source: source,
		logger: options.logger.With(slog.String("caller", "Hub")),
		done:   make(chan struct{}),
		topics: make(map[uuid.UUID]*topic),
	}, nil
}

// Start begins dispatching. It must be called once before Subscribe.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.active = true
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.logger.Info("hub dispatcher stopped")
		events := h.source.Subscribe()
		for {
			select {
			case <-h.done:
				return
			case event, ok := <-events:
				if !ok {
					h.logger.Warn("change feed source closed")
					h.closeTopics()
					return
				}
				h.dispatch(event)
			}
		}
	}()
}

func (h *Hub) dispatch(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.topics[event.AuctionID]
	if !ok {
		return
	}
	if dropped := t.broadcast(event); dropped > 0 {
		h.logger.Debug("coalesced event for busy subscribers",
			slog.String("auctionID", event.AuctionID.String()),
			slog.String("table", string(event.Table)),
			slog.Int("dropped", dropped))
	}
}

func (h *Hub) closeTopics() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = false
	for _, t := range h.topics {
		t.unsubscribeAll()
	}
	clear(h.topics)
}

// Done stops the hub and closes every subscriber channel.
func (h *Hub) Done() {
	h.stopOnce.Do(func() { close(h.done) })
	h.wg.Wait()
	h.closeTopics()
}

// Subscribe returns a channel receiving the events of one auction. The
// channel is closed by Unsubscribe or when the hub stops.
func (h *Hub) Subscribe(auctionID uuid.UUID) (<-chan Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, ErrHubClosed
	}
	t, ok := h.topics[auctionID]
	if !ok {
		t = newTopic()
		h.topics[auctionID] = t
	}
	return t.subscribe(), nil
}

func (h *Hub) Unsubscribe(auctionID uuid.UUID, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[auctionID]
	if !ok {
		return
	}
	t.unsubscribe(ch)
	if len(t.subscribers) == 0 {
		delete(h.topics, auctionID)
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n int
	for _, t := range h.topics {
		n += len(t.subscribers)
	}
	return n
}
