package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/smallnest/chanx"
)

var ErrClosed = errors.New("change feed is closed")

// LocalBus is an in-process Publisher and Source. Publish never blocks; the
// backlog grows until the subscriber catches up.
type LocalBus struct {
	mu     sync.RWMutex
	ch     *chanx.UnboundedChan[Event]
	closed bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		ch: chanx.NewUnboundedChan[Event](context.Background(), 64),
	}
}

func (b *LocalBus) Publish(event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	b.ch.In <- event
	return nil
}

func (b *LocalBus) Subscribe() <-chan Event {
	return b.ch.Out
}

// Close stops accepting events. Events already published are still
// delivered before the Subscribe channel is closed.
func (b *LocalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch.In)
}
