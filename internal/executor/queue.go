package executor

import (
	"context"
	"sync"
	"time"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

// bookQueue hands book updates from the stream goroutine to a single
// consumer goroutine, preserving arrival order.
type bookQueue struct {
	ch   chan domain.OrderbookSnapshot
	done chan struct{}
	once sync.Once
}

func newBookQueue(size int) *bookQueue {
	if size <= 0 {
		size = 256
	}
	return &bookQueue{
		ch:   make(chan domain.OrderbookSnapshot, size),
		done: make(chan struct{}),
	}
}

// push blocks while the queue is full and drops the update once the
// consumer has stopped.
func (q *bookQueue) push(snap domain.OrderbookSnapshot) {
	select {
	case q.ch <- snap:
	case <-q.done:
	}
}

// drain calls handle for every update until ctx is done. tick, if non-nil,
// runs every tickEvery.
func (q *bookQueue) drain(ctx context.Context, handle func(domain.OrderbookSnapshot), tickEvery time.Duration, tick func()) {
	defer q.once.Do(func() { close(q.done) })

	var tc <-chan time.Time
	if tick != nil && tickEvery > 0 {
		t := time.NewTicker(tickEvery)
		defer t.Stop()
		tc = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tc:
			tick()
		case snap := <-q.ch:
			handle(snap)
		}
	}
}
