package monitor

import (
	"sync"

	"github.com/streamlens/streamlens/internal/sched"
)

// ResultBroadcaster fans inference results out to SSE subscribers. Slow
// subscribers lose results instead of stalling the publisher.
type ResultBroadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan sched.Result
	closed bool
}

// NewResultBroadcaster creates an empty broadcaster.
func NewResultBroadcaster() *ResultBroadcaster {
	return &ResultBroadcaster{subs: make(map[int]chan sched.Result)}
}

// Subscribe registers a subscriber and returns its id and channel.
func (b *ResultBroadcaster) Subscribe() (int, <-chan sched.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan sched.Result, 8)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *ResultBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers a result to every subscriber that can take it.
func (b *ResultBroadcaster) Publish(r sched.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (b *ResultBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
