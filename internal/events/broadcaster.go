package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mr1hm/civic-issues/internal/models"
)

const subscriberBuffer = 64

// Match decides whether a subscriber wants an event. nil matches everything.
type Match func(ev models.IssueEvent) bool

type subscriber struct {
	ch    chan models.IssueEvent
	match Match
}

// Broadcaster fans issue events out to in-process subscribers (the SSE
// stream). Slow subscribers drop events rather than block publishers.
type Broadcaster struct {
	subscribers map[uint64]subscriber
	nextID      atomic.Uint64
	dropped     atomic.Uint64
	closed      bool
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]subscriber),
	}
}

func (b *Broadcaster) Subscribe(match Match) (uint64, <-chan models.IssueEvent) {
	id := b.nextID.Add(1)
	ch := make(chan models.IssueEvent, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = subscriber{ch: ch, match: match}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Name implements Sink.
func (b *Broadcaster) Name() string { return "sse" }

// Send implements Sink.
func (b *Broadcaster) Send(_ context.Context, ev models.IssueEvent) error {
	b.Broadcast(ev)
	return nil
}

func (b *Broadcaster) Broadcast(ev models.IssueEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.match != nil && !sub.match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels so streams end cleanly.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	return nil
}
