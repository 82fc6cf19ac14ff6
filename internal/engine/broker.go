package engine

import "sync"

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Updates are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// ProgressBroker fans monitor state updates out to per-generation
// subscribers. It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a generation finishes) receive a closed channel instead
// of blocking forever. Each marker is a few bytes, which is acceptable for
// the expected request volume.
type ProgressBroker struct {
	mu     sync.Mutex
	topics map[string]*progressTopic
}

type progressTopic struct {
	subs   map[int]chan string
	nextID int
	closed bool
}

// NewProgressBroker creates a new progress broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		topics: make(map[string]*progressTopic),
	}
}

// Subscribe returns a channel receiving progress updates for the given
// generation and an unsubscribe function. If the generation has already
// finished (Close was called), the returned channel is immediately closed.
func (b *ProgressBroker) Subscribe(generationID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[generationID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan string)}
		b.topics[generationID] = t
	}

	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a progress update to all subscribers of the given generation.
// Updates are dropped for subscribers whose buffers are full.
func (b *ProgressBroker) Publish(generationID string, update string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[generationID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- update:
		default:
			// Drop update for slow subscribers to avoid blocking the monitor.
		}
	}
}

// Close signals that no more updates will be published for the generation.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *ProgressBroker) Close(generationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[generationID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[generationID] = &progressTopic{subs: make(map[int]chan string), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
