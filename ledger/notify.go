package ledger

import (
	"context"
	"sync"
)

// Broadcaster fans store changes out to subscribers. Stores embed it to
// implement Subscriber. A subscriber whose buffer is full misses the change.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[Collection]map[chan Change]struct{}
}

// Subscribe returns a channel of changes to collection, closed when ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context, collection Collection) (<-chan Change, error) {
	ch := make(chan Change, 16)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[Collection]map[chan Change]struct{})
	}
	if b.subs[collection] == nil {
		b.subs[collection] = make(map[chan Change]struct{})
	}
	b.subs[collection][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[collection], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Publish notifies every subscriber of the change's collection.
func (b *Broadcaster) Publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[c.Collection] {
		select {
		case ch <- c:
		default:
		}
	}
}
