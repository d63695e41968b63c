// Package session closes the gap between a local write and its network
// round-trip: other UI sessions on the same device (or same till network)
// see merged records immediately via the bus instead of waiting for a relay
// echo. It also tracks which UI sessions are connected.
package session

import (
	"context"
	"encoding/json"
	"sync"
)

// Update is one merged record broadcast to live sessions.
type Update struct {
	// ID identifies this broadcast so receiving engines can dedupe it in
	// their processed-id set.
	ID string `json:"id,omitempty"`
	// Kind is the domain kind name ("order", "product", ...).
	Kind string `json:"kind"`
	// Payload is the full record after merge, not a delta.
	Payload json.RawMessage `json:"payload"`
	// Origin identifies the session that produced the write so it can
	// skip its own echo.
	Origin string `json:"origin,omitempty"`
	// Deleted marks a tombstone broadcast.
	Deleted bool `json:"deleted,omitempty"`
}

// Bus fans updates out to every subscribed session. Publish must not block
// on slow consumers.
type Bus interface {
	Publish(ctx context.Context, u Update) error
	// Subscribe registers fn for every subsequent update and returns an
	// unsubscribe func.
	Subscribe(ctx context.Context, fn func(Update)) (func(), error)
	Close() error
}

// MemoryBus is the in-process bus for single-process deployments.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Update
	closed bool
}

const subBuffer = 64

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan Update)}
}

func (b *MemoryBus) Publish(_ context.Context, u Update) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
			// Slow consumer: drop rather than stall the write path. The
			// session resyncs from the cache on reconnect.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, fn func(Update)) (func(), error) {
	ch := make(chan Update, subBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case u, ok := <-ch:
				if !ok {
					return
				}
				fn(u)
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	return cancel, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	return nil
}
