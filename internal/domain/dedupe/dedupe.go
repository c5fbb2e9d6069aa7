// Package dedupe tracks client submission ids so retried match submissions
// are recorded at most once.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// defaultMaxSize bounds the number of remembered submission ids.
const defaultMaxSize = 50000

// Deduper records seen submission ids and the match each one produced.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it as in
	// flight if not. Returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Remember marks id as completed by matchID.
	Remember(ctx context.Context, id string, matchID int64)

	// Lookup returns the match recorded for id. done is false when id is
	// unknown or still in flight.
	Lookup(ctx context.Context, id string) (matchID int64, done bool)

	// Unrecord removes an id, allowing it to be retried. Used when a
	// submission fails after SeenAndRecord.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// entry is one remembered submission.
type entry struct {
	id      string
	matchID int64 // zero while in flight
}

// inMemoryDeduper keeps ids in insertion order and evicts the oldest once
// maxSize is reached. maxSize <= 0 means unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front is the oldest entry
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]*list.Element)
	d.order = list.New()

	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	d.seen[id] = d.order.PushBack(&entry{id: id})
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Remember(_ context.Context, id string, matchID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, exists := d.seen[id]; exists {
		el.Value.(*entry).matchID = matchID
		return
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[id] = d.order.PushBack(&entry{id: id, matchID: matchID})
	d.size.Add(1)
}

func (d *inMemoryDeduper) Lookup(_ context.Context, id string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	el, exists := d.seen[id]
	if !exists {
		return 0, false
	}
	e := el.Value.(*entry)
	return e.matchID, e.matchID != 0
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, exists := d.seen[id]; exists {
		d.order.Remove(el)
		delete(d.seen, id)
		d.size.Add(-1)
	}
}

// evictOldest drops the front entry. Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	el := d.order.Front()
	if el == nil {
		return
	}
	d.order.Remove(el)
	delete(d.seen, el.Value.(*entry).id)
	d.size.Add(-1)
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
