package auth

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Denylist records revoked token identifiers until the tokens themselves expire.
type Denylist interface {
	Add(ctx context.Context, tokenID string, expiresAt time.Time) error
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// MemoryDenylist is a process-local Denylist. Expired entries are dropped
// lazily on every call, oldest first.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	expiry  expiryHeap
	now     func() time.Time
}

// NewMemoryDenylist creates an empty in-memory denylist.
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (d *MemoryDenylist) Add(_ context.Context, tokenID string, expiresAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.prune(now)

	if !expiresAt.After(now) {
		return nil
	}
	if current, ok := d.entries[tokenID]; ok && !expiresAt.After(current) {
		return nil
	}

	d.entries[tokenID] = expiresAt
	heap.Push(&d.expiry, expiryEntry{id: tokenID, at: expiresAt})
	return nil
}

func (d *MemoryDenylist) Contains(_ context.Context, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prune(d.now())
	_, ok := d.entries[tokenID]
	return ok, nil
}

// Len returns the number of live entries.
func (d *MemoryDenylist) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prune(d.now())
	return len(d.entries)
}

// prune must be called with mu held.
func (d *MemoryDenylist) prune(now time.Time) {
	for d.expiry.Len() > 0 && !d.expiry[0].at.After(now) {
		e := heap.Pop(&d.expiry).(expiryEntry)
		// A later Add may have extended this id; only drop the matching entry.
		if at, ok := d.entries[e.id]; ok && at.Equal(e.at) {
			delete(d.entries, e.id)
		}
	}
}

type expiryEntry struct {
	id string
	at time.Time
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) {
	*h = append(*h, x.(expiryEntry))
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
