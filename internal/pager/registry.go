// ABOUTME: Thread-safe registry of live message lists keyed by list id
// ABOUTME: Optional idle TTL and maximum size with least-recently-used eviction

package pager

import (
	"container/list"
	"sync"
	"time"
)

// ListID identifies a message list. Ids come from a monotonically
// increasing counter and are never reused within a registry.
type ListID int64

// listEntry stores the remaining keys and LRU bookkeeping for one list.
type listEntry struct {
	remaining  []int64
	lastAccess time.Time
	element    *list.Element
}

// popResult tells Registry.pop callers what happened.
type popResult int

const (
	popOK popResult = iota
	popUnknown
	popExhausted
)

// Registry holds message lists between calls. A zero ttl keeps lists until
// they are exhausted or discarded; a zero maxLists places no limit on how
// many lists are live at once.
type Registry struct {
	mu       sync.Mutex
	lists    map[ListID]*listEntry
	order    *list.List // least recently used at front
	ttl      time.Duration
	maxLists int
	nextID   ListID
	now      func() time.Time
	done     chan struct{}
	closed   bool
}

// NewRegistry creates a registry. When ttl is positive a background
// goroutine periodically drops lists idle for longer than ttl.
func NewRegistry(ttl time.Duration, maxLists int) *Registry {
	r := &Registry{
		lists:    make(map[ListID]*listEntry),
		order:    list.New(),
		ttl:      ttl,
		maxLists: maxLists,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		go r.cleanup(min(ttl, time.Minute))
	}
	return r
}

// add registers a new list holding keys and returns its id. If the registry
// is at capacity the least recently used list is evicted first.
func (r *Registry) add(keys []int64) ListID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxLists > 0 && len(r.lists) >= r.maxLists {
		r.evictOldest()
	}

	r.nextID++
	id := r.nextID
	r.lists[id] = &listEntry{
		remaining:  keys,
		lastAccess: r.now(),
		element:    r.order.PushBack(id),
	}
	return id
}

// pop removes and returns the next key of list id. An exhausted list is
// removed from the registry.
func (r *Registry) pop(id ListID) (int64, popResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.lists[id]
	if !ok {
		return 0, popUnknown
	}
	now := r.now()
	if r.expired(entry, now) {
		r.removeLocked(id, entry)
		return 0, popUnknown
	}
	if len(entry.remaining) == 0 {
		r.removeLocked(id, entry)
		return 0, popExhausted
	}

	key := entry.remaining[0]
	entry.remaining = entry.remaining[1:]
	entry.lastAccess = now
	r.order.MoveToBack(entry.element)
	return key, popOK
}

// remove drops list id and reports whether it was live.
func (r *Registry) remove(id ListID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.lists[id]
	if !ok {
		return false
	}
	r.removeLocked(id, entry)
	return true
}

// Len returns the number of live lists.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lists)
}

// removeLocked must be called with mu held.
func (r *Registry) removeLocked(id ListID, entry *listEntry) {
	r.order.Remove(entry.element)
	delete(r.lists, id)
}

// evictOldest removes the least recently used list. Must be called with mu held.
func (r *Registry) evictOldest() {
	front := r.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(ListID)
	r.order.Remove(front)
	delete(r.lists, id)
}

func (r *Registry) expired(entry *listEntry, now time.Time) bool {
	return r.ttl > 0 && now.Sub(entry.lastAccess) > r.ttl
}

// cleanup runs in a background goroutine, periodically removing idle lists.
func (r *Registry) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runCleanup()
		case <-r.done:
			return
		}
	}
}

// runCleanup removes every list idle for longer than the ttl.
func (r *Registry) runCleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, entry := range r.lists {
		if r.expired(entry, now) {
			r.removeLocked(id, entry)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		close(r.done)
		r.closed = true
	}
}
