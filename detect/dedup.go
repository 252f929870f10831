package detect

import "sync"

// recentIDs is a bounded set of recently processed event ids with FIFO
// eviction, mirroring the collector's dedup window. FIFO (not LRU)
// matters: a duplicate hit must not extend an id's lifetime.
type recentIDs struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	head  int
	count int
}

func newRecentIDs(capacity int) *recentIDs {
	if capacity < 1 {
		capacity = 1
	}
	return &recentIDs{
		seen:  make(map[string]struct{}, capacity),
		order: make([]string, capacity),
	}
}

// SeenOrRecord reports whether id was already recorded; if not, it
// records it, evicting the oldest id once the window is full.
func (r *recentIDs) SeenOrRecord(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[id]; ok {
		return true
	}

	if r.count == len(r.order) {
		oldest := r.order[r.head]
		delete(r.seen, oldest)
		r.head = (r.head + 1) % len(r.order)
		r.count--
	}

	tail := (r.head + r.count) % len(r.order)
	r.order[tail] = id
	r.count++
	r.seen[id] = struct{}{}
	return false
}
