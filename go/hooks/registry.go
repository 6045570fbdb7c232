package hooks

import (
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 16

// Registry is the ordered set of active hooks.
// Readers (dispatch, codegen) share the lock; merges and removals take it briefly for writing.
type Registry struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[Hook]

	// called outside the lock whenever the registry goes empty <-> non-empty
	notify func(nonEmpty bool)
}

func NewRegistry(notify func(nonEmpty bool)) *Registry {
	return &Registry{
		tree:   btree.NewG[Hook](btreeDegree, Hook.Less),
		notify: notify,
	}
}

func (r *Registry) signal(before, after int) {
	if r.notify == nil {
		return
	}
	if before == 0 && after > 0 {
		r.notify(true)
	} else if before > 0 && after == 0 {
		r.notify(false)
	}
}

// Add inserts h unless a hook with the same key exists, and reports whether it was inserted.
func (r *Registry) Add(h Hook) bool {
	r.mu.Lock()
	before := r.tree.Len()
	added := false
	if !r.tree.Has(h) {
		r.tree.ReplaceOrInsert(h)
		added = true
	}
	after := r.tree.Len()
	r.mu.Unlock()
	r.signal(before, after)
	return added
}

// insertAll adds every hook not already present and returns the ones inserted.
func (r *Registry) insertAll(hs []Hook) []Hook {
	var added []Hook
	r.mu.Lock()
	before := r.tree.Len()
	for _, h := range hs {
		if !r.tree.Has(h) {
			r.tree.ReplaceOrInsert(h)
			added = append(added, h)
		}
	}
	after := r.tree.Len()
	r.mu.Unlock()
	r.signal(before, after)
	return added
}

func (r *Registry) Has(h Hook) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Has(h)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Len()
}

// Remove deletes the given hooks in one batch. Missing hooks are ignored.
func (r *Registry) Remove(hs ...Hook) int {
	if len(hs) == 0 {
		return 0
	}
	r.mu.Lock()
	before := r.tree.Len()
	n := 0
	for _, h := range hs {
		if _, ok := r.tree.Delete(h); ok {
			n++
		}
	}
	after := r.tree.Len()
	r.mu.Unlock()
	r.signal(before, after)
	return n
}

// RemoveOwner deletes every hook registered by owner and returns them.
func (r *Registry) RemoveOwner(owner OwnerID) []Hook {
	var matched []Hook
	r.mu.RLock()
	r.tree.Ascend(func(h Hook) bool {
		if h.Owner == owner {
			matched = append(matched, h)
		}
		return true
	})
	r.mu.RUnlock()
	r.Remove(matched...)
	return matched
}

// Range returns every hook with start <= PC < end, in key order.
//
// Hooks sharing a PC are interleaved by (asid, owner, callback), so the scan is
// bounded by synthetic lowest/highest keys and then filtered on the address.
func (r *Registry) Range(start, end uint64) []Hook {
	if end <= start {
		return nil
	}
	low, high := minHook(start), maxHook(end-1)
	var out []Hook
	r.mu.RLock()
	r.tree.AscendGreaterOrEqual(low, func(h Hook) bool {
		if high.Less(h) {
			return false
		}
		if h.PC >= start && h.PC < end {
			out = append(out, h)
		}
		return true
	})
	r.mu.RUnlock()
	return out
}

// RangeASID is Range restricted to hooks whose filter matches asid.
func (r *Registry) RangeASID(start, end, asid uint64) []Hook {
	hs := r.Range(start, end)
	out := hs[:0]
	for _, h := range hs {
		if h.ASID.Matches(asid) {
			out = append(out, h)
		}
	}
	return out
}

// AnyAt reports whether at least one hook targets pc.
func (r *Registry) AnyAt(pc uint64) bool {
	found := false
	r.mu.RLock()
	r.tree.AscendGreaterOrEqual(minHook(pc), func(h Hook) bool {
		found = h.PC == pc
		return false
	})
	r.mu.RUnlock()
	return found
}

// All returns a snapshot of the registry in key order.
func (r *Registry) All() []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Hook, 0, r.tree.Len())
	r.tree.Ascend(func(h Hook) bool {
		out = append(out, h)
		return true
	})
	return out
}
