package hooks

import "sync"

// PendingQueue buffers hooks added from any thread until the next merge.
// It has its own lock so producers never contend with registry readers.
type PendingQueue struct {
	mu    sync.Mutex
	hooks []Hook
}

// Enqueue appends h unless an identical key is already queued.
func (p *PendingQueue) Enqueue(h Hook) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.hooks {
		if v.Same(h) {
			return false
		}
	}
	p.hooks = append(p.hooks, h)
	return true
}

// Drain empties the queue and returns its contents in insertion order.
func (p *PendingQueue) Drain() []Hook {
	p.mu.Lock()
	hooks := p.hooks
	p.hooks = nil
	p.mu.Unlock()
	return hooks
}

// RemoveOwner drops queued hooks belonging to owner before they are ever merged.
func (p *PendingQueue) RemoveOwner(owner OwnerID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	tmp := p.hooks[:0]
	for _, h := range p.hooks {
		if h.Owner != owner {
			tmp = append(tmp, h)
		}
	}
	n := len(p.hooks) - len(tmp)
	p.hooks = tmp
	return n
}

func (p *PendingQueue) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hooks)
}
