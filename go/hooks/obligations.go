package hooks

import "sync"

// Obligations holds addresses whose cached blocks still need a sweep after a merge.
type Obligations struct {
	mu sync.Mutex
	// hook PC is guaranteed to start its block: looked up through the jump cache,
	// falling back to a scan when the slot holds another block
	start []uint64
	// hook PC may be anywhere in a block: needs a scan of every slot
	anywhere []uint64
}

func (o *Obligations) Push(h Hook) {
	o.mu.Lock()
	if h.StartsBlock {
		o.start = append(o.start, h.PC)
	} else {
		o.anywhere = append(o.anywhere, h.PC)
	}
	o.mu.Unlock()
}

// Drain returns and clears both lists.
func (o *Obligations) Drain() (start, anywhere []uint64) {
	o.mu.Lock()
	start, anywhere = o.start, o.anywhere
	o.start, o.anywhere = nil, nil
	o.mu.Unlock()
	return start, anywhere
}

func (o *Obligations) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.start) + len(o.anywhere)
}
