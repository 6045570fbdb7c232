package hooks

import "sync"

// InstrumentedSet records which compiled blocks carry dispatch code for which guest addresses.
//
// Entries are per (address, block) so a block compiled before the splice is never
// mistaken for an instrumented one, and an address is dropped as soon as no hook
// targets it anymore.
type InstrumentedSet struct {
	mu     sync.RWMutex
	blocks map[uint64]map[uint64]struct{}
}

func NewInstrumentedSet() *InstrumentedSet {
	return &InstrumentedSet{blocks: make(map[uint64]map[uint64]struct{})}
}

func (s *InstrumentedSet) Add(pc uint64, tb Block) {
	s.mu.Lock()
	ids, ok := s.blocks[pc]
	if !ok {
		ids = make(map[uint64]struct{})
		s.blocks[pc] = ids
	}
	ids[tb.ID()] = struct{}{}
	s.mu.Unlock()
}

// Contains reports whether any compiled block has dispatch code for pc.
func (s *InstrumentedSet) Contains(pc uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks[pc]) > 0
}

// In reports whether tb itself has dispatch code for pc.
func (s *InstrumentedSet) In(pc uint64, tb Block) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[pc][tb.ID()]
	return ok
}

// Forget drops tb from every address, after it has been invalidated.
func (s *InstrumentedSet) Forget(tb Block) {
	id := tb.ID()
	s.mu.Lock()
	for pc, ids := range s.blocks {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.blocks, pc)
		}
	}
	s.mu.Unlock()
}

// Drop removes pc entirely once its last hook is gone.
func (s *InstrumentedSet) Drop(pc uint64) {
	s.mu.Lock()
	delete(s.blocks, pc)
	s.mu.Unlock()
}

func (s *InstrumentedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}
