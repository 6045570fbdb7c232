package hooks

import (
	"go.uber.org/zap"
)

func sameBlock(a, b Block) bool {
	return a != nil && b != nil && a.ID() == b.ID()
}

// evict invalidates tb in the engine and forgets its instrumentation.
// The translation lock must be held.
func (m *Manager) evict(tb Block, reason string) {
	m.log.Debug("invalidating block",
		zap.Uint64("pc", tb.PC()),
		zap.Uint64("size", tb.Size()),
		zap.Uint64("id", tb.ID()),
		zap.String("reason", reason),
	)
	m.eng.Invalidate(tb)
	m.instrumented.Forget(tb)
	m.metrics.invalidations.WithLabelValues(reason).Inc()
}

// invalidate sweeps the engine's cache for blocks compiled before the hooks in the
// obligation lists were merged. inflight is the block being compiled, if any, and is
// never invalidated. The translation lock must be held.
func (m *Manager) invalidate(inflight Block) {
	start, anywhere := m.obligations.Drain()

	// start addresses whose jump slot is empty or taken by a colliding block;
	// a block at pc can still be reached through the engine's block table
	var missed []uint64
	for _, pc := range start {
		tb := m.eng.Lookup(m.eng.Hash(pc))
		if tb == nil || tb.PC() != pc {
			missed = append(missed, pc)
			continue
		}
		if sameBlock(tb, inflight) || m.instrumented.In(pc, tb) {
			continue
		}
		m.evict(tb, "start")
	}

	if len(anywhere) == 0 && len(missed) == 0 {
		return
	}
	// collect first: invalidating mutates the slots being enumerated
	var stale []Block
	m.eng.Slots(func(tb Block) bool {
		if sameBlock(tb, inflight) {
			return true
		}
		if m.staleFor(tb, missed, anywhere) {
			stale = append(stale, tb)
		}
		return true
	})
	for _, tb := range stale {
		m.evict(tb, "anywhere")
	}
}

// staleFor reports whether tb starts at one of starts, or covers one of anywhere,
// without dispatch code for it. One hit is enough: the whole block is rechecked when
// recompiled.
func (m *Manager) staleFor(tb Block, starts, anywhere []uint64) bool {
	for _, pc := range starts {
		if tb.PC() == pc && !m.instrumented.In(pc, tb) {
			return true
		}
	}
	for _, pc := range anywhere {
		if contains(tb, pc) && !m.instrumented.In(pc, tb) {
			return true
		}
	}
	return false
}
