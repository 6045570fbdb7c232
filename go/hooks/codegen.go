package hooks

import (
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

func checkExit(cpu CPU, _ Block) bool {
	return cpu.ExitRequested()
}

// BeforeCodegen runs while tb is being compiled, with the translation lock held.
// It merges pending hooks, sweeps stale cached blocks and splices dispatch calls into tb.
func (m *Manager) BeforeCodegen(cpu CPU, tb Translation) {
	m.merge()
	m.invalidate(tb)
	m.insert(tb)
}

// insert splices a dispatch call and an exit check at every hooked instruction of tb.
func (m *Manager) insert(tb Translation) int {
	seen := mapset.NewThreadUnsafeSet[uint64]()
	n := 0
	for _, h := range m.registry.Range(tb.PC(), tb.PC()+tb.Size()) {
		if seen.Contains(h.PC) || m.instrumented.In(h.PC, tb) {
			continue
		}
		seen.Add(h.PC)

		op := m.boundary(tb, h)
		if op == nil {
			// stays uninstrumented; retried on the next translation
			m.log.Debug("no instruction boundary", zap.Uint64("pc", h.PC), zap.Uint64("tb", tb.PC()))
			continue
		}
		pc := h.PC
		dispatch := func(cpu CPU, b Block) bool {
			m.Dispatch(cpu, b, pc)
			return false
		}
		tb.InsertCalls(op, dispatch, checkExit)
		m.instrumented.Add(pc, tb)
		m.metrics.splices.Inc()
		m.log.Debug("inserting call", zap.Uint64("pc", pc), zap.Uint64("tb", tb.PC()))
		n++
	}
	return n
}

// boundary finds the instruction to instrument for h. A StartsBlock hook whose
// promise does not hold for tb falls back to an exact address lookup.
func (m *Manager) boundary(tb Translation, h Hook) Op {
	if h.StartsBlock {
		if op := tb.FirstInsn(); op != nil && op.Addr() == h.PC {
			return op
		}
		m.log.Warn("hook does not start its block",
			zap.Stringer("hook", h),
			zap.Uint64("tb", tb.PC()),
		)
	}
	return tb.InsnAt(h.PC)
}
