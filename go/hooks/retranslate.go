package hooks

import "go.uber.org/zap"

// BeforeBlockExec runs before a cached block executes, with the translation lock held.
// It returns true when tb was compiled before a hook inside it was registered;
// tb has then been invalidated and the engine must translate it again.
// Otherwise the rest of the cache is swept and tb may run.
func (m *Manager) BeforeBlockExec(cpu CPU, tb Block) bool {
	m.merge()
	if pc, ok := m.staleHook(tb); ok {
		m.log.Debug("block needs retranslation", zap.Uint64("tb", tb.PC()), zap.Uint64("hook", pc))
		m.metrics.retranslations.Inc()
		m.evict(tb, "retranslate")
		return true
	}
	m.invalidate(tb)
	return false
}

// NeedsRetranslation reports whether tb lacks dispatch code for a hook inside it.
func (m *Manager) NeedsRetranslation(tb Block) bool {
	_, ok := m.staleHook(tb)
	return ok
}

func (m *Manager) staleHook(tb Block) (uint64, bool) {
	for _, h := range m.registry.Range(tb.PC(), tb.PC()+tb.Size()) {
		if !m.instrumented.In(h.PC, tb) {
			return h.PC, true
		}
	}
	return 0, false
}

// BeforeExecExit runs at the safe point the engine reaches after an exit request,
// with the translation lock held.
func (m *Manager) BeforeExecExit(cpu CPU) {
	m.merge()
	m.invalidate(nil)
}
