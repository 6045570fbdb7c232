package hooks

// Dispatch runs the hooks at pc. It is the helper spliced into translated code.
func (m *Manager) Dispatch(cpu CPU, tb Block, pc uint64) {
	m.dispatch(cpu, tb, pc, pc+1)
}

// DispatchBlock runs every hook inside tb, for engines that drive dispatch once per block.
func (m *Manager) DispatchBlock(cpu CPU, tb Block) {
	m.dispatch(cpu, tb, tb.PC(), tb.PC()+tb.Size())
}

func (m *Manager) dispatch(cpu CPU, tb Block, start, end uint64) {
	added := m.merge()
	for _, h := range added {
		if contains(tb, h.PC) && !m.instrumented.In(h.PC, tb) {
			// the rest of this block predates h
			cpu.RequestExit()
			break
		}
	}
	m.metrics.dispatches.Inc()

	matched := m.registry.RangeASID(start, end, cpu.ASID())
	var done []Hook
	for _, h := range matched {
		fn := m.callback(h.Callback)
		// an earlier callback may have unregistered this hook's owner
		if fn == nil || !m.registry.Has(h) {
			continue
		}
		m.metrics.calls.Inc()
		if fn(cpu, tb, h) {
			done = append(done, h)
		}
	}
	// never mutate the registry mid-scan
	m.remove(done)
}
