package hooks

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type callbackEntry struct {
	owner OwnerID
	fn    Callback
}

// Manager owns the hook registry and drives instrumentation of an Engine.
//
// Registration methods may be called from any goroutine. BeforeCodegen,
// BeforeBlockExec, BeforeExecExit and the spliced dispatch helpers are called
// by the engine from its execution thread.
type Manager struct {
	eng     Engine
	log     *zap.Logger
	metrics *metrics
	reg     prometheus.Registerer

	registry     *Registry
	pending      PendingQueue
	instrumented *InstrumentedSet
	obligations  Obligations

	// serializes merges against owner removal
	mergeMu sync.Mutex

	nextOwner uint32

	cbMu      sync.RWMutex
	nextCb    CallbackID
	callbacks map[CallbackID]callbackEntry

	pipeMu   sync.Mutex
	pipeline bool
}

type Option func(m *Manager)

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithRegisterer registers the manager's counters with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.reg = reg }
}

func New(eng Engine, opts ...Option) *Manager {
	m := &Manager{
		eng:          eng,
		log:          zap.NewNop(),
		metrics:      newMetrics(),
		instrumented: NewInstrumentedSet(),
		callbacks:    make(map[CallbackID]callbackEntry),
	}
	for _, o := range opts {
		o(m)
	}
	m.registry = NewRegistry(func(bool) { m.refreshPipeline() })
	if m.reg != nil {
		for _, c := range m.metrics.collectors() {
			if err := m.reg.Register(c); err != nil {
				m.log.Warn("metric registration failed", zap.Error(err))
			}
		}
	}
	return m
}

// Collectors returns the manager's prometheus collectors.
func (m *Manager) Collectors() []prometheus.Collector { return m.metrics.collectors() }

// RegisterOwner returns a fresh owner id. Ids start at 1 and only increase.
func (m *Manager) RegisterOwner() OwnerID {
	return OwnerID(atomic.AddUint32(&m.nextOwner, 1))
}

// RegisterCallback stores fn in the callback table and returns its handle.
// The callback is released when its owner is unregistered.
func (m *Manager) RegisterCallback(owner OwnerID, fn Callback) CallbackID {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.nextCb++
	m.callbacks[m.nextCb] = callbackEntry{owner: owner, fn: fn}
	return m.nextCb
}

func (m *Manager) callback(id CallbackID) Callback {
	m.cbMu.RLock()
	defer m.cbMu.RUnlock()
	return m.callbacks[id].fn
}

// AddHook queues a hook on pc. It reports false for a duplicate key or an unknown callback.
//
// The hook becomes visible at the engine's next safe point. When called from the
// execution thread while guest code runs, the engine is asked to exit to that safe
// point. From other threads the running block is invalidated if the translation lock
// can be taken without blocking; otherwise the change waits for the next merge.
func (m *Manager) AddHook(owner OwnerID, pc uint64, asid ASID, startsBlock bool, cb CallbackID) bool {
	h := Hook{PC: pc, ASID: asid, Owner: owner, Callback: cb, StartsBlock: startsBlock}
	m.cbMu.RLock()
	entry, ok := m.callbacks[cb]
	m.cbMu.RUnlock()
	if !ok || entry.owner != owner {
		m.log.Warn("hook rejected: unknown callback", zap.Stringer("hook", h))
		return false
	}
	if m.registry.Has(h) || !m.pending.Enqueue(h) {
		return false
	}
	m.log.Debug("hook queued", zap.Stringer("hook", h))
	m.refreshPipeline()
	m.kick(h)
	return true
}

func (m *Manager) kick(h Hook) {
	m.eng.SetRetranslationCheck(true)
	if m.eng.InExecThread() {
		if m.eng.Running() {
			m.eng.RequestExit()
		}
		return
	}
	if !m.eng.TryLockTB() {
		m.log.Debug("translation lock busy, deferring", zap.Uint64("pc", h.PC))
		return
	}
	defer m.eng.UnlockTB()
	if !m.eng.Running() {
		return
	}
	cur := m.eng.Lookup(m.eng.Hash(m.eng.CurrentPC()))
	if cur != nil && contains(cur, h.PC) {
		m.evict(cur, "current")
		m.eng.RequestExit()
	}
	if tb := m.eng.Lookup(m.eng.Hash(h.PC)); tb != nil && tb.PC() == h.PC && !sameBlock(tb, cur) {
		m.evict(tb, "direct")
	}
}

// UnregisterOwner removes every hook and callback of owner, including hooks not merged yet.
func (m *Manager) UnregisterOwner(owner OwnerID) {
	m.mergeMu.Lock()
	dropped := m.pending.RemoveOwner(owner)
	removed := m.registry.RemoveOwner(owner)
	m.mergeMu.Unlock()

	m.cbMu.Lock()
	for id, e := range m.callbacks {
		if e.owner == owner {
			delete(m.callbacks, id)
		}
	}
	m.cbMu.Unlock()

	m.prune(removed)
	m.metrics.removed.Add(float64(len(removed)))
	m.log.Debug("owner unregistered",
		zap.Uint32("owner", uint32(owner)),
		zap.Int("removed", len(removed)),
		zap.Int("dropped", dropped),
	)
	m.refreshPipeline()
}

// merge moves pending hooks into the registry and records invalidation obligations.
// It returns the hooks actually inserted.
func (m *Manager) merge() []Hook {
	if m.pending.Len() == 0 {
		return nil
	}
	m.mergeMu.Lock()
	hs := m.pending.Drain()
	live := hs[:0]
	m.cbMu.RLock()
	for _, h := range hs {
		if _, ok := m.callbacks[h.Callback]; ok {
			live = append(live, h)
		}
	}
	m.cbMu.RUnlock()
	added := m.registry.insertAll(live)
	for _, h := range added {
		m.obligations.Push(h)
	}
	m.mergeMu.Unlock()

	if len(added) > 0 {
		m.metrics.merged.Add(float64(len(added)))
		m.log.Debug("merged hooks", zap.Int("count", len(added)))
	}
	m.refreshPipeline()
	return added
}

// remove deletes hooks in one batch after a dispatch scan.
func (m *Manager) remove(hs []Hook) {
	if len(hs) == 0 {
		return
	}
	n := m.registry.Remove(hs...)
	m.prune(hs)
	m.metrics.removed.Add(float64(n))
}

// prune drops addresses from the instrumented set once no hook targets them.
func (m *Manager) prune(hs []Hook) {
	for _, h := range hs {
		if !m.registry.AnyAt(h.PC) {
			m.instrumented.Drop(h.PC)
		}
	}
}

// refreshPipeline enables engine instrumentation while any hook is active or queued.
func (m *Manager) refreshPipeline() {
	m.pipeMu.Lock()
	defer m.pipeMu.Unlock()
	on := m.registry.Len() > 0 || m.pending.Len() > 0
	if on == m.pipeline {
		return
	}
	m.pipeline = on
	m.eng.SetInstrumentation(on)
	m.log.Debug("instrumentation pipeline", zap.Bool("enabled", on))
}

// Forget drops instrumentation records for a block the engine discarded on its own,
// such as after a write to translated code.
func (m *Manager) Forget(tb Block) { m.instrumented.Forget(tb) }

// Enabled reports whether the engine's instrumentation pipeline is on.
func (m *Manager) Enabled() bool {
	m.pipeMu.Lock()
	defer m.pipeMu.Unlock()
	return m.pipeline
}

// Hooks returns a snapshot of the merged hooks in key order.
func (m *Manager) Hooks() []Hook { return m.registry.All() }

// Pending returns the number of hooks waiting for a merge.
func (m *Manager) Pending() int { return m.pending.Len() }

// Instrumented reports whether some compiled block carries dispatch code for pc.
func (m *Manager) Instrumented(pc uint64) bool { return m.instrumented.Contains(pc) }
