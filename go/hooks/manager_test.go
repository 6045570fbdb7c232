package hooks

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hitLog struct {
	hits []Hook
}

func (l *hitLog) cb(remove bool) Callback {
	return func(cpu CPU, tb Block, h Hook) bool {
		l.hits = append(l.hits, h)
		return remove
	}
}

func (l *hitLog) count(pc uint64) int {
	n := 0
	for _, h := range l.hits {
		if h.PC == pc {
			n++
		}
	}
	return n
}

func TestOwnerIDs(t *testing.T) {
	_, m := newFake()
	a := m.RegisterOwner()
	b := m.RegisterOwner()
	assert.Equal(t, OwnerID(1), a)
	assert.Equal(t, OwnerID(2), b)
}

func TestAddHookUnique(t *testing.T) {
	e, m := newFake()
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, func(CPU, Block, Hook) bool { return false })

	require.True(t, m.AddHook(owner, 0x1000, AnyASID, false, cb))
	require.False(t, m.AddHook(owner, 0x1000, AnyASID, true, cb))
	require.Equal(t, 1, m.Pending())

	e.compile(0x10, 0x1000, 0x1004)
	require.Len(t, m.Hooks(), 1)
	require.False(t, m.AddHook(owner, 0x1000, AnyASID, false, cb))

	// a different callback is a different key
	cb2 := m.RegisterCallback(owner, func(CPU, Block, Hook) bool { return false })
	require.True(t, m.AddHook(owner, 0x1000, AnyASID, false, cb2))
}

func TestAddHookRejectsForeignCallback(t *testing.T) {
	_, m := newFake()
	a := m.RegisterOwner()
	b := m.RegisterOwner()
	cb := m.RegisterCallback(a, func(CPU, Block, Hook) bool { return false })
	assert.False(t, m.AddHook(b, 0x1000, AnyASID, false, cb))
	assert.False(t, m.AddHook(a, 0x1000, AnyASID, false, cb+100))
	assert.Equal(t, 0, m.Pending())
}

// hook at the start of a block fires once and removes itself
func TestScenarioOneShot(t *testing.T) {
	e, m := newFake()
	var log hitLog
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, log.cb(true))
	require.True(t, m.AddHook(owner, 0x1000, AnyASID, false, cb))
	require.True(t, e.instrumentation)

	tb := e.compile(0x10, 0x1000, 0x1004, 0x1008, 0x100c)
	require.True(t, m.Instrumented(0x1000))
	require.Len(t, tb.calls[0x1000], 2)

	require.False(t, e.exec(tb))
	require.Equal(t, 1, log.count(0x1000))
	require.Empty(t, m.Hooks())
	require.False(t, e.instrumentation)
	require.False(t, m.Instrumented(0x1000))
	require.Equal(t, []bool{true, false}, e.toggles)

	// spliced code stays, but finds nothing to run
	e.exec(tb)
	require.Equal(t, 1, log.count(0x1000))

	// no overhead in blocks compiled afterwards
	tb2 := e.compile(0x10, 0x2000, 0x2004)
	require.Empty(t, tb2.calls)
}

func TestScenarioStaleCachedBlock(t *testing.T) {
	e, m := newFake()
	var log hitLog
	tb := e.compile(0x10, 0x2000, 0x2004, 0x2008, 0x200c)

	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, log.cb(false))
	require.True(t, m.AddHook(owner, 0x2008, AnyASID, false, cb))
	require.True(t, e.recheck)

	require.True(t, e.gate(tb))
	require.False(t, e.cached(tb.id))
	require.True(t, m.NeedsRetranslation(tb))

	tb2 := e.compile(0x10, 0x2000, 0x2004, 0x2008, 0x200c)
	require.False(t, m.NeedsRetranslation(tb2))
	require.False(t, e.gate(tb2))
	e.exec(tb2)
	require.Equal(t, 1, log.count(0x2008))
}

func TestScenarioOwnerIsolation(t *testing.T) {
	e, m := newFake()
	var log hitLog
	a := m.RegisterOwner()
	b := m.RegisterOwner()
	cbA := m.RegisterCallback(a, log.cb(false))
	cbB := m.RegisterCallback(b, log.cb(false))
	require.True(t, m.AddHook(a, 0x3004, AnyASID, false, cbA))
	require.True(t, m.AddHook(b, 0x3008, AnyASID, false, cbB))
	require.True(t, m.AddHook(b, 0x3004, AnyASID, false, cbB))

	tb := e.compile(0x10, 0x3000, 0x3004, 0x3008, 0x300c)
	e.exec(tb)
	require.Equal(t, 2, log.count(0x3004))
	require.Equal(t, 1, log.count(0x3008))

	m.UnregisterOwner(a)
	log.hits = nil
	e.exec(tb)
	require.Len(t, log.hits, 2)
	for _, h := range log.hits {
		require.Equal(t, b, h.Owner)
	}
	require.True(t, m.Instrumented(0x3004))
	require.True(t, e.instrumentation)
}

func TestScenarioUnregisterBeforeMerge(t *testing.T) {
	e, m := newFake()
	var log hitLog
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, log.cb(false))
	require.True(t, m.AddHook(owner, 0x4000, AnyASID, false, cb))
	m.UnregisterOwner(owner)
	require.Equal(t, 0, m.Pending())
	require.False(t, e.instrumentation)

	e.instrumentation = true
	tb := e.compile(0x8, 0x4000, 0x4004)
	e.exec(tb)
	require.Empty(t, m.Hooks())
	require.Empty(t, log.hits)
}

func TestDispatchASIDFilter(t *testing.T) {
	e, m := newFake()
	var log hitLog
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, log.cb(false))
	m.AddHook(owner, 0x5000, MatchASID(5), true, cb)
	tb := e.compile(0x8, 0x5000, 0x5004)

	e.asid = 4
	e.exec(tb)
	require.Empty(t, log.hits)
	e.asid = 5
	e.exec(tb)
	require.Equal(t, 1, log.count(0x5000))

	// engine-driven dispatch covers the whole block
	e.asid = 5
	m.DispatchBlock(e, tb)
	require.Equal(t, 2, log.count(0x5000))
}

func TestInvalidateStartGuaranteed(t *testing.T) {
	e, m := newFake()
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, func(CPU, Block, Hook) bool { return false })

	stale := e.compile(0x10, 0x6000, 0x6008)
	other := e.compile(0x10, 0x7000, 0x7008)
	require.True(t, m.AddHook(owner, 0x6000, AnyASID, true, cb))
	// a start-guaranteed hook is only looked up at its own address
	require.True(t, m.AddHook(owner, 0x7008, AnyASID, true, cb))

	fresh := e.compile(0x10, 0x8000, 0x8008)
	assert.False(t, e.cached(stale.id))
	assert.True(t, e.cached(other.id))
	assert.True(t, e.cached(fresh.id))
	assert.Equal(t, []uint64{0x6000}, e.invalidated)
	assert.Equal(t, 0, m.obligations.Len())
}

func TestInvalidateStartBehindCollision(t *testing.T) {
	e, m := newFake()
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, func(CPU, Block, Hook) bool { return false })

	stale := e.compile(0x10, 0xf000, 0xf008)
	colliding := e.compile(0x10, 0x1f000, 0x1f008)
	require.Equal(t, colliding.id, e.Lookup(e.Hash(0xf000)).ID())

	require.True(t, m.AddHook(owner, 0xf000, AnyASID, true, cb))
	e.compile(0x8, 0x20000, 0x20004)
	assert.False(t, e.cached(stale.id))
	assert.True(t, e.cached(colliding.id))
	assert.Equal(t, []uint64{0xf000}, e.invalidated)
}

func TestInvalidateAnywhere(t *testing.T) {
	e, m := newFake()
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, func(CPU, Block, Hook) bool { return false })

	covering := e.compile(0x10, 0x6000, 0x6008)
	overlap := e.compile(0x8, 0x6008, 0x600c)
	other := e.compile(0x10, 0x7000, 0x7008)
	require.True(t, m.AddHook(owner, 0x6008, AnyASID, false, cb))
	require.True(t, m.AddHook(owner, 0x600c, AnyASID, false, cb))

	e.exitSafePoint()
	assert.False(t, e.cached(covering.id))
	assert.False(t, e.cached(overlap.id))
	assert.True(t, e.cached(other.id))
	// one invalidation per block even with two hits
	assert.Len(t, e.invalidated, 2)
}

func TestInvalidateSkipsInstrumented(t *testing.T) {
	e, m := newFake()
	var log hitLog
	a := m.RegisterOwner()
	b := m.RegisterOwner()
	cbA := m.RegisterCallback(a, log.cb(false))
	cbB := m.RegisterCallback(b, log.cb(false))

	require.True(t, m.AddHook(a, 0x9004, AnyASID, false, cbA))
	tb := e.compile(0x10, 0x9000, 0x9004, 0x9008)
	require.Empty(t, e.invalidated)
	require.True(t, m.Instrumented(0x9004))

	// same address, already instrumented in tb: nothing to evict
	require.True(t, m.AddHook(b, 0x9004, AnyASID, false, cbB))
	e.exitSafePoint()
	require.True(t, e.cached(tb.id))
	e.exec(tb)
	require.Equal(t, 2, log.count(0x9004))
}

func TestMissingBoundary(t *testing.T) {
	e, m := newFake()
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, func(CPU, Block, Hook) bool { return false })
	require.True(t, m.AddHook(owner, 0xa002, AnyASID, false, cb))
	tb := e.compile(0x8, 0xa000, 0xa004)
	require.Empty(t, tb.calls)
	require.False(t, m.Instrumented(0xa002))
	require.True(t, m.NeedsRetranslation(tb))
}

func TestStartsBlockMismatch(t *testing.T) {
	e, m := newFake()
	var log hitLog
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, log.cb(false))
	require.True(t, m.AddHook(owner, 0xb004, AnyASID, true, cb))
	tb := e.compile(0x8, 0xb000, 0xb004)
	require.Len(t, tb.calls[0xb004], 2)
	e.exec(tb)
	require.Equal(t, 1, log.count(0xb004))
}

func TestAddFromExecThread(t *testing.T) {
	e, m := newFake()
	var log hitLog
	owner := m.RegisterOwner()
	later := m.RegisterCallback(owner, log.cb(false))
	first := m.RegisterCallback(owner, func(cpu CPU, tb Block, h Hook) bool {
		// reentrant registration goes through the pending queue
		m.AddHook(owner, 0xc008, AnyASID, false, later)
		return true
	})
	require.True(t, m.AddHook(owner, 0xc004, AnyASID, false, first))
	tb := e.compile(0x10, 0xc000, 0xc004, 0xc008)

	require.True(t, e.exec(tb), "exit check should abort the block")
	require.True(t, e.exitReq)
	require.Equal(t, 1, m.Pending())
	require.Empty(t, log.hits)

	e.exitSafePoint()
	require.Equal(t, 0, m.Pending())
	require.False(t, e.cached(tb.id))

	tb2 := e.compile(0x10, 0xc000, 0xc004, 0xc008)
	e.exec(tb2)
	require.Equal(t, 1, log.count(0xc008))
}

func TestAddFromForeignThread(t *testing.T) {
	e, m := newFake()
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, func(CPU, Block, Hook) bool { return false })
	running := e.compile(0x10, 0xd000, 0xd004, 0xd008)
	direct := e.compile(0x8, 0xd00c, 0xd010)

	e.running = true
	e.curPC = 0xd000
	require.True(t, m.AddHook(owner, 0xd008, AnyASID, false, cb))
	require.False(t, e.cached(running.id))
	require.True(t, e.exitReq)
	require.True(t, e.cached(direct.id))

	e.exitReq = false
	require.True(t, m.AddHook(owner, 0xd00c, AnyASID, true, cb))
	require.False(t, e.cached(direct.id))
	require.False(t, e.exitReq)
}

func TestAddFromForeignThreadBusy(t *testing.T) {
	e, m := newFake()
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, func(CPU, Block, Hook) bool { return false })
	tb := e.compile(0x10, 0xe000, 0xe004)
	e.running = true
	e.curPC = 0xe000

	e.tbLock.Lock()
	require.True(t, m.AddHook(owner, 0xe004, AnyASID, false, cb))
	e.tbLock.Unlock()

	require.True(t, e.cached(tb.id))
	require.False(t, e.exitReq)
	require.True(t, e.recheck)
	require.Equal(t, 1, m.Pending())

	// picked up at the next block boundary
	require.True(t, e.gate(tb))
}

func TestDispatchMergeAbortsStaleBlock(t *testing.T) {
	e, m := newFake()
	var log hitLog
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, log.cb(false))
	require.True(t, m.AddHook(owner, 0xf000, AnyASID, false, cb))
	tb := e.compile(0x10, 0xf000, 0xf004, 0xf008)

	// queued while the engine is idle
	require.True(t, m.AddHook(owner, 0xf008, AnyASID, false, cb))
	require.True(t, e.exec(tb))
	require.Equal(t, 1, log.count(0xf000))
	require.True(t, m.NeedsRetranslation(tb))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, m := newFake(WithRegisterer(reg))
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, func(CPU, Block, Hook) bool { return true })
	m.AddHook(owner, 0x1000, AnyASID, false, cb)
	tb := e.compile(0x8, 0x1000, 0x1004)
	e.exec(tb)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.merged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.splices))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.calls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.removed))

	n, err := testutil.GatherAndCount(reg, "tbhooks_splices_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func BenchmarkDispatch(b *testing.B) {
	e, m := newFake()
	owner := m.RegisterOwner()
	cb := m.RegisterCallback(owner, func(CPU, Block, Hook) bool { return false })
	for pc := uint64(0x1000); pc < 0x1100; pc += 4 {
		m.AddHook(owner, pc, AnyASID, false, cb)
	}
	tb := e.compile(0x100, 0x1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Dispatch(e, tb, 0x1080)
	}
}
