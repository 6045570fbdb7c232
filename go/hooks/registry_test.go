package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookOrder(t *testing.T) {
	a := Hook{PC: 0x1000}
	b := Hook{PC: 0x1000, ASID: MatchASID(0)}
	c := Hook{PC: 0x1000, ASID: MatchASID(1)}
	d := Hook{PC: 0x1000, ASID: MatchASID(1), Owner: 2}
	e := Hook{PC: 0x1000, ASID: MatchASID(1), Owner: 2, Callback: 7}
	f := Hook{PC: 0x1001}
	ordered := []Hook{a, b, c, d, e, f}
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i-1].Less(ordered[i]), "%v < %v", ordered[i-1], ordered[i])
		assert.False(t, ordered[i].Less(ordered[i-1]))
	}
	// StartsBlock is not part of the key
	g := a
	g.StartsBlock = true
	assert.True(t, a.Same(g))
	assert.Equal(t, 0, a.Compare(g))
}

func TestRawASID(t *testing.T) {
	assert.Equal(t, AnyASID, RawASID(0))
	id, ok := RawASID(3).Get()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), id)
	assert.True(t, AnyASID.Matches(42))
	assert.False(t, MatchASID(3).Matches(42))
}

func TestRegistryUnique(t *testing.T) {
	r := NewRegistry(nil)
	h := Hook{PC: 0x1000, Owner: 1, Callback: 1}
	require.True(t, r.Add(h))
	dup := h
	dup.StartsBlock = true
	require.False(t, r.Add(dup))
	require.Equal(t, 1, r.Len())
	require.True(t, r.Has(h))
}

func TestRegistryRange(t *testing.T) {
	r := NewRegistry(nil)
	hooks := []Hook{
		{PC: 0xfff, Owner: 1, Callback: 1},
		{PC: 0x1000, Owner: 2, Callback: 1},
		{PC: 0x1000, ASID: MatchASID(5), Owner: 1, Callback: 1},
		{PC: 0x1008, ASID: MatchASID(9), Owner: 3, Callback: 2},
		{PC: 0x100f, Owner: 1, Callback: 3},
		{PC: 0x1010, Owner: 1, Callback: 1},
	}
	for _, h := range hooks {
		require.True(t, r.Add(h))
	}
	got := r.Range(0x1000, 0x1010)
	require.Equal(t, hooks[1:5], got)

	got = r.RangeASID(0x1000, 0x1010, 5)
	require.Equal(t, []Hook{hooks[1], hooks[2], hooks[4]}, got)

	assert.Empty(t, r.Range(0x1010, 0x1010))
	assert.Empty(t, r.Range(0x2000, 0x1000))
	assert.True(t, r.AnyAt(0x1008))
	assert.False(t, r.AnyAt(0x1009))
	assert.True(t, r.AnyAt(0x1010))
}

func TestRegistryRemove(t *testing.T) {
	var transitions []bool
	r := NewRegistry(func(on bool) { transitions = append(transitions, on) })
	a1 := Hook{PC: 0x10, Owner: 1, Callback: 1}
	a2 := Hook{PC: 0x20, Owner: 1, Callback: 1}
	b1 := Hook{PC: 0x10, Owner: 2, Callback: 2}
	r.Add(a1)
	r.Add(a2)
	r.Add(b1)

	removed := r.RemoveOwner(1)
	assert.ElementsMatch(t, []Hook{a1, a2}, removed)
	assert.Equal(t, []Hook{b1}, r.All())

	// missing hooks are a no-op
	assert.Equal(t, 0, r.Remove(a1))
	assert.Empty(t, r.RemoveOwner(7))

	assert.Equal(t, 1, r.Remove(b1))
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestPendingQueue(t *testing.T) {
	var p PendingQueue
	a := Hook{PC: 0x10, Owner: 1, Callback: 1}
	b := Hook{PC: 0x10, Owner: 2, Callback: 2}
	assert.True(t, p.Enqueue(a))
	assert.False(t, p.Enqueue(a))
	assert.True(t, p.Enqueue(b))
	assert.Equal(t, 1, p.RemoveOwner(1))
	assert.Equal(t, []Hook{b}, p.Drain())
	assert.Equal(t, 0, p.Len())
	assert.Empty(t, p.Drain())
}

func TestInstrumentedSet(t *testing.T) {
	s := NewInstrumentedSet()
	tb1 := &fakeBlock{pc: 0x100, size: 0x10, id: 1}
	tb2 := &fakeBlock{pc: 0x100, size: 0x10, id: 2}
	s.Add(0x104, tb1)
	assert.True(t, s.Contains(0x104))
	assert.True(t, s.In(0x104, tb1))
	assert.False(t, s.In(0x104, tb2))

	s.Add(0x104, tb2)
	s.Forget(tb1)
	assert.True(t, s.Contains(0x104))
	s.Forget(tb2)
	assert.False(t, s.Contains(0x104))

	s.Add(0x108, tb1)
	s.Drop(0x108)
	assert.Equal(t, 0, s.Len())
}

func TestObligations(t *testing.T) {
	var o Obligations
	o.Push(Hook{PC: 1, StartsBlock: true})
	o.Push(Hook{PC: 2})
	o.Push(Hook{PC: 3})
	start, anywhere := o.Drain()
	assert.Equal(t, []uint64{1}, start)
	assert.Equal(t, []uint64{2, 3}, anywhere)
	assert.Equal(t, 0, o.Len())
}
