package hooks

import (
	"sync"
)

type fakeOp struct{ addr uint64 }

func (o *fakeOp) Addr() uint64 { return o.addr }

type fakeBlock struct {
	pc, size, id uint64
	ops          []*fakeOp
	calls        map[uint64][]Helper
}

func (b *fakeBlock) PC() uint64   { return b.pc }
func (b *fakeBlock) Size() uint64 { return b.size }
func (b *fakeBlock) ID() uint64   { return b.id }

func (b *fakeBlock) FirstInsn() Op {
	if len(b.ops) == 0 {
		return nil
	}
	return b.ops[0]
}

func (b *fakeBlock) InsnAt(pc uint64) Op {
	for _, op := range b.ops {
		if op.addr == pc {
			return op
		}
	}
	return nil
}

func (b *fakeBlock) InsertCalls(at Op, calls ...Helper) {
	b.calls[at.Addr()] = append(b.calls[at.Addr()], calls...)
}

// fakeEngine is a tiny engine: blocks are lists of instruction addresses and
// executing a block only runs the helpers spliced into it.
type fakeEngine struct {
	tbLock sync.Mutex
	m      *Manager

	nextID uint64
	live   map[uint64]*fakeBlock
	jmp    map[uint32]*fakeBlock

	inExec, running bool
	exitReq         bool
	curPC           uint64
	asid            uint64

	instrumentation bool
	recheck         bool
	invalidated     []uint64
	toggles         []bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		live: make(map[uint64]*fakeBlock),
		jmp:  make(map[uint32]*fakeBlock),
	}
}

func newFake(opts ...Option) (*fakeEngine, *Manager) {
	e := newFakeEngine()
	e.m = New(e, opts...)
	return e, e.m
}

// JumpCache
func (e *fakeEngine) Hash(pc uint64) uint32 { return uint32(pc & 0xffff) }

func (e *fakeEngine) Lookup(hash uint32) Block {
	if tb, ok := e.jmp[hash]; ok {
		return tb
	}
	return nil
}

func (e *fakeEngine) Slots(fn func(Block) bool) {
	for _, tb := range e.live {
		if !fn(tb) {
			return
		}
	}
}

func (e *fakeEngine) Invalidate(tb Block) {
	fb := e.live[tb.ID()]
	if fb == nil {
		return
	}
	delete(e.live, fb.id)
	if e.jmp[e.Hash(fb.pc)] == fb {
		delete(e.jmp, e.Hash(fb.pc))
	}
	e.invalidated = append(e.invalidated, fb.pc)
}

// Engine
func (e *fakeEngine) InExecThread() bool            { return e.inExec }
func (e *fakeEngine) Running() bool                 { return e.running }
func (e *fakeEngine) RequestExit()                  { e.exitReq = true }
func (e *fakeEngine) CurrentPC() uint64             { return e.curPC }
func (e *fakeEngine) TryLockTB() bool               { return e.tbLock.TryLock() }
func (e *fakeEngine) UnlockTB()                     { e.tbLock.Unlock() }
func (e *fakeEngine) SetRetranslationCheck(on bool) { e.recheck = on }

func (e *fakeEngine) SetInstrumentation(on bool) {
	e.instrumentation = on
	e.toggles = append(e.toggles, on)
}

// CPU
func (e *fakeEngine) ASID() uint64                              { return e.asid }
func (e *fakeEngine) PC() uint64                                { return e.curPC }
func (e *fakeEngine) ExitRequested() bool                       { return e.exitReq }
func (e *fakeEngine) RegRead(reg int) (uint64, error)           { return 0, nil }
func (e *fakeEngine) RegWrite(reg int, val uint64) error        { return nil }
func (e *fakeEngine) MemRead(addr, size uint64) ([]byte, error) { return make([]byte, size), nil }
func (e *fakeEngine) MemWrite(addr uint64, p []byte) error      { return nil }

// compile translates a block made of the given instruction addresses and caches it.
func (e *fakeEngine) compile(size uint64, insns ...uint64) *fakeBlock {
	e.nextID++
	tb := &fakeBlock{pc: insns[0], size: size, id: e.nextID, calls: make(map[uint64][]Helper)}
	for _, a := range insns {
		tb.ops = append(tb.ops, &fakeOp{a})
	}
	e.tbLock.Lock()
	if e.instrumentation {
		e.m.BeforeCodegen(e, tb)
	}
	e.live[tb.id] = tb
	e.jmp[e.Hash(tb.pc)] = tb
	e.tbLock.Unlock()
	return tb
}

// exec runs the helpers of tb in instruction order and reports whether the block was aborted.
func (e *fakeEngine) exec(tb *fakeBlock) bool {
	e.running = true
	e.inExec = true
	defer func() { e.running, e.inExec = false, false }()
	for _, op := range tb.ops {
		e.curPC = op.addr
		for _, h := range tb.calls[op.addr] {
			if h(e, tb) {
				return true
			}
		}
	}
	return false
}

// gate runs the retranslation check the way an engine does when it is armed.
func (e *fakeEngine) gate(tb *fakeBlock) bool {
	e.tbLock.Lock()
	defer e.tbLock.Unlock()
	e.recheck = false
	return e.m.BeforeBlockExec(e, tb)
}

func (e *fakeEngine) exitSafePoint() {
	e.tbLock.Lock()
	defer e.tbLock.Unlock()
	e.exitReq = false
	e.m.BeforeExecExit(e)
}

func (e *fakeEngine) cached(id uint64) bool {
	_, ok := e.live[id]
	return ok
}
