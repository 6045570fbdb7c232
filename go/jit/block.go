package jit

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lunixbochs/tbhooks/go/hooks"
	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

// op is one guest instruction of a block and the helpers spliced in front of it.
type op struct {
	insn  cpu.Insn
	calls []hooks.Helper
}

func (o *op) Addr() uint64 { return o.insn.Addr() }

// block is a translated block. It doubles as the hooks.Translation while being built.
type block struct {
	id       uint64
	pc, size uint64
	ops      []*op

	// set once the block is unlinked
	stale atomic.Bool
}

func (b *block) PC() uint64   { return b.pc }
func (b *block) Size() uint64 { return b.size }
func (b *block) ID() uint64   { return b.id }

func (b *block) FirstInsn() hooks.Op {
	if len(b.ops) == 0 {
		return nil
	}
	return b.ops[0]
}

func (b *block) InsnAt(pc uint64) hooks.Op {
	for _, o := range b.ops {
		if o.Addr() == pc {
			return o
		}
	}
	return nil
}

func (b *block) InsertCalls(at hooks.Op, calls ...hooks.Helper) {
	o := at.(*op)
	o.calls = append(o.calls, calls...)
}

func (b *block) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("id", b.id)
	enc.AddString("pc", fmt.Sprintf("%#x", b.pc))
	enc.AddUint64("size", b.size)
	enc.AddInt("insns", len(b.ops))
	return nil
}

func zapBlock(b *block) zap.Field { return zap.Object("tb", b) }

// fetch reads as much of the longest encoding at pc as is executable
func (e *Engine) fetch(pc uint64) ([]byte, error) {
	var err error
	for n := e.fe.MaxInsnSize(); n > 0; n-- {
		var p []byte
		if p, err = e.ReadProt(pc, uint64(n), cpu.PROT_EXEC); err == nil {
			return p, nil
		}
	}
	return nil, err
}

// translate decodes a block at pc and lets the hook manager instrument it.
// The translation lock must be held.
func (e *Engine) translate(pc uint64) (*block, error) {
	e.nextID++
	tb := &block{id: e.nextID, pc: pc}
	addr := pc
	for len(tb.ops) < e.maxInsns {
		mem, err := e.fetch(addr)
		if err != nil {
			if len(tb.ops) == 0 {
				return nil, err
			}
			break
		}
		insn, err := e.fe.Decode(mem, addr)
		if err != nil {
			if len(tb.ops) == 0 {
				return nil, err
			}
			break
		}
		tb.ops = append(tb.ops, &op{insn: insn})
		addr += uint64(len(insn.Bytes()))
		if insn.Branch() {
			break
		}
	}
	tb.size = addr - pc
	if e.instrument.Load() && e.hooks != nil {
		e.hooks.BeforeCodegen(e, tb)
	}
	e.link(tb)
	e.metrics.translations.Inc()
	e.log.Debug("translated block", zapBlock(tb))
	return tb, nil
}
