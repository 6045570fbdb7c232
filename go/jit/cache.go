package jit

import (
	"github.com/lunixbochs/tbhooks/go/hooks"
)

const (
	pageBits = 12

	jmpCacheBits     = 12
	jmpPageBits      = jmpCacheBits / 2
	jmpPageSize      = 1 << jmpPageBits
	jmpAddrMask      = jmpPageSize - 1
	jmpCacheSize     = 1 << jmpCacheBits
	jmpPageMask      = jmpCacheSize - jmpPageSize
	jmpPageShift     = pageBits - jmpPageBits
	jmpCacheSizeMask = jmpCacheSize - 1
)

// jmpHash spreads addresses so that the blocks of one page share a run of slots.
func jmpHash(pc uint64) uint32 {
	tmp := pc ^ (pc >> jmpPageShift)
	return uint32(((tmp >> jmpPageShift) & jmpPageMask) | (tmp & jmpAddrMask))
}

func (e *Engine) Hash(pc uint64) uint32 { return jmpHash(pc) }

// Lookup returns the block in the direct-jump slot, or nil.
func (e *Engine) Lookup(hash uint32) hooks.Block {
	if tb := e.jmp[hash&jmpCacheSizeMask]; tb != nil {
		return tb
	}
	return nil
}

// Slots visits every live block, including those evicted from the jump cache
// but still reachable through the block table.
func (e *Engine) Slots(fn func(tb hooks.Block) bool) {
	for _, tb := range e.blocks {
		if !fn(tb) {
			return
		}
	}
}

// Invalidate unlinks tb from every lookup structure. A block being executed
// stops after its current instruction.
func (e *Engine) Invalidate(hb hooks.Block) {
	tb, ok := e.blocks[hb.ID()]
	if !ok {
		return
	}
	e.unlink(tb)
}

func pages(addr, size uint64) (first, last uint64) {
	return addr >> pageBits, (addr + size - 1) >> pageBits
}

func (e *Engine) unlink(tb *block) {
	tb.stale.Store(true)
	first, last := pages(tb.pc, tb.size)
	for p := first; p <= last; p++ {
		if e.codePages[p]--; e.codePages[p] <= 0 {
			delete(e.codePages, p)
		}
	}
	delete(e.blocks, tb.id)
	if e.byPC[tb.pc] == tb {
		delete(e.byPC, tb.pc)
	}
	if h := jmpHash(tb.pc); e.jmp[h] == tb {
		e.jmp[h] = nil
	}
	e.metrics.invalidations.Inc()
}

func (e *Engine) link(tb *block) {
	first, last := pages(tb.pc, tb.size)
	for p := first; p <= last; p++ {
		e.codePages[p]++
	}
	e.blocks[tb.id] = tb
	e.byPC[tb.pc] = tb
	e.jmp[jmpHash(tb.pc)] = tb
}

// find returns the live block starting at pc, refilling the jump cache from the block table.
func (e *Engine) find(pc uint64) *block {
	h := jmpHash(pc)
	if tb := e.jmp[h]; tb != nil && tb.pc == pc {
		return tb
	}
	if tb, ok := e.byPC[pc]; ok {
		e.jmp[h] = tb
		return tb
	}
	return nil
}

// invalidateRange drops every block overlapping a guest write.
func (e *Engine) invalidateRange(addr, size uint64) {
	code := false
	first, last := pages(addr, size)
	for p := first; p <= last && !code; p++ {
		code = e.codePages[p] > 0
	}
	if !code {
		return
	}
	var hit []*block
	for _, tb := range e.blocks {
		if addr < tb.pc+tb.size && tb.pc < addr+size {
			hit = append(hit, tb)
		}
	}
	for _, tb := range hit {
		e.log.Debug("code modified, dropping block", zapBlock(tb))
		e.unlink(tb)
		if e.hooks != nil {
			e.hooks.Forget(tb)
		}
	}
}
