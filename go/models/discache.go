package models

import (
	"bytes"
	"sync"

	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

type MemReader interface {
	MemRead(addr, size uint64) ([]byte, error)
}

type discacheEntry struct {
	mem  []byte
	insn cpu.Insn
}

// Discache remembers decoded instructions by address. An entry is reused only while
// the bytes at its address are unchanged.
type Discache struct {
	sync.RWMutex
	fe    cpu.Frontend
	cache map[uint64]*discacheEntry
}

func NewDiscache(fe cpu.Frontend) *Discache {
	return &Discache{fe: fe, cache: make(map[uint64]*discacheEntry)}
}

func (d *Discache) get(addr uint64, mem []byte) cpu.Insn {
	d.RLock()
	defer d.RUnlock()
	if ent, ok := d.cache[addr]; ok && bytes.HasPrefix(mem, ent.mem) {
		return ent.insn
	}
	return nil
}

// Insn decodes the instruction at addr, reading at most one maximal instruction.
func (d *Discache) Insn(m MemReader, addr uint64) (cpu.Insn, error) {
	var mem []byte
	var err error
	for size := d.fe.MaxInsnSize(); size > 0; size-- {
		if mem, err = m.MemRead(addr, uint64(size)); err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	if insn := d.get(addr, mem); insn != nil {
		return insn, nil
	}
	insn, err := d.fe.Decode(mem, addr)
	if err != nil {
		return nil, err
	}
	d.Lock()
	d.cache[addr] = &discacheEntry{mem: append([]byte(nil), insn.Bytes()...), insn: insn}
	d.Unlock()
	return insn, nil
}
