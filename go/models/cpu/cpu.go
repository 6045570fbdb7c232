package cpu

import "encoding/binary"

// This interface abstracts the minimum functionality a guest CPU backend provides.
type Cpu interface {
	// memory mapping
	MemMapProt(addr, size uint64, prot int) error
	MemProt(addr, size uint64, prot int) error
	MemUnmap(addr, size uint64) error

	// memory IO
	MemRead(addr, size uint64) ([]byte, error)
	MemReadInto(p []byte, addr uint64) error
	MemWrite(addr uint64, p []byte) error

	// register IO
	RegRead(reg int) (uint64, error)
	RegWrite(reg int, val uint64) error

	// execution
	Start(begin, until uint64) error
	Stop() error

	// save/restore entire CPU state
	ContextSave(reuse interface{}) (interface{}, error)
	ContextRestore(ctx interface{}) error

	// cleanup
	Close() error
}

// Guest is the state instruction semantics operate on.
type Guest interface {
	RegRead(reg int) (uint64, error)
	RegWrite(reg int, val uint64) error
	ReadUint(addr uint64, size, prot int) (uint64, error)
	WriteUint(addr uint64, size, prot int, val uint64) error
	// Interrupt raises a software interrupt (syscall) from the current instruction.
	Interrupt(intno uint32) error
}

// Insn is a decoded guest instruction.
type Insn interface {
	Addr() uint64
	Bytes() []byte
	Mnemonic() string
	OpStr() string

	// Exec applies the instruction to g and returns the next pc.
	Exec(g Guest) (uint64, error)
	// Branch is true for instructions that may leave straight-line order.
	// A translated block always ends with one.
	Branch() bool
}

// Frontend decodes one guest instruction set.
type Frontend interface {
	Bits() uint
	ByteOrder() binary.ByteOrder
	// register enums the backend must allocate
	Regs() []int
	PC() int
	// longest encoding, in bytes
	MaxInsnSize() int
	Decode(mem []byte, addr uint64) (Insn, error)
}
