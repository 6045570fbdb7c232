// Package ndh implements the NDH toy instruction set: a 16-bit little endian
// machine with eight general registers and flags set by arithmetic.
package ndh

import (
	"encoding/binary"

	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

type Frontend struct{}

var _ cpu.Frontend = Frontend{}

func (Frontend) Bits() uint                  { return 16 }
func (Frontend) ByteOrder() binary.ByteOrder { return binary.LittleEndian }
func (Frontend) Regs() []int                 { return allRegs }
func (Frontend) PC() int                     { return PC }
func (Frontend) MaxInsnSize() int            { return maxInsnSize }

func (Frontend) Decode(mem []byte, addr uint64) (cpu.Insn, error) {
	return Decode(mem, addr)
}
