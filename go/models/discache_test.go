package models_test

import (
	"encoding/binary"
	"testing"

	"github.com/lunixbochs/tbhooks/go/cpu/ndh"
	"github.com/lunixbochs/tbhooks/go/models"
	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

func TestDiscache(t *testing.T) {
	mem := cpu.NewMem(16, binary.LittleEndian)
	if err := mem.MemMapProt(0x1000, 0x1000, cpu.PROT_ALL); err != nil {
		t.Fatal(err)
	}
	// inc r1; end
	mem.MemWrite(0x1000, []byte{0x0a, 0x01, 0x1c})
	d := models.NewDiscache(ndh.Frontend{})
	insn, err := d.Insn(mem, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if insn.Mnemonic() != "inc" || insn.OpStr() != "r1" {
		t.Fatalf("bad decode: %s %s", insn.Mnemonic(), insn.OpStr())
	}
	if again, _ := d.Insn(mem, 0x1000); again != insn {
		t.Fatal("cache miss on unchanged memory")
	}
	mem.MemWrite(0x1001, []byte{0x02})
	insn, err = d.Insn(mem, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if insn.OpStr() != "r2" {
		t.Fatalf("stale decode after write: %s", insn.OpStr())
	}
	// last byte of the mapping still decodes with a short read
	mem.MemWrite(0x1fff, []byte{0x1c})
	if insn, err := d.Insn(mem, 0x1fff); err != nil || insn.Mnemonic() != "end" {
		t.Fatalf("short read decode failed: %v", err)
	}
}

func TestStatusDiff(t *testing.T) {
	regs := cpu.NewRegs(16, ndh.Frontend{}.Regs())
	arch := &models.Arch{
		Name:        "ndh",
		Frontend:    ndh.Frontend{},
		Regs:        map[string]int{"r0": ndh.R0, "r1": ndh.R1},
		DefaultRegs: []string{"r0", "r1"},
	}
	s := &models.StatusDiff{Arch: arch, Regs: regs, Width: 4}
	cs, err := s.Changes()
	if err != nil {
		t.Fatal(err)
	}
	if got := cs.String(false); got != "r0=0x0000 r1=0x0000" {
		t.Fatalf("got %q", got)
	}
	regs.RegWrite(ndh.R1, 0x12)
	cs, _ = s.Changes()
	if cs.Count() != 1 {
		t.Fatalf("expected one change, got %d", cs.Count())
	}
	if got := cs.String(false); got != "r0=0x0000 r1=0x0012*" {
		t.Fatalf("got %q", got)
	}
	if got := cs.String(true); got == "r0=0x0000 r1=0x0012*" {
		t.Fatal("color output not highlighted")
	}
}
