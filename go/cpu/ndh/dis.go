package ndh

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

type ins struct {
	addr  uint64
	op    byte
	name  string
	args  []arg
	bytes []byte
	info  opInfo
}

func (i *ins) String() string {
	if len(i.args) == 0 {
		return i.name
	}
	return i.name + " " + i.OpStr()
}

func (i *ins) Addr() uint64     { return i.addr }
func (i *ins) Bytes() []byte    { return i.bytes }
func (i *ins) Mnemonic() string { return i.name }
func (i *ins) Branch() bool     { return i.info.branch }

func (i *ins) OpStr() string {
	var args []string
	for _, a := range i.args {
		args = append(args, a.String())
	}
	return strings.Join(args, ", ")
}

type arg interface {
	String() string
}

type u8 struct{ val uint8 }
type u16 struct{ val uint16 }
type reg struct{ num uint8 }
type indirect struct{ reg *reg }

func (a *u8) String() string  { return fmt.Sprintf("%#x", a.val) }
func (a *u16) String() string { return fmt.Sprintf("%#x", a.val) }
func (a *reg) String() string {
	switch a.num {
	case PC:
		return "pc"
	case SP:
		return "sp"
	case BP:
		return "bp"
	default:
		return fmt.Sprintf("r%d", a.num)
	}
}

func (a *indirect) String() string { return "[" + a.reg.String() + "]" }

// insReader keeps the first read error
type insReader struct {
	*bytes.Reader
	err error
}

func (i *insReader) r8() uint8 {
	b, err := i.ReadByte()
	if i.err == nil {
		i.err = err
	}
	return b
}

func (i *insReader) r16() uint16 {
	var tmp [2]byte
	if _, err := io.ReadFull(i, tmp[:]); err != nil && i.err == nil {
		i.err = err
	}
	return binary.LittleEndian.Uint16(tmp[:])
}

func (i *insReader) u8() arg  { return &u8{i.r8()} }
func (i *insReader) u16() arg { return &u16{i.r16()} }
func (i *insReader) reg() *reg {
	r := &reg{i.r8()}
	if r.num > SP && i.err == nil {
		i.err = errors.Errorf("invalid register: %#x", r.num)
	}
	return r
}

func (i *insReader) flag() []arg {
	flag := i.r8()
	switch flag {
	case OP_FLAG_REG_REG:
		return []arg{i.reg(), i.reg()}
	case OP_FLAG_REG_DIRECT08:
		return []arg{i.reg(), i.u8()}
	case OP_FLAG_REG_DIRECT16:
		return []arg{i.reg(), i.u16()}
	case OP_FLAG_REG:
		return []arg{i.reg()}
	case OP_FLAG_DIRECT16:
		return []arg{i.u16()}
	case OP_FLAG_DIRECT08:
		return []arg{i.u8()}
	case OP_FLAG_REGINDIRECT_REG:
		return []arg{&indirect{i.reg()}, i.reg()}
	case OP_FLAG_REGINDIRECT_DIRECT08:
		return []arg{&indirect{i.reg()}, i.u8()}
	case OP_FLAG_REGINDIRECT_DIRECT16:
		return []arg{&indirect{i.reg()}, i.u16()}
	case OP_FLAG_REGINDIRECT_REGINDIRECT:
		return []arg{&indirect{i.reg()}, &indirect{i.reg()}}
	case OP_FLAG_REG_REGINDIRECT:
		return []arg{i.reg(), &indirect{i.reg()}}
	}
	if i.err == nil {
		i.err = errors.Errorf("invalid operand flag: %#x", flag)
	}
	return nil
}

// Decode decodes the instruction at the start of mem, which is mapped at addr.
func Decode(mem []byte, addr uint64) (cpu.Insn, error) {
	r := &insReader{Reader: bytes.NewReader(mem)}
	b, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrapf(err, "decode at %#x", addr)
	}
	info, ok := opData[b]
	if !ok {
		return nil, errors.Errorf("invalid op %#x at %#x", b, addr)
	}
	var args []arg
	switch info.arg {
	case A_NONE:
	case A_1REG:
		args = []arg{r.reg()}
	case A_2REG:
		args = []arg{r.reg(), r.reg()}
	case A_U8:
		args = []arg{r.u8()}
	case A_U16:
		args = []arg{r.u16()}
	case A_FLAG:
		args = r.flag()
	}
	if r.err != nil {
		return nil, errors.Wrapf(r.err, "decode %s at %#x", info.name, addr)
	}
	n := len(mem) - r.Len()
	return &ins{
		addr:  addr,
		op:    b,
		name:  info.name,
		args:  args,
		bytes: append([]byte(nil), mem[:n]...),
		info:  info,
	}, nil
}

type Dis struct{}

// Dis decodes mem until the first invalid or truncated instruction.
func (d *Dis) Dis(mem []byte, addr uint64) ([]cpu.Insn, error) {
	var ret []cpu.Insn
	for len(mem) > 0 {
		ins, err := Decode(mem, addr)
		if err != nil {
			break
		}
		n := len(ins.Bytes())
		ret = append(ret, ins)
		mem, addr = mem[n:], addr+uint64(n)
	}
	return ret, nil
}
