package ndh

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/tbhooks/go/models"
	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

const addrMask = 0xffff

func rbool(i bool) uint64 {
	if i {
		return 1
	}
	return 0
}

// machine wraps a guest for one instruction; the first error sticks
type machine struct {
	g   cpu.Guest
	err error
}

func (m *machine) reg(n int) uint64 {
	val, err := m.g.RegRead(n)
	if m.err == nil {
		m.err = err
	}
	return val
}

func (m *machine) setReg(n int, val uint64) {
	if err := m.g.RegWrite(n, val); m.err == nil {
		m.err = err
	}
}

func (m *machine) load(addr uint64, size int) uint64 {
	val, err := m.g.ReadUint(addr, size, cpu.PROT_READ)
	if m.err == nil {
		m.err = err
	}
	return val
}

func (m *machine) store(addr uint64, size int, val uint64) {
	if err := m.g.WriteUint(addr, size, cpu.PROT_WRITE, val); m.err == nil {
		m.err = err
	}
}

func (m *machine) get(a arg) uint64 {
	switch v := a.(type) {
	case *u8:
		return uint64(v.val)
	case *u16:
		return uint64(v.val)
	case *reg:
		return m.reg(int(v.num))
	case *indirect:
		return m.load(m.reg(int(v.reg.num)), 1)
	}
	if m.err == nil {
		m.err = errors.Errorf("unsupported operand: %T", a)
	}
	return 0
}

func (m *machine) set(a arg, val uint64) {
	switch v := a.(type) {
	case *reg:
		m.setReg(int(v.num), val)
	case *indirect:
		m.store(m.reg(int(v.reg.num)), 1, val)
	default:
		if m.err == nil {
			m.err = errors.Errorf("unsupported destination: %T", a)
		}
	}
}

// Exec runs the instruction against g. Registers are 16 bits wide and memory
// operands through [reg] are single bytes.
func (i *ins) Exec(g cpu.Guest) (uint64, error) {
	m := &machine{g: g}
	var a, b arg
	switch len(i.args) {
	case 2:
		a, b = i.args[0], i.args[1]
	case 1:
		a = i.args[0]
	}

	next := (i.addr + uint64(len(i.bytes))) & addrMask
	jump := false
	var off uint64
	af, bf, zf := m.reg(AF) == 1, m.reg(BF) == 1, m.reg(ZF) == 1
	sp := m.reg(SP)

	zfcheck := func(val uint64) uint64 {
		val &= addrMask
		zf = val == 0
		return val
	}
	branch := func(cond bool) {
		if cond {
			jump, off = true, m.get(a)
		}
	}

	switch i.op {
	case OP_DEC:
		m.set(a, m.get(a)-1)
	case OP_INC:
		m.set(a, m.get(a)+1)
	case OP_XCHG:
		xa, xb := m.get(a), m.get(b)
		m.set(a, xb)
		m.set(b, xa)
	case OP_MOV:
		m.set(a, m.get(b))

	case OP_ADD:
		m.set(a, zfcheck(m.get(a)+m.get(b)))
	case OP_AND:
		m.set(a, zfcheck(m.get(a)&m.get(b)))
	case OP_DIV:
		d := m.get(b)
		if d == 0 {
			return 0, errors.Errorf("division by zero at %#x", i.addr)
		}
		m.set(a, zfcheck(m.get(a)/d))
	case OP_MUL:
		m.set(a, zfcheck(m.get(a)*m.get(b)))
	case OP_NOT:
		m.set(a, zfcheck(^m.get(a)))
	case OP_OR:
		m.set(a, zfcheck(m.get(a)|m.get(b)))
	case OP_SUB:
		m.set(a, zfcheck(m.get(a)-m.get(b)))
	case OP_XOR:
		m.set(a, zfcheck(m.get(a)^m.get(b)))

	case OP_CMP:
		va, vb := m.get(a), m.get(b)
		af, bf, zf = va < vb, va > vb, va == vb
	case OP_TEST:
		zf = m.get(a) == 0 && m.get(b) == 0

	case OP_SYSCALL:
		m.setReg(PC, next)
		if err := g.Interrupt(0); err != nil {
			return next, err
		}
	case OP_NOP:
	case OP_END:
		return next, models.ExitStatus(0)

	case OP_JA:
		branch(af)
	case OP_JB:
		branch(bf)
	case OP_JMPL, OP_JMPS:
		branch(true)
	case OP_JNZ:
		branch(!zf)
	case OP_JZ:
		branch(zf)

	case OP_CALL:
		branch(true)
		sp -= 2
		m.store(sp, 2, next)
	case OP_RET:
		next = m.load(sp, 2)
		sp += 2

	case OP_PUSH:
		size := 2
		if _, ok := a.(*u8); ok {
			size = 1
		}
		sp -= uint64(size)
		m.store(sp, size, m.get(a))
	case OP_POP:
		val := m.load(sp, 2)
		m.set(a, val)
		sp += 2

	default:
		return 0, errors.Errorf("invalid op: %#x", i.op)
	}
	if m.err != nil {
		return 0, errors.Wrapf(m.err, "%s at %#x", i.name, i.addr)
	}
	m.setReg(AF, rbool(af))
	m.setReg(BF, rbool(bf))
	m.setReg(ZF, rbool(zf))
	m.setReg(SP, sp&addrMask)
	if jump {
		next = (next + off) & addrMask
	}
	m.setReg(PC, next)
	return next, m.err
}
