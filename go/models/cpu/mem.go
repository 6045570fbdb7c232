package cpu

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	case MEM_FETCH_UNMAPPED:
		reason = "unmapped fetch"
	case MEM_WRITE_PROT:
		reason = "protected write"
	case MEM_READ_PROT:
		reason = "protected read"
	case MEM_FETCH_PROT:
		reason = "protected exec"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

type region struct {
	addr, size uint64
	prot       int
	data       []byte
}

func (r *region) end() uint64 { return r.addr + r.size }

// Mem is a flat guest address space made of sorted, non-overlapping regions.
// It implements the memory half of Cpu.
type Mem struct {
	// methods return an error for addresses that do not fit inside mask
	mask    uint64
	order   binary.ByteOrder
	regions []*region

	// called after every successful write
	watch func(addr, size uint64)
}

func NewMem(bits uint, order binary.ByteOrder) *Mem {
	return &Mem{
		mask:  ^uint64(0) >> (64 - bits),
		order: order,
	}
}

func (m *Mem) ByteOrder() binary.ByteOrder { return m.order }

// Watch installs fn as the write observer. Only one observer is kept.
func (m *Mem) Watch(fn func(addr, size uint64)) { m.watch = fn }

// find returns the index of the region containing addr, or -1
func (m *Mem) find(addr uint64) int {
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].end() > addr })
	if i < len(m.regions) && m.regions[i].addr <= addr {
		return i
	}
	return -1
}

// split makes sure no region straddles addr
func (m *Mem) split(addr uint64) {
	i := m.find(addr)
	if i < 0 || m.regions[i].addr == addr {
		return
	}
	r := m.regions[i]
	o := addr - r.addr
	right := &region{addr: addr, size: r.size - o, prot: r.prot, data: r.data[o:]}
	r.size, r.data = o, r.data[:o]
	m.regions = append(m.regions, nil)
	copy(m.regions[i+2:], m.regions[i+1:])
	m.regions[i+1] = right
}

// span splits at both ends of the range and returns the indexes of the regions inside it.
func (m *Mem) span(addr, size uint64) (lo, hi int) {
	end := addr + size
	m.split(addr)
	m.split(end)
	lo = sort.Search(len(m.regions), func(i int) bool { return m.regions[i].addr >= addr })
	hi = sort.Search(len(m.regions), func(i int) bool { return m.regions[i].addr >= end })
	return lo, hi
}

// RangeValid checks whether the range is fully mapped.
// If prot > 0, it also checks that every region has the entire protection mask.
func (m *Mem) RangeValid(addr, size uint64, prot int) (mapGood bool, protGood bool) {
	i := m.find(addr)
	if i < 0 {
		return false, false
	}
	protGood = true
	end := addr + size
	for _, r := range m.regions[i:] {
		if r.addr > addr {
			break
		}
		if prot > 0 && r.prot&prot != prot {
			protGood = false
		}
		addr = r.end()
		if addr >= end {
			break
		}
	}
	return addr >= end, protGood
}

func (m *Mem) MemMapProt(addr, size uint64, prot int) error {
	end := addr + size
	if size == 0 || end < addr || end-1 > m.mask {
		return errors.Errorf("region %#x-%#x outside memory range", addr, end)
	}
	// existing contents survive a remap
	data := make([]byte, size)
	lo, hi := m.span(addr, size)
	for _, r := range m.regions[lo:hi] {
		copy(data[r.addr-addr:], r.data)
	}
	m.regions = append(m.regions[:lo], append([]*region{{addr: addr, size: size, prot: prot, data: data}}, m.regions[hi:]...)...)
	return nil
}

func (m *Mem) MemProt(addr, size uint64, prot int) error {
	if mapped, _ := m.RangeValid(addr, size, 0); !mapped {
		return errors.New("range not mapped")
	}
	lo, hi := m.span(addr, size)
	for _, r := range m.regions[lo:hi] {
		r.prot = prot
	}
	return nil
}

func (m *Mem) MemUnmap(addr, size uint64) error {
	if mapped, _ := m.RangeValid(addr, size, 0); !mapped {
		return errors.New("range not mapped")
	}
	lo, hi := m.span(addr, size)
	m.regions = append(m.regions[:lo], m.regions[hi:]...)
	return nil
}

func (m *Mem) read(addr uint64, p []byte, prot int) error {
	if gmap, gprot := m.RangeValid(addr, uint64(len(p)), prot); !gmap {
		if prot&PROT_EXEC == PROT_EXEC {
			return &MemError{Addr: addr, Size: len(p), Enum: MEM_FETCH_UNMAPPED}
		}
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_UNMAPPED}
	} else if !gprot {
		if prot&PROT_EXEC == PROT_EXEC {
			return &MemError{Addr: addr, Size: len(p), Enum: MEM_FETCH_PROT}
		}
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_PROT}
	}
	for i := m.find(addr); len(p) > 0; i++ {
		r := m.regions[i]
		n := copy(p, r.data[addr-r.addr:])
		addr, p = addr+uint64(n), p[n:]
	}
	return nil
}

func (m *Mem) write(addr uint64, p []byte, prot int) error {
	if gmap, gprot := m.RangeValid(addr, uint64(len(p)), prot); !gmap {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_UNMAPPED}
	} else if !gprot {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_PROT}
	}
	start, size := addr, uint64(len(p))
	for i := m.find(addr); len(p) > 0; i++ {
		r := m.regions[i]
		n := copy(r.data[addr-r.addr:], p)
		addr, p = addr+uint64(n), p[n:]
	}
	if m.watch != nil && size > 0 {
		m.watch(start, size)
	}
	return nil
}

func (m *Mem) MemReadInto(p []byte, addr uint64) error {
	return m.read(addr, p, 0)
}

func (m *Mem) MemRead(addr, size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := m.MemReadInto(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Mem) MemWrite(addr uint64, p []byte) error {
	return m.write(addr, p, 0)
}

// Read while checking protections. This exists to support a CPU interpreter.
func (m *Mem) ReadProt(addr, size uint64, prot int) ([]byte, error) {
	p := make([]byte, size)
	if err := m.read(addr, p, prot); err != nil {
		return nil, err
	}
	return p, nil
}

// Write while checking protections. This exists to support a CPU interpreter.
func (m *Mem) WriteProt(addr uint64, p []byte, prot int) error {
	return m.write(addr, p, prot)
}

func (m *Mem) ReadUint(addr uint64, size, prot int) (uint64, error) {
	if size > 8 {
		return 0, errors.Errorf("ReadUint size too large: %d > 8", size)
	}
	p, err := m.ReadProt(addr, uint64(size), prot)
	if err != nil {
		return 0, err
	}
	return UnpackUint(m.order, size, p)
}

func (m *Mem) WriteUint(addr uint64, size, prot int, val uint64) error {
	var buf [8]byte
	if size > 8 {
		return errors.Errorf("WriteUint size too large: %d > 8", size)
	}
	p, err := PackUint(m.order, size, buf[:], val)
	if err != nil {
		return err
	}
	return m.WriteProt(addr, p, prot)
}

func PackUint(order binary.ByteOrder, size int, buf []byte, n uint64) ([]byte, error) {
	if buf == nil {
		buf = make([]byte, size)
	} else if len(buf) < size {
		return nil, errors.Errorf("buffer too small (%d < %d)", len(buf), size)
	}
	switch size {
	case 8:
		order.PutUint64(buf, n)
	case 4:
		order.PutUint32(buf, uint32(n))
	case 2:
		order.PutUint16(buf, uint16(n))
	case 1:
		buf[0] = byte(n)
	default:
		return nil, errors.Errorf("unsupported uint size: %d", size)
	}
	return buf[:size], nil
}

func UnpackUint(order binary.ByteOrder, size int, buf []byte) (uint64, error) {
	if len(buf) < size {
		return 0, errors.Errorf("buffer too small (%d < %d)", len(buf), size)
	}
	switch size {
	case 8:
		return order.Uint64(buf), nil
	case 4:
		return uint64(order.Uint32(buf)), nil
	case 2:
		return uint64(order.Uint16(buf)), nil
	case 1:
		return uint64(buf[0]), nil
	default:
		return 0, errors.Errorf("unsupported uint size: %d", size)
	}
}
