package models

import (
	"sort"

	"github.com/lunixbochs/fvbommel-util/sortorder"

	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

type Reg struct {
	Enum int
	Name string
}

type RegVal struct {
	Reg
	Val uint64
}

type regList []Reg

func (r regList) Len() int           { return len(r) }
func (r regList) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r regList) Less(i, j int) bool { return sortorder.NaturalLess(r[i].Name, r[j].Name) }

type RegReader interface {
	RegRead(reg int) (uint64, error)
}

// Arch describes a guest architecture to the commands.
type Arch struct {
	Name     string
	Frontend cpu.Frontend
	SP       int
	// register names, used for dumps and hook scripts
	Regs        map[string]int
	DefaultRegs []string

	// sorted for RegDump
	regList regList
}

func (a *Arch) PC() int { return a.Frontend.PC() }

// Reg resolves a register name.
func (a *Arch) Reg(name string) (int, bool) {
	enum, ok := a.Regs[name]
	return enum, ok
}

// RegDump reads the named registers, or every register when names is empty, in natural order.
func (a *Arch) RegDump(r RegReader, names ...string) ([]RegVal, error) {
	var list regList
	if len(names) == 0 {
		if a.regList == nil {
			for n, e := range a.Regs {
				a.regList = append(a.regList, Reg{e, n})
			}
			sort.Sort(a.regList)
		}
		list = a.regList
	} else {
		for _, n := range names {
			if e, ok := a.Regs[n]; ok {
				list = append(list, Reg{e, n})
			}
		}
		sort.Sort(list)
	}
	ret := make([]RegVal, len(list))
	for i, reg := range list {
		val, err := r.RegRead(reg.Enum)
		if err != nil {
			return nil, err
		}
		ret[i] = RegVal{reg, val}
	}
	return ret, nil
}
