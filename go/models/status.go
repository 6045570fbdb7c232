package models

import (
	"fmt"
	"strings"

	"github.com/mgutz/ansi"
)

var chSame = ansi.ColorCode("default:default")
var chNew = ansi.ColorCode("default+bu:default")

// StatusDiff tracks register values between hook hits so changes can be highlighted.
type StatusDiff struct {
	Arch *Arch
	Regs RegReader
	// hex digits per value
	Width int

	old map[int]uint64
}

type Change struct {
	Enum     int
	Name     string
	Old, New uint64
	// false until a previous value was recorded
	seen bool
}

func (c *Change) Changed() bool {
	return c.seen && c.Old != c.New
}

// String renders name=value, highlighting the digits that differ from the last value.
func (c *Change) String(width int, color bool) string {
	hexFmt := fmt.Sprintf("%%0%dx", width)
	s := fmt.Sprintf(hexFmt, c.New)
	if !c.Changed() {
		return fmt.Sprintf("%s=0x%s", c.Name, s)
	}
	if !color {
		return fmt.Sprintf("%s=0x%s*", c.Name, s)
	}
	old := fmt.Sprintf(hexFmt, c.Old)
	var b strings.Builder
	b.WriteString(chNew + c.Name + ansi.Reset + "=0x")
	for i := range s {
		if s[i] != old[i] {
			b.WriteString(chNew)
		} else {
			b.WriteString(chSame)
		}
		b.WriteByte(s[i])
	}
	b.WriteString(ansi.Reset)
	return b.String()
}

type Changes struct {
	Width   int
	Changes []*Change
}

func (cs *Changes) String(color bool) string {
	out := make([]string, len(cs.Changes))
	for i, c := range cs.Changes {
		out[i] = c.String(cs.Width, color)
	}
	return strings.Join(out, " ")
}

func (cs *Changes) Count() int {
	n := 0
	for _, c := range cs.Changes {
		if c.Changed() {
			n++
		}
	}
	return n
}

// Changes reads the named registers, or the arch defaults, and diffs them against the previous call.
func (s *StatusDiff) Changes(names ...string) (*Changes, error) {
	if len(names) == 0 {
		names = s.Arch.DefaultRegs
	}
	regs, err := s.Arch.RegDump(s.Regs, names...)
	if err != nil {
		return nil, err
	}
	if s.old == nil {
		s.old = make(map[int]uint64)
	}
	cs := make([]*Change, len(regs))
	for i, r := range regs {
		old, seen := s.old[r.Enum]
		cs[i] = &Change{Enum: r.Enum, Name: r.Name, Old: old, New: r.Val, seen: seen}
		s.old[r.Enum] = r.Val
	}
	return &Changes{Width: s.Width, Changes: cs}, nil
}
