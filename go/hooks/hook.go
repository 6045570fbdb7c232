// Package hooks attaches callbacks to guest instruction addresses of a block-translating
// emulator and keeps the translation cache consistent with the set of active hooks.
package hooks

import (
	"fmt"
	"math"
)

// OwnerID identifies a registered hook owner (usually a plugin).
type OwnerID uint32

// CallbackID is an opaque handle into a Manager's callback table.
type CallbackID uint64

// Callback is invoked when execution reaches a hooked address.
// Returning true removes the hook after this invocation.
type Callback func(cpu CPU, tb Block, h Hook) bool

// ASID is an optional address space filter. The zero value matches any address space.
type ASID struct {
	id  uint64
	set bool
}

// AnyASID matches every address space.
var AnyASID = ASID{}

// MatchASID restricts a hook to a single address space.
func MatchASID(id uint64) ASID { return ASID{id: id, set: true} }

// RawASID converts the raw plugin convention, where 0 means "any", into an ASID.
func RawASID(v uint64) ASID {
	if v == 0 {
		return AnyASID
	}
	return MatchASID(v)
}

func (a ASID) Get() (uint64, bool) { return a.id, a.set }

func (a ASID) Matches(current uint64) bool {
	return !a.set || a.id == current
}

// unset sorts before every set value
func (a ASID) compare(b ASID) int {
	switch {
	case a.set != b.set:
		if !a.set {
			return -1
		}
		return 1
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	}
	return 0
}

func (a ASID) String() string {
	if !a.set {
		return "*"
	}
	return fmt.Sprintf("%#x", a.id)
}

// Hook is an immutable hook descriptor. Hooks are ordered and compared by
// (PC, ASID, Owner, Callback); StartsBlock is a hint and not part of the key.
type Hook struct {
	PC       uint64
	ASID     ASID
	Owner    OwnerID
	Callback CallbackID

	// StartsBlock promises that PC is always the first instruction of a block.
	StartsBlock bool
}

type hookKey struct {
	pc       uint64
	asid     ASID
	owner    OwnerID
	callback CallbackID
}

func (h Hook) key() hookKey {
	return hookKey{h.PC, h.ASID, h.Owner, h.Callback}
}

func cmp64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (h Hook) Compare(o Hook) int {
	if c := cmp64(h.PC, o.PC); c != 0 {
		return c
	}
	if c := h.ASID.compare(o.ASID); c != 0 {
		return c
	}
	if c := cmp64(uint64(h.Owner), uint64(o.Owner)); c != 0 {
		return c
	}
	return cmp64(uint64(h.Callback), uint64(o.Callback))
}

func (h Hook) Less(o Hook) bool { return h.Compare(o) < 0 }

// Same reports whether both hooks share a key.
func (h Hook) Same(o Hook) bool { return h.key() == o.key() }

func (h Hook) String() string {
	return fmt.Sprintf("hook(pc=%#x asid=%s owner=%d cb=%d start=%v)", h.PC, h.ASID, h.Owner, h.Callback, h.StartsBlock)
}

// lowest and highest possible keys at pc, used to bound range scans
func minHook(pc uint64) Hook {
	return Hook{PC: pc, ASID: AnyASID}
}

func maxHook(pc uint64) Hook {
	return Hook{
		PC:       pc,
		ASID:     MatchASID(math.MaxUint64),
		Owner:    math.MaxUint32,
		Callback: math.MaxUint64,
	}
}
