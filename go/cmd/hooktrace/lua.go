package hooktrace

import (
	"fmt"
	"io"
	"strings"

	"github.com/lunixbochs/luaish"
	"github.com/lunixbochs/luaish-luar"
	"github.com/pkg/errors"

	"github.com/lunixbochs/tbhooks/go/hooks"
	"github.com/lunixbochs/tbhooks/go/models"
)

type regIO interface {
	models.RegReader
	RegWrite(reg int, val uint64) error
}

// luaEnv runs hook callbacks written in luaish. Registers are exposed as globals
// before each call and written back when the script changes them.
type luaEnv struct {
	*lua.LState
	arch *models.Arch
	regs regIO
	out  io.Writer

	pre map[string]uint64
}

func newLuaEnv(arch *models.Arch, regs regIO, out io.Writer) *luaEnv {
	L := &luaEnv{
		LState: lua.NewState(),
		arch:   arch,
		regs:   regs,
		out:    out,
		pre:    make(map[string]uint64),
	}
	L.SetGlobal("print", L.NewFunction(L.printFunc))
	return L
}

func (L *luaEnv) printFunc(_ *lua.LState) int {
	args := make([]string, L.GetTop())
	for i := range args {
		args[i] = L.CheckAny(i + 1).String()
	}
	fmt.Fprintln(L.out, strings.Join(args, "\t"))
	return 0
}

// compile evaluates src, which must produce a function.
func (L *luaEnv) compile(src string) (*lua.LFunction, error) {
	chunk, err := L.LoadString("return " + src)
	if err != nil {
		return nil, errors.Wrap(err, "lua")
	}
	L.Push(chunk)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, errors.Wrap(err, "lua")
	}
	v := L.Get(-1)
	L.Pop(1)
	fn, ok := v.(*lua.LFunction)
	if !ok {
		return nil, errors.Errorf("lua: expected a function, got %s", v.Type())
	}
	return fn, nil
}

func (L *luaEnv) envToLua(h hooks.Hook) error {
	for _, name := range L.arch.DefaultRegs {
		val, err := L.regs.RegRead(L.arch.Regs[name])
		if err != nil {
			return err
		}
		L.pre[name] = val
		L.SetGlobal(name, lua.LInt(val))
	}
	L.SetGlobal("pc", lua.LInt(h.PC))
	L.SetGlobal("hook", luar.New(L.LState, h))
	return nil
}

func (L *luaEnv) envFromLua() error {
	for _, name := range L.arch.DefaultRegs {
		var val uint64
		switch v := L.GetGlobal(name).(type) {
		case lua.LInt:
			val = uint64(v)
		case lua.LFloat:
			val = uint64(v)
		default:
			return errors.Errorf("lua: register %s set to %s", name, v.Type())
		}
		if val == L.pre[name] {
			continue
		}
		if err := L.regs.RegWrite(L.arch.Regs[name], val); err != nil {
			return err
		}
	}
	return nil
}

// call runs fn for a hit on h. A truthy return value asks for the hook to be removed.
func (L *luaEnv) call(fn *lua.LFunction, h hooks.Hook) (bool, error) {
	if err := L.envToLua(h); err != nil {
		return false, err
	}
	L.Push(fn)
	L.Push(lua.LInt(h.PC))
	if err := L.PCall(1, 1, nil); err != nil {
		return false, errors.Wrapf(err, "lua hook %#x", h.PC)
	}
	ret := lua.LVAsBool(L.Get(-1))
	L.Pop(1)
	return ret, L.envFromLua()
}
