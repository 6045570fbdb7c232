// Package hooktrace runs a program with address hooks from the command line or a YAML
// script and prints registers each time one fires.
package hooktrace

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/lunixbochs/luaish"
	"github.com/mattn/go-colorable"
	"github.com/mgutz/ansi"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lunixbochs/tbhooks/go/cmd"
	"github.com/lunixbochs/tbhooks/go/hooks"
	"github.com/lunixbochs/tbhooks/go/models"
	"github.com/lunixbochs/tbhooks/go/session"
)

type installed struct {
	spec  HookSpec
	owner hooks.OwnerID
	cb    hooks.CallbackID
	hits  int
	diff  *models.StatusDiff
	fn    *lua.LFunction
}

// Tracer installs hook specs into a session and reports their hits.
type Tracer struct {
	s     *session.Session
	log   *zap.Logger
	out   io.Writer
	color bool
	// set to print the hooked instruction
	dis *models.Discache
	lua *luaEnv

	owners map[string]hooks.OwnerID
	hooks  []*installed
}

func NewTracer(s *session.Session, out io.Writer, color bool, log *zap.Logger) *Tracer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracer{
		s:      s,
		log:    log,
		out:    out,
		color:  color,
		owners: make(map[string]hooks.OwnerID),
	}
}

// ShowInsn adds the disassembly of the hooked instruction to each hit.
func (t *Tracer) ShowInsn() {
	t.dis = models.NewDiscache(t.s.Arch.Frontend)
}

func (t *Tracer) owner(name string) hooks.OwnerID {
	id, ok := t.owners[name]
	if !ok {
		id = t.s.Hooks.RegisterOwner()
		t.owners[name] = id
	}
	return id
}

// Prepare registers callbacks for specs. Hooks without a delay are added right away.
func (t *Tracer) Prepare(specs []HookSpec) error {
	for _, spec := range specs {
		for _, r := range spec.Regs {
			if _, ok := t.s.Arch.Reg(r); !ok {
				return errors.Errorf("hook %#x: unknown register %q", uint64(spec.Addr), r)
			}
		}
		in := &installed{
			spec:  spec,
			owner: t.owner(spec.Owner),
			diff: &models.StatusDiff{
				Arch:  t.s.Arch,
				Regs:  t.s.Engine,
				Width: int(t.s.Arch.Frontend.Bits() / 4),
			},
		}
		if spec.Lua != "" {
			if t.lua == nil {
				t.lua = newLuaEnv(t.s.Arch, t.s.Engine, t.out)
			}
			fn, err := t.lua.compile(spec.Lua)
			if err != nil {
				return errors.Wrapf(err, "hook %#x", uint64(spec.Addr))
			}
			in.fn = fn
		}
		in.cb = t.s.Hooks.RegisterCallback(in.owner, func(c hooks.CPU, tb hooks.Block, h hooks.Hook) bool {
			return t.hit(in, h)
		})
		t.hooks = append(t.hooks, in)
		if spec.After == 0 {
			t.add(in)
		}
	}
	return nil
}

func (t *Tracer) add(in *installed) {
	ok := t.s.Hooks.AddHook(in.owner, uint64(in.spec.Addr), in.spec.MatchASID(), in.spec.StartsBlock, in.cb)
	if !ok {
		t.log.Warn("hook not added", zap.Uint64("addr", uint64(in.spec.Addr)), zap.String("owner", in.spec.Owner))
	}
}

func (t *Tracer) hit(in *installed, h hooks.Hook) bool {
	in.hits++
	prefix := fmt.Sprintf("[hook %#x %s #%d]", h.PC, in.spec.Owner, in.hits)
	if t.color {
		prefix = ansi.Color(prefix, "cyan+b")
	}
	line := prefix
	if t.dis != nil {
		if insn, err := t.dis.Insn(t.s.Engine, h.PC); err == nil {
			line += " " + strings.TrimSpace(insn.Mnemonic()+" "+insn.OpStr()) + " ;"
		}
	}
	if changes, err := in.diff.Changes(in.spec.Regs...); err != nil {
		t.log.Error("reading registers", zap.Error(err))
	} else {
		line += " " + changes.String(t.color)
	}
	fmt.Fprintln(t.out, line)

	remove := in.spec.Once
	if in.fn != nil {
		drop, err := t.lua.call(in.fn, h)
		if err != nil {
			t.log.Error("lua hook failed", zap.Error(err))
		}
		remove = remove || drop
	}
	if n := in.spec.DropOwnerAfter; n > 0 && in.hits >= n {
		t.log.Info("dropping owner", zap.String("owner", in.spec.Owner))
		t.s.Hooks.UnregisterOwner(in.owner)
	}
	return remove
}

func (t *Tracer) Close() {
	if t.lua != nil {
		t.lua.Close()
	}
}

// Run executes the session while delayed hooks are registered from their own goroutines.
func (t *Tracer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, done := context.WithCancel(gctx)
	g.Go(func() error {
		defer done()
		return t.s.Run(runCtx)
	})
	for _, in := range t.hooks {
		if in.spec.After == 0 {
			continue
		}
		in := in
		g.Go(func() error {
			timer := time.NewTimer(time.Duration(in.spec.After))
			defer timer.Stop()
			select {
			case <-timer.C:
				t.add(in)
			case <-runCtx.Done():
				t.log.Debug("run ended before delayed hook", zap.Uint64("addr", uint64(in.spec.Addr)))
			}
			return nil
		})
	}
	return g.Wait()
}

// Summary prints hit counts per hook.
func (t *Tracer) Summary(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, in := range t.hooks {
		fmt.Fprintf(w, "%#06x %-10s %s hits=%d\n", uint64(in.spec.Addr), in.spec.Owner, in.spec.MatchASID(), in.hits)
	}
}

func Main(args []string) int {
	c := cmd.NewSessionCmd()
	var script, regs, luaFn *string
	var hookFlags []string
	var once, startsBlock, summary, dis *bool
	c.SetupFlags = func() error {
		script = c.Flags.String("script", "", "YAML hook script (default: hooks.yml in the config dir)")
		luaFn = c.Flags.String("lua", "", "luaish function called on -hook hits; a truthy result removes the hook")
		regs = c.Flags.String("regs", "", "comma separated registers to print for -hook hooks")
		once = c.Flags.Bool("once", false, "remove -hook hooks after their first hit")
		startsBlock = c.Flags.Bool("starts-block", false, "promise -hook addresses start a block")
		summary = c.Flags.Bool("summary", true, "print hit counts after execution")
		dis = c.Flags.Bool("dis", false, "print the hooked instruction on each hit")
		c.Flags.Func("hook", "hook address, as addr[@asid] (repeatable)", func(s string) error {
			hookFlags = append(hookFlags, s)
			return nil
		})
		return nil
	}

	var t *Tracer
	c.SetupSession = func() error {
		var specs []HookSpec
		for _, f := range hookFlags {
			spec, err := ParseHookFlag(f)
			if err != nil {
				return err
			}
			if *regs != "" {
				spec.Regs = strings.Split(*regs, ",")
			}
			spec.Once = *once
			spec.Lua = *luaFn
			spec.StartsBlock = *startsBlock
			specs = append(specs, spec)
		}
		var s *Script
		var err error
		if *script != "" {
			s, err = LoadScript(*script)
		} else if len(specs) == 0 {
			var path string
			if s, path, err = DefaultScript(); s != nil {
				c.Log.Info("using default hook script", zap.String("dir", path))
			}
		}
		if err != nil {
			return err
		}
		if s != nil {
			specs = append(specs, s.Hooks...)
		}
		if len(specs) == 0 {
			c.Log.Warn("no hooks given")
		}
		out := io.Writer(os.Stderr)
		if c.Config.Color {
			out = colorable.NewColorableStderr()
		}
		t = NewTracer(c.Session, out, c.Config.Color, c.Log.Named("hooktrace"))
		c.Teardown = t.Close
		if *dis {
			t.ShowInsn()
		}
		return t.Prepare(specs)
	}
	c.RunSession = func(ctx context.Context) error {
		err := t.Run(ctx)
		if *summary {
			t.Summary(os.Stderr)
		}
		return err
	}
	return c.Run(args)
}

func init() { cmd.Register("hooks", "run with address hooks and print registers on hits", Main) }
