// Package jit is a small block-translating emulator. Guest code is decoded into
// blocks of instructions, cached by start address and executed block by block,
// which is enough structure to host the hook manager.
package jit

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lunixbochs/tbhooks/go/hooks"
	"github.com/lunixbochs/tbhooks/go/models"
	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

const defaultBlockInsns = 64

// InterruptFunc handles a software interrupt raised by guest code.
// Returning models.ExitStatus stops execution cleanly.
type InterruptFunc func(e *Engine, intno uint32) error

type Option func(e *Engine)

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithInterrupt(fn InterruptFunc) Option {
	return func(e *Engine) { e.intr = fn }
}

// WithRegisterer registers the engine's counters with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.reg = reg }
}

type metrics struct {
	translations  prometheus.Counter
	executions    prometheus.Counter
	invalidations prometheus.Counter
}

func newMetrics() *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tbhooks",
			Subsystem: "jit",
			Name:      name,
			Help:      help,
		})
	}
	return &metrics{
		translations:  counter("translations_total", "Blocks translated."),
		executions:    counter("block_executions_total", "Blocks entered."),
		invalidations: counter("invalidations_total", "Blocks unlinked from the cache."),
	}
}

// Engine implements cpu.Cpu, cpu.Guest, hooks.Engine and hooks.CPU.
type Engine struct {
	*cpu.Regs
	*cpu.Mem

	fe      cpu.Frontend
	cfg     *models.Config
	log     *zap.Logger
	intr    InterruptFunc
	reg     prometheus.Registerer
	metrics *metrics
	hooks   *hooks.Manager

	maxInsns int

	// guards the block table and jump cache
	tbLock sync.Mutex
	nextID uint64
	blocks map[uint64]*block
	byPC   map[uint64]*block
	jmp    [jmpCacheSize]*block
	// live blocks per guest page
	codePages map[uint64]int

	instrument atomic.Bool
	recheck    atomic.Bool
	exitReq    atomic.Bool
	stopReq    atomic.Bool
	running    atomic.Bool
	curPC      atomic.Uint64
	asid       atomic.Uint64
	execTid    atomic.Int64
	// set while helpers run, for platforms without thread ids
	inHelper atomic.Bool
}

var (
	_ cpu.Cpu      = (*Engine)(nil)
	_ cpu.Guest    = (*Engine)(nil)
	_ hooks.Engine = (*Engine)(nil)
	_ hooks.CPU    = (*Engine)(nil)
)

func New(fe cpu.Frontend, cfg *models.Config, opts ...Option) (*Engine, error) {
	if fe == nil {
		return nil, errors.New("jit: nil frontend")
	}
	if cfg == nil {
		cfg = &models.Config{}
	}
	e := &Engine{
		Regs:     cpu.NewRegs(fe.Bits(), fe.Regs()),
		Mem:      cpu.NewMem(fe.Bits(), fe.ByteOrder()),
		fe:       fe,
		cfg:      cfg,
		log:      zap.NewNop(),
		metrics:  newMetrics(),
		maxInsns: defaultBlockInsns,
		blocks:   make(map[uint64]*block),
		byPC:     make(map[uint64]*block),

		codePages: make(map[uint64]int),
	}
	if cfg.BlockInsns > 0 {
		e.maxInsns = cfg.BlockInsns
	}
	e.asid.Store(cfg.ASID)
	for _, o := range opts {
		o(e)
	}
	if e.reg != nil {
		for _, c := range []prometheus.Collector{e.metrics.translations, e.metrics.executions, e.metrics.invalidations} {
			if err := e.reg.Register(c); err != nil {
				return nil, errors.Wrap(err, "registering jit metrics")
			}
		}
	}
	e.Mem.Watch(e.onWrite)
	return e, nil
}

// Attach connects the hook manager. Call it before Start.
func (e *Engine) Attach(m *hooks.Manager) { e.hooks = m }

func (e *Engine) Frontend() cpu.Frontend { return e.fe }

// hooks.Engine

func (e *Engine) InExecThread() bool {
	tid := e.execTid.Load()
	if tid == 0 {
		return false
	}
	if cur := threadID(); cur != 0 {
		return cur == tid
	}
	return e.inHelper.Load()
}

func (e *Engine) Running() bool     { return e.running.Load() }
func (e *Engine) RequestExit()      { e.exitReq.Store(true) }
func (e *Engine) CurrentPC() uint64 { return e.curPC.Load() }
func (e *Engine) TryLockTB() bool   { return e.tbLock.TryLock() }
func (e *Engine) UnlockTB()         { e.tbLock.Unlock() }

func (e *Engine) SetInstrumentation(on bool) {
	e.instrument.Store(on)
	e.log.Debug("instrumentation", zap.Bool("enabled", on))
}

func (e *Engine) SetRetranslationCheck(on bool) { e.recheck.Store(on) }

// hooks.CPU

func (e *Engine) ASID() uint64        { return e.asid.Load() }
func (e *Engine) SetASID(asid uint64) { e.asid.Store(asid) }
func (e *Engine) PC() uint64          { return e.curPC.Load() }
func (e *Engine) ExitRequested() bool { return e.exitReq.Load() }

// cpu.Guest

func (e *Engine) Interrupt(intno uint32) error {
	if e.intr == nil {
		return errors.Errorf("unhandled interrupt %d at %#x", intno, e.curPC.Load())
	}
	return e.intr(e, intno)
}

// onWrite runs after every guest memory write
func (e *Engine) onWrite(addr, size uint64) {
	e.tbLock.Lock()
	e.invalidateRange(addr, size)
	e.tbLock.Unlock()
}

// Flush drops every translated block.
func (e *Engine) Flush() {
	e.tbLock.Lock()
	defer e.tbLock.Unlock()
	for _, tb := range e.blocks {
		e.unlink(tb)
		if e.hooks != nil {
			e.hooks.Forget(tb)
		}
	}
}

// Blocks returns the number of live translated blocks.
func (e *Engine) Blocks() int {
	e.tbLock.Lock()
	defer e.tbLock.Unlock()
	return len(e.blocks)
}

func (e *Engine) Stop() error {
	e.stopReq.Store(true)
	e.exitReq.Store(true)
	return nil
}

func (e *Engine) Close() error {
	e.Flush()
	return nil
}

// execID tags the running execution thread; -1 when thread ids are unavailable.
func execID() int64 {
	if tid := threadID(); tid != 0 {
		return tid
	}
	return -1
}
