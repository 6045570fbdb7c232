// Package session loads a guest program into the jit engine and wires up the hook manager,
// the syscall kernel and metrics for it.
package session

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lunixbochs/tbhooks/go/arch"
	ndharch "github.com/lunixbochs/tbhooks/go/arch/ndh"
	"github.com/lunixbochs/tbhooks/go/hooks"
	"github.com/lunixbochs/tbhooks/go/jit"
	"github.com/lunixbochs/tbhooks/go/loader"
	"github.com/lunixbochs/tbhooks/go/models"
	"github.com/lunixbochs/tbhooks/go/models/cpu"
)

const (
	// 16 bit guests put the stack below the default load address
	defaultStackBase = 0
	defaultStackSize = 0x8000
)

type Session struct {
	Arch   *models.Arch
	Engine *jit.Engine
	Hooks  *hooks.Manager
	Entry  uint64

	StackBase, StackSize uint64

	config   *models.Config
	log      *zap.Logger
	kernel   *ndharch.Kernel
	loader   models.Loader
	registry *prometheus.Registry
}

type Option func(s *options)

type options struct {
	log      *zap.Logger
	stdin    io.Reader
	stdout   io.Writer
	registry *prometheus.Registry
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithStdio sets the guest's console. Defaults to the process stdin and stdout.
func WithStdio(stdin io.Reader, stdout io.Writer) Option {
	return func(o *options) { o.stdin, o.stdout = stdin, stdout }
}

// WithRegistry registers engine and hook metrics with reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

func NewFile(path string, cfg *models.Config, opts ...Option) (*Session, error) {
	l, err := loader.LoadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return New(l, cfg, opts...)
}

func New(l models.Loader, cfg *models.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = &models.Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{log: zap.NewNop(), stdin: os.Stdin, stdout: os.Stdout}
	for _, fn := range opts {
		fn(o)
	}
	a, err := arch.GetArch(l.Arch())
	if err != nil {
		return nil, err
	}
	s := &Session{
		Arch:     a,
		Entry:    l.Entry(),
		config:   cfg,
		log:      o.log,
		loader:   l,
		registry: o.registry,
		kernel:   ndharch.NewKernel(o.stdin, o.stdout, o.log.Named("kernel")),
	}
	jopts := []jit.Option{
		jit.WithLogger(o.log.Named("jit")),
		jit.WithInterrupt(func(e *jit.Engine, intno uint32) error {
			return s.kernel.Syscall(e)
		}),
	}
	hopts := []hooks.Option{hooks.WithLogger(o.log.Named("hooks"))}
	if o.registry != nil {
		jopts = append(jopts, jit.WithRegisterer(o.registry))
		hopts = append(hopts, hooks.WithRegisterer(o.registry))
	}
	if s.Engine, err = jit.New(a.Frontend, cfg, jopts...); err != nil {
		return nil, err
	}
	s.Hooks = hooks.New(s.Engine, hopts...)
	s.Engine.Attach(s.Hooks)

	if err := s.mapBinary(); err != nil {
		return nil, err
	}
	if err := s.setupStack(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) mapBinary() error {
	segments, err := s.loader.Segments()
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if err := s.Engine.MemMapProt(seg.Addr, seg.Size, seg.Prot); err != nil {
			return errors.Wrapf(err, "mapping segment at %#x", seg.Addr)
		}
		data, err := seg.Data()
		if err != nil {
			return err
		}
		if err := s.Engine.MemWrite(seg.Addr, data); err != nil {
			return errors.Wrapf(err, "writing segment at %#x", seg.Addr)
		}
		s.log.Debug("mapped segment",
			zap.String("addr", fmt.Sprintf("%#x", seg.Addr)),
			zap.Uint64("size", seg.Size),
			zap.Int("prot", seg.Prot),
		)
	}
	return nil
}

func (s *Session) setupStack() error {
	s.StackBase, s.StackSize = s.config.StackBase, s.config.StackSize
	if s.StackSize == 0 {
		s.StackBase, s.StackSize = defaultStackBase, defaultStackSize
	}
	if err := s.Engine.MemMapProt(s.StackBase, s.StackSize, cpu.PROT_READ|cpu.PROT_WRITE); err != nil {
		return errors.Wrap(err, "mapping stack")
	}
	ptr := uint64(s.Engine.Frontend().Bits() / 8)
	return s.Engine.RegWrite(s.Arch.SP, s.StackBase+s.StackSize-ptr)
}

// Run executes from the entry point until the guest exits, Config.Until is reached or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.log.Debug("entry point", zap.String("addr", fmt.Sprintf("%#x", s.Entry)))
	return s.Engine.Run(ctx, s.Entry, s.config.Until)
}

// Registry returns the metrics registry, or nil.
func (s *Session) Registry() *prometheus.Registry { return s.registry }

func (s *Session) Close() error {
	return s.Engine.Close()
}
