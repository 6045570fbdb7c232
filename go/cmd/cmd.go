package cmd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/lunixbochs/tbhooks/go/models"
	"github.com/lunixbochs/tbhooks/go/session"
)

// SessionCmd parses the flags shared by every command and runs a session.
// Commands customize it through the Setup/Make/Run callbacks.
type SessionCmd struct {
	Config *models.Config
	Log    *zap.Logger

	SetupFlags   func() error
	MakeSession  func(exe string) (*session.Session, error)
	SetupSession func() error
	RunSession   func(ctx context.Context) error
	Teardown     func()

	NoExe bool

	Session *session.Session
	Flags   *flag.FlagSet
	Opts    []session.Option
}

func NewSessionCmd() *SessionCmd {
	fs := flag.NewFlagSet("cli", flag.ExitOnError)
	cmd := &SessionCmd{Flags: fs}
	cmd.MakeSession = func(exe string) (*session.Session, error) {
		return session.NewFile(exe, cmd.Config, cmd.Opts...)
	}
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, errors.Errorf("unknown log level %q", level)
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints err, with the innermost stack trace pkg/errors recorded if there is one.
func (c *SessionCmd) PrintError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	var st stackTracer
	for e := err; e != nil; {
		if s, ok := e.(stackTracer); ok {
			st = s
		}
		cause, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = cause.Unwrap()
	}
	if st == nil {
		return
	}
	for _, f := range st.StackTrace() {
		method := fmt.Sprintf("%n", f)
		fmt.Fprintf(os.Stderr, "  %s:%d | %s()\n", f, f, method)
		if method == "main" {
			break
		}
	}
}

// Run parses argv and runs the session, returning the process exit code.
func (c *SessionCmd) Run(argv []string) int {
	fs := c.Flags
	verbose := fs.Bool("v", false, "verbose output (debug logging)")
	logLevel := fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	color := fs.Bool("color", isatty.IsTerminal(os.Stderr.Fd()), "colorize output")
	blockInsns := fs.Int("block", 0, "max instructions per translated block (0 for default)")
	asid := fs.Uint64("asid", 0, "address space id reported to hooks")
	until := fs.Uint64("until", 0, "stop when execution reaches this address")
	stackBase := fs.Uint64("stack", 0, "stack base address")
	stackSize := fs.Uint64("stacksize", 0, "stack size (0 for default)")
	metrics := fs.String("metrics", "", "serve prometheus metrics on this address")
	cpuprofile := fs.String("cpuprofile", "", "write cpu profile to <file>")
	memprofile := fs.String("memprofile", "", "write mem profile to <file>")

	fs.Usage = func() {
		usage := "Usage: %s [options]"
		if !c.NoExe {
			usage += " <exe>"
		}
		usage += "\n\nOptions:\n"
		fmt.Fprintf(os.Stderr, usage, argv[0])
		var flags []*flag.Flag
		fs.VisitAll(func(f *flag.Flag) { flags = append(flags, f) })
		models.PrintFlags(flags)
	}
	if c.SetupFlags != nil {
		if err := c.SetupFlags(); err != nil {
			c.PrintError(err)
			return 1
		}
	}
	fs.Parse(argv[1:])

	var exe string
	if !c.NoExe {
		args := fs.Args()
		if len(args) < 1 {
			fs.Usage()
			return 1
		}
		exe = args[0]
	}
	if *verbose {
		*logLevel = "debug"
	}
	log, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()
	c.Log = log

	c.Config = &models.Config{
		Color:       *color,
		Verbose:     *verbose,
		BlockInsns:  *blockInsns,
		ASID:        *asid,
		StackBase:   *stackBase,
		StackSize:   *stackSize,
		Until:       *until,
		MetricsAddr: *metrics,
	}
	c.Opts = append(c.Opts, session.WithLogger(log))
	var reg *prometheus.Registry
	if *metrics != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		c.Opts = append(c.Opts, session.WithRegistry(reg))
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			c.PrintError(err)
			return 1
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}
	if *memprofile != "" {
		defer func() {
			f, err := os.Create(*memprofile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not write heap profile: %s\n", err)
				return
			}
			pprof.WriteHeapProfile(f)
			f.Close()
		}()
	}

	s, err := c.MakeSession(exe)
	if err != nil {
		c.PrintError(err)
		return 1
	}
	defer s.Close()
	c.Session = s
	if c.SetupSession != nil {
		if err := c.SetupSession(); err != nil {
			c.PrintError(err)
			return 1
		}
	}
	if c.Teardown != nil {
		defer c.Teardown()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	runCtx, done := context.WithCancel(gctx)
	g.Go(func() error {
		defer done()
		if c.RunSession != nil {
			return c.RunSession(runCtx)
		}
		return s.Run(runCtx)
	})
	if reg != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metrics, Handler: mux}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			return srv.Shutdown(context.Background())
		})
	}
	if err := g.Wait(); err != nil {
		if e, ok := errors.Cause(err).(models.ExitStatus); ok {
			return int(e)
		}
		c.PrintError(err)
		return 1
	}
	return 0
}
