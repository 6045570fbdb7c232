package jit

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/lunixbochs/tbhooks/go/models"
)

// Start runs guest code from begin until pc reaches until, the guest exits, or Stop is called.
func (e *Engine) Start(begin, until uint64) error {
	return e.Run(context.Background(), begin, until)
}

// Run is Start with cancellation. The calling goroutine becomes the execution
// thread for the duration of the call. A guest exit with status 0 returns nil;
// other statuses come back as models.ExitStatus.
func (e *Engine) Run(ctx context.Context, begin, until uint64) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if !e.execTid.CompareAndSwap(0, execID()) {
		return errors.New("jit: already running")
	}
	defer e.execTid.Store(0)
	e.stopReq.Store(false)

	pc := begin
	resumed := false
	for {
		if pc == until || e.stopReq.Load() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.exitReq.Load() {
			e.safePoint()
			continue
		}
		tb, err := e.lookup(pc)
		if err != nil {
			return errors.Wrapf(err, "translating block at %#x", pc)
		}
		next, aborted, err := e.exec(tb, until, resumed)
		if err != nil {
			if status, ok := errors.Cause(err).(models.ExitStatus); ok {
				e.log.Debug("guest exit", zap.Int("status", int(status)))
				if status == 0 {
					return nil
				}
			}
			return err
		}
		// helpers at an aborted instruction already ran
		resumed = aborted
		pc = next
	}
	return e.RegWrite(e.fe.PC(), pc)
}

// safePoint is where the engine lands after an exit request. Pending hooks are
// merged and stale blocks dropped before execution resumes.
func (e *Engine) safePoint() {
	e.exitReq.Store(false)
	if e.hooks == nil {
		return
	}
	e.tbLock.Lock()
	e.hooks.BeforeExecExit(e)
	e.tbLock.Unlock()
}

// lookup finds or translates the block at pc, running the retranslation gate when armed.
func (e *Engine) lookup(pc uint64) (*block, error) {
	e.tbLock.Lock()
	defer e.tbLock.Unlock()
	for {
		tb := e.find(pc)
		if tb == nil {
			var err error
			if tb, err = e.translate(pc); err != nil {
				return nil, err
			}
		}
		if e.hooks != nil && e.recheck.CompareAndSwap(true, false) {
			if e.hooks.BeforeBlockExec(e, tb) {
				continue
			}
		}
		return tb, nil
	}
}

// exec runs tb and returns the next pc. aborted is true when a helper cut the
// block short; next is then the instruction the helper was attached to.
func (e *Engine) exec(tb *block, until uint64, resumed bool) (next uint64, aborted bool, err error) {
	e.metrics.executions.Inc()
	e.running.Store(true)
	defer e.running.Store(false)

	next = tb.pc
	for i, o := range tb.ops {
		pc := o.Addr()
		if pc == until && i > 0 {
			return pc, false, nil
		}
		e.curPC.Store(pc)
		if !(resumed && i == 0) && len(o.calls) > 0 {
			if e.helpers(o, tb) {
				return pc, true, nil
			}
		}
		if next, err = o.insn.Exec(e); err != nil {
			return next, false, err
		}
		if tb.stale.Load() {
			// rewritten or invalidated under us
			return next, false, nil
		}
	}
	return next, false, nil
}

func (e *Engine) helpers(o *op, tb *block) bool {
	e.inHelper.Store(true)
	defer e.inHelper.Store(false)
	for _, h := range o.calls {
		if h(e, tb) {
			return true
		}
	}
	return false
}
