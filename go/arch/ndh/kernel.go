package ndh

import (
	"io"
	"reflect"

	"github.com/lunixbochs/argjoy"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/lunixbochs/tbhooks/go/cpu/ndh"
	"github.com/lunixbochs/tbhooks/go/models"
)

var argRegs = []int{ndh.R1, ndh.R2, ndh.R3, ndh.R4, ndh.R5, ndh.R6}

var sysNums = map[int]string{
	0x01: "exit",
	0x02: "open",
	0x03: "read",
	0x04: "write",
	0x05: "close",
	0x06: "setuid",
	0x07: "setgid",
	0x08: "dup2",
	0x09: "send",
	0x0a: "recv",
	0x0b: "socket",
	0x0c: "listen",
	0x0d: "bind",
	0x0e: "accept",
	0x0f: "chdir",
	0x10: "chmod",
	0x11: "lseek",
	0x12: "getpid",
	0x13: "getuid",
	0x14: "pause",
}

// -1 in a 16 bit register
const errno = 0xffff

// Machine is the guest state a syscall touches.
type Machine interface {
	RegRead(reg int) (uint64, error)
	RegWrite(reg int, val uint64) error
	MemRead(addr, size uint64) ([]byte, error)
	MemWrite(addr uint64, p []byte) error
}

// Kernel implements the console subset of the NDH syscall table.
// Anything touching files or sockets fails with -1.
type Kernel struct {
	stdin  io.Reader
	stdout io.Writer
	log    *zap.Logger

	aj    argjoy.Argjoy
	calls map[string]interface{}
	// guest of the syscall in progress
	m Machine
}

func NewKernel(stdin io.Reader, stdout io.Writer, log *zap.Logger) *Kernel {
	if log == nil {
		log = zap.NewNop()
	}
	k := &Kernel{stdin: stdin, stdout: stdout, log: log}
	k.aj.Register(argjoy.IntToInt)
	k.calls = map[string]interface{}{
		"exit":   k.exit,
		"read":   k.read,
		"write":  k.write,
		"getpid": k.getpid,
		"getuid": k.getuid,
	}
	return k
}

func (k *Kernel) exit(code uint64) (uint64, error) {
	return 0, models.ExitStatus(int16(code))
}

func (k *Kernel) write(fd, buf, size uint64) (uint64, error) {
	if fd != 1 && fd != 2 || k.stdout == nil {
		return errno, nil
	}
	p, err := k.m.MemRead(buf, size)
	if err != nil {
		k.log.Debug("write from bad buffer", zap.Error(err))
		return errno, nil
	}
	n, err := k.stdout.Write(p)
	if err != nil {
		return errno, nil
	}
	return uint64(n), nil
}

func (k *Kernel) read(fd, buf, size uint64) (uint64, error) {
	if fd != 0 || k.stdin == nil {
		return errno, nil
	}
	p := make([]byte, size)
	n, err := k.stdin.Read(p)
	if err != nil && err != io.EOF {
		return errno, nil
	}
	if err := k.m.MemWrite(buf, p[:n]); err != nil {
		k.log.Debug("read into bad buffer", zap.Error(err))
		return errno, nil
	}
	return uint64(n), nil
}

func (k *Kernel) getpid() (uint64, error) { return 1, nil }
func (k *Kernel) getuid() (uint64, error) { return 0, nil }

// Syscall dispatches on r0 with arguments in r1-r6 and returns the result in r0.
// Guest exit is reported as a models.ExitStatus error.
func (k *Kernel) Syscall(m Machine) error {
	num, err := m.RegRead(ndh.R0)
	if err != nil {
		return err
	}
	name := sysNums[int(num)]
	fn, ok := k.calls[name]
	if !ok {
		k.log.Warn("unsupported syscall", zap.Uint64("num", num), zap.String("name", name))
		return m.RegWrite(ndh.R0, errno)
	}
	args := make([]interface{}, reflect.TypeOf(fn).NumIn())
	for i := range args {
		val, err := m.RegRead(argRegs[i])
		if err != nil {
			return err
		}
		args[i] = val
	}
	k.m = m
	out, err := k.aj.Call(fn, args...)
	k.m = nil
	if err != nil {
		return errors.Wrapf(err, "syscall %s", name)
	}
	if err, ok := out[1].(error); ok && err != nil {
		return err
	}
	ret, _ := out[0].(uint64)
	k.log.Debug("syscall", zap.String("name", name), zap.Uint64s("args", toUints(args)), zap.Uint64("ret", ret))
	return m.RegWrite(ndh.R0, ret)
}

func toUints(args []interface{}) []uint64 {
	out := make([]uint64, len(args))
	for i, a := range args {
		out[i], _ = a.(uint64)
	}
	return out
}
