package cmd

import (
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/tbhooks/go/arch"
	"github.com/lunixbochs/tbhooks/go/loader"
	"github.com/lunixbochs/tbhooks/go/session"
)

// NewSessionRawCmd runs a bare code blob instead of a program file.
func NewSessionRawCmd() *SessionCmd {
	c := NewSessionCmd()

	var base *uint64
	var archName *string
	c.MakeSession = func(exe string) (*session.Session, error) {
		a, err := arch.GetArch(*archName)
		if err != nil {
			return nil, err
		}
		code, err := os.ReadFile(exe)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		l := loader.NewRawLoader(a.Name, int(a.Frontend.Bits()), code, *base)
		return session.New(l, c.Config, c.Opts...)
	}
	c.SetupFlags = func() error {
		base = c.Flags.Uint64("base", loader.NdhBase, "load and entry address")
		archName = c.Flags.String("arch", "ndh", "target architecture")
		return nil
	}
	return c
}
