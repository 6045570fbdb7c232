package run

import (
	"github.com/lunixbochs/tbhooks/go/cmd"
)

func Main(args []string) int {
	return cmd.NewSessionCmd().Run(args)
}

func RawMain(args []string) int {
	return cmd.NewSessionRawCmd().Run(args)
}

func init() {
	cmd.Register("run", "execute a program", Main)
	cmd.Register("raw", "execute a bare code blob", RawMain)
}
