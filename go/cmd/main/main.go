package main

import (
	"github.com/lunixbochs/tbhooks/go/cmd"

	_ "github.com/lunixbochs/tbhooks/go/cmd/hooktrace"
	_ "github.com/lunixbochs/tbhooks/go/cmd/run"
)

func main() { cmd.Main() }
