package ndh

import (
	"github.com/lunixbochs/tbhooks/go/cpu/ndh"
	"github.com/lunixbochs/tbhooks/go/models"
)

var Arch = &models.Arch{
	Name:     "ndh",
	Frontend: ndh.Frontend{},
	SP:       ndh.SP,
	Regs:     ndh.RegNames,
	DefaultRegs: []string{
		"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "bp", "sp",
	},
}
