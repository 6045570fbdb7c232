package models

import (
	"github.com/pkg/errors"
)

// Config holds the knobs shared by the engine and the commands.
type Config struct {
	Color   bool
	Verbose bool

	// max guest instructions per translated block
	BlockInsns int
	// address space id reported to hooks
	ASID uint64

	StackBase uint64
	StackSize uint64

	// stop when execution reaches this address, 0 runs to exit
	Until uint64

	// listen address for the metrics endpoint, empty to disable
	MetricsAddr string
}

func (c *Config) Validate() error {
	if c.BlockInsns < 0 {
		return errors.Errorf("invalid block size: %d", c.BlockInsns)
	}
	if c.StackSize > 0 && c.StackBase+c.StackSize < c.StackBase {
		return errors.Errorf("stack %#x+%#x overflows", c.StackBase, c.StackSize)
	}
	return nil
}
