package hooks

// Block describes a translated block owned by the engine.
type Block interface {
	PC() uint64
	Size() uint64
	// ID is unique for the lifetime of the engine and never reused.
	ID() uint64
}

func contains(tb Block, pc uint64) bool {
	return pc >= tb.PC() && pc < tb.PC()+tb.Size()
}

// Op is an instruction boundary inside a block under translation.
type Op interface {
	Addr() uint64
}

// Helper is a call spliced into translated code. Returning true aborts the
// rest of the block and returns control to the engine's safe point.
type Helper func(cpu CPU, tb Block) bool

// Translation is the block currently being compiled.
type Translation interface {
	Block
	// FirstInsn returns the first guest instruction marker, or nil.
	FirstInsn() Op
	// InsnAt returns the marker of the instruction starting at pc, or nil.
	InsnAt(pc uint64) Op
	// InsertCalls splices helpers right after the marker, in order.
	InsertCalls(at Op, calls ...Helper)
}

// CPU is the execution context handed to callbacks and helpers.
type CPU interface {
	ASID() uint64
	PC() uint64

	RequestExit()
	ExitRequested() bool

	RegRead(reg int) (uint64, error)
	RegWrite(reg int, val uint64) error
	MemRead(addr, size uint64) ([]byte, error)
	MemWrite(addr uint64, p []byte) error
}

// JumpCache exposes the engine's direct-jump cache and block table.
// Except where noted, callers must hold the engine's translation lock.
type JumpCache interface {
	Hash(pc uint64) uint32
	// Lookup returns the block cached under hash, or nil.
	Lookup(hash uint32) Block
	// Slots visits every live block until fn returns false.
	Slots(fn func(tb Block) bool)
	Invalidate(tb Block)
}

// Engine is everything the hook manager needs from the emulator.
type Engine interface {
	JumpCache

	// InExecThread reports whether the caller runs on the thread executing guest code.
	InExecThread() bool
	Running() bool
	RequestExit()
	CurrentPC() uint64

	// TryLockTB acquires the translation lock without blocking.
	TryLockTB() bool
	UnlockTB()

	// SetInstrumentation toggles the BeforeCodegen callback.
	SetInstrumentation(on bool)
	// SetRetranslationCheck arms (or disarms) a one-shot BeforeBlockExec callback.
	SetRetranslationCheck(on bool)
}
