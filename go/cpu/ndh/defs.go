package ndh

const (
	R0 = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	PC
	BP
	SP

	// flags live in pseudo-registers so ContextSave covers them
	ZF
	AF
	BF
)

var allRegs = []int{
	R0, R1, R2, R3, R4, R5, R6, R7,
	PC, BP, SP,
	ZF, AF, BF,
}

// RegNames maps assembler names to register enums.
var RegNames = map[string]int{
	"r0": R0, "r1": R1, "r2": R2, "r3": R3,
	"r4": R4, "r5": R5, "r6": R6, "r7": R7,
	"pc": PC, "bp": BP, "sp": SP,
	"zf": ZF, "af": AF, "bf": BF,
}

const (
	OP_PUSH = 0x01
	OP_NOP  = 0x02
	OP_POP  = 0x03
	OP_MOV  = 0x04

	OP_ADD = 0x06
	OP_SUB = 0x07
	OP_MUL = 0x08
	OP_DIV = 0x09
	OP_INC = 0x0A
	OP_DEC = 0x0B

	OP_OR  = 0x0C
	OP_AND = 0x0D
	OP_XOR = 0x0E
	OP_NOT = 0x0F

	OP_JZ   = 0x10
	OP_JNZ  = 0x11
	OP_JMPS = 0x16
	OP_TEST = 0x17
	OP_CMP  = 0x18
	OP_CALL = 0x19
	OP_RET  = 0x1A
	OP_JMPL = 0x1B
	OP_END  = 0x1C
	OP_XCHG = 0x1D
	OP_JA   = 0x1E
	OP_JB   = 0x1F

	OP_SYSCALL = 0x30
)

const (
	OP_FLAG_REG_REG                 = 0x00
	OP_FLAG_REG_DIRECT08            = 0x01
	OP_FLAG_REG_DIRECT16            = 0x02
	OP_FLAG_REG                     = 0x03
	OP_FLAG_DIRECT16                = 0x04
	OP_FLAG_DIRECT08                = 0x05
	OP_FLAG_REGINDIRECT_REG         = 0x06
	OP_FLAG_REGINDIRECT_DIRECT08    = 0x07
	OP_FLAG_REGINDIRECT_DIRECT16    = 0x08
	OP_FLAG_REGINDIRECT_REGINDIRECT = 0x09
	OP_FLAG_REG_REGINDIRECT         = 0x0a
)

// operand encodings
const (
	A_NONE = iota
	A_1REG
	A_2REG
	A_U8
	A_U16
	A_FLAG // encoding read from the next byte
)

// longest encoding: opcode, flag, reg, u16
const maxInsnSize = 5

type opInfo struct {
	name string
	arg  int
	// ends a translated block
	branch bool
}

var opData = map[byte]opInfo{
	OP_ADD:     {name: "add", arg: A_FLAG},
	OP_AND:     {name: "and", arg: A_FLAG},
	OP_CALL:    {name: "call", arg: A_FLAG, branch: true},
	OP_CMP:     {name: "cmp", arg: A_FLAG},
	OP_DEC:     {name: "dec", arg: A_1REG},
	OP_DIV:     {name: "div", arg: A_FLAG},
	OP_END:     {name: "end", arg: A_NONE, branch: true},
	OP_INC:     {name: "inc", arg: A_1REG},
	OP_JA:      {name: "ja", arg: A_U16, branch: true},
	OP_JB:      {name: "jb", arg: A_U16, branch: true},
	OP_JMPL:    {name: "jmpl", arg: A_U16, branch: true},
	OP_JMPS:    {name: "jmps", arg: A_U8, branch: true},
	OP_JNZ:     {name: "jnz", arg: A_U16, branch: true},
	OP_JZ:      {name: "jz", arg: A_U16, branch: true},
	OP_MOV:     {name: "mov", arg: A_FLAG},
	OP_MUL:     {name: "mul", arg: A_FLAG},
	OP_NOP:     {name: "nop", arg: A_NONE},
	OP_NOT:     {name: "not", arg: A_1REG},
	OP_OR:      {name: "or", arg: A_FLAG},
	OP_POP:     {name: "pop", arg: A_1REG},
	OP_PUSH:    {name: "push", arg: A_FLAG},
	OP_RET:     {name: "ret", arg: A_NONE, branch: true},
	OP_SUB:     {name: "sub", arg: A_FLAG},
	OP_SYSCALL: {name: "syscall", arg: A_NONE, branch: true},
	OP_TEST:    {name: "test", arg: A_2REG},
	OP_XCHG:    {name: "xchg", arg: A_2REG},
	OP_XOR:     {name: "xor", arg: A_FLAG},
}
