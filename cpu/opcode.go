// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"encoding/binary"
	"fmt"
)

// CodeCond is a condition code.
type CodeCond int

const (
	COND_ALWAYS = CodeCond(0) // .
	COND_TRUE   = CodeCond(1) // +
	COND_FALSE  = CodeCond(2) // -
	COND_NEVER  = CodeCond(3) // ~
)

var _CodeCond_name = [...]string{".", "+", "-", "~"}

func (cc CodeCond) String() string {
	if cc < 0 || int(cc) >= len(_CodeCond_name) {
		return fmt.Sprintf("CodeCond(%d)", int(cc))
	}
	return _CodeCond_name[cc]
}

// CodeClass is the type of opcode class.
type CodeClass int

const (
	OP_ALU  = CodeClass(0) // alu
	OP_COND = CodeClass(1) // if
	OP_MEM  = CodeClass(2) // mem
	OP_CTRL = CodeClass(3) // ctrl
	OP_SYS  = CodeClass(4) // sys
)

var _CodeClass_name = [...]string{"alu", "if", "mem", "ctrl", "sys"}

func (cc CodeClass) String() string {
	if cc < 0 || int(cc) >= len(_CodeClass_name) {
		return fmt.Sprintf("CodeClass(%d)", int(cc))
	}
	return _CodeClass_name[cc]
}

// CodeAluOp is an ALU operation type.
type CodeAluOp int

const (
	ALU_OP_SET = CodeAluOp(0) // set
	ALU_OP_ADD = CodeAluOp(1) // add
	ALU_OP_SUB = CodeAluOp(2) // sub
	ALU_OP_MUL = CodeAluOp(3) // mul
	ALU_OP_AND = CodeAluOp(4) // and
	ALU_OP_OR  = CodeAluOp(5) // or
	ALU_OP_XOR = CodeAluOp(6) // xor
	ALU_OP_SHL = CodeAluOp(7) // shl
	ALU_OP_SHR = CodeAluOp(8) // shr
	ALU_OP_SRA = CodeAluOp(9) // sra
)

var _CodeAluOp_name = [...]string{"set", "add", "sub", "mul", "and", "or", "xor", "shl", "shr", "sra"}

func (op CodeAluOp) String() string {
	if op < 0 || int(op) >= len(_CodeAluOp_name) {
		return fmt.Sprintf("CodeAluOp(%d)", int(op))
	}
	return _CodeAluOp_name[op]
}

// CodeCondOp is a conditional operation type.
type CodeCondOp int

const (
	COND_OP_EQ  = CodeCondOp(0) // eq
	COND_OP_NE  = CodeCondOp(1) // ne
	COND_OP_LT  = CodeCondOp(2) // lt
	COND_OP_LE  = CodeCondOp(3) // le
	COND_OP_LTU = CodeCondOp(4) // ltu
	COND_OP_LEU = CodeCondOp(5) // leu
)

var _CodeCondOp_name = [...]string{"eq", "ne", "lt", "le", "ltu", "leu"}

func (op CodeCondOp) String() string {
	if op < 0 || int(op) >= len(_CodeCondOp_name) {
		return fmt.Sprintf("CodeCondOp(%d)", int(op))
	}
	return _CodeCondOp_name[op]
}

// CodeMemOp is a load/store operation type.
type CodeMemOp int

const (
	MEM_OP_LDB  = CodeMemOp(0) // ldb
	MEM_OP_LDBU = CodeMemOp(1) // ldbu
	MEM_OP_LDH  = CodeMemOp(2) // ldh
	MEM_OP_LDHU = CodeMemOp(3) // ldhu
	MEM_OP_LDW  = CodeMemOp(4) // ldw
	MEM_OP_STB  = CodeMemOp(5) // stb
	MEM_OP_STH  = CodeMemOp(6) // sth
	MEM_OP_STW  = CodeMemOp(7) // stw
)

var _CodeMemOp_name = [...]string{"ldb", "ldbu", "ldh", "ldhu", "ldw", "stb", "sth", "stw"}

func (op CodeMemOp) String() string {
	if op < 0 || int(op) >= len(_CodeMemOp_name) {
		return fmt.Sprintf("CodeMemOp(%d)", int(op))
	}
	return _CodeMemOp_name[op]
}

// Width returns the access width in bytes.
func (op CodeMemOp) Width() int {
	switch op {
	case MEM_OP_LDB, MEM_OP_LDBU, MEM_OP_STB:
		return 1
	case MEM_OP_LDH, MEM_OP_LDHU, MEM_OP_STH:
		return 2
	}
	return 4
}

// Store returns true for store operations.
func (op CodeMemOp) Store() bool {
	return op >= MEM_OP_STB
}

// CodeCtrlOp is a control flow operation type.
type CodeCtrlOp int

const (
	CTRL_OP_JUMP   = CodeCtrlOp(0) // jump
	CTRL_OP_CALL   = CodeCtrlOp(1) // call
	CTRL_OP_RETURN = CodeCtrlOp(2) // return
	CTRL_OP_HALT   = CodeCtrlOp(3) // halt
	CTRL_OP_ENTER  = CodeCtrlOp(4) // enter
	CTRL_OP_PUSH   = CodeCtrlOp(5) // push
	CTRL_OP_POP    = CodeCtrlOp(6) // pop
)

var _CodeCtrlOp_name = [...]string{"jump", "call", "return", "halt", "enter", "push", "pop"}

func (op CodeCtrlOp) String() string {
	if op < 0 || int(op) >= len(_CodeCtrlOp_name) {
		return fmt.Sprintf("CodeCtrlOp(%d)", int(op))
	}
	return _CodeCtrlOp_name[op]
}

// CodeSysOp is an emulated runtime service.
type CodeSysOp int

const (
	SYS_OP_ALLOC = CodeSysOp(0) // alloc
	SYS_OP_FREE  = CodeSysOp(1) // free
)

var _CodeSysOp_name = [...]string{"alloc", "free"}

func (op CodeSysOp) String() string {
	if op < 0 || int(op) >= len(_CodeSysOp_name) {
		return fmt.Sprintf("CodeSysOp(%d)", int(op))
	}
	return _CodeSysOp_name[op]
}

// CodeIR is an Immediate-or-Register decode type.
type CodeIR int

const (
	IR_REG_R0         = CodeIR(0)  // r0
	IR_REG_R1         = CodeIR(1)  // r1
	IR_REG_R2         = CodeIR(2)  // r2
	IR_REG_R3         = CodeIR(3)  // r3
	IR_REG_R4         = CodeIR(4)  // r4
	IR_REG_R5         = CodeIR(5)  // r5
	IR_REG_R6         = CodeIR(6)  // r6
	IR_REG_R7         = CodeIR(7)  // r7
	IR_SP             = CodeIR(8)  // sp
	IR_FP             = CodeIR(9)  // fp
	IR_CONST_0        = CodeIR(10) // immz
	IR_CONST_FFFFFFFF = CodeIR(11) // immnz
	IR_PC             = CodeIR(12) // pc
	IR_IMMEDIATE_32   = CodeIR(15) // imm32
)

var _CodeIR_name = map[CodeIR]string{
	IR_REG_R0:         "r0",
	IR_REG_R1:         "r1",
	IR_REG_R2:         "r2",
	IR_REG_R3:         "r3",
	IR_REG_R4:         "r4",
	IR_REG_R5:         "r5",
	IR_REG_R6:         "r6",
	IR_REG_R7:         "r7",
	IR_SP:             "sp",
	IR_FP:             "fp",
	IR_CONST_0:        "immz",
	IR_CONST_FFFFFFFF: "immnz",
	IR_PC:             "pc",
	IR_IMMEDIATE_32:   "imm32",
}

func (ir CodeIR) String() string {
	name, ok := _CodeIR_name[ir]
	if !ok {
		return fmt.Sprintf("CodeIR(%d)", int(ir))
	}
	return name
}

// Writable returns true if the CodeIR represents a writable destination.
func (ir CodeIR) Writable() bool {
	return ir >= IR_REG_R0 && ir <= IR_REG_R7
}

// Valid returns true if the CodeIR is a defined operand source.
func (ir CodeIR) Valid() bool {
	_, ok := _CodeIR_name[ir]
	return ok
}

// Instruction word layout.
const (
	CODE_COND_SHIFT  = 30
	CODE_CLASS_SHIFT = 27
	CODE_OP_SHIFT    = 23
	CODE_A_SHIFT     = 19
	CODE_B_SHIFT     = 15
	CODE_OFF_MASK    = 0x7fff

	CODE_OFF_MIN = -(1 << 14)   // Smallest encodable memory offset.
	CODE_OFF_MAX = (1 << 14) - 1 // Largest encodable memory offset.

	CODE_WORD_SIZE = 4 // Bytes per instruction or immediate word.
)

// Opcode represents a line of assembled code with its source location and generated instructions.
type Opcode struct {
	LineNo int
	Ip     uint32
	Words  []string
	Codes  []Code
	Links  []Link
}

// Link is an immediate word patched with the address of a label.
type Link struct {
	Code      int    // Index into Opcode.Codes.
	Immediate int    // Index into Code.Immediates.
	Label     string // Label to resolve.
}

// Code represents a single instruction word with optional immediate values.
type Code struct {
	Word       uint32
	Immediates []uint32
}

// makeCode creates an instruction from its fields.
func makeCode(cond CodeCond, class CodeClass, op int, a, b CodeIR, off int32, imms ...uint32) Code {
	word := (uint32(cond&0x3) << CODE_COND_SHIFT) |
		(uint32(class&0x7) << CODE_CLASS_SHIFT) |
		(uint32(op&0xf) << CODE_OP_SHIFT) |
		(uint32(a&0xf) << CODE_A_SHIFT) |
		(uint32(b&0xf) << CODE_B_SHIFT) |
		(uint32(off) & CODE_OFF_MASK)
	return Code{
		Word:       word,
		Immediates: imms,
	}
}

// MakeCodeExit creates a halt instruction.
func MakeCodeExit(cond CodeCond) Code {
	return MakeCodeCtrl(cond, CTRL_OP_HALT, IR_CONST_0, IR_CONST_0)
}

// MakeCodeAlu creates an ALU operation instruction.
func MakeCodeAlu(cond CodeCond, op CodeAluOp, target, arg CodeIR, imms ...uint32) Code {
	return makeCode(cond, OP_ALU, int(op), target, arg, 0, imms...)
}

// MakeCodeCond creates a conditional comparison instruction.
func MakeCodeCond(cond CodeCond, op CodeCondOp, arg_a, arg_b CodeIR, imms ...uint32) Code {
	return makeCode(cond, OP_COND, int(op), arg_a, arg_b, 0, imms...)
}

// MakeCodeMem creates a load or store through base+offset.
func MakeCodeMem(cond CodeCond, op CodeMemOp, reg, base CodeIR, offset int32, imms ...uint32) Code {
	return makeCode(cond, OP_MEM, int(op), reg, base, offset, imms...)
}

// MakeCodeCtrl creates a control flow instruction.
func MakeCodeCtrl(cond CodeCond, op CodeCtrlOp, arg_a, arg_b CodeIR, imms ...uint32) Code {
	return makeCode(cond, OP_CTRL, int(op), arg_a, arg_b, 0, imms...)
}

// MakeCodeSys creates a runtime service instruction.
func MakeCodeSys(cond CodeCond, op CodeSysOp) Code {
	return makeCode(cond, OP_SYS, int(op), IR_CONST_0, IR_CONST_0, 0)
}

// Cond returns the condition code from the instruction word.
func (code Code) Cond() CodeCond {
	return CodeCond((code.Word >> CODE_COND_SHIFT) & 0x3)
}

// Class returns the operation class from the instruction word.
func (code Code) Class() CodeClass {
	return CodeClass((code.Word >> CODE_CLASS_SHIFT) & 0x7)
}

// Op returns the raw operation field.
func (code Code) Op() int {
	return int((code.Word >> CODE_OP_SHIFT) & 0xf)
}

// A returns the first operand.
func (code Code) A() CodeIR {
	return CodeIR((code.Word >> CODE_A_SHIFT) & 0xf)
}

// B returns the second operand.
func (code Code) B() CodeIR {
	return CodeIR((code.Word >> CODE_B_SHIFT) & 0xf)
}

// Offset returns the sign extended memory offset.
func (code Code) Offset() int32 {
	off := int32(code.Word & CODE_OFF_MASK)
	if off&(1<<14) != 0 {
		off -= 1 << 15
	}
	return off
}

// AluDecode decodes and returns the ALU operation, target register, and argument.
func (code Code) AluDecode() (op CodeAluOp, target, arg CodeIR) {
	return CodeAluOp(code.Op()), code.A(), code.B()
}

// CondDecode decodes and returns the conditional operation and its two arguments.
func (code Code) CondDecode() (op CodeCondOp, arg1, arg2 CodeIR) {
	return CodeCondOp(code.Op()), code.A(), code.B()
}

// MemDecode decodes and returns the memory operation, data register, base, and offset.
func (code Code) MemDecode() (op CodeMemOp, reg, base CodeIR, offset int32) {
	return CodeMemOp(code.Op()), code.A(), code.B(), code.Offset()
}

// CtrlDecode decodes and returns the control operation and its arguments.
func (code Code) CtrlDecode() (op CodeCtrlOp, arg1, arg2 CodeIR) {
	return CodeCtrlOp(code.Op()), code.A(), code.B()
}

// SysDecode decodes and returns the runtime service.
func (code Code) SysDecode() (op CodeSysOp) {
	return CodeSysOp(code.Op())
}

// ImmediateNeed returns the number of 32-bit immediate values required by this instruction.
func (code Code) ImmediateNeed() int {
	need := 0
	if code.A() == IR_IMMEDIATE_32 {
		need += 1
	}
	if code.B() == IR_IMMEDIATE_32 {
		need += 1
	}
	return need
}

// Size returns the encoded size in bytes, including immediates.
func (code Code) Size() int {
	return CODE_WORD_SIZE * (1 + code.ImmediateNeed())
}

// AppendBytes appends the little endian encoding of the instruction.
func (code Code) AppendBytes(out []byte) []byte {
	out = binary.LittleEndian.AppendUint32(out, code.Word)
	for _, imm := range code.Immediates {
		out = binary.LittleEndian.AppendUint32(out, imm)
	}
	return out
}

// Validate checks that the instruction is fully decodable.
func (code Code) Validate() (err error) {
	if code.Cond() == COND_NEVER {
		return ErrOpcodeCond
	}

	a, b := code.A(), code.B()
	if !a.Valid() {
		return ErrOpcodeArg1
	}
	if !b.Valid() {
		return ErrOpcodeArg2
	}

	if len(code.Immediates) != code.ImmediateNeed() {
		return ErrOpcodeImm
	}

	op := code.Op()
	switch code.Class() {
	case OP_ALU:
		if op > int(ALU_OP_SRA) {
			return ErrOpcodeOp
		}
		if !a.Writable() {
			return ErrOpcodeArg1
		}
	case OP_COND:
		if op > int(COND_OP_LEU) {
			return ErrOpcodeOp
		}
	case OP_MEM:
		if op > int(MEM_OP_STW) {
			return ErrOpcodeOp
		}
		if !CodeMemOp(op).Store() && !a.Writable() {
			return ErrOpcodeArg1
		}
	case OP_CTRL:
		if op > int(CTRL_OP_POP) {
			return ErrOpcodeOp
		}
		if CodeCtrlOp(op) == CTRL_OP_POP && !a.Writable() {
			return ErrOpcodeArg1
		}
	case OP_SYS:
		if op > int(SYS_OP_FREE) {
			return ErrOpcodeOp
		}
	default:
		return ErrOpcodeDecode
	}

	return
}

// String returns the assembly language representation of this instruction.
func (code Code) String() (out string) {
	cond := code.Cond()
	class := code.Class()

	var str string

	switch class {
	case OP_ALU:
		op, target, arg := code.AluDecode()
		str = fmt.Sprintf("%v.%v.%v", op.String(), target.String(), arg.String())
	case OP_COND:
		op, arg1, arg2 := code.CondDecode()
		str = fmt.Sprintf("%v.%v.%v", op.String(), arg1.String(), arg2.String())
	case OP_MEM:
		op, reg, base, offset := code.MemDecode()
		str = fmt.Sprintf("%v.%v.%v%+d", op.String(), reg.String(), base.String(), offset)
	case OP_CTRL:
		op, arg1, arg2 := code.CtrlDecode()
		str = fmt.Sprintf("%v.%v.%v", op.String(), arg1.String(), arg2.String())
	case OP_SYS:
		str = code.SysDecode().String()
	default:
		str = "?"
	}

	out = fmt.Sprintf("%v%v.%v imm:%#v", cond.String(), class.String(), str, code.Immediates)

	return
}
