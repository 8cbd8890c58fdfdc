// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"errors"
	"fmt"
	"iter"
	"log"
	"maps"

	"github.com/ezrec/r5vm/memory"
)

var _cpu_defines = map[string]string{
	"FRAME_HEADER": fmt.Sprintf("0x%x", FRAME_HEADER),
	"EXIT_ADDRESS": fmt.Sprintf("0x%x", EXIT_ADDRESS),
	"NULL":         fmt.Sprintf("0x%x", memory.NULL),
}

// State is the execution state of a cpu.
type State int

const (
	STATE_RUNNING = State(iota) // running
	STATE_HALTED                // halted
	STATE_FAULTED               // faulted
	STATE_TIMEOUT               // timeout
)

var _State_name = [...]string{"running", "halted", "faulted", "timeout"}

func (st State) String() string {
	if st < 0 || int(st) >= len(_State_name) {
		return fmt.Sprintf("State(%d)", int(st))
	}
	return _State_name[st]
}

// ParseState returns the state with the given name.
func ParseState(name string) (st State, ok bool) {
	for n, text := range _State_name {
		if text == name {
			return State(n), true
		}
	}
	return
}

// StopReason is why a cpu left the running state.
type StopReason int

const (
	STOP_NONE        = StopReason(iota) // none
	STOP_HALT                           // halt
	STOP_RETURN                         // return
	STOP_END_OF_CODE                    // end-of-code
	STOP_FAULT                          // fault
	STOP_BUDGET                         // budget
)

var _StopReason_name = [...]string{"none", "halt", "return", "end-of-code", "fault", "budget"}

func (sr StopReason) String() string {
	if sr < 0 || int(sr) >= len(_StopReason_name) {
		return fmt.Sprintf("StopReason(%d)", int(sr))
	}
	return _StopReason_name[sr]
}

// ParseStopReason returns the stop reason with the given name.
func ParseStopReason(name string) (sr StopReason, ok bool) {
	for n, text := range _StopReason_name {
		if text == name {
			return StopReason(n), true
		}
	}
	return
}

// Allocator serves the alloc and free runtime services.
type Allocator interface {
	Alloc(size uint32) (ptr uint32)
	Free(ptr uint32)
}

// CodeMap reports instruction boundaries of the loaded code.
type CodeMap interface {
	IsInstruction(addr uint32) bool
	CodeEnd() uint32
}

// Stats counts the events of one run.
type Stats struct {
	Steps         uint64 // Instructions retired, including skipped ones.
	Skipped       uint64 // Conditional instructions not taken.
	Loads         uint64
	Stores        uint64
	Calls         uint64
	Returns       uint64
	BranchesTaken uint64 // Conditional jumps taken.
	Allocs        uint64
	AllocFailures uint64
	MaxDepth      int // Deepest call stack.
}

// Cpu is the execution engine of a single run.
type Cpu struct {
	Verbose bool // Set to enable verbose logging.

	Memory *memory.Memory
	Stack  *CallStack
	Heap   Allocator
	Code   CodeMap

	Pc       uint32    // Address of the next instruction.
	Register [8]uint32 // Register bank.
	Cond     bool      // Current conditional execution state.

	State  State
	Reason StopReason
	Fault  *Fault
	Stats  Stats
}

// NewCpu creates a cpu over a loaded memory. The heap may be nil, in which
// case every alloc returns NULL.
func NewCpu(mem *memory.Memory, code CodeMap, heap Allocator) (cpu *Cpu) {
	cpu = &Cpu{
		Memory: mem,
		Code:   code,
		Heap:   heap,
		Stack:  NewCallStack(mem),
	}

	return
}

// Defines for the cpu
func Defines() iter.Seq2[string, string] {
	return maps.All(_cpu_defines)
}

// String returns the current CPU state as a string.
func (cpu *Cpu) String() (text string) {
	regs := []string{
		"pc",
		"cond",
		"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
		"sp", "fp",
		"depth",
		"state",
	}
	for _, reg := range regs {
		var strval string
		switch reg {
		case "pc":
			strval = fmt.Sprintf("%04X_%04X", cpu.Pc>>16, cpu.Pc&0xffff)
		case "cond":
			strval = "false"
			if cpu.Cond {
				strval = "true"
			}
		case "r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7":
			val := cpu.Register[byte(reg[1]-'0')]
			strval = fmt.Sprintf("%04X_%04X", val>>16, val&0xffff)
		case "sp":
			val := cpu.Stack.Sp()
			strval = fmt.Sprintf("%04X_%04X", val>>16, val&0xffff)
		case "fp":
			val := cpu.Stack.Fp()
			strval = fmt.Sprintf("%04X_%04X", val>>16, val&0xffff)
		case "depth":
			strval = fmt.Sprintf("%d", cpu.Stack.Depth())
		case "state":
			strval = cpu.State.String()
			if cpu.State != STATE_RUNNING {
				strval += "/" + cpu.Reason.String()
			}
		}
		text += fmt.Sprintf("% 5s: %v\n", reg, strval)
	}

	return
}

// Reset the CPU state.
// - Clears the registers and condition flag.
// - Zeros statistics counters.
// - Replaces the call stack with one holding only the entry frame.
// - Sets the pc to the entry point.
func (cpu *Cpu) Reset(entry uint32) (err error) {
	if cpu.Verbose {
		log.Printf("cpu: reset entry %#08x", entry)
	}

	clear(cpu.Register[:])
	cpu.Cond = false
	cpu.Stats = Stats{}
	cpu.State = STATE_RUNNING
	cpu.Reason = STOP_NONE
	cpu.Fault = nil

	cpu.Stack = NewCallStack(cpu.Memory)
	cpu.Stack.Verbose = cpu.Verbose

	err = cpu.checkTarget(entry)
	if err == nil {
		err = cpu.Stack.Call(EXIT_ADDRESS, &cpu.Register)
	}
	if err != nil {
		cpu.fault(entry, err)
		err = cpu.Fault
		return
	}

	cpu.Pc = entry
	cpu.Stats.MaxDepth = cpu.Stack.Depth()

	return
}

// checkTarget verifies a control transfer destination.
func (cpu *Cpu) checkTarget(addr uint32) (err error) {
	if cpu.Code == nil || !cpu.Code.IsInstruction(addr) {
		err = &ErrAddress{Address: addr, Err: ErrInvalidTarget}
	}
	return
}

// fault stops the cpu with the fault classified from err.
func (cpu *Cpu) fault(pc uint32, err error) {
	kind := faultKindOf(err)

	address := pc
	var ea *ErrAddress
	var ma *memory.ErrAccess
	switch {
	case errors.As(err, &ma):
		address = ma.Address
	case errors.As(err, &ea):
		address = ea.Address
	}

	cpu.State = STATE_FAULTED
	cpu.Reason = STOP_FAULT
	if kind == FAULT_TIMEOUT {
		cpu.State = STATE_TIMEOUT
		cpu.Reason = STOP_BUDGET
	}

	cpu.Fault = &Fault{
		Kind:    kind,
		Pc:      pc,
		Address: address,
		Err:     err,
	}

	if cpu.Verbose {
		log.Printf("cpu: %v", cpu.Fault)
	}
}

// halt stops the cpu normally.
func (cpu *Cpu) halt(reason StopReason) {
	cpu.State = STATE_HALTED
	cpu.Reason = reason

	if cpu.Verbose {
		log.Printf("cpu: halted (%v) r0=%#x", reason, cpu.Register[0])
	}
}

// FetchCode fetches the instruction, and its immediates, at the pc.
func (cpu *Cpu) FetchCode() (code Code, err error) {
	err = cpu.checkTarget(cpu.Pc)
	if err != nil {
		return
	}

	word, err := cpu.Memory.Fetch(cpu.Pc)
	if err != nil {
		return
	}

	code = Code{Word: word}
	for n := range code.ImmediateNeed() {
		var imm uint32
		imm, err = cpu.Memory.Fetch(cpu.Pc + uint32(CODE_WORD_SIZE*(n+1)))
		if err != nil {
			err = errors.Join(ErrInvalidInstruction, ErrOpcodeImm, err)
			return
		}
		code.Immediates = append(code.Immediates, imm)
	}

	return
}

// Step executes a single instruction.
func (cpu *Cpu) Step() (err error) {
	if cpu.State != STATE_RUNNING {
		err = ErrNotRunning
		return
	}

	pc := cpu.Pc
	if cpu.Code != nil && pc == cpu.Code.CodeEnd() {
		cpu.halt(STOP_END_OF_CODE)
		return
	}

	defer func() {
		if err != nil {
			cpu.fault(pc, err)
			err = cpu.Fault
		}
	}()

	code, err := cpu.FetchCode()
	if err != nil {
		return
	}

	err = cpu.Execute(code)
	return
}

// Run executes instructions until the cpu stops, or budget instructions
// have been executed. Running out of budget is a Timeout fault.
func (cpu *Cpu) Run(budget uint64) (err error) {
	var steps uint64
	for cpu.State == STATE_RUNNING {
		if steps >= budget {
			cpu.fault(cpu.Pc, &ErrAddress{Address: cpu.Pc, Err: ErrTimeout})
			err = cpu.Fault
			return
		}
		err = cpu.Step()
		if err != nil {
			return
		}
		steps++
	}

	return
}

// Execute executes a single decoded instruction.
func (cpu *Cpu) Execute(code Code) (err error) {
	defer func() {
		if err != nil && faultKindOf(err) == FAULT_INVALID_INSTRUCTION {
			err = errors.Join(ErrInvalidInstruction, ErrOpcode(code), err)
		}
	}()

	if cpu.Verbose {
		log.Printf("cpu: %08x: %v", cpu.Pc, code)
	}

	err = code.Validate()
	if err != nil {
		return
	}

	cpu.Stats.Steps++

	next_pc := cpu.Pc + uint32(code.Size())

	cond := code.Cond()
	switch cond {
	case COND_ALWAYS:
		// pass
	case COND_TRUE, COND_FALSE:
		if cpu.Cond != (cond == COND_TRUE) {
			cpu.Stats.Skipped++
			cpu.Pc = next_pc
			return
		}
	}

	imms := code.Immediates

	switch code.Class() {
	case OP_ALU:
		op, dst, arg := code.AluDecode()
		var val uint32
		val, imms, err = cpu.getValue(arg, imms, next_pc)
		if err != nil {
			err = errors.Join(ErrOpcodeArg2, err)
			return
		}
		cpu.Register[dst] = cpu.doAlu(op, cpu.Register[dst], val)
	case OP_COND:
		op, a_ir, b_ir := code.CondDecode()
		var a_u uint32
		var b_u uint32
		a_u, imms, err = cpu.getValue(a_ir, imms, next_pc)
		if err != nil {
			err = errors.Join(ErrOpcodeArg1, err)
			return
		}
		b_u, imms, err = cpu.getValue(b_ir, imms, next_pc)
		if err != nil {
			err = errors.Join(ErrOpcodeArg2, err)
			return
		}
		cpu.Cond = doCond(op, a_u, b_u)
	case OP_MEM:
		op, reg, base_ir, offset := code.MemDecode()
		// Immediates are in operand order, so a stored value comes first.
		var value uint32
		if op.Store() {
			value, imms, err = cpu.getValue(reg, imms, next_pc)
			if err != nil {
				err = errors.Join(ErrOpcodeArg1, err)
				return
			}
		}
		var base uint32
		base, imms, err = cpu.getValue(base_ir, imms, next_pc)
		if err != nil {
			err = errors.Join(ErrOpcodeArg2, err)
			return
		}
		addr := base + uint32(offset)
		width := op.Width()
		if op.Store() {
			err = cpu.Memory.Write(addr, value, width)
			if err != nil {
				return
			}
			cpu.Stats.Stores++
		} else {
			value, err = cpu.Memory.Read(addr, width)
			if err != nil {
				return
			}
			switch op {
			case MEM_OP_LDB:
				value = uint32(int32(int8(value)))
			case MEM_OP_LDH:
				value = uint32(int32(int16(value)))
			}
			cpu.Register[reg] = value
			cpu.Stats.Loads++
		}
	case OP_CTRL:
		op, a_ir, b_ir := code.CtrlDecode()
		switch op {
		case CTRL_OP_JUMP, CTRL_OP_CALL:
			var target uint32
			target, imms, err = cpu.getValue(b_ir, imms, next_pc)
			if err != nil {
				err = errors.Join(ErrOpcodeArg2, err)
				return
			}
			err = cpu.checkTarget(target)
			if err != nil {
				return
			}
			if op == CTRL_OP_CALL {
				err = cpu.Stack.Call(next_pc, &cpu.Register)
				if err != nil {
					return
				}
				cpu.Stats.Calls++
				cpu.Stats.MaxDepth = max(cpu.Stats.MaxDepth, cpu.Stack.Depth())
			} else if cond != COND_ALWAYS {
				cpu.Stats.BranchesTaken++
			}
			next_pc = target
		case CTRL_OP_RETURN:
			var target uint32
			target, err = cpu.Stack.Return(&cpu.Register)
			if err != nil {
				return
			}
			cpu.Stats.Returns++
			if target == EXIT_ADDRESS && cpu.Stack.Depth() == 0 {
				cpu.Pc = next_pc
				cpu.halt(STOP_RETURN)
				return
			}
			err = cpu.checkTarget(target)
			if err != nil {
				return
			}
			next_pc = target
		case CTRL_OP_HALT:
			cpu.Pc = next_pc
			cpu.halt(STOP_HALT)
			return
		case CTRL_OP_ENTER:
			var words uint32
			words, imms, err = cpu.getValue(b_ir, imms, next_pc)
			if err != nil {
				err = errors.Join(ErrOpcodeArg2, err)
				return
			}
			err = cpu.Stack.Enter(words)
			if err != nil {
				return
			}
		case CTRL_OP_PUSH:
			var value uint32
			value, imms, err = cpu.getValue(b_ir, imms, next_pc)
			if err != nil {
				err = errors.Join(ErrOpcodeArg2, err)
				return
			}
			err = cpu.Stack.Push(value)
			if err != nil {
				return
			}
		case CTRL_OP_POP:
			var value uint32
			value, err = cpu.Stack.Pop()
			if err != nil {
				return
			}
			cpu.Register[a_ir] = value
		default:
			err = ErrOpcodeOp
			return
		}
	case OP_SYS:
		switch code.SysDecode() {
		case SYS_OP_ALLOC:
			ptr := memory.NULL
			if cpu.Heap != nil {
				ptr = cpu.Heap.Alloc(cpu.Register[0])
			}
			cpu.Stats.Allocs++
			if ptr == memory.NULL {
				cpu.Stats.AllocFailures++
			}
			cpu.Register[0] = ptr
		case SYS_OP_FREE:
			if cpu.Heap != nil {
				cpu.Heap.Free(cpu.Register[0])
			}
		default:
			err = ErrOpcodeOp
			return
		}
	default:
		err = ErrOpcodeDecode
		return
	}

	if len(imms) != 0 {
		err = ErrOpcodeImm
		return
	}

	cpu.Pc = next_pc

	return
}

// getValue gets the value specified by the CodeIR, based on CPU
// state or value of the immediates that followed the opcode.
func (cpu *Cpu) getValue(src CodeIR, imms_in []uint32, next_pc uint32) (value uint32, imms []uint32, err error) {
	imms = imms_in

	switch src {
	case IR_CONST_0:
		value = 0
	case IR_CONST_FFFFFFFF:
		value = 0xffffffff
	case IR_IMMEDIATE_32:
		if len(imms) < 1 {
			err = ErrOpcodeImm
			return
		}
		value = imms[0]
		imms = imms[1:]
	case IR_PC:
		value = next_pc
	case IR_SP:
		value = cpu.Stack.Sp()
	case IR_FP:
		value = cpu.Stack.Fp()
	case IR_REG_R0, IR_REG_R1, IR_REG_R2, IR_REG_R3, IR_REG_R4, IR_REG_R5, IR_REG_R6, IR_REG_R7:
		value = cpu.Register[src-IR_REG_R0]
	default:
		err = ErrOpcodeDecode
	}

	return
}

// doAlu performs the requested ALU action, and returns the output value.
func (cpu *Cpu) doAlu(op CodeAluOp, input uint32, value uint32) (output uint32) {
	switch op {
	case ALU_OP_SET: // set
		output = value
	case ALU_OP_XOR: // xor
		output = input ^ value
	case ALU_OP_AND: // and
		output = input & value
	case ALU_OP_OR: // or
		output = input | value
	case ALU_OP_SHL: // shl
		value &= 0x1f // clamp to 31 bits of shift
		output = input << value
	case ALU_OP_SHR: // shr
		value &= 0x1f // clamp to 31 bits of shift
		output = input >> value
	case ALU_OP_SRA: // sra
		value &= 0x1f
		output = uint32(int32(input) >> value)
	case ALU_OP_ADD: // add
		output = input + value
	case ALU_OP_SUB: // sub
		output = input - value
	case ALU_OP_MUL: // mul
		output = uint32(int32(input) * int32(value))
	}

	return
}

// doCond evaluates a comparison.
func doCond(op CodeCondOp, a_u, b_u uint32) (cond bool) {
	// Treat as signed, unless otherwise noted.
	a := int32(a_u)
	b := int32(b_u)
	switch op {
	case COND_OP_EQ:
		cond = a == b
	case COND_OP_NE:
		cond = a != b
	case COND_OP_LT:
		cond = a < b
	case COND_OP_LE:
		cond = a <= b
	case COND_OP_LTU:
		cond = a_u < b_u
	case COND_OP_LEU:
		cond = a_u <= b_u
	}
	return
}
