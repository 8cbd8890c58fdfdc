package cpu

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/r5vm/alloc"
	"github.com/ezrec/r5vm/image"
	"github.com/ezrec/r5vm/memory"
)

const testStackTop = memory.STACK_BASE + memory.STACK_SIZE

// newTestCpu assembles and loads a program, ready to run from its entry.
func newTestCpu(t *testing.T, program ...string) (cpu *Cpu, img *image.Image) {
	asm := &Assembler{}
	prog, err := asm.Parse(strings.NewReader(strings.Join(program, "\n")))
	if err != nil {
		t.Fatal(err)
	}

	img = prog.Image(t.Name())
	cpu = loadTestCpu(t, img)
	return
}

func loadTestCpu(t *testing.T, img *image.Image) (cpu *Cpu) {
	mem, err := memory.Load(img, memory.STACK_SIZE)
	if err != nil {
		t.Fatal(err)
	}

	var heap Allocator
	if len(img.Arena) != 0 {
		sym, ok := img.Symbol(img.Arena)
		if !ok {
			t.Fatal(img.Arena)
		}
		bump, err := alloc.NewBump(sym.Address, sym.Size, sym.Size)
		if err != nil {
			t.Fatal(err)
		}
		heap = bump
	}

	cpu = NewCpu(mem, img, heap)
	err = cpu.Reset(img.Entry)
	if err != nil {
		t.Fatal(err)
	}

	return
}

func runFault(t *testing.T, cpu *Cpu) (fault *Fault) {
	err := cpu.Run(100_000)
	if !errors.As(err, &fault) {
		t.Fatalf("expected a fault, got %v", err)
	}
	return
}

func TestCpu_Alu(t *testing.T) {
	table := [](struct {
		name     string
		input    string
		op       string
		arg      string
		expected uint32
	}){
		{"set", "0x1234", "set", "0x55", 0x55},
		{"add", "0x1000", "add", "0x234", 0x1234},
		{"add-wrap", "0xffffffff", "add", "1", 0},
		{"sub", "0x1234", "sub", "0x234", 0x1000},
		{"sub-wrap", "0", "sub", "1", 0xffffffff},
		{"mul", "-3", "mul", "7", 0xffffffeb},
		{"mul-wrap", "0x10000", "mul", "0x10000", 0},
		{"and", "0xff00ff", "and", "0x0ff0f0", 0x0f00f0},
		{"or", "0xff0000", "or", "0x0000ff", 0xff00ff},
		{"xor", "0xffff", "xor", "0x0ff0", 0xf00f},
		{"shl", "1", "shl", "4", 0x10},
		{"shl-clamp", "1", "shl", "33", 2},
		{"shr", "0x80000000", "shr", "31", 1},
		{"sra", "0x80000000", "sra", "4", 0xf8000000},
		{"sra-positive", "0x40000000", "sra", "4", 0x04000000},
	}

	for _, entry := range table {
		t.Run(entry.name, func(t *testing.T) {
			assert := assert.New(t)

			cpu, _ := newTestCpu(t,
				"write r0 "+entry.input,
				entry.op+" r0 "+entry.arg,
				"halt",
			)

			err := cpu.Run(100)
			assert.NoError(err)
			assert.Equal(STATE_HALTED, cpu.State)
			assert.Equal(STOP_HALT, cpu.Reason)
			assert.Equal(entry.expected, cpu.Register[0])
		})
	}
}

func TestCpu_Cond(t *testing.T) {
	table := [](struct {
		op       string
		a        string
		b        string
		expected bool
	}){
		{"eq?", "5", "5", true},
		{"eq?", "5", "6", false},
		{"ne?", "5", "6", true},
		{"lt?", "-1", "1", true},
		{"lt?", "1", "-1", false},
		{"le?", "1", "1", true},
		{"gt?", "2", "1", true},
		{"gt?", "1", "2", false},
		{"ge?", "1", "1", true},
		{"ltu?", "-1", "1", false},
		{"ltu?", "1", "-1", true},
		{"leu?", "-1", "-1", true},
		{"gtu?", "-1", "1", true},
		{"geu?", "1", "2", false},
	}

	for _, entry := range table {
		t.Run(entry.op+entry.a+","+entry.b, func(t *testing.T) {
			assert := assert.New(t)

			cpu, _ := newTestCpu(t,
				"write r0 "+entry.a,
				"write r1 "+entry.b,
				"if "+entry.op+" r0 r1",
				"? write r2 1",
				"halt",
			)

			err := cpu.Run(100)
			assert.NoError(err)
			assert.Equal(entry.expected, cpu.Cond)
			if entry.expected {
				assert.Equal(uint32(1), cpu.Register[2])
			} else {
				assert.Equal(uint32(0), cpu.Register[2])
			}
		})
	}
}

func TestCpu_Skipped(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		"if eq? 0 1",
		"? write r0 5",
		"! write r1 6",
		"halt",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(uint32(0), cpu.Register[0])
	assert.Equal(uint32(6), cpu.Register[1])
	assert.Equal(uint64(4), cpu.Stats.Steps)
	assert.Equal(uint64(1), cpu.Stats.Skipped)
}

func TestCpu_Branch(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		"if eq? 0 0",
		"? jump done",
		"halt",
		"done:",
		"write r0 1",
		"halt",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(uint32(1), cpu.Register[0])
	assert.Equal(uint64(1), cpu.Stats.BranchesTaken)
}

func TestCpu_Memory(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		".data",
		"val: .word 0x80ff 0",
		".text",
		"main:",
		"ldb r0 val",
		"ldbu r1 val",
		"ldh r2 val",
		"ldhu r3 val",
		"ldw r4 val 1", // unaligned
		"stw 0x12345678 val 4",
		"ldw r5 val 4",
		"write r7 val",
		"stb 0xaa r7 2",
		"sth 0xbbcc r7",
		"ldw r6 r7",
		"halt",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(STATE_HALTED, cpu.State)

	assert.Equal(uint32(0xffffffff), cpu.Register[0])
	assert.Equal(uint32(0xff), cpu.Register[1])
	assert.Equal(uint32(0xffff80ff), cpu.Register[2])
	assert.Equal(uint32(0x80ff), cpu.Register[3])
	assert.Equal(uint32(0x80), cpu.Register[4])
	assert.Equal(uint32(0x12345678), cpu.Register[5])
	assert.Equal(uint32(0x00aabbcc), cpu.Register[6])
	assert.Equal(uint64(7), cpu.Stats.Loads)
	assert.Equal(uint64(3), cpu.Stats.Stores)

	data, err := cpu.Memory.Bytes(memory.DATA_BASE, 8)
	assert.NoError(err)
	assert.Equal([]byte{0xcc, 0xbb, 0xaa, 0x00, 0x78, 0x56, 0x34, 0x12}, data)
}

func TestCpu_MemoryNegativeOffset(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		".data",
		"a: .word 0x11",
		"b: .word 0x22",
		".text",
		"main:",
		"ldw r0 b -4",
		"halt",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(uint32(0x11), cpu.Register[0])
}

func TestCpu_CodeReadable(t *testing.T) {
	assert := assert.New(t)

	cpu, img := newTestCpu(t,
		"main:",
		"ldw r0 main",
		"halt",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(binary.LittleEndian.Uint32(img.Code), cpu.Register[0])
}

func TestCpu_WriteProtect(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		"main:",
		"stw 1 main",
		"halt",
	)

	fault := runFault(t, cpu)
	assert.Equal(FAULT_WRITE_PROTECT, fault.Kind)
	assert.Equal(memory.CODE_BASE, fault.Pc)
	assert.Equal(memory.CODE_BASE, fault.Address)
	assert.Equal(STATE_FAULTED, cpu.State)
	assert.Equal(STOP_FAULT, cpu.Reason)
	assert.True(errors.Is(fault, ErrWriteProtect))
}

func TestCpu_OutOfBounds(t *testing.T) {
	table := [](struct {
		name    string
		line    string
		address uint32
	}){
		{"null", "ldw r0 0", memory.NULL},
		{"null-store", "stw r0 NULL 8", 8},
		{"gap", "ldw r0 0x200000", 0x200000},
		{"stack-end", "ldw r0 $(STACK_BASE + 0x10000 - 2)", memory.STACK_BASE + memory.STACK_SIZE - 2},
	}

	for _, entry := range table {
		t.Run(entry.name, func(t *testing.T) {
			assert := assert.New(t)

			cpu, _ := newTestCpu(t, entry.line, "halt")

			fault := runFault(t, cpu)
			assert.Equal(FAULT_OUT_OF_BOUNDS, fault.Kind)
			assert.Equal(entry.address, fault.Address)
			assert.True(errors.Is(fault, ErrOutOfBounds))
		})
	}
}

func TestCpu_InvalidTarget(t *testing.T) {
	table := [](struct {
		name    string
		line    string
		address uint32
	}){
		{"misaligned", "jump 0x10002", 0x10002},
		{"data", "call DATA_BASE", memory.DATA_BASE},
		{"null", "call 0", memory.NULL},
		{"past-end", "jump 0x20000", 0x20000},
	}

	for _, entry := range table {
		t.Run(entry.name, func(t *testing.T) {
			assert := assert.New(t)

			cpu, _ := newTestCpu(t, entry.line, "halt")

			fault := runFault(t, cpu)
			assert.Equal(FAULT_INVALID_TARGET, fault.Kind)
			assert.Equal(entry.address, fault.Address)
			assert.Equal(memory.CODE_BASE, fault.Pc)
			assert.Equal(0, int(cpu.Stats.Calls))
		})
	}
}

func rawImage(codes ...Code) (img *image.Image) {
	img = &image.Image{
		Entry:    memory.CODE_BASE,
		CodeBase: memory.CODE_BASE,
		DataBase: memory.DATA_BASE,
	}
	for _, code := range codes {
		img.Boundaries = append(img.Boundaries, img.CodeEnd())
		img.Code = code.AppendBytes(img.Code)
	}
	return
}

func TestCpu_InvalidInstruction(t *testing.T) {
	table := [](struct {
		name string
		code Code
		err  error
	}){
		{"cond", MakeCodeCtrl(COND_NEVER, CTRL_OP_HALT, IR_CONST_0, IR_CONST_0), ErrOpcodeCond},
		{"class", makeCode(COND_ALWAYS, CodeClass(7), 0, IR_CONST_0, IR_CONST_0, 0), ErrOpcodeDecode},
		{"alu-op", makeCode(COND_ALWAYS, OP_ALU, 15, IR_REG_R0, IR_CONST_0, 0), ErrOpcodeOp},
		{"ctrl-op", makeCode(COND_ALWAYS, OP_CTRL, 9, IR_CONST_0, IR_CONST_0, 0), ErrOpcodeOp},
		{"alu-dst", MakeCodeAlu(COND_ALWAYS, ALU_OP_SET, IR_SP, IR_REG_R1), ErrOpcodeArg1},
		{"ir", MakeCodeAlu(COND_ALWAYS, ALU_OP_SET, IR_REG_R0, CodeIR(13)), ErrOpcodeArg2},
		{"pop-dst", MakeCodeCtrl(COND_ALWAYS, CTRL_OP_POP, IR_PC, IR_CONST_0), ErrOpcodeArg1},
	}

	for _, entry := range table {
		t.Run(entry.name, func(t *testing.T) {
			assert := assert.New(t)

			cpu := loadTestCpu(t, rawImage(entry.code, MakeCodeExit(COND_ALWAYS)))

			fault := runFault(t, cpu)
			assert.Equal(FAULT_INVALID_INSTRUCTION, fault.Kind)
			assert.Equal(memory.CODE_BASE, fault.Pc)
			assert.True(errors.Is(fault, ErrInvalidInstruction))
			assert.True(errors.Is(fault, entry.err))
			assert.True(errors.Is(fault, ErrOpcode{}))
			assert.Equal(uint64(0), cpu.Stats.Steps)
		})
	}
}

func TestCpu_TruncatedImmediate(t *testing.T) {
	assert := assert.New(t)

	// Immediate word missing from the end of the code segment.
	code := MakeCodeAlu(COND_ALWAYS, ALU_OP_SET, IR_REG_R0, IR_IMMEDIATE_32)
	img := &image.Image{
		Entry:      memory.CODE_BASE,
		CodeBase:   memory.CODE_BASE,
		Code:       code.AppendBytes(nil),
		DataBase:   memory.DATA_BASE,
		Boundaries: []uint32{memory.CODE_BASE},
	}

	cpu := loadTestCpu(t, img)

	fault := runFault(t, cpu)
	assert.Equal(FAULT_INVALID_INSTRUCTION, fault.Kind)
	assert.True(errors.Is(fault, ErrOpcodeImm))
}

func TestCpu_EndOfCode(t *testing.T) {
	assert := assert.New(t)

	cpu, img := newTestCpu(t,
		"write r0 7",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(STATE_HALTED, cpu.State)
	assert.Equal(STOP_END_OF_CODE, cpu.Reason)
	assert.Equal(img.CodeEnd(), cpu.Pc)
	assert.Equal(uint32(7), cpu.Register[0])
	assert.Equal(uint64(1), cpu.Stats.Steps)
}

func TestCpu_ReturnFromEntry(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		"write r0 3",
		"return",
		"write r0 4",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(STATE_HALTED, cpu.State)
	assert.Equal(STOP_RETURN, cpu.Reason)
	assert.Equal(uint32(3), cpu.Register[0])
	assert.Equal(0, cpu.Stack.Depth())
	assert.Equal(uint64(1), cpu.Stats.Returns)
	assert.Equal(1, cpu.Stats.MaxDepth)
}

func TestCpu_CallSaved(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		"main:",
		"write r4 0x44",
		"write r7 0x77",
		"write r0 1",
		"call func",
		"write r1 r0",
		"halt",
		"func:",
		"write r4 0x99",
		"write r7 0x99",
		"write r0 2",
		"return",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(STOP_HALT, cpu.Reason)
	assert.Equal(uint32(2), cpu.Register[1])
	assert.Equal(uint32(0x44), cpu.Register[4])
	assert.Equal(uint32(0x77), cpu.Register[7])
	assert.Equal(uint64(1), cpu.Stats.Calls)
	assert.Equal(uint64(1), cpu.Stats.Returns)
	assert.Equal(2, cpu.Stats.MaxDepth)
	assert.Equal(1, cpu.Stack.Depth())
}

func TestCpu_CallRegister(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		".data",
		"table: .word one two",
		".text",
		"main:",
		"ldw r1 table 4",
		"call r1",
		"halt",
		"one:",
		"write r0 1",
		"return",
		"two:",
		"write r0 2",
		"return",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(uint32(2), cpu.Register[0])
}

func TestCpu_StackRegisters(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		"main:",
		"write r0 sp",
		"write r1 fp",
		"enter 2",
		"write r2 sp",
		"write r3 fp",
		"stw 0x1234 fp -4",
		"push 5",
		"ldw r4 sp",
		"pop r5",
		"ldw r6 fp -4",
		"halt",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(testStackTop-FRAME_HEADER, cpu.Register[0])
	assert.Equal(testStackTop-FRAME_HEADER, cpu.Register[1])
	assert.Equal(testStackTop-FRAME_HEADER-8, cpu.Register[2])
	assert.Equal(testStackTop-FRAME_HEADER, cpu.Register[3])
	assert.Equal(uint32(5), cpu.Register[4])
	assert.Equal(uint32(5), cpu.Register[5])
	assert.Equal(uint32(0x1234), cpu.Register[6])
	assert.Equal(testStackTop-FRAME_HEADER-8, cpu.Stack.Sp())
}

func TestCpu_PopUnderflow(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		"pop r0",
		"halt",
	)

	fault := runFault(t, cpu)
	assert.Equal(FAULT_STACK_UNDERFLOW, fault.Kind)
	assert.True(errors.Is(fault, ErrStackUnderflow))
}

func TestCpu_StackOverflow(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		"main:",
		"call main",
	)

	fault := runFault(t, cpu)
	assert.Equal(FAULT_STACK_OVERFLOW, fault.Kind)
	assert.True(fault.Address < memory.STACK_BASE)
	assert.Equal(int(memory.STACK_SIZE/FRAME_HEADER), cpu.Stack.Depth())
	assert.Equal(cpu.Stack.Depth(), cpu.Stats.MaxDepth)
}

func TestCpu_Timeout(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		"loop:",
		"jump loop",
	)

	err := cpu.Run(1000)
	assert.True(errors.Is(err, ErrTimeout))
	assert.Equal(STATE_TIMEOUT, cpu.State)
	assert.Equal(STOP_BUDGET, cpu.Reason)
	assert.Equal(FAULT_TIMEOUT, cpu.Fault.Kind)
	assert.Equal(uint64(1000), cpu.Stats.Steps)

	err = cpu.Step()
	assert.ErrorIs(err, ErrNotRunning)
}

func TestCpu_AllocNoHeap(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		"write r0 16",
		"alloc",
		"free",
		"halt",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(memory.NULL, cpu.Register[0])
	assert.Equal(uint64(1), cpu.Stats.Allocs)
	assert.Equal(uint64(1), cpu.Stats.AllocFailures)
}

func TestCpu_AllocBump(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t,
		".data",
		".arena heap",
		"heap: .zero 32",
		".text",
		"main:",
		"write r0 16",
		"alloc",
		"write r1 r0",
		"write r0 16",
		"alloc",
		"write r2 r0",
		"write r0 16",
		"alloc",
		"write r3 r0",
		"write r0 0",
		"alloc",
		"halt",
	)

	err := cpu.Run(100)
	assert.NoError(err)
	assert.Equal(memory.DATA_BASE, cpu.Register[1])
	assert.Equal(memory.DATA_BASE+16, cpu.Register[2])
	assert.Equal(memory.NULL, cpu.Register[3])
	assert.Equal(memory.NULL, cpu.Register[0])
	assert.Equal(uint64(4), cpu.Stats.Allocs)
	assert.Equal(uint64(2), cpu.Stats.AllocFailures)
}

func TestCpu_ResetInvalidEntry(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t, "halt")

	err := cpu.Reset(memory.CODE_BASE + 2)
	var fault *Fault
	assert.True(errors.As(err, &fault))
	assert.Equal(FAULT_INVALID_TARGET, fault.Kind)
	assert.Equal(STATE_FAULTED, cpu.State)

	err = cpu.Step()
	assert.ErrorIs(err, ErrNotRunning)

	// A valid reset recovers.
	err = cpu.Reset(memory.CODE_BASE)
	assert.NoError(err)
	assert.NoError(cpu.Run(100))
	assert.Equal(STOP_HALT, cpu.Reason)
}

func TestCpu_String(t *testing.T) {
	assert := assert.New(t)

	cpu, _ := newTestCpu(t, "write r3 0xcafe", "halt")
	assert.NoError(cpu.Run(100))

	text := cpu.String()
	assert.Contains(text, "r3: 0000_CAFE")
	assert.Contains(text, "state: halted/halt")
	assert.Contains(text, "depth: 1")
}

func TestParseNames(t *testing.T) {
	assert := assert.New(t)

	for n := range _State_name {
		st, ok := ParseState(State(n).String())
		assert.True(ok)
		assert.Equal(State(n), st)
	}

	for n := range _StopReason_name {
		sr, ok := ParseStopReason(StopReason(n).String())
		assert.True(ok)
		assert.Equal(StopReason(n), sr)
	}

	for n := range _FaultKind_name {
		fk, ok := ParseFaultKind(FaultKind(n).String())
		assert.True(ok)
		assert.Equal(FaultKind(n), fk)
	}

	_, ok := ParseFaultKind("Bogus")
	assert.False(ok)
	assert.Equal("State(9)", State(9).String())
}
