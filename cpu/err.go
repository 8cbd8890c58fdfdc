// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"errors"

	"github.com/ezrec/r5vm/memory"
	"github.com/ezrec/r5vm/translate"
)

var f = translate.From

var (
	// Fault kinds
	ErrOutOfBounds        = memory.ErrOutOfBounds
	ErrWriteProtect       = memory.ErrWriteProtect
	ErrInvalidTarget      = errors.New(f("invalid target"))
	ErrInvalidInstruction = errors.New(f("invalid instruction"))
	ErrStackOverflow      = errors.New(f("stack overflow"))
	ErrStackUnderflow     = errors.New(f("stack underflow"))
	ErrTimeout            = errors.New(f("step budget exhausted"))

	// Cpu errors
	ErrNotRunning = errors.New(f("cpu not running"))

	// Instruction decode errors
	ErrOpcodeDecode = errors.New(f("decode"))
	ErrOpcodeCond   = errors.New(f("cond"))
	ErrOpcodeOp     = errors.New(f("op"))
	ErrOpcodeArg1   = errors.New(f("arg1"))
	ErrOpcodeArg2   = errors.New(f("arg2"))
	ErrOpcodeImm    = errors.New(f("imm"))

	// Assembler errors
	ErrEquateSyntax       = errors.New(f(".equ syntax"))
	ErrEquateDuplicate    = errors.New(f(".equ duplicated"))
	ErrLabelDuplicate     = errors.New(f("label duplicated"))
	ErrLabelSyntax        = errors.New(f("label syntax"))
	ErrMacroSyntax        = errors.New(f(".macro syntax"))
	ErrMacroNesting       = errors.New(f(".macro in .macro prohibited"))
	ErrMacroDuplicate     = errors.New(f(".macro duplicated"))
	ErrMacroLonely        = errors.New(f(".macro without .endm"))
	ErrMacroLonelyEndm    = errors.New(f(".endm without .macro"))
	ErrDirectiveSyntax    = errors.New(f("directive syntax"))
	ErrSectionInvalid     = errors.New(f("not permitted in this section"))
	ErrOpcodeExtraArgs    = errors.New(f("excessive arguments"))
	ErrOpcodeMissing      = errors.New(f("opcode missing"))
	ErrOpcodeValueMissing = errors.New(f("value missing"))
	ErrOpcodeInvalid      = errors.New(f("opcode invalid"))
	ErrOffsetRange        = errors.New(f("offset out of range"))
	ErrRegisterInvalid    = errors.New(f("register invalid"))
	ErrTargetMissing      = errors.New(f("target missing"))
	ErrTargetInvalid      = errors.New(f("target invalid"))
	ErrCodeEmpty          = errors.New(f("no instructions"))
)

// FaultKind classifies an abnormal stop.
type FaultKind int

const (
	FAULT_NONE                = FaultKind(iota) // None
	FAULT_OUT_OF_BOUNDS                         // OutOfBounds
	FAULT_WRITE_PROTECT                         // WriteProtectFault
	FAULT_INVALID_TARGET                        // InvalidTarget
	FAULT_INVALID_INSTRUCTION                   // InvalidInstruction
	FAULT_STACK_OVERFLOW                        // StackOverflow
	FAULT_STACK_UNDERFLOW                       // StackUnderflow
	FAULT_TIMEOUT                               // Timeout
)

var _FaultKind_name = [...]string{
	"None",
	"OutOfBounds",
	"WriteProtectFault",
	"InvalidTarget",
	"InvalidInstruction",
	"StackOverflow",
	"StackUnderflow",
	"Timeout",
}

var _FaultKind_err = [...]error{
	nil,
	ErrOutOfBounds,
	ErrWriteProtect,
	ErrInvalidTarget,
	ErrInvalidInstruction,
	ErrStackOverflow,
	ErrStackUnderflow,
	ErrTimeout,
}

func (fk FaultKind) String() string {
	if fk < 0 || int(fk) >= len(_FaultKind_name) {
		return f("FaultKind(%d)", int(fk))
	}
	return _FaultKind_name[fk]
}

// Err returns the sentinel error for the fault kind.
func (fk FaultKind) Err() error {
	if fk < 0 || int(fk) >= len(_FaultKind_err) {
		return ErrInvalidInstruction
	}
	return _FaultKind_err[fk]
}

// ParseFaultKind returns the fault kind with the given name.
func ParseFaultKind(name string) (fk FaultKind, ok bool) {
	for n, text := range _FaultKind_name {
		if text == name {
			return FaultKind(n), true
		}
	}
	return
}

// faultKindOf classifies an execution error.
func faultKindOf(err error) FaultKind {
	switch {
	case errors.Is(err, ErrTimeout):
		return FAULT_TIMEOUT
	case errors.Is(err, ErrInvalidInstruction):
		return FAULT_INVALID_INSTRUCTION
	case errors.Is(err, ErrWriteProtect):
		return FAULT_WRITE_PROTECT
	case errors.Is(err, ErrOutOfBounds):
		return FAULT_OUT_OF_BOUNDS
	case errors.Is(err, ErrInvalidTarget):
		return FAULT_INVALID_TARGET
	case errors.Is(err, ErrStackOverflow):
		return FAULT_STACK_OVERFLOW
	case errors.Is(err, ErrStackUnderflow):
		return FAULT_STACK_UNDERFLOW
	}
	return FAULT_INVALID_INSTRUCTION
}

// Fault is the terminal error of a faulted or timed out run.
type Fault struct {
	Kind    FaultKind
	Pc      uint32 // Address of the faulting instruction.
	Address uint32 // Offending address, or Pc when there is none.
	Err     error
}

func (err *Fault) Error() string {
	if err.Err == nil {
		return f("%v at pc %#08x address %#08x", err.Kind, err.Pc, err.Address)
	}
	return f("%v at pc %#08x address %#08x: %v", err.Kind, err.Pc, err.Address, err.Err)
}

func (err *Fault) Unwrap() []error {
	return []error{err.Kind.Err(), err.Err}
}

// ErrAddress attaches an offending address to an execution error.
type ErrAddress struct {
	Address uint32
	Err     error
}

func (err *ErrAddress) Error() string {
	return f("%#08x: %v", err.Address, err.Err)
}

func (err *ErrAddress) Unwrap() error {
	return err.Err
}

// ErrOpcode is an undecodable instruction.
type ErrOpcode Code

func (eo ErrOpcode) Error() string {
	return f("bad opcode %#08x %v", eo.Word, Code(eo).String())
}

func (eo ErrOpcode) Is(err error) (ok bool) {
	_, ok = err.(ErrOpcode)
	return
}

type ErrLabelMissing string

func (el ErrLabelMissing) Error() string {
	return f("label %v missing", string(el))
}

type ErrSyntax struct {
	LineNo int
	Line   string
	Err    error
}

func (err ErrSyntax) Error() string {
	return f("line %d '%v' %v", err.LineNo, err.Line, err.Err)
}

func (err ErrSyntax) Unwrap() error {
	return err.Err
}

type ErrParseNumber string

func (err ErrParseNumber) Error() string {
	return f("'%v' is not a number", string(err))
}

type ErrParseValue string

func (err ErrParseValue) Error() string {
	return f("'%v' is not a value or register", string(err))
}

type ErrParseCharacter string

func (err ErrParseCharacter) Error() string {
	return f("'%v' is not a character literal", string(err))
}

type ErrParseExpression string

func (err ErrParseExpression) Error() string {
	return f("$(%v) is not a valid expression", string(err))
}

type ErrMacro struct {
	Macro string
	Line  int
	Err   error
}

func (err ErrMacro) Error() string {
	return f("macro %v line %v %v", err.Macro, err.Line, err.Err.Error())
}

func (err ErrMacro) Unwrap() error {
	return err.Err
}
