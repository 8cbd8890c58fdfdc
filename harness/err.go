// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package harness

import (
	"errors"

	"github.com/ezrec/r5vm/translate"
)

var f = translate.From

var (
	ErrUnexpectedStop = errors.New(f("unexpected stop"))
	ErrListCycle      = errors.New(f("list does not terminate"))
	ErrLogClosed      = errors.New(f("result log closed"))
)

type ErrProgramUnknown string

func (err ErrProgramUnknown) Error() string {
	return f("program %v unknown", string(err))
}

type ErrCaseUnknown string

func (err ErrCaseUnknown) Error() string {
	return f("case %v unknown", string(err))
}

type ErrSymbolMissing string

func (err ErrSymbolMissing) Error() string {
	return f("symbol %v not captured", string(err))
}

// ErrAssemble is a failure to build a program image.
type ErrAssemble struct {
	Program string
	Err     error
}

func (err *ErrAssemble) Error() string {
	return f("program %v: %v", err.Program, err.Err)
}

func (err *ErrAssemble) Unwrap() error {
	return err.Err
}

// ErrMismatch is one deviation from an expectation.
type ErrMismatch struct {
	Field string
	Want  any
	Got   any
}

func (err *ErrMismatch) Error() string {
	return f("%v: want %v, got %v", err.Field, err.Want, err.Got)
}
