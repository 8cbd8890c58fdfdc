// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package memory

import (
	"errors"

	"github.com/ezrec/r5vm/translate"
)

var f = translate.From

var (
	ErrOutOfBounds  = errors.New(f("out of bounds"))
	ErrWriteProtect = errors.New(f("write protect"))
	ErrWidth        = errors.New(f("invalid access width"))
	ErrLayout       = errors.New(f("segment layout invalid"))
)

// ErrAccess describes a failed memory access.
type ErrAccess struct {
	Address uint32
	Width   int
	Write   bool
	Err     error
}

func (err *ErrAccess) Error() string {
	op := "read"
	if err.Write {
		op = "write"
	}
	return f("%v of %v bytes at %#08x: %v", op, err.Width, err.Address, err.Err)
}

func (err *ErrAccess) Unwrap() error {
	return err.Err
}
