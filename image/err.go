// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package image

import (
	"errors"

	"github.com/ezrec/r5vm/translate"
)

var f = translate.From

var (
	ErrCodeEmpty     = errors.New(f("image has no code"))
	ErrBoundaryOrder = errors.New(f("instruction boundaries unsorted"))
	ErrArenaMissing  = errors.New(f("arena symbol missing"))
	ErrMagic         = errors.New(f("not an image file"))
	ErrVersion       = errors.New(f("unsupported image version"))
)

// ErrSymbolRange indicates a symbol that lies outside of its section.
type ErrSymbolRange struct {
	Name    string
	Address uint32
}

func (err *ErrSymbolRange) Error() string {
	return f("symbol %v at %#08x outside of its section", err.Name, err.Address)
}
