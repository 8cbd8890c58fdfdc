// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package image describes a finished, already-linked program image: the
// bytes of its code and data segments, the instruction boundaries inside
// the code, and the named data symbols the harness snapshots.
package image

import (
	"cmp"
	"slices"
)

// Section identifies which segment a symbol lives in.
type Section int

const (
	SECTION_TEXT = Section(0) // text
	SECTION_DATA = Section(1) // data
)

func (s Section) String() string {
	switch s {
	case SECTION_TEXT:
		return "text"
	case SECTION_DATA:
		return "data"
	}
	return "unknown"
}

// Symbol is a named, sized address range.
type Symbol struct {
	Name    string
	Address uint32
	Size    uint32
	Section Section
}

// Line maps the address of an instruction back to its source line.
type Line struct {
	Address uint32
	LineNo  int
}

// Image is an immutable program image.
type Image struct {
	Name       string   // Program identifier.
	Entry      uint32   // Address of the entry function.
	CodeBase   uint32   // Address of Code[0].
	Code       []byte   // Code segment contents.
	DataBase   uint32   // Address of Data[0].
	Data       []byte   // Data segment initial contents.
	Boundaries []uint32 // Sorted start addresses of every instruction.
	Symbols    []Symbol // Named symbols, sorted by address.
	Arena      string   // Data symbol backing the bump allocator, if any.
	Lines      []Line   // Source line table, sorted by address.
}

// IsInstruction returns true if addr is the first byte of an instruction.
func (img *Image) IsInstruction(addr uint32) bool {
	_, found := slices.BinarySearch(img.Boundaries, addr)
	return found
}

// CodeEnd returns the first address past the code segment.
func (img *Image) CodeEnd() uint32 {
	return img.CodeBase + uint32(len(img.Code))
}

// Symbol looks up a symbol by name.
func (img *Image) Symbol(name string) (sym Symbol, ok bool) {
	for _, s := range img.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return
}

// LineNo returns the source line of the instruction at addr, or 0.
func (img *Image) LineNo(addr uint32) int {
	n, found := slices.BinarySearchFunc(img.Lines, addr, func(line Line, addr uint32) int {
		return cmp.Compare(line.Address, addr)
	})
	if !found {
		return 0
	}
	return img.Lines[n].LineNo
}

// Validate checks the internal consistency of the image.
func (img *Image) Validate() (err error) {
	if len(img.Code) == 0 {
		return ErrCodeEmpty
	}

	if !slices.IsSorted(img.Boundaries) {
		return ErrBoundaryOrder
	}
	for _, addr := range img.Boundaries {
		if addr < img.CodeBase || addr >= img.CodeEnd() {
			return &ErrSymbolRange{Name: "<instruction>", Address: addr}
		}
	}

	if !img.IsInstruction(img.Entry) {
		return &ErrSymbolRange{Name: "<entry>", Address: img.Entry}
	}

	for _, sym := range img.Symbols {
		var base, size uint32
		switch sym.Section {
		case SECTION_TEXT:
			base, size = img.CodeBase, uint32(len(img.Code))
		case SECTION_DATA:
			base, size = img.DataBase, uint32(len(img.Data))
		}
		if sym.Address < base || uint64(sym.Address)+uint64(sym.Size) > uint64(base)+uint64(size) {
			return &ErrSymbolRange{Name: sym.Name, Address: sym.Address}
		}
	}

	if len(img.Arena) != 0 {
		sym, ok := img.Symbol(img.Arena)
		if !ok || sym.Section != SECTION_DATA {
			return ErrArenaMissing
		}
	}

	return
}
