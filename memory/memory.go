// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package memory implements the flat, segmented, byte addressable store
// backing a single run.
//
// Three disjoint segments are mapped: code (read and execute), data (read
// and write) and stack (read and write). Any access not fully contained in
// one mapped segment fails with ErrOutOfBounds, and any write touching the
// code segment fails with ErrWriteProtect. Multi-byte values are little
// endian, and unaligned accesses are permitted.
package memory

import (
	"encoding/binary"
	"log"

	"github.com/ezrec/r5vm/image"
)

// Segment is a contiguous mapped range.
type Segment struct {
	Name string
	Base uint32
	Data []byte
	Perm Perm
}

// End returns the first address past the segment.
func (seg *Segment) End() uint64 {
	return uint64(seg.Base) + uint64(len(seg.Data))
}

// Contains returns true if [addr, addr+size) is fully inside the segment.
func (seg *Segment) Contains(addr uint32, size int) bool {
	return addr >= seg.Base && uint64(addr)+uint64(size) <= seg.End()
}

// Overlaps returns true if any byte of [addr, addr+size) is inside the segment.
func (seg *Segment) Overlaps(addr uint32, size int) bool {
	return uint64(addr) < seg.End() && uint64(addr)+uint64(size) > uint64(seg.Base)
}

// Memory is the store of one run. It is not safe for concurrent use, and
// is never shared between runs.
type Memory struct {
	Verbose bool // If set, logs every write.

	Code  Segment
	Data  Segment
	Stack Segment
}

// Load materializes an image into a fresh memory with a zeroed stack
// segment of stackSize bytes.
func Load(img *image.Image, stackSize uint32) (mem *Memory, err error) {
	if stackSize == 0 || stackSize > STACK_LIMIT {
		err = ErrLayout
		return
	}

	mem = &Memory{
		Code: Segment{
			Name: "code",
			Base: img.CodeBase,
			Data: append([]byte(nil), img.Code...),
			Perm: PERM_READ | PERM_EXEC,
		},
		Data: Segment{
			Name: "data",
			Base: img.DataBase,
			Data: append([]byte(nil), img.Data...),
			Perm: PERM_READ | PERM_WRITE,
		},
		Stack: Segment{
			Name: "stack",
			Base: STACK_BASE,
			Data: make([]byte, stackSize),
			Perm: PERM_READ | PERM_WRITE,
		},
	}

	segs := mem.Segments()
	for n, a := range segs {
		if a.Base == NULL {
			mem, err = nil, ErrLayout
			return
		}
		for _, b := range segs[n+1:] {
			if len(a.Data) > 0 && a.Overlaps(b.Base, len(b.Data)) {
				mem, err = nil, ErrLayout
				return
			}
		}
	}

	return
}

// Segments returns the mapped segments in address order.
func (mem *Memory) Segments() []*Segment {
	return []*Segment{&mem.Code, &mem.Data, &mem.Stack}
}

// segment finds the segment fully containing an access.
func (mem *Memory) segment(addr uint32, size int) *Segment {
	for _, seg := range mem.Segments() {
		if seg.Contains(addr, size) {
			return seg
		}
	}
	return nil
}

// slice returns the backing bytes of an access, after bounds and
// permission checks.
func (mem *Memory) slice(addr uint32, size int, write bool) (data []byte, err error) {
	if write && mem.Code.Overlaps(addr, size) {
		err = &ErrAccess{Address: addr, Width: size, Write: true, Err: ErrWriteProtect}
		return
	}

	seg := mem.segment(addr, size)
	if seg == nil {
		err = &ErrAccess{Address: addr, Width: size, Write: write, Err: ErrOutOfBounds}
		return
	}

	offset := addr - seg.Base
	data = seg.Data[offset : offset+uint32(size)]
	return
}

// Read loads a 1, 2 or 4 byte little endian value, zero extended.
func (mem *Memory) Read(addr uint32, width int) (value uint32, err error) {
	if width != 1 && width != 2 && width != 4 {
		err = &ErrAccess{Address: addr, Width: width, Err: ErrWidth}
		return
	}

	data, err := mem.slice(addr, width, false)
	if err != nil {
		return
	}

	switch width {
	case 1:
		value = uint32(data[0])
	case 2:
		value = uint32(binary.LittleEndian.Uint16(data))
	case 4:
		value = binary.LittleEndian.Uint32(data)
	}

	return
}

// Write stores the low width bytes of value, little endian.
func (mem *Memory) Write(addr uint32, value uint32, width int) (err error) {
	if width != 1 && width != 2 && width != 4 {
		err = &ErrAccess{Address: addr, Width: width, Write: true, Err: ErrWidth}
		return
	}

	data, err := mem.slice(addr, width, true)
	if err != nil {
		return
	}

	if mem.Verbose {
		log.Printf("memory: write %#08x/%d = %#x", addr, width, value)
	}

	switch width {
	case 1:
		data[0] = uint8(value)
	case 2:
		binary.LittleEndian.PutUint16(data, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(data, value)
	}

	return
}

// Fetch reads an instruction word from an executable segment.
func (mem *Memory) Fetch(addr uint32) (word uint32, err error) {
	seg := mem.segment(addr, 4)
	if seg == nil || seg.Perm&PERM_EXEC == 0 {
		err = &ErrAccess{Address: addr, Width: 4, Err: ErrOutOfBounds}
		return
	}

	offset := addr - seg.Base
	word = binary.LittleEndian.Uint32(seg.Data[offset:])
	return
}

// Bytes returns a copy of n bytes starting at addr.
func (mem *Memory) Bytes(addr uint32, n int) (data []byte, err error) {
	if n == 0 {
		return []byte{}, nil
	}

	src, err := mem.slice(addr, n, false)
	if err != nil {
		return
	}

	data = append([]byte(nil), src...)
	return
}
