// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package alloc emulates a user-space monotonic bump allocator over a
// fixed backing region.
package alloc

import (
	"errors"
	"log"

	"github.com/ezrec/r5vm/translate"
)

var f = translate.From

// Null is returned by Alloc when the allocator is exhausted.
const Null = uint32(0)

var (
	ErrCapacity = errors.New(f("allocator capacity exceeds region"))
	ErrRegion   = errors.New(f("allocator region invalid"))
)

// Bump hands out strictly increasing addresses from [Base, Base+Capacity)
// and never reclaims them.
type Bump struct {
	Verbose bool   // If set, logs every allocation.
	Base    uint32 // First byte of the backing region.

	capacity uint32
	cursor   uint32
}

// NewBump creates an allocator over a region of regionSize bytes at base,
// of which only the first capacity bytes may be handed out.
func NewBump(base uint32, regionSize uint32, capacity uint32) (bump *Bump, err error) {
	if base == Null || uint64(base)+uint64(regionSize) > 1<<32 {
		err = ErrRegion
		return
	}
	if capacity > regionSize {
		err = ErrCapacity
		return
	}

	bump = &Bump{
		Base:     base,
		capacity: capacity,
	}

	return
}

// Alloc returns Base+cursor and advances the cursor by size if the
// request fits, otherwise returns Null and leaves the cursor unchanged.
// Zero sized requests return Null.
func (bump *Bump) Alloc(size uint32) (ptr uint32) {
	if size == 0 || uint64(bump.cursor)+uint64(size) > uint64(bump.capacity) {
		if bump.Verbose {
			log.Printf("alloc: %d bytes: exhausted (cursor %d of %d)", size, bump.cursor, bump.capacity)
		}
		return Null
	}

	ptr = bump.Base + bump.cursor
	bump.cursor += size

	if bump.Verbose {
		log.Printf("alloc: %d bytes at %#08x", size, ptr)
	}

	return
}

// Free does nothing. Memory is only reclaimed when the run ends.
func (bump *Bump) Free(ptr uint32) {
}

// Cursor returns the number of bytes handed out so far.
func (bump *Bump) Cursor() uint32 {
	return bump.cursor
}

// Capacity returns the allocation limit in bytes.
func (bump *Bump) Capacity() uint32 {
	return bump.capacity
}

// Remaining returns the number of bytes still available.
func (bump *Bump) Remaining() uint32 {
	return bump.capacity - bump.cursor
}
