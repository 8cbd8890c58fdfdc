// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"log"
	"slices"

	"github.com/ezrec/r5vm/memory"
)

const (
	FRAME_HEADER = uint32(24) // Bytes reserved below the caller's sp by a call.
	FRAME_SAVED  = 4          // Callee-saved registers, r4 to r7.
	FRAME_FIRST  = 4          // Index of the first callee-saved register.

	EXIT_ADDRESS = uint32(0xffff_ffff) // Return address of the entry frame.
)

// Frame is the bookkeeping of one activation.
type Frame struct {
	ReturnAddress uint32
	FramePointer  uint32              // Frame base; locals are below it.
	SavedFp       uint32              // Caller's frame pointer.
	Saved         [FRAME_SAVED]uint32 // Caller's r4 to r7.
	Locals        uint32              // Words reserved by enter.
	EntrySp       uint32              // Caller's sp at the call.
	Floor         uint32              // Lowest sp a pop may return to.
}

// CallStack owns the stack segment and the sp and fp registers.
//
// The stack grows down from the top of the stack segment. Frame metadata
// is kept beside the segment, so guest stores into the header cannot
// corrupt a return.
type CallStack struct {
	Verbose bool

	memory *memory.Memory
	base   uint32
	top    uint32
	sp     uint32
	frames []Frame

	MaxDepth int // Deepest observed frame count.
}

// NewCallStack creates an empty call stack over a memory's stack segment.
func NewCallStack(mem *memory.Memory) (cs *CallStack) {
	cs = &CallStack{
		memory: mem,
		base:   mem.Stack.Base,
		top:    uint32(mem.Stack.End()),
	}
	cs.sp = cs.top

	return
}

// Sp returns the stack pointer.
func (cs *CallStack) Sp() uint32 {
	return cs.sp
}

// Fp returns the frame pointer of the active frame, or the top of the
// stack when there is none.
func (cs *CallStack) Fp() uint32 {
	if len(cs.frames) == 0 {
		return cs.top
	}
	return cs.frames[len(cs.frames)-1].FramePointer
}

// Depth returns the number of active frames.
func (cs *CallStack) Depth() int {
	return len(cs.frames)
}

// Frames returns a copy of the active frames, outermost first.
func (cs *CallStack) Frames() []Frame {
	return slices.Clone(cs.frames)
}

// floor returns the pop limit of the active frame.
func (cs *CallStack) floor() uint32 {
	if len(cs.frames) == 0 {
		return cs.top
	}
	return cs.frames[len(cs.frames)-1].Floor
}

// reserve lowers sp by size bytes.
func (cs *CallStack) reserve(size uint32) (sp uint32, err error) {
	next := int64(cs.sp) - int64(size)
	if next < int64(cs.base) {
		err = &ErrAddress{Address: uint32(next), Err: ErrStackOverflow}
		return
	}

	sp = uint32(next)
	cs.sp = sp
	return
}

// Call pushes a frame returning to returnAddress, saving the callee-saved
// registers of regs.
func (cs *CallStack) Call(returnAddress uint32, regs *[8]uint32) (err error) {
	entry := cs.sp
	savedFp := cs.Fp()

	sp, err := cs.reserve(FRAME_HEADER)
	if err != nil {
		return
	}

	frame := Frame{
		ReturnAddress: returnAddress,
		FramePointer:  sp,
		SavedFp:       savedFp,
		EntrySp:       entry,
		Floor:         sp,
	}
	copy(frame.Saved[:], regs[FRAME_FIRST:])

	// Mirror the header into the segment for inspection.
	words := []uint32{returnAddress, savedFp, frame.Saved[0], frame.Saved[1], frame.Saved[2], frame.Saved[3]}
	for n, word := range words {
		err = cs.memory.Write(sp+uint32(4*n), word, 4)
		if err != nil {
			cs.sp = entry
			return
		}
	}

	cs.frames = append(cs.frames, frame)
	cs.MaxDepth = max(cs.MaxDepth, len(cs.frames))

	if cs.Verbose {
		log.Printf("stack: call depth %v fp %#08x ret %#08x", len(cs.frames), sp, returnAddress)
	}

	return
}

// Enter reserves words of locals in the active frame.
func (cs *CallStack) Enter(words uint32) (err error) {
	if len(cs.frames) == 0 {
		err = &ErrAddress{Address: cs.sp, Err: ErrStackUnderflow}
		return
	}

	size := uint64(words) * 4
	if size > uint64(cs.sp) {
		err = &ErrAddress{Address: uint32(int64(cs.sp) - int64(size)), Err: ErrStackOverflow}
		return
	}

	sp, err := cs.reserve(uint32(size))
	if err != nil {
		return
	}

	frame := &cs.frames[len(cs.frames)-1]
	frame.Locals += words
	frame.Floor = sp

	return
}

// Push stores a word below sp.
func (cs *CallStack) Push(value uint32) (err error) {
	sp, err := cs.reserve(4)
	if err != nil {
		return
	}

	err = cs.memory.Write(sp, value, 4)
	if err != nil {
		cs.sp += 4
	}

	return
}

// Pop loads the word at sp. A pop may not cross into the active frame's
// header or locals.
func (cs *CallStack) Pop() (value uint32, err error) {
	if uint64(cs.sp)+4 > uint64(cs.floor()) {
		err = &ErrAddress{Address: cs.sp, Err: ErrStackUnderflow}
		return
	}

	value, err = cs.memory.Read(cs.sp, 4)
	if err != nil {
		return
	}

	cs.sp += 4
	return
}

// Return pops the active frame, restores the callee-saved registers of
// regs, and returns the address to resume at.
func (cs *CallStack) Return(regs *[8]uint32) (returnAddress uint32, err error) {
	if len(cs.frames) == 0 {
		err = &ErrAddress{Address: cs.sp, Err: ErrStackUnderflow}
		return
	}

	frame := cs.frames[len(cs.frames)-1]
	cs.frames = cs.frames[:len(cs.frames)-1]

	copy(regs[FRAME_FIRST:], frame.Saved[:])
	cs.sp = frame.EntrySp
	returnAddress = frame.ReturnAddress

	if cs.Verbose {
		log.Printf("stack: return depth %v ret %#08x", len(cs.frames), returnAddress)
	}

	return
}
