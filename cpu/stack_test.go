package cpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/r5vm/image"
	"github.com/ezrec/r5vm/memory"
)

func newTestStack(t *testing.T, size uint32) (cs *CallStack, mem *memory.Memory) {
	img := &image.Image{
		CodeBase: memory.CODE_BASE,
		Code:     []byte{0, 0, 0, 0},
		DataBase: memory.DATA_BASE,
	}

	mem, err := memory.Load(img, size)
	if err != nil {
		t.Fatal(err)
	}

	cs = NewCallStack(mem)
	return
}

func TestCallStack_New(t *testing.T) {
	assert := assert.New(t)

	cs, _ := newTestStack(t, 64)

	top := memory.STACK_BASE + 64
	assert.Equal(top, cs.Sp())
	assert.Equal(top, cs.Fp())
	assert.Equal(0, cs.Depth())
	assert.Empty(cs.Frames())
}

func TestCallStack_CallReturn(t *testing.T) {
	assert := assert.New(t)

	cs, mem := newTestStack(t, 256)
	top := memory.STACK_BASE + 256

	regs := [8]uint32{0, 1, 2, 3, 0x44, 0x55, 0x66, 0x77}
	err := cs.Call(0x10010, &regs)
	assert.NoError(err)

	assert.Equal(1, cs.Depth())
	assert.Equal(top-FRAME_HEADER, cs.Sp())
	assert.Equal(top-FRAME_HEADER, cs.Fp())

	ret, err := mem.Read(cs.Sp(), 4)
	assert.NoError(err)
	assert.Equal(uint32(0x10010), ret)

	frame := cs.Frames()[0]
	assert.Equal(uint32(0x10010), frame.ReturnAddress)
	assert.Equal(top, frame.SavedFp)
	assert.Equal(top, frame.EntrySp)
	assert.Equal([FRAME_SAVED]uint32{0x44, 0x55, 0x66, 0x77}, frame.Saved)

	// Callee clobbers everything.
	for n := range regs {
		regs[n] = 0xdead
	}

	ret, err = cs.Return(&regs)
	assert.NoError(err)
	assert.Equal(uint32(0x10010), ret)
	assert.Equal([8]uint32{0xdead, 0xdead, 0xdead, 0xdead, 0x44, 0x55, 0x66, 0x77}, regs)
	assert.Equal(top, cs.Sp())
	assert.Equal(top, cs.Fp())
	assert.Equal(0, cs.Depth())
	assert.Equal(1, cs.MaxDepth)
}

func TestCallStack_Nested(t *testing.T) {
	assert := assert.New(t)

	cs, _ := newTestStack(t, 256)

	var regs [8]uint32
	assert.NoError(cs.Call(0x10000, &regs))
	outer := cs.Fp()
	assert.NoError(cs.Call(0x10004, &regs))
	assert.Equal(outer-FRAME_HEADER, cs.Fp())
	assert.Equal(outer, cs.Frames()[1].SavedFp)

	ret, err := cs.Return(&regs)
	assert.NoError(err)
	assert.Equal(uint32(0x10004), ret)
	assert.Equal(outer, cs.Fp())

	ret, err = cs.Return(&regs)
	assert.NoError(err)
	assert.Equal(uint32(0x10000), ret)
}

func TestCallStack_Overflow(t *testing.T) {
	assert := assert.New(t)

	cs, _ := newTestStack(t, 64)
	top := memory.STACK_BASE + 64

	var regs [8]uint32
	assert.NoError(cs.Call(0x10000, &regs))
	assert.NoError(cs.Call(0x10000, &regs))

	err := cs.Call(0x10000, &regs)
	assert.True(errors.Is(err, ErrStackOverflow))

	var ea *ErrAddress
	assert.True(errors.As(err, &ea))
	assert.Equal(top-3*FRAME_HEADER, ea.Address)

	// Failed call leaves the stack untouched.
	assert.Equal(2, cs.Depth())
	assert.Equal(top-2*FRAME_HEADER, cs.Sp())
}

func TestCallStack_Underflow(t *testing.T) {
	assert := assert.New(t)

	cs, _ := newTestStack(t, 64)

	var regs [8]uint32
	_, err := cs.Return(&regs)
	assert.True(errors.Is(err, ErrStackUnderflow))

	_, err = cs.Pop()
	assert.True(errors.Is(err, ErrStackUnderflow))

	err = cs.Enter(1)
	assert.True(errors.Is(err, ErrStackUnderflow))
}

func TestCallStack_PushPop(t *testing.T) {
	assert := assert.New(t)

	cs, _ := newTestStack(t, 256)

	var regs [8]uint32
	assert.NoError(cs.Call(0x10000, &regs))
	fp := cs.Fp()

	assert.NoError(cs.Push(1))
	assert.NoError(cs.Push(2))
	assert.Equal(fp-8, cs.Sp())
	assert.Equal(fp, cs.Fp())

	value, err := cs.Pop()
	assert.NoError(err)
	assert.Equal(uint32(2), value)

	value, err = cs.Pop()
	assert.NoError(err)
	assert.Equal(uint32(1), value)

	// The frame header is not poppable.
	_, err = cs.Pop()
	assert.True(errors.Is(err, ErrStackUnderflow))
	assert.Equal(fp, cs.Sp())
}

func TestCallStack_PushOverflow(t *testing.T) {
	assert := assert.New(t)

	cs, _ := newTestStack(t, 32)

	var regs [8]uint32
	assert.NoError(cs.Call(0x10000, &regs))
	assert.NoError(cs.Push(1))
	assert.NoError(cs.Push(2))

	err := cs.Push(3)
	assert.True(errors.Is(err, ErrStackOverflow))
	assert.Equal(memory.STACK_BASE, cs.Sp())
}

func TestCallStack_Enter(t *testing.T) {
	assert := assert.New(t)

	cs, mem := newTestStack(t, 256)

	var regs [8]uint32
	assert.NoError(cs.Call(0x10000, &regs))
	fp := cs.Fp()

	assert.NoError(cs.Enter(2))
	assert.Equal(fp-8, cs.Sp())
	assert.Equal(fp, cs.Fp())
	assert.Equal(uint32(2), cs.Frames()[0].Locals)

	// Locals are addressable below fp.
	assert.NoError(mem.Write(fp-4, 0x1234, 4))
	assert.NoError(mem.Write(fp-8, 0x5678, 4))

	// Locals are not poppable.
	_, err := cs.Pop()
	assert.True(errors.Is(err, ErrStackUnderflow))

	err = cs.Enter(0x1000)
	assert.True(errors.Is(err, ErrStackOverflow))
}

func TestCallStack_ReturnDiscards(t *testing.T) {
	assert := assert.New(t)

	cs, _ := newTestStack(t, 256)
	top := memory.STACK_BASE + 256

	var regs [8]uint32
	assert.NoError(cs.Push(0xaaaa))
	assert.NoError(cs.Call(0x10000, &regs))
	assert.NoError(cs.Enter(3))
	assert.NoError(cs.Push(1))
	assert.NoError(cs.Push(2))

	_, err := cs.Return(&regs)
	assert.NoError(err)
	assert.Equal(top-4, cs.Sp())

	value, err := cs.Pop()
	assert.NoError(err)
	assert.Equal(uint32(0xaaaa), value)
}
