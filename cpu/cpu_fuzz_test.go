package cpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/r5vm/image"
	"github.com/ezrec/r5vm/memory"
)

func FuzzCode(f *testing.F) {
	f.Add(uint32(0))
	f.Add(uint32(0xffffffff))
	f.Add(MakeCodeMem(COND_TRUE, MEM_OP_STW, IR_IMMEDIATE_32, IR_FP, -4, 1).Word)
	f.Add(MakeCodeCtrl(COND_FALSE, CTRL_OP_CALL, IR_CONST_0, IR_IMMEDIATE_32, 1).Word)

	f.Fuzz(func(t *testing.T, word uint32) {
		assert := assert.New(t)

		code := Code{Word: word}
		if code.Class() == OP_MEM {
			op, reg, base, offset := code.MemDecode()
			assert.Equal(word, makeCode(code.Cond(), OP_MEM, int(op), reg, base, offset).Word)
			assert.True(offset >= CODE_OFF_MIN && offset <= CODE_OFF_MAX)
		} else {
			assert.Equal(word&^CODE_OFF_MASK, makeCode(code.Cond(), code.Class(), code.Op(), code.A(), code.B(), 0).Word)
		}

		assert.Equal(CODE_WORD_SIZE*(1+code.ImmediateNeed()), code.Size())
		assert.NotEmpty(code.String())
	})
}

func FuzzCpu(f *testing.F) {
	for _, op := range []CodeCtrlOp{CTRL_OP_JUMP, CTRL_OP_CALL, CTRL_OP_RETURN, CTRL_OP_POP} {
		f.Add(MakeCodeCtrl(COND_ALWAYS, op, IR_REG_R0, IR_REG_R1).Word, uint32(0x10000), uint32(0x100004))
	}
	f.Add(MakeCodeMem(COND_ALWAYS, MEM_OP_STW, IR_REG_R0, IR_REG_R1, 0).Word, uint32(0xcafe), memory.DATA_BASE)
	f.Add(uint32(0xffffffff), uint32(0), uint32(0))

	f.Fuzz(func(t *testing.T, word uint32, r0 uint32, r1 uint32) {
		assert := assert.New(t)

		code := Code{
			Word:       word,
			Immediates: []uint32{0x1B2B3B4B, 0x1A2A3A4A},
		}
		code.Immediates = code.Immediates[:code.ImmediateNeed()]

		img := &image.Image{
			Entry:      memory.CODE_BASE,
			CodeBase:   memory.CODE_BASE,
			Code:       MakeCodeExit(COND_ALWAYS).AppendBytes(code.AppendBytes(nil)),
			DataBase:   memory.DATA_BASE,
			Data:       make([]byte, 64),
			Boundaries: []uint32{memory.CODE_BASE, memory.CODE_BASE + uint32(code.Size())},
		}

		mem, err := memory.Load(img, 256)
		if err != nil {
			t.Fatal(err)
		}

		cpu := NewCpu(mem, img, nil)
		err = cpu.Reset(img.Entry)
		assert.NoError(err)
		cpu.Register[0] = r0
		cpu.Register[1] = r1

		err = cpu.Run(16)
		switch cpu.State {
		case STATE_HALTED:
			assert.NoError(err)
			assert.NotEqual(STOP_NONE, cpu.Reason)
		case STATE_FAULTED, STATE_TIMEOUT:
			var fault *Fault
			assert.True(errors.As(err, &fault))
			assert.Equal(cpu.Fault, fault)
			assert.NotEqual(FAULT_NONE, fault.Kind)
			assert.True(errors.Is(err, fault.Kind.Err()))
		default:
			t.Fatalf("cpu still running: %v", cpu)
		}

		// The stack never leaves its segment.
		assert.True(cpu.Stack.Sp() >= memory.STACK_BASE)
		assert.True(cpu.Stack.Sp() <= memory.STACK_BASE+256)
	})
}
