// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"iter"
	"slices"

	"github.com/ezrec/r5vm/image"
	"github.com/ezrec/r5vm/memory"
)

// Program is the output of the assembler.
type Program struct {
	Opcodes []Opcode
	Data    []byte         // Initial data segment.
	Symbols []image.Symbol // Labels, sorted by address.
	Entry   uint32         // Address of the entry function.
	Arena   string         // Data label backing the allocator.
}

// Debug locates the source of an instruction.
type Debug struct {
	*Opcode
	Index int
}

// Size returns the encoded size of all codes of the opcode.
func (op *Opcode) Size() (size uint32) {
	for _, code := range op.Codes {
		size += uint32(code.Size())
	}
	return
}

// Debug returns the opcode that generated the instruction at pc.
func (prog *Program) Debug(pc uint32) (dbg Debug) {
	for n, op := range prog.Opcodes {
		if pc < op.Ip || pc >= op.Ip+op.Size() {
			continue
		}
		ip := op.Ip
		for index, code := range op.Codes {
			if ip == pc {
				dbg = Debug{
					Opcode: &prog.Opcodes[n],
					Index:  index,
				}
				return
			}
			ip += uint32(code.Size())
		}
	}

	return
}

// Binary returns the encoded code segment.
func (prog *Program) Binary() (bins []byte) {
	for _, code := range prog.Codes() {
		bins = code.AppendBytes(bins)
	}

	return
}

// Codes iterates over every instruction, by address.
func (prog *Program) Codes() iter.Seq2[uint32, Code] {
	return func(yield func(pc uint32, code Code) bool) {
		for _, op := range prog.Opcodes {
			pc := op.Ip
			for _, code := range op.Codes {
				if !yield(pc, code) {
					return
				}
				pc += uint32(code.Size())
			}
		}
	}
}

// Image links the program into a loadable image.
func (prog *Program) Image(name string) (img *image.Image) {
	img = &image.Image{
		Name:     name,
		Entry:    prog.Entry,
		CodeBase: memory.CODE_BASE,
		Code:     prog.Binary(),
		DataBase: memory.DATA_BASE,
		Data:     slices.Clone(prog.Data),
		Symbols:  slices.Clone(prog.Symbols),
		Arena:    prog.Arena,
	}

	for _, op := range prog.Opcodes {
		pc := op.Ip
		for _, code := range op.Codes {
			img.Boundaries = append(img.Boundaries, pc)
			img.Lines = append(img.Lines, image.Line{Address: pc, LineNo: op.LineNo})
			pc += uint32(code.Size())
		}
	}

	return
}
