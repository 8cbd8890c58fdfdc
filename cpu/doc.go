// Package cpu implements the execution engine, call stack and assembler of
// the r5vm.
//
// The CPU has a program counter, eight 32-bit general-purpose registers
// (r0-r7), an ALU, a conditional execution flag, and a call stack that owns
// the sp and fp registers. Instructions are one 32-bit word, followed by
// zero to two 32-bit immediates. Loads and stores go through the memory
// package, and the alloc and free services through an Allocator.
//
// The assembler provides a small assembly language for the instruction set,
// supporting macros, labels, equates, data sections, and compile-time
// expression evaluation.
package cpu
