// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package memory

// Fixed address map of a run. Page zero is never mapped.
const (
	CODE_BASE  = uint32(0x0001_0000) // Start of the code segment.
	DATA_BASE  = uint32(0x0010_0000) // Start of the data segment.
	STACK_BASE = uint32(0x0040_0000) // Start (lowest address) of the stack segment.

	CODE_LIMIT  = DATA_BASE - CODE_BASE   // Maximum code segment size.
	DATA_LIMIT  = STACK_BASE - DATA_BASE  // Maximum data segment size.
	STACK_LIMIT = uint32(0x0040_0000)     // Maximum stack segment size.
	STACK_SIZE  = uint32(64 * 1024)       // Default stack segment size.
	NULL        = uint32(0)               // Null pointer sentinel.
)

// Perm is a set of segment access permissions.
type Perm int

const (
	PERM_READ  = Perm(1 << 0)
	PERM_WRITE = Perm(1 << 1)
	PERM_EXEC  = Perm(1 << 2)
)

func (p Perm) String() string {
	text := []byte("---")
	if p&PERM_READ != 0 {
		text[0] = 'r'
	}
	if p&PERM_WRITE != 0 {
		text[1] = 'w'
	}
	if p&PERM_EXEC != 0 {
		text[2] = 'x'
	}
	return string(text)
}
