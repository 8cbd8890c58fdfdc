// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package emulator

import (
	"errors"
	"fmt"
	"iter"
	"log"
	"maps"
	"slices"

	"github.com/ezrec/r5vm/alloc"
	"github.com/ezrec/r5vm/cpu"
	"github.com/ezrec/r5vm/image"
	"github.com/ezrec/r5vm/internal"
	"github.com/ezrec/r5vm/memory"
)

const (
	STEP_BUDGET = uint64(10_000_000) // Default instruction budget of a run.
)

// Config bounds a single run.
type Config struct {
	StackSize     uint32   // Bytes of stack segment.
	StepBudget    uint64   // Instructions before a Timeout fault.
	AllocCapacity uint32   // Allocator limit; zero means the whole arena.
	Snapshot      []string // Data symbols to capture; empty means all.
}

// DefaultConfig returns the configuration used by the corpus.
func DefaultConfig() Config {
	return Config{
		StackSize:  memory.STACK_SIZE,
		StepBudget: STEP_BUDGET,
	}
}

// Defines returns an iterator over the assembler defines of a configuration.
func Defines(cfg Config) iter.Seq2[string, string] {
	emulator_defines := map[string]string{
		"STACK_SIZE":  fmt.Sprintf("%#x", cfg.StackSize),
		"STACK_TOP":   fmt.Sprintf("%#x", uint64(memory.STACK_BASE)+uint64(cfg.StackSize)),
		"STEP_BUDGET": fmt.Sprintf("%v", cfg.StepBudget),
	}

	return internal.IterSeq2Concat(maps.All(emulator_defines),
		cpu.Defines(),
	)
}

// Emulator state. Image + memory + CPU + allocator, for one run.
type Emulator struct {
	Verbose  bool         // If set, enables verbose logging.
	*cpu.Cpu              // Reference to the CPU simulation.
	Image    *image.Image // Reference to the loaded image.
	Heap     *alloc.Bump  // Allocator over the arena, if any.
	Config   Config
}

// NewEmulator creates a new emulator, ready to run an image. A fault while
// entering the entry point is reported by Run.
func NewEmulator(img *image.Image, cfg Config) (emu *Emulator, err error) {
	err = img.Validate()
	if err != nil {
		return
	}

	emu = &Emulator{
		Image:  img,
		Config: cfg,
	}

	err = emu.Reset()
	var fault *cpu.Fault
	if errors.As(err, &fault) {
		err = nil
	}
	if err != nil {
		emu = nil
		return
	}

	return
}

// Reset reloads the image into fresh memory, and rewinds the cpu to the
// entry point.
func (emu *Emulator) Reset() (err error) {
	mem, err := memory.Load(emu.Image, emu.Config.StackSize)
	if err != nil {
		return
	}
	mem.Verbose = emu.Verbose

	emu.Heap = nil
	if len(emu.Image.Arena) != 0 {
		sym, _ := emu.Image.Symbol(emu.Image.Arena)
		capacity := emu.Config.AllocCapacity
		if capacity == 0 {
			capacity = sym.Size
		}
		emu.Heap, err = alloc.NewBump(sym.Address, sym.Size, capacity)
		if err != nil {
			return
		}
		emu.Heap.Verbose = emu.Verbose
	}

	var heap cpu.Allocator
	if emu.Heap != nil {
		heap = emu.Heap
	}

	emu.Cpu = cpu.NewCpu(mem, emu.Image, heap)
	emu.Cpu.Verbose = emu.Verbose

	if emu.Verbose {
		log.Printf("emulator: %v: entry %#08x stack %#x budget %v", emu.Image.Name, emu.Image.Entry, emu.Config.StackSize, emu.Config.StepBudget)
	}

	err = emu.Cpu.Reset(emu.Image.Entry)
	return
}

// LineNo returns the current line number for the executing opcode.
func (emu *Emulator) LineNo() int {
	return emu.Image.LineNo(emu.Cpu.Pc)
}

// Code returns the current instruction code.
func (emu *Emulator) Code() (code cpu.Code) {
	code, _ = emu.Cpu.FetchCode()
	return
}

// Tick performs a single instruction of the emulator.
func (emu *Emulator) Tick() (done bool, err error) {
	lineno := emu.LineNo()
	defer func() {
		if err != nil {
			err = &ErrRuntime{LineNo: lineno, Err: err}
		}
	}()

	err = emu.Cpu.Step()
	done = emu.Cpu.State != cpu.STATE_RUNNING

	return
}

// Run executes until the program stops, and returns its result. A fault
// or timeout is also returned as an error, locating the faulting line.
func (emu *Emulator) Run() (result *Result, err error) {
	err = emu.Cpu.Run(emu.Config.StepBudget)
	if err == nil && emu.Cpu.Fault != nil {
		err = emu.Cpu.Fault
	}

	result = emu.Result()

	if err != nil {
		var fault *cpu.Fault
		lineno := 0
		if errors.As(err, &fault) {
			lineno = emu.Image.LineNo(fault.Pc)
		}
		err = &ErrRuntime{LineNo: lineno, Err: err}
	}

	return
}

// Result captures the observable state of the run.
func (emu *Emulator) Result() (result *Result) {
	result = &Result{
		Program:   emu.Image.Name,
		State:     emu.Cpu.State,
		Reason:    emu.Cpu.Reason,
		Pc:        emu.Cpu.Pc,
		Registers: emu.Cpu.Register,
		Fault:     emu.Cpu.Fault,
		Stats:     emu.Cpu.Stats,
	}

	if result.State == cpu.STATE_HALTED {
		result.ReturnValue = int32(emu.Cpu.Register[0])
	}

	for _, sym := range emu.Image.Symbols {
		if sym.Section != image.SECTION_DATA {
			continue
		}
		if len(emu.Config.Snapshot) != 0 && !slices.Contains(emu.Config.Snapshot, sym.Name) {
			continue
		}
		data, err := emu.Cpu.Memory.Bytes(sym.Address, int(sym.Size))
		if err != nil {
			// Symbols are validated against the data segment.
			continue
		}
		result.Snapshots = append(result.Snapshots, Snapshot{
			Name:    sym.Name,
			Address: sym.Address,
			Data:    data,
		})
	}

	return
}
