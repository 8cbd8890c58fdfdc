// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package harness

import (
	"log"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ezrec/r5vm/emulator"
)

// Report is the outcome of one case.
type Report struct {
	Case    string
	Program string
	Pass    bool
	Err     error  // Assembly error, or the joined deviations.
	Digest  string // Base58 digest of the result.
	Result  *emulator.Result
}

// Harness runs corpus cases against their expectations.
type Harness struct {
	Verbose bool            // If set, logs every run.
	Debug   bool            // If set, emulators log every instruction.
	Config  emulator.Config // Base configuration of every run.
	Table   Table
	Workers int        // Parallel runs; zero means one per cpu.
	Log     *ResultLog // Optional persistent record of reports.
}

// NewHarness creates a harness over the embedded corpus and table.
func NewHarness() (h *Harness, err error) {
	table, err := DefaultTable()
	if err != nil {
		return
	}

	h = &Harness{
		Config: emulator.DefaultConfig(),
		Table:  table,
	}

	return
}

// RunProgram assembles and runs a corpus program with the overrides of a
// case. Every call uses a fresh image, memory, allocator and cpu. Only
// failures to build or load are returned as errors; faults are part of
// the result.
func (h *Harness) RunProgram(id string, c *Case) (result *emulator.Result, err error) {
	text, err := Source(id)
	if err != nil {
		return
	}

	cfg := h.Config
	var defines map[string]string
	if c != nil {
		cfg = c.Config(cfg)
		defines = c.Defines
	}

	img, err := Assemble(id, text, cfg, defines)
	if err != nil {
		return
	}

	emu, err := emulator.NewEmulator(img, cfg)
	if err != nil {
		return
	}
	if h.Debug {
		// Reload, so the fresh memory and cpu also trace.
		emu.Verbose = true
		_ = emu.Reset()
	}

	result, run_err := emu.Run()
	if h.Verbose {
		if run_err != nil {
			log.Printf("harness: %v: %v", id, run_err)
		} else {
			log.Printf("harness: %v: %v (%v) r0=%#x steps=%v", id, result.State, result.Reason, uint32(result.ReturnValue), result.Stats.Steps)
		}
	}

	return
}

// RunCase runs one named case, and checks it.
func (h *Harness) RunCase(name string) (report Report) {
	report.Case = name

	c, ok := h.Table[name]
	if !ok {
		report.Err = ErrCaseUnknown(name)
		return
	}
	report.Program = c.Program

	result, err := h.RunProgram(c.Program, c)
	if err != nil {
		report.Err = err
		return
	}

	report.Result = result
	report.Digest = result.DigestString()
	report.Err = Check(result, &c.Expect)
	report.Pass = report.Err == nil

	if h.Verbose {
		status := "PASS"
		if !report.Pass {
			status = "FAIL"
		}
		log.Printf("harness: %v %v %v", status, name, report.Digest)
	}

	return
}

// RunAll runs the named cases, or every case when none are named, in
// parallel. Reports are in the order of the names. The error reports a
// failure to record reports, not failing cases.
func (h *Harness) RunAll(names ...string) (reports []Report, err error) {
	if len(names) == 0 {
		names = h.Table.Names()
	}

	workers := h.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	reports = make([]Report, len(names))

	var group errgroup.Group
	group.SetLimit(workers)
	for n, name := range names {
		group.Go(func() error {
			reports[n] = h.RunCase(name)
			return nil
		})
	}
	err = group.Wait()
	if err != nil {
		return
	}

	if h.Log != nil {
		for _, report := range reports {
			err = h.Log.Record(report)
			if err != nil {
				return
			}
		}
	}

	return
}

// Passed returns true if every report passed.
func Passed(reports []Report) bool {
	for _, report := range reports {
		if !report.Pass {
			return false
		}
	}
	return true
}
