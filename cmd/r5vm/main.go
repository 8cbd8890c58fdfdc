// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ezrec/r5vm/emulator"
	"github.com/ezrec/r5vm/harness"
	"github.com/ezrec/r5vm/image"
)

// defineFlags collects repeated -D NAME=VALUE flags.
type defineFlags map[string]string

func (df defineFlags) String() string {
	var parts []string
	for key, value := range df {
		parts = append(parts, key+"="+value)
	}
	return strings.Join(parts, ",")
}

func (df defineFlags) Set(text string) error {
	key, value, ok := strings.Cut(text, "=")
	if !ok || len(key) == 0 {
		return fmt.Errorf("%v: expected NAME=VALUE", text)
	}
	df[key] = value
	return nil
}

func printResult(result *emulator.Result) {
	fmt.Printf("program: %v\n", result.Program)
	fmt.Printf("  state: %v (%v)\n", result.State, result.Reason)
	if result.Fault != nil {
		fmt.Printf("  fault: %v\n", result.Fault)
	} else {
		fmt.Printf(" return: %v\n", result.ReturnValue)
	}
	fmt.Printf("  steps: %v\n", result.Stats.Steps)
	fmt.Printf(" digest: %v\n", result.DigestString())
}

func main() {
	var list bool
	var cases string
	var workers int
	var logPath string
	var verbose bool
	var trace bool
	var assemble string
	var output string
	var imagePath string
	var budget uint64
	var stackSize uint
	defines := defineFlags{}

	flag.BoolVar(&list, "list", false, "List corpus cases")
	flag.StringVar(&cases, "case", "", "Comma separated cases to run (default all)")
	flag.IntVar(&workers, "j", 0, "Parallel runs (default one per cpu)")
	flag.StringVar(&logPath, "log", "", "Result log database to append reports to")
	flag.BoolVar(&verbose, "v", false, "Verbose mode")
	flag.BoolVar(&trace, "trace", false, "Trace every instruction")
	flag.StringVar(&assemble, "asm", "", ".s file to assemble and run")
	flag.StringVar(&output, "o", "", "Write the assembled image to a file, do not execute")
	flag.StringVar(&imagePath, "image", "", "Image file to run")
	flag.Uint64Var(&budget, "budget", emulator.STEP_BUDGET, "Instruction budget for -asm and -image")
	flag.UintVar(&stackSize, "stack", uint(emulator.DefaultConfig().StackSize), "Stack bytes for -asm and -image")
	flag.Var(defines, "D", "Assembler define NAME=VALUE for -asm (repeatable)")

	flag.Parse()

	if flag.NArg() != 0 {
		log.Fatalf("%v: Unknown arguments: %v", os.Args[0], flag.Args())
	}

	cfg := emulator.DefaultConfig()
	cfg.StepBudget = budget
	cfg.StackSize = uint32(stackSize)

	// Run a single program file.
	if len(assemble) != 0 || len(imagePath) != 0 {
		var img *image.Image
		if len(assemble) != 0 {
			text, err := os.ReadFile(assemble)
			if err != nil {
				log.Fatalf("%v: %v", assemble, err)
			}
			name := strings.TrimSuffix(filepath.Base(assemble), filepath.Ext(assemble))
			img, err = harness.Assemble(name, text, cfg, defines)
			if err != nil {
				log.Fatalf("%v: %v", assemble, err)
			}
		} else {
			inf, err := os.Open(imagePath)
			if err != nil {
				log.Fatalf("%v: %v", imagePath, err)
			}
			img, err = image.Read(inf)
			inf.Close()
			if err != nil {
				log.Fatalf("%v: %v", imagePath, err)
			}
		}

		if len(output) != 0 {
			ouf, err := os.Create(output)
			if err != nil {
				log.Fatalf("%v: %v", output, err)
			}
			err = img.Write(ouf)
			if err == nil {
				err = ouf.Close()
			}
			if err != nil {
				log.Fatalf("%v: %v", output, err)
			}
			return
		}

		emu, err := emulator.NewEmulator(img, cfg)
		if err != nil {
			log.Fatalf("%v: %v", img.Name, err)
		}
		if trace {
			emu.Verbose = true
			_ = emu.Reset()
		}

		result, err := emu.Run()
		printResult(result)
		if err != nil {
			log.Fatalf("%v: %v", img.Name, err)
		}
		return
	}

	h, err := harness.NewHarness()
	if err != nil {
		log.Fatal(err)
	}
	h.Verbose = verbose
	h.Debug = trace
	h.Workers = workers

	if list {
		for _, name := range h.Table.Names() {
			fmt.Printf("%-24s %v\n", name, h.Table[name].Program)
		}
		return
	}

	if len(logPath) != 0 {
		h.Log, err = harness.OpenResultLog(logPath)
		if err != nil {
			log.Fatalf("%v: %v", logPath, err)
		}
		defer h.Log.Close()
	}

	var names []string
	if len(cases) != 0 {
		names = strings.Split(cases, ",")
	}

	reports, err := h.RunAll(names...)
	if err != nil {
		log.Fatal(err)
	}

	for _, report := range reports {
		if report.Pass {
			fmt.Printf("PASS %-24s %v\n", report.Case, report.Digest)
		} else {
			fmt.Printf("FAIL %-24s %v\n", report.Case, report.Err)
		}
	}

	if !harness.Passed(reports) {
		if h.Log != nil {
			h.Log.Close()
		}
		os.Exit(1)
	}
}
