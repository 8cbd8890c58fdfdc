// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package harness

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ezrec/r5vm/cpu"
	"github.com/ezrec/r5vm/emulator"
)

//go:embed expectations.yaml
var expectations []byte

// ListExpect describes a linked list rooted at a data word.
type ListExpect struct {
	Head       string  `yaml:"head"`        // Symbol holding the first node pointer.
	DataOffset uint32  `yaml:"data_offset"` // Offset of the value in a node.
	NextOffset uint32  `yaml:"next_offset"` // Offset of the next pointer in a node.
	Values     []int32 `yaml:"values"`
}

// Expect is the expected outcome of a run. Unset fields are not checked.
type Expect struct {
	State        string              `yaml:"state"`
	Reason       string              `yaml:"reason"`
	Return       *int32              `yaml:"return"`
	Fault        string              `yaml:"fault"`
	FaultAddress *uint32             `yaml:"fault_address"`
	Words        map[string][]uint32 `yaml:"words"`
	List         *ListExpect         `yaml:"list"`
}

// Case is one entry of the expectation table.
type Case struct {
	Name          string            `yaml:"-"`
	Program       string            `yaml:"program"`
	Defines       map[string]string `yaml:"defines"`
	Budget        uint64            `yaml:"budget"`
	StackSize     uint32            `yaml:"stack_size"`
	AllocCapacity uint32            `yaml:"alloc_capacity"`
	Expect        Expect            `yaml:"expect"`
}

// Config applies the overrides of the case to a base configuration.
func (c *Case) Config(base emulator.Config) (cfg emulator.Config) {
	cfg = base
	if c.Budget != 0 {
		cfg.StepBudget = c.Budget
	}
	if c.StackSize != 0 {
		cfg.StackSize = c.StackSize
	}
	if c.AllocCapacity != 0 {
		cfg.AllocCapacity = c.AllocCapacity
	}
	return
}

// Table is the set of cases, by name.
type Table map[string]*Case

// LoadTable decodes an expectation table.
func LoadTable(data []byte) (table Table, err error) {
	err = yaml.Unmarshal(data, &table)
	if err != nil {
		return
	}

	for name, c := range table {
		if c == nil {
			err = fmt.Errorf("case %v: empty", name)
			return
		}
		c.Name = name
		if len(c.Program) == 0 {
			c.Program = name
		}
		_, err = c.Expect.state()
		if err != nil {
			err = fmt.Errorf("case %v: %w", name, err)
			return
		}
	}

	return
}

// DefaultTable returns the embedded expectation table.
func DefaultTable() (table Table, err error) {
	return LoadTable(expectations)
}

// Names returns the case names, sorted.
func (table Table) Names() []string {
	return slices.Sorted(maps.Keys(table))
}

// state parses the expected state, which defaults to halted.
func (expect *Expect) state() (st cpu.State, err error) {
	if len(expect.State) == 0 {
		return cpu.STATE_HALTED, nil
	}
	st, ok := cpu.ParseState(expect.State)
	if !ok {
		err = &ErrMismatch{Field: "state", Want: "running|halted|faulted|timeout", Got: expect.State}
	}
	return
}

// Check compares a result against an expectation, and joins every
// deviation into a single error.
func Check(result *emulator.Result, expect *Expect) (err error) {
	var errs []error

	want, err := expect.state()
	if err != nil {
		return
	}

	if result.State != want {
		errs = append(errs, &ErrMismatch{Field: "state", Want: want, Got: result.State})
		if result.Fault != nil && want == cpu.STATE_HALTED {
			// An unplanned fault makes the remaining checks meaningless.
			errs = append(errs, errors.Join(ErrUnexpectedStop, result.Fault))
			return errors.Join(errs...)
		}
	}

	if len(expect.Reason) != 0 && result.Reason.String() != expect.Reason {
		errs = append(errs, &ErrMismatch{Field: "reason", Want: expect.Reason, Got: result.Reason})
	}

	if expect.Return != nil && result.ReturnValue != *expect.Return {
		errs = append(errs, &ErrMismatch{Field: "return", Want: *expect.Return, Got: result.ReturnValue})
	}

	if len(expect.Fault) != 0 {
		var got cpu.FaultKind
		if result.Fault != nil {
			got = result.Fault.Kind
		}
		if got.String() != expect.Fault {
			errs = append(errs, &ErrMismatch{Field: "fault", Want: expect.Fault, Got: got})
		}
	}

	if expect.FaultAddress != nil {
		switch {
		case result.Fault == nil:
			errs = append(errs, &ErrMismatch{Field: "fault_address", Want: fmt.Sprintf("%#08x", *expect.FaultAddress), Got: "none"})
		case result.Fault.Address != *expect.FaultAddress:
			errs = append(errs, &ErrMismatch{Field: "fault_address", Want: fmt.Sprintf("%#08x", *expect.FaultAddress), Got: fmt.Sprintf("%#08x", result.Fault.Address)})
		}
	}

	for _, name := range slices.Sorted(maps.Keys(expect.Words)) {
		words := expect.Words[name]
		snap, ok := result.Snapshot(name)
		if !ok {
			errs = append(errs, ErrSymbolMissing(name))
			continue
		}
		got := snap.Words()
		if len(got) > len(words) {
			got = got[:len(words)]
		}
		if !slices.Equal(got, words) {
			errs = append(errs, &ErrMismatch{Field: "words " + name, Want: words, Got: got})
		}
	}

	if expect.List != nil {
		var got []int32
		got, err = WalkList(result, expect.List.Head, expect.List.DataOffset, expect.List.NextOffset, len(expect.List.Values))
		if err != nil {
			errs = append(errs, err)
			err = nil
		} else if !slices.Equal(got, expect.List.Values) {
			errs = append(errs, &ErrMismatch{Field: "list " + expect.List.Head, Want: expect.List.Values, Got: got})
		}
	}

	return errors.Join(errs...)
}

// WalkList collects the values of a linked list from the snapshots of a
// result. The walk stops at a NULL next pointer, and fails after more than
// limit+1 nodes.
func WalkList(result *emulator.Result, head string, dataOffset, nextOffset uint32, limit int) (values []int32, err error) {
	snap, ok := result.Snapshot(head)
	if !ok {
		err = ErrSymbolMissing(head)
		return
	}
	node, ok := snap.Word(0)
	if !ok {
		err = ErrSymbolMissing(head)
		return
	}

	for node != 0 {
		if len(values) > limit {
			err = ErrListCycle
			return
		}
		data, ok := result.Read(node + dataOffset)
		if !ok {
			err = &ErrMismatch{Field: "list node", Want: "captured address", Got: fmt.Sprintf("%#08x", node)}
			return
		}
		next, ok := result.Read(node + nextOffset)
		if !ok {
			err = &ErrMismatch{Field: "list node", Want: "captured address", Got: fmt.Sprintf("%#08x", node)}
			return
		}
		values = append(values, int32(data))
		node = next
	}

	return
}
