// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package emulator

import (
	"encoding/binary"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"

	"github.com/ezrec/r5vm/cpu"
)

// Snapshot is a copy of a data symbol at the end of a run.
type Snapshot struct {
	Name    string
	Address uint32
	Data    []byte
}

// Word returns the index'th little endian word of the snapshot.
func (snap *Snapshot) Word(index int) (value uint32, ok bool) {
	offset := index * 4
	if index < 0 || offset+4 > len(snap.Data) {
		return
	}
	return binary.LittleEndian.Uint32(snap.Data[offset:]), true
}

// Words returns every whole word of the snapshot.
func (snap *Snapshot) Words() (values []uint32) {
	for n := 0; n+4 <= len(snap.Data); n += 4 {
		values = append(values, binary.LittleEndian.Uint32(snap.Data[n:]))
	}
	return
}

// Result is the observable outcome of one run.
type Result struct {
	Program     string
	State       cpu.State
	Reason      cpu.StopReason
	ReturnValue int32 // r0 at a normal halt, else zero.
	Pc          uint32
	Registers   [8]uint32
	Snapshots   []Snapshot // By address.
	Fault       *cpu.Fault
	Stats       cpu.Stats
}

// Snapshot looks up a snapshot by symbol name.
func (result *Result) Snapshot(name string) (snap *Snapshot, ok bool) {
	for n := range result.Snapshots {
		if result.Snapshots[n].Name == name {
			return &result.Snapshots[n], true
		}
	}
	return
}

// Read loads a little endian word at addr from whichever snapshot
// contains it.
func (result *Result) Read(addr uint32) (value uint32, ok bool) {
	for n := range result.Snapshots {
		snap := &result.Snapshots[n]
		if addr < snap.Address || uint64(addr)+4 > uint64(snap.Address)+uint64(len(snap.Data)) {
			continue
		}
		return binary.LittleEndian.Uint32(snap.Data[addr-snap.Address:]), true
	}
	return
}

// Digest returns the blake3 hash of everything observable about the run.
// Identical runs have identical digests.
func (result *Result) Digest() (sum [32]byte) {
	var buf []byte

	appendString := func(text string) {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(text)))
		buf = append(buf, text...)
	}

	appendString(result.Program)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(result.State))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(result.Reason))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(result.ReturnValue))
	buf = binary.LittleEndian.AppendUint32(buf, result.Pc)
	for _, reg := range result.Registers {
		buf = binary.LittleEndian.AppendUint32(buf, reg)
	}

	for _, snap := range result.Snapshots {
		appendString(snap.Name)
		buf = binary.LittleEndian.AppendUint32(buf, snap.Address)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(snap.Data)))
		buf = append(buf, snap.Data...)
	}

	if result.Fault != nil {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(result.Fault.Kind))
		buf = binary.LittleEndian.AppendUint32(buf, result.Fault.Pc)
		buf = binary.LittleEndian.AppendUint32(buf, result.Fault.Address)
	}

	stats := result.Stats
	for _, count := range []uint64{
		stats.Steps, stats.Skipped, stats.Loads, stats.Stores,
		stats.Calls, stats.Returns, stats.BranchesTaken,
		stats.Allocs, stats.AllocFailures, uint64(stats.MaxDepth),
	} {
		buf = binary.LittleEndian.AppendUint64(buf, count)
	}

	return blake3.Sum256(buf)
}

// DigestString returns the base58 text of the digest.
func (result *Result) DigestString() string {
	sum := result.Digest()
	return base58.Encode(sum[:])
}
