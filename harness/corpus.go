// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package harness

import (
	"bytes"
	"embed"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/ezrec/r5vm/cpu"
	"github.com/ezrec/r5vm/emulator"
	"github.com/ezrec/r5vm/image"
)

//go:embed corpus/*.s
var corpus embed.FS

// Programs returns the identifiers of the embedded corpus, sorted.
func Programs() (ids []string) {
	entries, err := fs.ReadDir(corpus, "corpus")
	if err != nil {
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if path.Ext(name) == ".s" {
			ids = append(ids, strings.TrimSuffix(name, ".s"))
		}
	}
	slices.Sort(ids)

	return
}

// Source returns the assembly text of a corpus program.
func Source(id string) (text []byte, err error) {
	text, err = corpus.ReadFile(path.Join("corpus", id+".s"))
	if err != nil {
		err = ErrProgramUnknown(id)
	}
	return
}

// Assemble builds an image from assembly text. The configuration's
// defines are visible to the source, as are the extra defines, which
// take precedence over them.
func Assemble(name string, text []byte, cfg emulator.Config, defines map[string]string) (img *image.Image, err error) {
	asm := &cpu.Assembler{}
	for key, value := range emulator.Defines(cfg) {
		asm.Predefine(key, value)
	}
	for key, value := range defines {
		asm.Predefine(key, value)
	}

	prog, err := asm.Parse(bytes.NewReader(text))
	if err != nil {
		err = &ErrAssemble{Program: name, Err: err}
		return
	}

	img = prog.Image(name)
	err = img.Validate()
	if err != nil {
		img = nil
		err = &ErrAssemble{Program: name, Err: err}
		return
	}

	return
}
