// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/ezrec/r5vm/image"
	"github.com/ezrec/r5vm/memory"
)

// Macro represents a macro definition in the assembly language.
type Macro struct {
	LineNo int      // Line number of the macro definition.
	Args   []string // Arguments for the macro.
	Lines  []string // Lines of macro text to expand.
}

// Predefined system equates
var sysEquate = map[string]string{
	"LINENO":       "0",
	"CODE_BASE":    fmt.Sprintf("%#x", memory.CODE_BASE),
	"DATA_BASE":    fmt.Sprintf("%#x", memory.DATA_BASE),
	"STACK_BASE":   fmt.Sprintf("%#x", memory.STACK_BASE),
	"NULL":         fmt.Sprintf("%#x", memory.NULL),
	"FRAME_HEADER": fmt.Sprintf("%#x", FRAME_HEADER),
}

// labelRegexp matches words that may name a label.
var labelRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// dataLink is a data word patched with the address of a label.
type dataLink struct {
	Offset int
	Label  string
}

// Assembler is a single pass macro assembler for the r5vm instruction set.
type Assembler struct {
	Verbose bool     // If set, verbosely logs the assembler actions.
	Opcode  []Opcode // List of generated opcodes.

	predefine map[string]string   // Predefines
	Label     map[string]uint32   // Map of labels to addresses.
	Equate    map[string]string   // Map of equates.
	Macro     map[string](*Macro) // Map of macros.

	section   image.Section            // Current section.
	sections  map[string]image.Section // Section of each label.
	labels    []string                 // Labels in definition order.
	data      []byte                   // Data section contents.
	dataLinks []dataLink               // Data words to link.
	entry     string                   // .entry label
	arena     string                   // .arena label
	expanded  int                      // Macro expansions so far.
}

// Predefine defines a new equate or redefines an existing equate.
func (asm *Assembler) Predefine(equ string, value string) {
	if asm.predefine == nil {
		asm.predefine = map[string]string{equ: value}
	} else {
		asm.predefine[equ] = value
	}
}

// dstMap is a map of register names to writable IR codes.
var dstMap = map[string]CodeIR{
	"r0": IR_REG_R0,
	"r1": IR_REG_R1,
	"r2": IR_REG_R2,
	"r3": IR_REG_R3,
	"r4": IR_REG_R4,
	"r5": IR_REG_R5,
	"r6": IR_REG_R6,
	"r7": IR_REG_R7,
}

// valueOf returns the value of a simple word.
func (asm *Assembler) valueOf(word string) (value uint32, err error) {
	if len(word) == 0 {
		err = ErrOpcodeValueMissing
		return
	}

	invert := false
	if word[0] == '~' {
		invert = true
		word = word[1:]
	}
	if len(word) > 1 && word[0] == '\'' {
		// Character quotes should have been expanded into
		// values in parseLine()
		err = ErrParseCharacter(word[1 : len(word)-1])
		return
	}
	v64, err := strconv.ParseInt(word, 0, 64)
	if err != nil || v64 > 0xffffffff || v64 < -int64(0x80000000) {
		err = ErrParseNumber(word)
		return
	}

	value = uint32(v64)

	if invert {
		value = ^value
	}

	return
}

// The readable sources. Immediates are handled separately.
var irMap = map[string]CodeIR{
	"r0": IR_REG_R0,
	"r1": IR_REG_R1,
	"r2": IR_REG_R2,
	"r3": IR_REG_R3,
	"r4": IR_REG_R4,
	"r5": IR_REG_R5,
	"r6": IR_REG_R6,
	"r7": IR_REG_R7,
	"sp": IR_SP,
	"fp": IR_FP,
	"pc": IR_PC,
}

// irOrImm determines if a value can be encoded as an CodeIR, or an
// immediate. Label references are returned as a link.
func (asm *Assembler) irOrImm(word string) (ir CodeIR, imms []uint32, link string, err error) {
	ir, is_ir := irMap[word]
	if is_ir {
		// known value source - we're done!
		return
	}

	value, err := asm.valueOf(word)
	if err != nil {
		if !labelRegexp.MatchString(word) {
			return
		}
		// Resolved at link time.
		err = nil
		ir = IR_IMMEDIATE_32
		imms = []uint32{0}
		link = word
		return
	}

	// Determine if encodable immediate, or if it
	// needs to be packed into the opcode words.
	switch value {
	case 0:
		ir = IR_CONST_0
	case 0xffffffff:
		ir = IR_CONST_FFFFFFFF
	default:
		ir = IR_IMMEDIATE_32
		imms = []uint32{value}
	}

	return
}

// operands accumulates the immediates and links of one instruction.
type operands struct {
	imms  []uint32
	links []Link
}

// source parses a readable operand.
func (asm *Assembler) source(ops *operands, word string) (ir CodeIR, err error) {
	ir, imms, link, err := asm.irOrImm(word)
	if err != nil {
		return
	}
	if len(link) != 0 {
		ops.links = append(ops.links, Link{Immediate: len(ops.imms), Label: link})
	}
	ops.imms = append(ops.imms, imms...)
	return
}

// parentEval does compile-time $(...) evaluations
func (asm *Assembler) parenEval(expr string) (value uint32, err error) {
	thread := starlark.Thread{}
	opts := syntax.FileOptions{}
	pred := starlark.StringDict{}
	for key, str := range asm.Equate {
		var value32 uint32
		value32, err = asm.valueOf(str)
		if err != nil {
			// Ignore non-integer equates. They may be registers
			// or something else.
			continue
		}
		pred[key] = starlark.MakeInt64(int64(value32))
	}
	err = nil
	prog := "rc=" + expr + "\n"
	dict, err := starlark.ExecFileOptions(&opts, &thread, "expr", prog, pred)
	if err != nil {
		return
	}
	st_rc, ok := dict["rc"]
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int, ok := st_rc.(starlark.Int)
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int64, ok := st_int.Int64()
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	value = uint32(st_int64)
	return
}

// here returns the address of the next byte in the current section.
func (asm *Assembler) here() uint32 {
	if asm.section == image.SECTION_DATA {
		return memory.DATA_BASE + uint32(len(asm.data))
	}
	return asm.currentIp()
}

// parseLine parses a single line as an opcode.
func (asm *Assembler) parseLine(line string, lineno int) (words []string, err error) {
	// Set line number.
	asm.Equate["LINENO"] = fmt.Sprintf("%v", lineno)

	// Do 'x' evaluations
	re := regexp.MustCompile(`'\\?[^']'`)
	line = re.ReplaceAllStringFunc(line, func(word string) string {
		str := word[1 : len(word)-1]
		if str[0] == '\\' {
			str = str[1:]
			switch str {
			case "\\":
				str = "\\"
			case "n":
				str = "\n"
			case "r":
				str = "\r"
			case "e":
				str = "\033"
			case "0":
				str = "\000"
			default:
				return word
			}
		} else if len(str) != 1 {
			return word
		}
		return fmt.Sprintf("%v", str[0])
	})

	// Do $() evaluations
	re = regexp.MustCompile(`\$\([^\$]*\)`)
	line = re.ReplaceAllStringFunc(line, func(str string) string {
		value, _err := asm.parenEval(str[2 : len(str)-1])
		if _err != nil {
			err = _err
		}
		return fmt.Sprintf("%#v", value)
	})
	if err != nil {
		return
	}

	words = strings.Fields(line)

	if len(words) == 0 {
		return
	}

	// .equ CONST VALUE
	// .default CONST VALUE
	if words[0] == ".equ" || words[0] == ".default" {
		if len(words) != 3 {
			err = ErrEquateSyntax
			return
		}
		_, ok := asm.Equate[words[1]]
		switch {
		case ok && words[0] == ".equ":
			err = ErrEquateDuplicate
			return
		case !ok:
			asm.Equate[words[1]] = words[2]
		}
		words = words[:0]
		return
	}

	for n, word := range words {
		// Check for equate next
		equate, ok := asm.Equate[word]
		if ok {
			words[n] = equate
		}
	}

	for strings.HasSuffix(words[0], ":") {
		label := words[0][:len(words[0])-1]
		if !labelRegexp.MatchString(label) {
			err = ErrLabelSyntax
			return
		}
		_, ok := asm.Label[label]
		if ok {
			err = ErrLabelDuplicate
			return
		}

		asm.Label[label] = asm.here()
		asm.sections[label] = asm.section
		asm.labels = append(asm.labels, label)
		words = words[1:]
		if len(words) == 0 {
			return
		}
	}

	// .macro processing
	macro, ok := asm.Macro[words[0]]
	if ok {
		name := words[0]

		args := words[1:]
		if len(args) != len(macro.Args) {
			err = ErrMacroSyntax
			return
		}
		// Turn args into equs
		old_equate := maps.Clone(asm.Equate)
		for n, arg := range macro.Args {
			asm.Equate[arg] = words[1+n]
		}
		defer func() { asm.Equate = old_equate }()

		// Local labels are unique to each expansion.
		asm.expanded++
		local := fmt.Sprintf("%v_%v_", name, asm.expanded)

		for n, line := range macro.Lines {
			lineno := macro.LineNo + n

			line = strings.ReplaceAll(line, "@", local)
			words, err = asm.parseLine(line, lineno)
			if err != nil {
				err = &ErrMacro{Macro: name, Line: lineno, Err: err}
				err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
				return
			}

			err = asm.parseWords(words, macro.LineNo+n)
			if err != nil {
				err = &ErrMacro{Macro: name, Line: lineno, Err: err}
				err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
				return
			}
		}

		words = nil
		return
	}

	return
}

// currentIp gets the address of the next instruction.
func (asm *Assembler) currentIp() uint32 {
	if len(asm.Opcode) == 0 {
		return memory.CODE_BASE
	}

	last := &asm.Opcode[len(asm.Opcode)-1]

	return last.Ip + last.Size()
}

// Parse parses an input stream into a Program containing opcodes.
func (asm *Assembler) Parse(input io.Reader) (prog *Program, err error) {

	scanner := bufio.NewScanner(input)

	var line string
	var lineno int
	var macro *Macro

	defer func() {
		if err != nil && lineno > 0 {
			err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
		}
	}()

	asm.Label = make(map[string]uint32, 16)
	asm.sections = make(map[string]image.Section, 16)
	asm.labels = asm.labels[:0]
	asm.Opcode = asm.Opcode[:0]
	asm.Macro = make(map[string](*Macro))
	asm.Equate = maps.Clone(sysEquate)
	for attr, val := range asm.predefine {
		asm.Equate[attr] = val
	}
	asm.section = image.SECTION_TEXT
	asm.data = nil
	asm.dataLinks = nil
	asm.entry = ""
	asm.arena = ""
	asm.expanded = 0

	for scanner.Scan() {
		text := scanner.Text()
		lineno += 1

		if asm.Verbose {
			log.Printf("%v: %v\n", lineno, text)
		}

		text_comment := strings.Split(text, ";")
		line = strings.TrimSpace(text_comment[0])
		words := strings.Fields(line)

		// .macro NAME arg...
		if len(words) > 0 && words[0] == ".macro" {
			if macro != nil {
				err = ErrMacroNesting
				return
			}
			if len(words) < 2 {
				err = ErrMacroSyntax
				return
			}
			_, ok := asm.Macro[words[1]]
			if ok {
				err = ErrMacroDuplicate
				return
			}
			macro = &Macro{
				LineNo: lineno + 1,
			}
			if len(words) > 2 {
				macro.Args = words[2:]
			}
			asm.Macro[words[1]] = macro
			continue
		}

		if len(words) > 0 && words[0] == ".endm" {
			if macro == nil {
				err = ErrMacroLonelyEndm
				return
			}
			macro = nil
			continue
		}

		if macro != nil {
			macro.Lines = append(macro.Lines, line)
			continue
		}

		words, err = asm.parseLine(line, lineno)
		if err != nil {
			return
		}

		err = asm.parseWords(words, lineno)
		if err != nil {
			return
		}
	}

	err = scanner.Err()
	if err != nil {
		return
	}

	if macro != nil {
		err = ErrMacroLonely
		return
	}

	line = ""
	lineno = 0

	prog, err = asm.link()
	return
}

// link resolves label references, and builds the program.
func (asm *Assembler) link() (prog *Program, err error) {
	// Final linking of labels.
	for n := range asm.Opcode {
		op := &asm.Opcode[n]
		for _, link := range op.Links {
			addr, ok := asm.Label[link.Label]
			if !ok {
				err = &ErrSyntax{LineNo: op.LineNo, Line: strings.Join(op.Words, " "), Err: ErrLabelMissing(link.Label)}
				return
			}
			op.Codes[link.Code].Immediates[link.Immediate] = addr
		}
	}

	for _, link := range asm.dataLinks {
		addr, ok := asm.Label[link.Label]
		if !ok {
			err = ErrLabelMissing(link.Label)
			return
		}
		binary.LittleEndian.PutUint32(asm.data[link.Offset:], addr)
	}

	prog = &Program{
		Opcodes: slices.Clone(asm.Opcode),
		Data:    slices.Clone(asm.data),
		Arena:   asm.arena,
		Entry:   memory.CODE_BASE,
	}

	entry := asm.entry
	if len(entry) == 0 {
		if _, ok := asm.Label["main"]; ok {
			entry = "main"
		}
	}
	if len(entry) != 0 {
		addr, ok := asm.Label[entry]
		if !ok || asm.sections[entry] != image.SECTION_TEXT {
			err = ErrLabelMissing(entry)
			return
		}
		prog.Entry = addr
	}

	if len(asm.arena) != 0 {
		if asm.sections[asm.arena] != image.SECTION_DATA {
			err = ErrLabelMissing(asm.arena)
			return
		}
	}

	// Symbols extend to the next greater address in their section.
	ends := map[image.Section]uint32{
		image.SECTION_TEXT: asm.currentIp(),
		image.SECTION_DATA: memory.DATA_BASE + uint32(len(asm.data)),
	}
	for _, label := range asm.labels {
		section := asm.sections[label]
		addr := asm.Label[label]
		end := ends[section]
		for other, other_addr := range asm.Label {
			if asm.sections[other] == section && other_addr > addr && other_addr < end {
				end = other_addr
			}
		}
		prog.Symbols = append(prog.Symbols, image.Symbol{
			Name:    label,
			Address: addr,
			Size:    end - addr,
			Section: section,
		})
	}
	slices.SortStableFunc(prog.Symbols, func(a, b image.Symbol) int {
		return cmp.Compare(a.Address, b.Address)
	})

	return
}

// aluMap maps ALU opcode names.
var aluMap = map[string]CodeAluOp{
	"set": ALU_OP_SET,
	"add": ALU_OP_ADD,
	"sub": ALU_OP_SUB,
	"mul": ALU_OP_MUL,
	"and": ALU_OP_AND,
	"or":  ALU_OP_OR,
	"xor": ALU_OP_XOR,
	"shl": ALU_OP_SHL,
	"shr": ALU_OP_SHR,
	"sra": ALU_OP_SRA,
}

// condMap maps comparisons, and if their arguments are swapped.
var condMap = map[string]struct {
	op   CodeCondOp
	swap bool
}{
	"eq?":  {COND_OP_EQ, false},
	"ne?":  {COND_OP_NE, false},
	"lt?":  {COND_OP_LT, false},
	"le?":  {COND_OP_LE, false},
	"gt?":  {COND_OP_LT, true},
	"ge?":  {COND_OP_LE, true},
	"ltu?": {COND_OP_LTU, false},
	"leu?": {COND_OP_LEU, false},
	"gtu?": {COND_OP_LTU, true},
	"geu?": {COND_OP_LEU, true},
}

// memMap maps load and store opcode names.
var memMap = map[string]CodeMemOp{
	"ldb":  MEM_OP_LDB,
	"ldbu": MEM_OP_LDBU,
	"ldh":  MEM_OP_LDH,
	"ldhu": MEM_OP_LDHU,
	"ldw":  MEM_OP_LDW,
	"stb":  MEM_OP_STB,
	"sth":  MEM_OP_STH,
	"stw":  MEM_OP_STW,
}

// parseDirective evaluates a section or data directive.
func (asm *Assembler) parseDirective(words []string) (err error) {
	in_data := func() error {
		if asm.section != image.SECTION_DATA {
			return ErrSectionInvalid
		}
		return nil
	}

	switch words[0] {
	case ".text":
		if len(words) != 1 {
			return ErrOpcodeExtraArgs
		}
		asm.section = image.SECTION_TEXT
	case ".data":
		if len(words) != 1 {
			return ErrOpcodeExtraArgs
		}
		asm.section = image.SECTION_DATA
	case ".word", ".byte":
		err = in_data()
		if err != nil {
			return
		}
		if len(words) < 2 {
			return ErrOpcodeValueMissing
		}
		for _, word := range words[1:] {
			value, v_err := asm.valueOf(word)
			if v_err != nil {
				if words[0] != ".word" || !labelRegexp.MatchString(word) {
					return v_err
				}
				asm.dataLinks = append(asm.dataLinks, dataLink{Offset: len(asm.data), Label: word})
			}
			if words[0] == ".byte" {
				asm.data = append(asm.data, byte(value))
			} else {
				asm.data = binary.LittleEndian.AppendUint32(asm.data, value)
			}
		}
	case ".zero":
		err = in_data()
		if err != nil {
			return
		}
		if len(words) != 2 {
			return ErrDirectiveSyntax
		}
		var size uint32
		size, err = asm.valueOf(words[1])
		if err != nil {
			return
		}
		if uint64(len(asm.data))+uint64(size) > uint64(memory.DATA_LIMIT) {
			return ErrDirectiveSyntax
		}
		asm.data = append(asm.data, make([]byte, size)...)
	case ".align":
		err = in_data()
		if err != nil {
			return
		}
		if len(words) != 2 {
			return ErrDirectiveSyntax
		}
		var align uint32
		align, err = asm.valueOf(words[1])
		if err != nil {
			return
		}
		if align == 0 || align&(align-1) != 0 {
			return ErrDirectiveSyntax
		}
		for uint32(len(asm.data))%align != 0 {
			asm.data = append(asm.data, 0)
		}
	case ".entry":
		if len(words) != 2 || !labelRegexp.MatchString(words[1]) {
			return ErrDirectiveSyntax
		}
		asm.entry = words[1]
	case ".arena":
		if len(words) != 2 || !labelRegexp.MatchString(words[1]) {
			return ErrDirectiveSyntax
		}
		asm.arena = words[1]
	default:
		return ErrOpcodeInvalid
	}

	return
}

// parseWords evaluates the words in a line of assembly text.
func (asm *Assembler) parseWords(words []string, lineno int) (err error) {
	var codes []Code
	var links []Link

	// no-op
	if len(words) == 0 {
		return
	}

	if strings.HasPrefix(words[0], ".") {
		return asm.parseDirective(words)
	}

	if asm.section != image.SECTION_TEXT {
		return ErrSectionInvalid
	}

	initial_words := words

	defer func() {
		if len(codes) == 0 {
			return
		}
		opcode := Opcode{LineNo: lineno, Ip: asm.currentIp(), Words: initial_words, Codes: codes, Links: links}
		asm.Opcode = append(asm.Opcode, opcode)
	}()

	cond := COND_ALWAYS

	switch words[0] {
	case "?":
		cond = COND_TRUE
		words = words[1:]
	case "!":
		cond = COND_FALSE
		words = words[1:]
	}

	if len(words) == 0 {
		err = ErrOpcodeMissing
		return
	}

	var word_is_dst bool
	if len(words) >= 2 {
		_, word_is_dst = dstMap[words[1]]
	}
	_, word_is_alu := aluMap[words[0]]

	// Alternate syntax substitutions
	switch {
	case len(words) >= 2 && words[0] == "write" && word_is_dst:
		// write <dst> VALUE => alu set <dst> VALUE
		words = append([]string{"alu", "set"}, words[1:]...)
	case word_is_alu:
		// OP <dst> VALUE => alu OP <dst> VALUE
		words = append([]string{"alu"}, words...)
	case len(words) == 3 && words[0] == "if" && words[1] == "true?":
		// if true? SRCA => if ne? SRCA 0
		words = []string{"if", "ne?", words[2], "0"}
	case len(words) == 3 && words[0] == "if" && words[1] == "false?":
		// if false? SRCA => if eq? SRCA 0
		words = []string{"if", "eq?", words[2], "0"}
	case len(words) == 1 && words[0] == "exit":
		words = []string{"halt"}
	case len(words) == 1 && words[0] == "nop":
		words = []string{"alu", "or", "r0", "0"}
	default:
		// unchanged
	}

	var ops operands
	emit := func(code Code) {
		for _, link := range ops.links {
			link.Code = len(codes)
			links = append(links, link)
		}
		codes = append(codes, code)
		ops = operands{}
	}

	no_args := func(n int) error {
		if len(words) > n {
			return ErrOpcodeExtraArgs
		}
		if len(words) < n {
			return ErrOpcodeValueMissing
		}
		return nil
	}

	if mem_op, ok := memMap[words[0]]; ok {
		// OP REG BASE [OFFSET]
		if len(words) < 3 {
			err = ErrOpcodeValueMissing
			return
		}
		if len(words) > 4 {
			err = ErrOpcodeExtraArgs
			return
		}
		var reg CodeIR
		if mem_op.Store() {
			reg, err = asm.source(&ops, words[1])
			if err != nil {
				return
			}
		} else {
			reg, ok = dstMap[words[1]]
			if !ok {
				err = ErrTargetInvalid
				return
			}
		}
		var base CodeIR
		base, err = asm.source(&ops, words[2])
		if err != nil {
			return
		}
		var offset int32
		if len(words) == 4 {
			var value uint32
			value, err = asm.valueOf(words[3])
			if err != nil {
				return
			}
			offset = int32(value)
			if offset < CODE_OFF_MIN || offset > CODE_OFF_MAX {
				err = ErrOffsetRange
				return
			}
		}
		emit(MakeCodeMem(cond, mem_op, reg, base, offset, ops.imms...))
		return
	}

	switch words[0] {
	case "if":
		if len(words) < 4 {
			err = ErrOpcodeValueMissing
			return
		}
		if len(words) > 4 {
			err = ErrOpcodeExtraArgs
			return
		}
		cmp_op, ok := condMap[words[1]]
		if !ok {
			err = ErrOpcodeInvalid
			return
		}
		x, y := words[2], words[3]
		if cmp_op.swap {
			x, y = y, x
		}
		var a, b CodeIR
		a, err = asm.source(&ops, x)
		if err != nil {
			return
		}
		b, err = asm.source(&ops, y)
		if err != nil {
			return
		}
		emit(MakeCodeCond(cond, cmp_op.op, a, b, ops.imms...))
	case "alu":
		if len(words) < 4 {
			err = ErrOpcodeValueMissing
			return
		}
		if len(words) > 4 {
			err = ErrOpcodeExtraArgs
			return
		}
		alu, ok := aluMap[words[1]]
		if !ok {
			err = ErrOpcodeInvalid
			return
		}
		reg, ok := dstMap[words[2]]
		if !ok {
			err = ErrTargetInvalid
			return
		}
		var arg CodeIR
		arg, err = asm.source(&ops, words[3])
		if err != nil {
			return
		}
		emit(MakeCodeAlu(cond, alu, reg, arg, ops.imms...))
	case "jump", "call", "enter", "push":
		err = no_args(2)
		if err != nil {
			if len(words) < 2 && (words[0] == "jump" || words[0] == "call") {
				err = ErrTargetMissing
			}
			return
		}
		op := map[string]CodeCtrlOp{
			"jump":  CTRL_OP_JUMP,
			"call":  CTRL_OP_CALL,
			"enter": CTRL_OP_ENTER,
			"push":  CTRL_OP_PUSH,
		}[words[0]]
		var arg CodeIR
		arg, err = asm.source(&ops, words[1])
		if err != nil {
			return
		}
		emit(MakeCodeCtrl(cond, op, IR_CONST_0, arg, ops.imms...))
	case "pop":
		err = no_args(2)
		if err != nil {
			return
		}
		reg, ok := dstMap[words[1]]
		if !ok {
			err = ErrTargetInvalid
			return
		}
		emit(MakeCodeCtrl(cond, CTRL_OP_POP, reg, IR_CONST_0))
	case "return":
		err = no_args(1)
		if err != nil {
			return
		}
		emit(MakeCodeCtrl(cond, CTRL_OP_RETURN, IR_CONST_0, IR_CONST_0))
	case "halt":
		err = no_args(1)
		if err != nil {
			return
		}
		emit(MakeCodeExit(cond))
	case "alloc":
		err = no_args(1)
		if err != nil {
			return
		}
		emit(MakeCodeSys(cond, SYS_OP_ALLOC))
	case "free":
		err = no_args(1)
		if err != nil {
			return
		}
		emit(MakeCodeSys(cond, SYS_OP_FREE))
	default:
		err = ErrOpcodeInvalid
		return
	}

	return
}
