// Package asm reads the NASM-style listings produced by the compiler back into
// a structured Program that the cpu package can execute.
package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrSyntax         = errors.New("syntax error")
	ErrDuplicateLabel = errors.New("duplicate label")
	ErrUnknownSection = errors.New("unknown section")
	ErrUndefinedLabel = errors.New("undefined label")
)

// Section identifies where a line belongs.
type Section int

const (
	SectionNone Section = iota
	SectionText
	SectionRData
	SectionBSS
)

func (s Section) String() string {
	switch s {
	case SectionText:
		return ".text"
	case SectionRData:
		return ".rdata"
	case SectionBSS:
		return ".bss"
	}
	return "none"
}

var sectionNames = map[string]Section{
	".text":  SectionText,
	".rdata": SectionRData,
	".data":  SectionRData,
	".bss":   SectionBSS,
}

var registers = map[string]bool{
	"eax": true, "ebx": true, "ecx": true, "edx": true,
	"esi": true, "edi": true, "ebp": true, "esp": true,
}

// IsRegister reports whether name is a 32-bit general purpose register.
func IsRegister(name string) bool { return registers[strings.ToLower(name)] }

// OperandKind classifies an instruction operand.
type OperandKind int

const (
	OperandRegister  OperandKind = iota
	OperandImmediate             // 42, -7, 0x10
	OperandLabel                 // a symbol used as an address
	OperandMemory                // [label], [reg], [reg+disp], optionally sized
)

// Operand is a decoded instruction operand. For memory operands either Base
// or Label is set, and Disp is added to it.
type Operand struct {
	Kind  OperandKind
	Reg   string // OperandRegister
	Imm   int64  // OperandImmediate
	Label string // OperandLabel, or the symbol of an OperandMemory
	Base  string // base register of an OperandMemory
	Disp  int64
	Size  string // "dword", "word", "byte" or "" for memory operands
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandRegister:
		return o.Reg
	case OperandImmediate:
		return strconv.FormatInt(o.Imm, 10)
	case OperandLabel:
		return o.Label
	}
	addr := o.Label
	if o.Base != "" {
		addr = o.Base
	}
	if o.Disp > 0 {
		addr += "+" + strconv.FormatInt(o.Disp, 10)
	} else if o.Disp < 0 {
		addr += strconv.FormatInt(o.Disp, 10)
	}
	if o.Size != "" {
		return fmt.Sprintf("%s [%s]", o.Size, addr)
	}
	return "[" + addr + "]"
}

// Instruction is one executable line of the .text section.
type Instruction struct {
	Line     int // 1-based source line
	Mnemonic string
	Operands []Operand
}

func (in Instruction) String() string {
	if len(in.Operands) == 0 {
		return in.Mnemonic
	}
	ops := make([]string, len(in.Operands))
	for i, op := range in.Operands {
		ops[i] = op.String()
	}
	return in.Mnemonic + " " + strings.Join(ops, ", ")
}

// Data is a labelled definition in .rdata or .bss. Bytes holds the initial
// contents; reservations are zero-filled.
type Data struct {
	Line    int
	Label   string
	Section Section
	Bytes   []byte
}

// Program is a parsed listing.
type Program struct {
	Globals []string
	Externs []string
	Text    []Instruction
	// Labels maps code labels to the index of the instruction that follows.
	Labels map[string]int
	RData  []Data
	BSS    []Data
}

// Entry returns the index of the first instruction to execute: the first
// global code label, then "main", then 0.
func (p *Program) Entry() int {
	for _, g := range p.Globals {
		if idx, ok := p.Labels[g]; ok {
			return idx
		}
	}
	if idx, ok := p.Labels["main"]; ok {
		return idx
	}
	return 0
}

// IsExtern reports whether name was declared with extern.
func (p *Program) IsExtern(name string) bool {
	for _, e := range p.Externs {
		if e == name {
			return true
		}
	}
	return false
}

type parser struct {
	prog    *Program
	section Section
	defined map[string]int // label -> defining line
}

// Parse reads a listing. Errors name the offending line and wrap one of the
// package sentinels.
func Parse(text string) (*Program, error) {
	p := &parser{
		prog:    &Program{Labels: make(map[string]int)},
		defined: make(map[string]int),
	}
	for i, raw := range strings.Split(text, "\n") {
		if err := p.parseLine(raw, i+1); err != nil {
			return nil, err
		}
	}
	if err := p.checkReferences(); err != nil {
		return nil, err
	}
	return p.prog, nil
}

func syntaxErr(lineNo int, format string, args ...any) error {
	return fmt.Errorf("%w on line %d: %s", ErrSyntax, lineNo, fmt.Sprintf(format, args...))
}

func (p *parser) define(label string, lineNo int) error {
	if prev, ok := p.defined[label]; ok {
		return fmt.Errorf("%w '%s' on line %d (first defined on line %d)", ErrDuplicateLabel, label, lineNo, prev)
	}
	p.defined[label] = lineNo
	return nil
}

func (p *parser) parseLine(raw string, lineNo int) error {
	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return nil
	}

	head, rest := splitHead(line)
	switch strings.ToLower(head) {
	case "section", "segment":
		sec, ok := sectionNames[strings.ToLower(rest)]
		if !ok {
			return fmt.Errorf("%w '%s' on line %d", ErrUnknownSection, rest, lineNo)
		}
		p.section = sec
		return nil
	case "global":
		p.prog.Globals = append(p.prog.Globals, splitOperands(rest)...)
		return nil
	case "extern":
		p.prog.Externs = append(p.prog.Externs, splitOperands(rest)...)
		return nil
	}

	// label: [directive | instruction]
	if colon := labelColon(line); colon > 0 {
		label := strings.TrimSpace(line[:colon])
		if !isIdentifier(label) {
			return syntaxErr(lineNo, "invalid label '%s'", label)
		}
		if err := p.define(label, lineNo); err != nil {
			return err
		}
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			if p.section != SectionText {
				return syntaxErr(lineNo, "label '%s' outside .text has no definition", label)
			}
			p.prog.Labels[label] = len(p.prog.Text)
			return nil
		}
		if p.section == SectionText {
			p.prog.Labels[label] = len(p.prog.Text)
			return p.parseInstruction(line, lineNo)
		}
		return p.parseData(label, line, lineNo)
	}

	if p.section != SectionText {
		return syntaxErr(lineNo, "unlabelled definition in %s", p.section)
	}
	return p.parseInstruction(line, lineNo)
}

func (p *parser) parseInstruction(line string, lineNo int) error {
	head, rest := splitHead(line)
	in := Instruction{Line: lineNo, Mnemonic: strings.ToLower(head)}
	for _, tok := range splitOperands(rest) {
		op, err := parseOperand(tok)
		if err != nil {
			return syntaxErr(lineNo, "%v", err)
		}
		in.Operands = append(in.Operands, op)
	}
	p.prog.Text = append(p.prog.Text, in)
	return nil
}

// reserveSizes maps res* directives to their element size in bytes.
var reserveSizes = map[string]int{"resb": 1, "resw": 2, "resd": 4, "resq": 8}

// defineSizes maps d* directives to their element size in bytes.
var defineSizes = map[string]int{"db": 1, "dw": 2, "dd": 4, "dq": 8}

func (p *parser) parseData(label, line string, lineNo int) error {
	head, rest := splitHead(line)
	directive := strings.ToLower(head)
	d := Data{Line: lineNo, Label: label, Section: p.section}

	if size, ok := reserveSizes[directive]; ok {
		if p.section != SectionBSS {
			return syntaxErr(lineNo, "%s outside .bss", directive)
		}
		count, err := strconv.ParseInt(strings.TrimSpace(rest), 0, 32)
		if err != nil || count < 0 {
			return syntaxErr(lineNo, "invalid reservation count '%s'", rest)
		}
		d.Bytes = make([]byte, int(count)*size)
		p.prog.BSS = append(p.prog.BSS, d)
		return nil
	}

	size, ok := defineSizes[directive]
	if !ok {
		return syntaxErr(lineNo, "unknown directive '%s'", head)
	}
	if p.section != SectionRData {
		return syntaxErr(lineNo, "%s outside .rdata", directive)
	}
	for _, item := range splitOperands(rest) {
		if s, ok := unquote(item); ok {
			if size != 1 {
				return syntaxErr(lineNo, "string in %s", directive)
			}
			d.Bytes = append(d.Bytes, s...)
			continue
		}
		v, err := strconv.ParseInt(item, 0, 64)
		if err != nil {
			return syntaxErr(lineNo, "invalid value '%s'", item)
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		d.Bytes = append(d.Bytes, buf[:size]...)
	}
	p.prog.RData = append(p.prog.RData, d)
	return nil
}

// checkReferences makes sure every label operand names a code label, a data
// label or an extern.
func (p *parser) checkReferences() error {
	for _, in := range p.prog.Text {
		for _, op := range in.Operands {
			if op.Label == "" {
				continue
			}
			if _, ok := p.defined[op.Label]; ok {
				continue
			}
			if p.prog.IsExtern(op.Label) {
				continue
			}
			return fmt.Errorf("%w '%s' on line %d", ErrUndefinedLabel, op.Label, in.Line)
		}
	}
	return nil
}

var sizeKeywords = map[string]bool{"byte": true, "word": true, "dword": true, "qword": true}

func parseOperand(tok string) (Operand, error) {
	tok = strings.TrimSpace(tok)
	size := ""
	if head, rest := splitHead(tok); sizeKeywords[strings.ToLower(head)] && rest != "" {
		size = strings.ToLower(head)
		tok = rest
	}

	if strings.HasPrefix(tok, "[") {
		if !strings.HasSuffix(tok, "]") {
			return Operand{}, fmt.Errorf("unterminated memory operand '%s'", tok)
		}
		return parseAddress(strings.TrimSpace(tok[1:len(tok)-1]), size)
	}
	if size != "" {
		return Operand{}, fmt.Errorf("size '%s' on a non-memory operand", size)
	}
	if IsRegister(tok) {
		return Operand{Kind: OperandRegister, Reg: strings.ToLower(tok)}, nil
	}
	if v, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return Operand{Kind: OperandImmediate, Imm: v}, nil
	}
	if isIdentifier(tok) {
		return Operand{Kind: OperandLabel, Label: tok}, nil
	}
	return Operand{}, fmt.Errorf("invalid operand '%s'", tok)
}

// parseAddress decodes the inside of [...]: a base register or a label,
// optionally followed by +n or -n.
func parseAddress(s, size string) (Operand, error) {
	op := Operand{Kind: OperandMemory, Size: size}
	base := s
	if i := strings.IndexAny(s, "+-"); i > 0 {
		base = strings.TrimSpace(s[:i])
		disp, err := strconv.ParseInt(strings.ReplaceAll(s[i:], " ", ""), 0, 64)
		if err != nil {
			return Operand{}, fmt.Errorf("invalid displacement in '[%s]'", s)
		}
		op.Disp = disp
	}
	switch {
	case IsRegister(base):
		op.Base = strings.ToLower(base)
	case isIdentifier(base):
		op.Label = base
	default:
		return Operand{}, fmt.Errorf("invalid address '[%s]'", s)
	}
	return op, nil
}

// stripComments drops everything after a ';' that is not inside quotes.
func stripComments(line string) string {
	var quote rune
	for i, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'' || r == '`':
			quote = r
		case r == ';':
			return line[:i]
		}
	}
	return line
}

// labelColon returns the index of a leading "label:" colon, or -1.
func labelColon(line string) int {
	for i, r := range line {
		if r == ':' {
			return i
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == ' ' || r == '\t') {
			return -1
		}
	}
	return -1
}

// splitHead splits off the first whitespace-delimited word.
func splitHead(line string) (string, string) {
	line = strings.TrimSpace(line)
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i:])
}

// splitOperands splits on commas that are outside quotes and brackets.
func splitOperands(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	var quote rune
	depth, start := 0, 0
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'' || r == '`':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case r == ',' && depth == 0:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// unquote returns the raw bytes of a quoted db item. NASM does not process
// escapes inside '...' or "..." strings.
func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	q := s[0]
	if (q != '"' && q != '\'') || s[len(s)-1] != q {
		return "", false
	}
	return s[1 : len(s)-1], true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' && r != '.' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			return false
		}
	}
	return true
}
