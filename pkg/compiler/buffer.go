package compiler

import (
	"fmt"
	"strings"
)

// Register names a 32-bit general purpose register.
type Register string

const (
	EAX Register = "eax"
	EBX Register = "ebx"
	ECX Register = "ecx"
	EDX Register = "edx"
	ESI Register = "esi"
	EDI Register = "edi"
	EBP Register = "ebp"
	ESP Register = "esp"
)

// LineKind classifies a line in the instruction buffer.
type LineKind int

const (
	LineInstruction LineKind = iota
	LineSection
	LineDirective // global, extern
	LineLabel
	LineData // label: db ... / label: resd ...
	LineComment
)

// Line is one line of assembly output. Op is the mnemonic, directive or
// section/label name; Args are the already formatted operands.
type Line struct {
	Kind LineKind
	Op   string
	Args []string
}

func (l Line) String() string {
	switch l.Kind {
	case LineSection:
		return "section " + l.Op
	case LineLabel:
		return l.Op + ":"
	case LineData:
		// Args[0] is the pseudo-instruction, the rest its operands.
		return fmt.Sprintf("%s: %s %s", l.Op, l.Args[0], strings.Join(l.Args[1:], ", "))
	case LineComment:
		return "; " + l.Op
	}
	if len(l.Args) == 0 {
		return l.Op
	}
	return l.Op + " " + strings.Join(l.Args, ", ")
}

func (l Line) isInstr(op string) bool {
	return l.Kind == LineInstruction && l.Op == op && len(l.Args) == 1
}

// InstructionBuffer accumulates assembly lines. With the peephole pass enabled
// every append is followed by a look at the last two lines, and a
//
//	push X
//	pop  R
//
// pair is replaced by "mov R, X". The rewrite is applied eagerly so it can
// cascade as code is emitted.
type InstructionBuffer struct {
	lines    []Line
	peephole bool
}

func NewInstructionBuffer(peephole bool) *InstructionBuffer {
	return &InstructionBuffer{peephole: peephole}
}

func (b *InstructionBuffer) emit(l Line) {
	b.lines = append(b.lines, l)
	if b.peephole {
		b.optimize()
	}
}

func (b *InstructionBuffer) optimize() {
	n := len(b.lines)
	if n < 2 {
		return
	}
	push, pop := b.lines[n-2], b.lines[n-1]
	if !push.isInstr("push") || !pop.isInstr("pop") {
		return
	}
	b.lines = append(b.lines[:n-2], Line{
		Kind: LineInstruction,
		Op:   "mov",
		Args: []string{pop.Args[0], push.Args[0]},
	})
}

func (b *InstructionBuffer) instr(op string, args ...string) {
	b.emit(Line{Kind: LineInstruction, Op: op, Args: args})
}

func imm(v int32) string { return fmt.Sprintf("%d", v) }

func (b *InstructionBuffer) Mov(dst, src Register)        { b.instr("mov", string(dst), string(src)) }
func (b *InstructionBuffer) MovImm(dst Register, v int32) { b.instr("mov", string(dst), imm(v)) }
func (b *InstructionBuffer) Push(r Register)              { b.instr("push", string(r)) }
func (b *InstructionBuffer) PushImm(v int32)              { b.instr("push", imm(v)) }

// PushLabel pushes the address of label.
func (b *InstructionBuffer) PushLabel(label string) { b.instr("push", label) }

// PushMem pushes the 32-bit value stored at label.
func (b *InstructionBuffer) PushMem(label string) { b.instr("push", fmt.Sprintf("dword [%s]", label)) }

func (b *InstructionBuffer) Pop(r Register)               { b.instr("pop", string(r)) }
func (b *InstructionBuffer) Add(dst, src Register)        { b.instr("add", string(dst), string(src)) }
func (b *InstructionBuffer) AddImm(dst Register, v int32) { b.instr("add", string(dst), imm(v)) }
func (b *InstructionBuffer) Sub(dst, src Register)        { b.instr("sub", string(dst), string(src)) }
func (b *InstructionBuffer) Imul(dst, src Register)       { b.instr("imul", string(dst), string(src)) }

// Idiv divides edx:eax by src, leaving the quotient in eax and the remainder
// in edx.
func (b *InstructionBuffer) Idiv(src Register) { b.instr("idiv", string(src)) }
func (b *InstructionBuffer) Neg(r Register)    { b.instr("neg", string(r)) }

// Cdq sign-extends eax into edx.
func (b *InstructionBuffer) Cdq()             { b.instr("cdq") }
func (b *InstructionBuffer) Call(name string) { b.instr("call", name) }
func (b *InstructionBuffer) Ret()             { b.instr("ret") }

func (b *InstructionBuffer) Section(name string) { b.emit(Line{Kind: LineSection, Op: name}) }
func (b *InstructionBuffer) Global(name string)  { b.emit(Line{Kind: LineDirective, Op: "global", Args: []string{name}}) }
func (b *InstructionBuffer) Extern(name string)  { b.emit(Line{Kind: LineDirective, Op: "extern", Args: []string{name}}) }
func (b *InstructionBuffer) Label(name string)   { b.emit(Line{Kind: LineLabel, Op: name}) }

// Data emits "label: directive v1, v2, ..." for db/dd/resd style definitions.
func (b *InstructionBuffer) Data(label, directive string, values ...string) {
	b.emit(Line{Kind: LineData, Op: label, Args: append([]string{directive}, values...)})
}

func (b *InstructionBuffer) Comment(format string, args ...any) {
	b.emit(Line{Kind: LineComment, Op: fmt.Sprintf(format, args...)})
}

// Lines returns a copy of the buffered lines.
func (b *InstructionBuffer) Lines() []Line {
	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *InstructionBuffer) Len() int { return len(b.lines) }

// String renders the buffer. Section headers start at column zero and every
// other line is indented by two spaces. Each line ends with "\n".
func (b *InstructionBuffer) String() string {
	var sb strings.Builder
	for _, l := range b.lines {
		if l.Kind != LineSection {
			sb.WriteString("  ")
		}
		sb.WriteString(l.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
