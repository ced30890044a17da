package compiler

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// DivisionMode selects how edx is prepared before idiv.
type DivisionMode int

const (
	// SignExtend emits cdq, which is correct for every dividend.
	SignExtend DivisionMode = iota
	// ZeroExtend emits "mov edx, 0". Negative dividends produce wrong
	// quotients; kept for output compatibility with older listings.
	ZeroExtend
)

func (m DivisionMode) String() string {
	if m == ZeroExtend {
		return "zero"
	}
	return "sign"
}

// ParseDivisionMode accepts "sign" or "zero".
func ParseDivisionMode(s string) (DivisionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sign":
		return SignExtend, nil
	case "zero":
		return ZeroExtend, nil
	}
	return SignExtend, fmt.Errorf("%w: %q", ErrUnknownDivisionMode, s)
}

// TranslationResult is either a *Success or a *Failure.
type TranslationResult interface {
	translationResult()
}

// Success holds the complete program text encoded with Encoding.
type Success struct {
	Bytes    []byte
	Encoding string
}

// Failure holds every translation error in the order it was found. No
// partial output is produced.
type Failure struct {
	Errors []*TranslationError
}

func (*Success) translationResult() {}
func (*Failure) translationResult() {}

// Text decodes the assembly back into a Go string.
func (s *Success) Text() (string, error) {
	enc, _, err := ResolveEncoding(s.Encoding)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(s.Bytes)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", s.Encoding, err)
	}
	return string(out), nil
}

// ResolveEncoding looks up an IANA charset name. The empty name means UTF-8.
// It returns the encoding and its canonical name.
func ResolveEncoding(name string) (encoding.Encoding, string, error) {
	if name == "" {
		name = "UTF-8"
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = name
	}
	return enc, canonical, nil
}

// Translator lowers a folded expression into a complete NASM program that
// reads every variable with scanf, evaluates the expression on the stack and
// prints the result with printf.
type Translator struct {
	opts Options
}

func NewTranslator(opts Options) *Translator {
	return &Translator{opts: opts}
}

// generator carries the state of a single Translate call.
type generator struct {
	buf      *InstructionBuffer
	division DivisionMode
	vars     IdentifierSet
	errs     []*TranslationError
}

func (g *generator) fail(kind TranslationErrorKind, format string, args ...any) {
	g.errs = append(g.errs, &TranslationError{Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

func varLabel(name string) string    { return "var_" + name }
func promptLabel(name string) string { return "prompt_" + name }

// Translate generates the program for e. vars lists the variables to read
// before evaluation; they are visited in sorted order. A variable of e that
// vars does not hold has no storage and is reported as an error.
func (t *Translator) Translate(e Expr, vars IdentifierSet) TranslationResult {
	g := &generator{
		buf:      NewInstructionBuffer(t.opts.Peephole),
		division: t.opts.Division,
		vars:     vars,
	}
	names := vars.Sorted()
	buf := g.buf

	buf.Section(".text")
	buf.Global("main")
	buf.Extern("printf")
	buf.Extern("scanf")
	buf.Label("main")

	for _, name := range names {
		buf.PushLabel(promptLabel(name))
		buf.Call("printf")
		buf.AddImm(ESP, 4)
		buf.PushLabel(varLabel(name))
		buf.PushLabel("read_format")
		buf.Call("scanf")
		buf.AddImm(ESP, 8)
	}

	g.expr(e)

	buf.PushLabel("write_format")
	buf.Call("printf")
	buf.AddImm(ESP, 8)
	buf.MovImm(EAX, 0)
	buf.Ret()

	buf.Section(".rdata")
	buf.Data("read_format", "db", `"%d"`, "0")
	buf.Data("write_format", "db", `"%d"`, "10", "0")
	for _, name := range names {
		buf.Data(promptLabel(name), "db", fmt.Sprintf(`"%s = "`, name), "0")
	}

	buf.Section(".bss")
	for _, name := range names {
		buf.Data(varLabel(name), "resd", "1")
	}

	if len(g.errs) > 0 {
		return &Failure{Errors: g.errs}
	}

	enc, canonical, err := ResolveEncoding(t.opts.Encoding)
	if err != nil {
		return &Failure{Errors: []*TranslationError{{Kind: UnsupportedEncoding, Detail: err.Error()}}}
	}
	out, err := enc.NewEncoder().Bytes([]byte(buf.String()))
	if err != nil {
		return &Failure{Errors: []*TranslationError{{Kind: UnsupportedEncoding, Detail: err.Error()}}}
	}
	return &Success{Bytes: out, Encoding: canonical}
}

// expr emits code that leaves the value of e on top of the stack.
func (g *generator) expr(e Expr) {
	switch n := e.(type) {
	case *Literal:
		v, ok := n.Int()
		if !ok {
			g.fail(UnsupportedOperand, "%s", n)
			return
		}
		g.buf.PushImm(v)

	case *Var:
		if !g.vars.Contains(n.Name.Lexeme) {
			g.fail(UnsupportedOperand, "variable %s is not declared", n.Name.Lexeme)
			return
		}
		g.buf.PushMem(varLabel(n.Name.Lexeme))

	case *Grouping:
		g.expr(n.Inner)

	case *Unary:
		g.expr(n.Right)
		g.buf.Pop(EAX)
		if n.Op.Type == MINUS {
			g.buf.Neg(EAX)
		} else {
			g.fail(UnsupportedOperation, "%s", n.Op.Type)
		}
		g.buf.Push(EAX)

	case *Binary:
		g.expr(n.Left)
		g.expr(n.Right)
		g.buf.Pop(EBX)
		g.buf.Pop(EAX)
		g.binaryOp(n.Op.Type)
		g.buf.Push(EAX)

	case *Logical, *Assignment:
		g.fail(UnsupportedExpression, "%s", e)

	default:
		g.fail(UnsupportedExpression, "%T", e)
	}
}

// binaryOp combines eax (left) and ebx (right) into eax.
func (g *generator) binaryOp(op TokenType) {
	switch op {
	case PLUS:
		g.buf.Add(EAX, EBX)
	case MINUS:
		g.buf.Sub(EAX, EBX)
	case STAR:
		g.buf.Imul(EAX, EBX)
	case SLASH:
		g.divide()
	case PERCENT:
		g.divide()
		g.buf.Mov(EAX, EDX)
	default:
		g.fail(UnsupportedOperation, "%s", op)
	}
}

func (g *generator) divide() {
	if g.division == ZeroExtend {
		g.buf.MovImm(EDX, 0)
	} else {
		g.buf.Cdq()
	}
	g.buf.Idiv(EBX)
}
