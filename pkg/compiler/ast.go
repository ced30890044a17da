package compiler

import (
	"fmt"
	"strings"
)

//  Expression nodes

// Expr is implemented by every node that produces a value. The set of
// implementations is closed: Literal, Var, Grouping, Unary, Binary, Logical
// and Assignment. Nodes own their children and are never mutated once built.
type Expr interface {
	exprNode()
	String() string
}

// Literal is a compile-time constant. Value is an int32, a bool or a string.
//
//	x := 10
//	     ^^  Literal{Value: int32(10)}
type Literal struct {
	Value any
}

func (*Literal) exprNode() {}
func (l *Literal) String() string {
	if s, ok := l.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", l.Value)
}

// Int reports the literal's integer value, if it holds one.
func (l *Literal) Int() (int32, bool) {
	v, ok := l.Value.(int32)
	return v, ok
}

// IntLiteral, BoolLiteral and StringLiteral build literals of each kind.
func IntLiteral(v int32) *Literal     { return &Literal{Value: v} }
func BoolLiteral(v bool) *Literal     { return &Literal{Value: v} }
func StringLiteral(v string) *Literal { return &Literal{Value: v} }

// Var is a read of a named variable.
//
//	a + 1
//	^  Var{Name: IDENTIFIER "a"}
type Var struct {
	Name Token
}

func (*Var) exprNode() {}
func (v *Var) String() string { return v.Name.Lexeme }

// Grouping is a parenthesised expression.
type Grouping struct {
	Inner Expr
}

func (*Grouping) exprNode() {}
func (g *Grouping) String() string { return fmt.Sprintf("(group %s)", g.Inner) }

// Unary represents Op Right, where Op is "-" or "not".
type Unary struct {
	Op    Token
	Right Expr
}

func (*Unary) exprNode() {}
func (u *Unary) String() string { return fmt.Sprintf("(%s %s)", u.Op.Lexeme, u.Right) }

// Binary represents an arithmetic, comparison or equality operation.
//
//	x + 1
//	^ ^ ^
//	| | Right
//	| Op
//	Left
type Binary struct {
	Left  Expr
	Op    Token
	Right Expr
}

func (*Binary) exprNode() {}
func (b *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Op.Lexeme, b.Left, b.Right)
}

// Logical represents a boolean connective (and, or, xor, imp and their
// negations). It is separate from Binary because it is never folded.
type Logical struct {
	Left  Expr
	Op    Token
	Right Expr
}

func (*Logical) exprNode() {}
func (l *Logical) String() string {
	return fmt.Sprintf("(%s %s %s)", l.Op.Lexeme, l.Left, l.Right)
}

// Assignment represents Name := Value.
type Assignment struct {
	Name  Token
	Value Expr
}

func (*Assignment) exprNode() {}
func (a *Assignment) String() string {
	return fmt.Sprintf("(:= %s %s)", a.Name.Lexeme, a.Value)
}

//  Statement nodes

// Stmt is a top-level unit produced by batch parsing.
type Stmt interface {
	stmtNode()
	String() string
}

// ExprStmt is an expression terminated by ";" (or by the end of input).
type ExprStmt struct {
	Expr Expr
}

func (*ExprStmt) stmtNode() {}
func (s *ExprStmt) String() string { return fmt.Sprintf("ExprStmt(%s)", s.Expr) }

// Dump renders an expression as an indented tree, one node per line.
func Dump(e Expr) string {
	var b strings.Builder
	dump(&b, e, 0)
	return b.String()
}

func dump(b *strings.Builder, e Expr, depth int) {
	indent := strings.Repeat("  ", depth)
	switch n := e.(type) {
	case *Literal:
		fmt.Fprintf(b, "%sLiteral %s\n", indent, n)
	case *Var:
		fmt.Fprintf(b, "%sVar %s\n", indent, n.Name.Lexeme)
	case *Grouping:
		fmt.Fprintf(b, "%sGrouping\n", indent)
		dump(b, n.Inner, depth+1)
	case *Unary:
		fmt.Fprintf(b, "%sUnary %s\n", indent, n.Op.Lexeme)
		dump(b, n.Right, depth+1)
	case *Binary:
		fmt.Fprintf(b, "%sBinary %s\n", indent, n.Op.Lexeme)
		dump(b, n.Left, depth+1)
		dump(b, n.Right, depth+1)
	case *Logical:
		fmt.Fprintf(b, "%sLogical %s\n", indent, n.Op.Lexeme)
		dump(b, n.Left, depth+1)
		dump(b, n.Right, depth+1)
	case *Assignment:
		fmt.Fprintf(b, "%sAssignment %s\n", indent, n.Name.Lexeme)
		dump(b, n.Value, depth+1)
	default:
		fmt.Fprintf(b, "%s<nil>\n", indent)
	}
}
