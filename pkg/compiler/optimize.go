package compiler

import "math"

// Fold returns a new tree with constant integer arithmetic evaluated at
// compile time. The input is never modified and no node of the result is
// shared with it.
//
// Folding is bottom-up:
//
//	(2 + 3) * 4   ->   20
//	-(7)          ->   -7
//	a + 2 * 3     ->   a + 6
//	1 / 0         ->   1 / 0   (left for the runtime to fault on)
//	MinInt32 / -1 ->   unchanged, idiv overflows
//
// Arithmetic wraps with 32-bit two's-complement semantics and division
// truncates toward zero, matching idiv. Logical nodes are never collapsed.
func Fold(e Expr) Expr {
	switch n := e.(type) {
	case *Literal:
		return &Literal{Value: n.Value}

	case *Var:
		return &Var{Name: n.Name}

	case *Grouping:
		inner := Fold(n.Inner)
		if lit, ok := inner.(*Literal); ok {
			return lit
		}
		return &Grouping{Inner: inner}

	case *Unary:
		right := Fold(n.Right)
		if n.Op.Type == MINUS {
			if lit, ok := right.(*Literal); ok {
				if v, ok := lit.Int(); ok {
					return IntLiteral(-v)
				}
			}
		}
		return &Unary{Op: n.Op, Right: right}

	case *Binary:
		left, right := Fold(n.Left), Fold(n.Right)
		if v, ok := foldArithmetic(n.Op.Type, left, right); ok {
			return IntLiteral(v)
		}
		return &Binary{Left: left, Op: n.Op, Right: right}

	case *Logical:
		return &Logical{Left: Fold(n.Left), Op: n.Op, Right: Fold(n.Right)}

	case *Assignment:
		return &Assignment{Name: n.Name, Value: Fold(n.Value)}
	}
	return e
}

// foldArithmetic computes op over two integer literals. It refuses the
// divisions idiv faults on (a zero divisor, or MinInt32 by -1) so the fault
// is preserved in the generated code.
func foldArithmetic(op TokenType, left, right Expr) (int32, bool) {
	l, ok := left.(*Literal)
	if !ok {
		return 0, false
	}
	r, ok := right.(*Literal)
	if !ok {
		return 0, false
	}
	a, ok := l.Int()
	if !ok {
		return 0, false
	}
	b, ok := r.Int()
	if !ok {
		return 0, false
	}

	switch op {
	case PLUS:
		return a + b, true
	case MINUS:
		return a - b, true
	case STAR:
		return a * b, true
	case SLASH:
		if divideFaults(a, b) {
			return 0, false
		}
		return a / b, true
	case PERCENT:
		if divideFaults(a, b) {
			return 0, false
		}
		return a % b, true
	}
	return 0, false
}

func divideFaults(a, b int32) bool {
	return b == 0 || (a == math.MinInt32 && b == -1)
}
