package compiler

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrDivisionByZero    = errors.New("division by zero")
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrTypeMismatch      = errors.New("type mismatch")
)

// Env maps variable names to their current values (int32, bool or string).
type Env map[string]any

// EvalError is a failure while evaluating an expression. Token is the
// operator or identifier that caused it.
type EvalError struct {
	Token Token
	Msg   string
	Err   error
}

func (e *EvalError) Error() string      { return fmt.Sprintf("%s: %s", e.Token.Pos, e.Msg) }
func (e *EvalError) Position() Position { return e.Token.Pos }
func (e *EvalError) Message() string    { return e.Msg }
func (e *EvalError) Unwrap() error      { return e.Err }

// Evaluate computes the value of e directly from the tree. Integer
// arithmetic wraps at 32 bits like the generated code does. Assignments
// write to env, which may be nil when e assigns nothing.
func Evaluate(e Expr, env Env) (any, error) {
	switch n := e.(type) {
	case *Literal:
		return n.Value, nil

	case *Var:
		v, ok := env[n.Name.Lexeme]
		if !ok {
			return nil, &EvalError{Token: n.Name, Msg: fmt.Sprintf("undefined variable %q", n.Name.Lexeme), Err: ErrUndefinedVariable}
		}
		return v, nil

	case *Grouping:
		return Evaluate(n.Inner, env)

	case *Unary:
		v, err := Evaluate(n.Right, env)
		if err != nil {
			return nil, err
		}
		switch n.Op.Type {
		case MINUS:
			i, err := wantInt(n.Op, v)
			if err != nil {
				return nil, err
			}
			return -i, nil
		case NOT:
			b, err := wantBool(n.Op, v)
			if err != nil {
				return nil, err
			}
			return !b, nil
		}
		return nil, mismatch(n.Op, "unsupported unary operator")

	case *Binary:
		return evalBinary(n, env)

	case *Logical:
		return evalLogical(n, env)

	case *Assignment:
		v, err := Evaluate(n.Value, env)
		if err != nil {
			return nil, err
		}
		if env == nil {
			return nil, &EvalError{Token: n.Name, Msg: "no environment to assign to", Err: ErrUndefinedVariable}
		}
		env[n.Name.Lexeme] = v
		return v, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedExpression, e)
}

func evalBinary(n *Binary, env Env) (any, error) {
	left, err := Evaluate(n.Left, env)
	if err != nil {
		return nil, err
	}
	right, err := Evaluate(n.Right, env)
	if err != nil {
		return nil, err
	}

	switch n.Op.Type {
	case EQUAL_EQUAL:
		return left == right, nil
	case BANG_EQUAL:
		return left != right, nil
	case PLUS:
		_, ls := left.(string)
		_, rs := right.(string)
		if ls || rs {
			return stringify(left) + stringify(right), nil
		}
	}

	a, err := wantInt(n.Op, left)
	if err != nil {
		return nil, err
	}
	b, err := wantInt(n.Op, right)
	if err != nil {
		return nil, err
	}

	switch n.Op.Type {
	case PLUS:
		return a + b, nil
	case MINUS:
		return a - b, nil
	case STAR:
		return a * b, nil
	case SLASH, PERCENT:
		if b == 0 {
			return nil, &EvalError{Token: n.Op, Msg: "division by zero", Err: ErrDivisionByZero}
		}
		if n.Op.Type == SLASH {
			return a / b, nil
		}
		return a % b, nil
	case GREATER:
		return a > b, nil
	case GREATER_EQUAL:
		return a >= b, nil
	case LESS:
		return a < b, nil
	case LESS_EQUAL:
		return a <= b, nil
	}
	return nil, mismatch(n.Op, "unsupported binary operator")
}

// evalLogical short-circuits and, or and imp (and their negations); xor and
// xnor always evaluate both sides.
func evalLogical(n *Logical, env Env) (any, error) {
	left, err := Evaluate(n.Left, env)
	if err != nil {
		return nil, err
	}
	l, err := wantBool(n.Op, left)
	if err != nil {
		return nil, err
	}

	right := func() (bool, error) {
		v, err := Evaluate(n.Right, env)
		if err != nil {
			return false, err
		}
		return wantBool(n.Op, v)
	}

	var result bool
	switch n.Op.Type {
	case AND, NAND:
		result = l
		if l {
			if result, err = right(); err != nil {
				return nil, err
			}
		}
		if n.Op.Type == NAND {
			result = !result
		}
	case OR, NOR:
		result = l
		if !l {
			if result, err = right(); err != nil {
				return nil, err
			}
		}
		if n.Op.Type == NOR {
			result = !result
		}
	case IMP, NIMP:
		result = true
		if l {
			if result, err = right(); err != nil {
				return nil, err
			}
		}
		if n.Op.Type == NIMP {
			result = !result
		}
	case XOR, XNOR:
		r, err := right()
		if err != nil {
			return nil, err
		}
		result = l != r
		if n.Op.Type == XNOR {
			result = !result
		}
	default:
		return nil, mismatch(n.Op, "unsupported logical operator")
	}
	return result, nil
}

func wantInt(op Token, v any) (int32, error) {
	i, ok := v.(int32)
	if !ok {
		return 0, mismatch(op, "integer was expected")
	}
	return i, nil
}

func wantBool(op Token, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, mismatch(op, "boolean was expected")
	}
	return b, nil
}

func mismatch(op Token, msg string) error {
	return &EvalError{Token: op, Msg: msg, Err: ErrTypeMismatch}
}

// stringify renders a runtime value the way print would.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
