package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every structured error in this package unwraps to one of
// these so callers can classify failures with errors.Is.
var (
	ErrUnexpectedSymbol = errors.New("unexpected symbol")
	ErrValueOutOfRange  = errors.New("value out of range")

	ErrInvalidAssignmentTarget = errors.New("invalid assignment target")
	ErrExpectedToken           = errors.New("expected token")
	ErrUnexpectedExpression    = errors.New("unexpected expression")
	ErrTrailingInput           = errors.New("trailing input")

	ErrUnsupportedExpression = errors.New("unsupported expression")
	ErrUnsupportedOperation  = errors.New("unsupported operation")
	ErrUnsupportedOperand    = errors.New("unsupported operand")

	ErrUnknownEncoding     = errors.New("unknown text encoding")
	ErrUnknownDivisionMode = errors.New("unknown division mode")

	ErrLex       = errors.New("lexing failed")
	ErrParse     = errors.New("parsing failed")
	ErrTranslate = errors.New("translation failed")
)

// LexErrorKind classifies a LexError.
type LexErrorKind int

const (
	UnexpectedSymbol LexErrorKind = iota
	ValueOutOfRange
)

func (k LexErrorKind) String() string {
	switch k {
	case UnexpectedSymbol:
		return "UnexpectedSymbol"
	case ValueOutOfRange:
		return "ValueOutOfRange"
	}
	return fmt.Sprintf("LexErrorKind(%d)", int(k))
}

// LexError is a recoverable scanning failure. The lexer records it and keeps
// going.
type LexError struct {
	Pos  Position
	Kind LexErrorKind
	Msg  string
}

func (e *LexError) Error() string      { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }
func (e *LexError) Position() Position { return e.Pos }
func (e *LexError) Message() string    { return e.Msg }

func (e *LexError) Unwrap() error {
	if e.Kind == ValueOutOfRange {
		return ErrValueOutOfRange
	}
	return ErrUnexpectedSymbol
}

// ParseError is a grammar violation. Token is the offending token and gives
// the error its position.
type ParseError struct {
	Token Token
	Msg   string
	Err   error
}

func (e *ParseError) Error() string      { return fmt.Sprintf("%s: %s", e.Token.Pos, e.Msg) }
func (e *ParseError) Position() Position { return e.Token.Pos }
func (e *ParseError) Message() string    { return e.Msg }
func (e *ParseError) Unwrap() error      { return e.Err }

// TranslationErrorKind classifies a TranslationError.
type TranslationErrorKind int

const (
	UnsupportedExpression TranslationErrorKind = iota
	UnsupportedOperation
	UnsupportedOperand
	UnsupportedEncoding
)

func (k TranslationErrorKind) String() string {
	switch k {
	case UnsupportedExpression:
		return "UnsupportedExpression"
	case UnsupportedOperation:
		return "UnsupportedOperation"
	case UnsupportedOperand:
		return "UnsupportedOperand"
	case UnsupportedEncoding:
		return "UnsupportedEncoding"
	}
	return fmt.Sprintf("TranslationErrorKind(%d)", int(k))
}

// TranslationError marks a construct the parser accepts but the code
// generator cannot lower yet. It has no source position.
type TranslationError struct {
	Kind   TranslationErrorKind
	Detail string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *TranslationError) Unwrap() error {
	switch e.Kind {
	case UnsupportedOperation:
		return ErrUnsupportedOperation
	case UnsupportedOperand:
		return ErrUnsupportedOperand
	case UnsupportedEncoding:
		return ErrUnknownEncoding
	}
	return ErrUnsupportedExpression
}

// CompileError reports every error produced by the first failing stage of
// Compile.
type CompileError struct {
	Stage  string // "lex", "parse" or "translate"
	Errors []error
}

func (e *CompileError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s: %d error(s): %s", e.Stage, len(e.Errors), strings.Join(msgs, "; "))
}

func (e *CompileError) Unwrap() error {
	switch e.Stage {
	case "lex":
		return ErrLex
	case "parse":
		return ErrParse
	}
	return ErrTranslate
}

func toErrors[T error](errs []T) []error {
	out := make([]error, len(errs))
	for i, err := range errs {
		out[i] = err
	}
	return out
}
