package compiler

import (
	"fmt"
	"log/slog"
	"time"
)

// Options controls a compilation.
type Options struct {
	Fold     bool
	Peephole bool
	Division DivisionMode
	Encoding string // IANA charset name of the output, UTF-8 when empty
	Logger   *slog.Logger
}

// DefaultOptions enables both optimizations and emits UTF-8 with signed
// division.
func DefaultOptions() Options {
	return Options{Fold: true, Peephole: true, Division: SignExtend, Encoding: "UTF-8"}
}

// Output is everything a successful compilation produced.
type Output struct {
	Tokens    []Token
	AST       Expr
	Folded    Expr // equal to AST when folding is disabled
	Variables []string
	Assembly  []byte
	Encoding  string
}

// Compile runs the whole pipeline over src: lex, parse, fold, collect
// variables and translate. Each stage runs only if the previous one reported
// no errors. On failure the error is a *CompileError holding every error of
// the failing stage.
func Compile(src string, opts Options) (*Output, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()

	tokens, lexErrs := Lex(src)
	log.Debug("lexed", "tokens", len(tokens), "errors", len(lexErrs))
	if len(lexErrs) > 0 {
		return nil, &CompileError{Stage: "lex", Errors: toErrors(lexErrs)}
	}

	stmts, parseErrs := Parse(tokens)
	log.Debug("parsed", "statements", len(stmts), "errors", len(parseErrs))
	if len(parseErrs) > 0 {
		return nil, &CompileError{Stage: "parse", Errors: toErrors(parseErrs)}
	}
	switch {
	case len(stmts) == 0:
		return nil, &CompileError{Stage: "parse", Errors: []error{&ParseError{
			Token: tokens[len(tokens)-1],
			Msg:   "an expression was expected",
			Err:   ErrUnexpectedExpression,
		}}}
	case len(stmts) > 1:
		return nil, &CompileError{Stage: "parse", Errors: []error{&ParseError{
			Token: secondStatementStart(tokens),
			Msg:   "only a single expression can be compiled",
			Err:   ErrTrailingInput,
		}}}
	}

	ast := stmts[0].(*ExprStmt).Expr
	folded := ast
	if opts.Fold {
		folded = Fold(ast)
		log.Debug("folded", "before", ast.String(), "after", folded.String())
	}

	vars := CollectIdentifiers(folded)
	result := NewTranslator(opts).Translate(folded, vars)
	switch r := result.(type) {
	case *Failure:
		log.Debug("translation failed", "errors", len(r.Errors))
		return nil, &CompileError{Stage: "translate", Errors: toErrors(r.Errors)}
	case *Success:
		log.Debug("compiled",
			"variables", len(vars),
			"bytes", len(r.Bytes),
			"encoding", r.Encoding,
			"elapsed", time.Since(start))
		return &Output{
			Tokens:    tokens,
			AST:       ast,
			Folded:    folded,
			Variables: vars.Sorted(),
			Assembly:  r.Bytes,
			Encoding:  r.Encoding,
		}, nil
	}
	return nil, fmt.Errorf("unexpected translation result %T", result)
}

// secondStatementStart returns the first token after the first ";".
func secondStatementStart(tokens []Token) Token {
	for i, tok := range tokens {
		if tok.Type == SEMICOLON && i+1 < len(tokens) {
			return tokens[i+1]
		}
	}
	return tokens[len(tokens)-1]
}
