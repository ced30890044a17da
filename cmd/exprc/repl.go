package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"

	"exprc/pkg/compiler"
	"exprc/pkg/cpu"
)

const (
	historyFile = ".exprc_history"
	promptMain  = "exprc> "
)

const replHelp = `Enter an expression to see its assembly. Commands:
  :eval <expr>    evaluate directly; assignments persist
  :run <expr>     compile and run, reading variables from the session
  :tokens <expr>  show tokens
  :ast <expr>     show the syntax tree
  :env            show session variables
  :help           show this help
  :quit           leave
`

// ReplCmd starts an interactive session.
type ReplCmd struct {
	History string       `help:"History file (default ~/.exprc_history)"`
	Compile CompileFlags `embed:""`
}

func (cmd *ReplCmd) Run(ctx *Context) error {
	opts, err := cmd.Compile.options(ctx)
	if err != nil {
		return err
	}

	histPath := cmd.History
	if histPath == "" {
		home, _ := os.UserHomeDir()
		histPath = filepath.Join(home, historyFile)
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	s := newSession(ctx, opts)
	fmt.Fprintln(ctx.Stdout, "exprc interactive session. Type :help for commands.")
	for {
		line, err := ln.Prompt(promptMain)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(ctx.Stdout)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)
		if quit := s.handle(line); quit {
			return nil
		}
	}
}

// session holds the state of one interactive session.
type session struct {
	ctx  *Context
	opts compiler.Options
	env  compiler.Env
	red  func(a ...any) string
}

func newSession(ctx *Context, opts compiler.Options) *session {
	red := color.New(color.FgRed)
	if !ctx.Config.Diagnostics.Color {
		red.DisableColor()
	}
	return &session{ctx: ctx, opts: opts, env: compiler.Env{}, red: red.SprintFunc()}
}

// handle runs one line of input and reports whether the session should end.
func (s *session) handle(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		s.compile(line)
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case ":quit", ":q", ":exit":
		return true
	case ":help":
		fmt.Fprint(s.ctx.Stdout, replHelp)
	case ":eval":
		s.eval(arg)
	case ":run":
		s.run(arg)
	case ":tokens":
		tokens, errs := compiler.Lex(arg)
		if len(errs) > 0 {
			s.report(arg, &compiler.CompileError{Stage: "lex", Errors: toErrors(errs)})
			return false
		}
		for _, tok := range tokens {
			fmt.Fprintln(s.ctx.Stdout, tok)
		}
	case ":ast":
		e, ok := s.parse(arg)
		if ok {
			fmt.Fprint(s.ctx.Stdout, compiler.Dump(e))
		}
	case ":env":
		names := make([]string, 0, len(s.env))
		for name := range s.env {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(s.ctx.Stdout, "%s = %v\n", name, s.env[name])
		}
	default:
		fmt.Fprintf(s.ctx.Stdout, "unknown command %s. Type :help for a list.\n", name)
	}
	return false
}

func (s *session) report(src string, err error) {
	reporter(s.ctx, src).ReportError(err)
}

func (s *session) parse(src string) (compiler.Expr, bool) {
	tokens, lexErrs := compiler.Lex(src)
	if len(lexErrs) > 0 {
		s.report(src, &compiler.CompileError{Stage: "lex", Errors: toErrors(lexErrs)})
		return nil, false
	}
	e, err := compiler.ParseExpression(tokens)
	if err != nil {
		s.report(src, &compiler.CompileError{Stage: "parse", Errors: []error{err}})
		return nil, false
	}
	return e, true
}

func (s *session) compile(src string) {
	out, err := compiler.Compile(src, s.opts)
	if err != nil {
		s.report(src, err)
		return
	}
	text, err := (&compiler.Success{Bytes: out.Assembly, Encoding: out.Encoding}).Text()
	if err != nil {
		fmt.Fprintln(s.ctx.Stderr, s.red("error:"), err)
		return
	}
	fmt.Fprint(s.ctx.Stdout, text)
}

func (s *session) eval(src string) {
	e, ok := s.parse(src)
	if !ok {
		return
	}
	v, err := compiler.Evaluate(e, s.env)
	if err != nil {
		s.report(src, err)
		return
	}
	fmt.Fprintln(s.ctx.Stdout, v)
}

// run compiles src and executes it, feeding each variable its current
// session value in the order the program reads them.
func (s *session) run(src string) {
	out, err := compiler.Compile(src, s.opts)
	if err != nil {
		s.report(src, err)
		return
	}

	var input strings.Builder
	for _, name := range out.Variables {
		v, ok := s.env[name]
		if !ok {
			fmt.Fprintf(s.ctx.Stderr, "%s variable %s has no value; set it with :eval %s := ...\n", s.red("error:"), name, name)
			return
		}
		if _, isInt := v.(int32); !isInt {
			fmt.Fprintf(s.ctx.Stderr, "%s variable %s is not an integer\n", s.red("error:"), name)
			return
		}
		fmt.Fprintf(&input, "%d\n", v)
	}

	text, err := (&compiler.Success{Bytes: out.Assembly, Encoding: out.Encoding}).Text()
	if err != nil {
		fmt.Fprintln(s.ctx.Stderr, s.red("error:"), err)
		return
	}
	var stdout strings.Builder
	machine, err := cpu.Load(text, cpu.Options{Stdin: strings.NewReader(input.String()), Stdout: &stdout})
	if err == nil {
		err = machine.Run()
	}
	fmt.Fprint(s.ctx.Stdout, stdout.String())
	if err != nil {
		fmt.Fprintln(s.ctx.Stderr, s.red("runtime error:"), err)
	}
}
