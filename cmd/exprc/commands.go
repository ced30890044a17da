package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"exprc/pkg/compiler"
	"exprc/pkg/cpu"
	"exprc/pkg/diag"
	"exprc/pkg/logger"
	"exprc/pkg/server"
	"exprc/pkg/utils"
)

// CompileFlags are shared by every command that runs the compiler.
type CompileFlags struct {
	NoFold        bool   `help:"Disable constant folding"`
	NoPeephole    bool   `help:"Disable the push/pop peephole optimization"`
	Division      string `help:"Division sign handling: sign or zero (default from config)"`
	Encoding      string `help:"Charset of the generated assembly (default from config)"`
	InputEncoding string `help:"Charset of the source file" default:"UTF-8"`
}

func (f CompileFlags) options(ctx *Context) (compiler.Options, error) {
	division := ctx.Config.Codegen.Division
	if f.Division != "" {
		division = f.Division
	}
	mode, err := compiler.ParseDivisionMode(division)
	if err != nil {
		return compiler.Options{}, &exitError{code: exitUsage, err: err}
	}
	enc := ctx.Config.Encoding
	if f.Encoding != "" {
		enc = f.Encoding
	}
	return compiler.Options{
		Fold:     ctx.Config.Optimize.Fold && !f.NoFold,
		Peephole: ctx.Config.Optimize.Peephole && !f.NoPeephole,
		Division: mode,
		Encoding: enc,
		Logger:   logger.Log,
	}, nil
}

// readSource reads path, or stdin when path is "-".
func readSource(ctx *Context, path, charset string) (string, error) {
	if path != "-" {
		src, err := utils.ReadSource(path, charset)
		if err != nil {
			return "", &exitError{code: exitNoInput, err: fmt.Errorf("cannot open input: %w", err)}
		}
		return src, nil
	}

	raw, err := io.ReadAll(ctx.Stdin)
	if err != nil {
		return "", &exitError{code: exitNoInput, err: fmt.Errorf("cannot read stdin: %w", err)}
	}
	enc, _, err := compiler.ResolveEncoding(charset)
	if err != nil {
		return "", &exitError{code: exitUsage, err: err}
	}
	text, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", &exitError{code: exitDataErr, err: err}
	}
	return string(text), nil
}

func reporter(ctx *Context, src string) *diag.Reporter {
	return diag.NewReporter(ctx.Stderr, src, diag.Options{
		MaxErrors: ctx.Config.Diagnostics.MaxErrors,
		Color:     ctx.Config.Diagnostics.Color,
	})
}

// compileSource reads and compiles path. Compile errors are rendered to
// stderr.
func compileSource(ctx *Context, path string, flags CompileFlags) (*compiler.Output, error) {
	opts, err := flags.options(ctx)
	if err != nil {
		return nil, err
	}
	src, err := readSource(ctx, path, flags.InputEncoding)
	if err != nil {
		return nil, err
	}
	out, err := compiler.Compile(src, opts)
	if err != nil {
		var ce *compiler.CompileError
		if !errors.As(err, &ce) {
			return nil, err
		}
		reporter(ctx, src).ReportError(ce)
		return nil, reported(exitDataErr)
	}
	return out, nil
}

// BuildCmd compiles a source file to assembly.
type BuildCmd struct {
	Source  string       `arg:"" help:"Source file, - for stdin"`
	Output  string       `short:"o" help:"Output file, stdout when empty or -"`
	Compile CompileFlags `embed:""`
}

func (cmd *BuildCmd) Run(ctx *Context) error {
	out, err := compileSource(ctx, cmd.Source, cmd.Compile)
	if err != nil {
		return err
	}
	if err := utils.WriteOutput(cmd.Output, out.Assembly, ctx.Stdout); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	logger.Log.Info("compiled", "source", cmd.Source, "output", cmd.Output, "bytes", len(out.Assembly))
	return nil
}

// RunCmd compiles a source file and executes it. Variables are read from
// stdin, the result goes to stdout.
type RunCmd struct {
	Source    string       `arg:"" help:"Source file"`
	MaxSteps  int          `help:"Abort after this many instructions" default:"1000000"`
	ShowState bool         `help:"Print the final registers and variables to stderr"`
	Snapshot  string       `help:"Write the final machine state to this ZIP archive" type:"path"`
	Restore   string       `help:"Resume from a snapshot taken of the same program" type:"path"`
	Compile   CompileFlags `embed:""`
}

func (cmd *RunCmd) Run(ctx *Context) error {
	if cmd.Source == "-" {
		return &exitError{code: exitUsage, err: errors.New("run reads variables from stdin; the source must be a file")}
	}
	out, err := compileSource(ctx, cmd.Source, cmd.Compile)
	if err != nil {
		return err
	}
	text, err := (&compiler.Success{Bytes: out.Assembly, Encoding: out.Encoding}).Text()
	if err != nil {
		return err
	}

	machine, err := cpu.Load(text, cpu.Options{
		Stdin:    ctx.Stdin,
		Stdout:   ctx.Stdout,
		MaxSteps: cmd.MaxSteps,
	})
	if err != nil {
		return &exitError{code: exitSoftware, err: err}
	}
	if cmd.Restore != "" {
		if err := machine.RestoreFile(cmd.Restore); err != nil {
			code := exitDataErr
			if errors.Is(err, os.ErrNotExist) {
				code = exitNoInput
			}
			return &exitError{code: code, err: fmt.Errorf("restore: %w", err)}
		}
	}
	runErr := machine.Run()
	if cmd.ShowState {
		printState(ctx.Stderr, machine)
	}
	if cmd.Snapshot != "" {
		if err := machine.SaveSnapshot(cmd.Snapshot); err != nil {
			return &exitError{code: exitFailure, err: fmt.Errorf("snapshot: %w", err)}
		}
	}
	if runErr != nil {
		return &exitError{code: exitSoftware, err: fmt.Errorf("runtime error: %w", runErr)}
	}
	if code := machine.ExitCode(); code != 0 {
		return &exitError{code: int(code) & 0xff, err: fmt.Errorf("program exited with %d", code), reported: true}
	}
	return nil
}

func printState(w io.Writer, c *cpu.CPU) {
	st := c.State()
	for _, name := range cpu.RegisterNames {
		fmt.Fprintf(w, "%s=%d ", name, st.Registers[name])
	}
	fmt.Fprintf(w, "steps=%d\n", c.Steps)
}

// TokensCmd prints every token of a source file.
type TokensCmd struct {
	Source        string `arg:"" help:"Source file, - for stdin"`
	InputEncoding string `help:"Charset of the source file" default:"UTF-8"`
}

func (cmd *TokensCmd) Run(ctx *Context) error {
	src, err := readSource(ctx, cmd.Source, cmd.InputEncoding)
	if err != nil {
		return err
	}
	tokens, lexErrs := compiler.Lex(src)
	for _, tok := range tokens {
		fmt.Fprintln(ctx.Stdout, tok)
	}
	if len(lexErrs) > 0 {
		reporter(ctx, src).ReportError(&compiler.CompileError{Stage: "lex", Errors: toErrors(lexErrs)})
		return reported(exitDataErr)
	}
	return nil
}

// AstCmd prints the tree of every statement in a source file.
type AstCmd struct {
	Source        string `arg:"" help:"Source file, - for stdin"`
	Fold          bool   `help:"Print the tree after constant folding"`
	Sexp          bool   `help:"Print trees as one-line s-expressions"`
	Vars          bool   `help:"Also list the variables of the whole program"`
	InputEncoding string `help:"Charset of the source file" default:"UTF-8"`
}

func (cmd *AstCmd) Run(ctx *Context) error {
	src, err := readSource(ctx, cmd.Source, cmd.InputEncoding)
	if err != nil {
		return err
	}
	tokens, lexErrs := compiler.Lex(src)
	if len(lexErrs) > 0 {
		reporter(ctx, src).ReportError(&compiler.CompileError{Stage: "lex", Errors: toErrors(lexErrs)})
		return reported(exitDataErr)
	}
	stmts, parseErrs := compiler.Parse(tokens)
	if len(parseErrs) > 0 {
		reporter(ctx, src).ReportError(&compiler.CompileError{Stage: "parse", Errors: toErrors(parseErrs)})
		return reported(exitDataErr)
	}

	for _, stmt := range stmts {
		e := stmt.(*compiler.ExprStmt).Expr
		if cmd.Fold {
			e = compiler.Fold(e)
		}
		if cmd.Sexp {
			fmt.Fprintln(ctx.Stdout, e)
		} else {
			fmt.Fprint(ctx.Stdout, compiler.Dump(e))
		}
	}
	if cmd.Vars {
		fmt.Fprintf(ctx.Stdout, "variables: %s\n", strings.Join(compiler.CollectProgram(stmts).Sorted(), " "))
	}
	return nil
}

// ServeCmd runs the HTTP service until interrupted.
type ServeCmd struct {
	Addr string `help:"Listen address (default from config)"`
}

func (cmd *ServeCmd) Run(ctx *Context) error {
	if cmd.Addr != "" {
		ctx.Config.Server.Addr = cmd.Addr
	}
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.New(ctx.Config, logger.Log).ListenAndServe(sigCtx)
}

func toErrors[T error](errs []T) []error {
	out := make([]error, len(errs))
	for i, err := range errs {
		out[i] = err
	}
	return out
}
