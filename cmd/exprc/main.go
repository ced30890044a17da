// Command exprc compiles single arithmetic expressions to x86 assembly,
// runs the result on a built-in simulator and serves both over HTTP.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"exprc/pkg/config"
	"exprc/pkg/logger"
)

// Exit statuses follow sysexits.h.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 64
	exitDataErr  = 65
	exitNoInput  = 66
	exitSoftware = 70
)

// Context is passed to every command's Run method.
type Context struct {
	Config *config.Config
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// CLI represents the command-line interface
type CLI struct {
	Config    string `help:"Configuration file path" default:"exprc.yaml" short:"c"`
	LogLevel  string `help:"Log level: debug, info, warn or error (overrides the config file)"`
	LogFormat string `help:"Log format: text or json (overrides the config file)"`
	NoColor   bool   `help:"Disable coloured diagnostics"`

	Build  BuildCmd  `cmd:"" help:"Compile an expression to assembly"`
	Run    RunCmd    `cmd:"" help:"Compile an expression and run it on the simulator"`
	Tokens TokensCmd `cmd:"" help:"Print the tokens of a source file"`
	Ast    AstCmd    `cmd:"" help:"Print the syntax tree of a source file"`
	Repl   ReplCmd   `cmd:"" help:"Start an interactive session"`
	Serve  ServeCmd  `cmd:"" help:"Serve the compiler over HTTP"`
}

// exitError carries a process exit status. Reported errors have already
// been printed and are not printed again.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

var errReported = errors.New("errors reported")

func reported(code int) error {
	return &exitError{code: code, err: errReported, reported: true}
}

type exitPanic int

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			c, ok := r.(exitPanic)
			if !ok {
				panic(r)
			}
			code = int(c)
		}
	}()

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("exprc"),
		kong.Description("Compile arithmetic expressions to x86 assembly."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(c int) { panic(exitPanic(c)) }),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitSoftware
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.NoColor {
		cfg.Diagnostics.Color = false
	}
	if err := logger.Setup(stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	err = kctx.Run(&Context{Config: cfg, Stdin: stdin, Stdout: stdout, Stderr: stderr})
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.reported {
			fmt.Fprintf(stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitFailure
}
