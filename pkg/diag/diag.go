// Package diag renders compiler errors for people: a count, the offending
// source line and a caret underline for every error that has a position.
package diag

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"exprc/pkg/compiler"
)

// DefaultMaxErrors caps how many errors Report prints in full.
const DefaultMaxErrors = 10

type Options struct {
	MaxErrors int
	// Color allows ANSI colours. They are still suppressed when the output
	// is not a terminal or NO_COLOR is set.
	Color bool
}

// Reporter writes diagnostics for one source text.
type Reporter struct {
	out       io.Writer
	lines     []string
	maxErrors int

	headerFmt   func(format string, a ...any) string
	locationFmt func(format string, a ...any) string
	caretFmt    func(a ...any) string
	errorFmt    func(a ...any) string
}

func NewReporter(out io.Writer, source string, opts Options) *Reporter {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	header := color.New(color.FgRed, color.Bold)
	location := color.New(color.FgCyan)
	caret := color.New(color.FgGreen, color.Bold)
	errLabel := color.New(color.FgRed)
	if !opts.Color {
		for _, c := range []*color.Color{header, location, caret, errLabel} {
			c.DisableColor()
		}
	}
	return &Reporter{
		out:         out,
		lines:       strings.Split(source, "\n"),
		maxErrors:   opts.MaxErrors,
		headerFmt:   header.SprintfFunc(),
		locationFmt: location.SprintfFunc(),
		caretFmt:    caret.SprintFunc(),
		errorFmt:    errLabel.SprintFunc(),
	}
}

// Report prints every error in errs, up to the configured maximum, followed
// by a count of those left out.
//
//	2 error(s) found:
//	(0:4): ')' was expected
//		(1 + 2
//		    ^
//	and 1 more...
func (r *Reporter) Report(errs []error) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(r.out, r.headerFmt("%d error(s) found:", len(errs)))
	shown := errs
	if len(shown) > r.maxErrors {
		shown = shown[:r.maxErrors]
	}
	for _, err := range shown {
		r.reportOne(err)
	}
	if rest := len(errs) - len(shown); rest > 0 {
		fmt.Fprintf(r.out, "and %d more...\n", rest)
	}
}

// ReportError expands a *compiler.CompileError into its individual errors;
// any other error is reported on its own.
func (r *Reporter) ReportError(err error) {
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		r.Report(ce.Errors)
		return
	}
	r.Report([]error{err})
}

func (r *Reporter) reportOne(err error) {
	var pe compiler.Positioned
	if !errors.As(err, &pe) {
		fmt.Fprintf(r.out, "%s %s\n", r.errorFmt("error:"), err)
		return
	}

	pos := pe.Position()
	if pos.Line < 0 || pos.Line >= len(r.lines) {
		fmt.Fprintf(r.out, "%s %s\n", r.locationFmt("(%d:%d):", pos.Line, pos.FirstColumn()), pe.Message())
		return
	}
	line := strings.TrimRight(r.lines[pos.Line], "\r")
	col := pos.FirstColumn()
	if pos.Columns.IsEmpty() {
		// end of input
		col = len(line)
	}
	fmt.Fprintf(r.out, "%s %s\n", r.locationFmt("(%d:%d):", pos.Line, col), pe.Message())
	fmt.Fprintf(r.out, "\t%s\n", line)
	fmt.Fprintf(r.out, "\t%s\n", r.caretFmt(Underline(line, pos.Columns)))
}

// Underline returns spaces up to cols.Start followed by one caret per
// column. An empty range marks the end of the line with a single caret.
// Tabs in the prefix are kept so the carets line up with the source.
func Underline(line string, cols compiler.Range) string {
	start, width := cols.Start, cols.Len()
	if cols.IsEmpty() {
		start, width = len(line), 1
	}
	var b strings.Builder
	for i := 0; i < start; i++ {
		if i < len(line) && line[i] == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteString(strings.Repeat("^", width))
	return b.String()
}
