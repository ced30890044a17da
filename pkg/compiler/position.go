package compiler

import "fmt"

// Range is an inclusive span of integers. A range whose End is before its
// Start is empty.
type Range struct {
	Start int
	End   int
}

// EmptyRange is the range carried by synthetic tokens such as EOF.
var EmptyRange = Range{Start: 0, End: -1}

func (r Range) IsEmpty() bool { return r.End < r.Start }

// Len returns the number of positions covered by r.
func (r Range) Len() int {
	if r.IsEmpty() {
		return 0
	}
	return r.End - r.Start + 1
}

func (r Range) String() string {
	if r.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

// Position locates a token or error in the source. Lines and columns are
// zero-based.
type Position struct {
	Line    int
	Columns Range
}

func (p Position) FirstColumn() int { return p.Columns.Start }
func (p Position) LastColumn() int  { return p.Columns.End }

func (p Position) String() string {
	return fmt.Sprintf("%d:%s", p.Line, p.Columns)
}

// Positioned is implemented by every error that can be traced back to a
// location in the source text.
type Positioned interface {
	error
	Position() Position
	// Message is the error text without the position prefix.
	Message() string
}
